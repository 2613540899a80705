package protocol

// Conn is one live transport connection carrying events. Implementations
// exist for WebSocket and for newline-delimited JSON over TCP.
//
// ReadEvent blocks for the next inbound frame. Errors matching IsAdvisory
// mean a single bad frame was skipped; any other error means the transport
// is gone and no further reads will succeed.
//
// WriteEvent must not be called concurrently with itself. Close may be
// called from any goroutine, any number of times.
type Conn interface {
	ReadEvent() (Event, error)
	WriteEvent(Event) error
	Close() error
	RemoteAddr() string
}
