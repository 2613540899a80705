package tcp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"echohub/internal/protocol"
)

// every event is one JSON envelope terminated by '\n'

const MaxMessageSize = 64 * 1024  // max bytes per line, newline included
const WriteWait = 10 * time.Second // max time to write one event

// ErrMessageTooLarge terminates a connection whose line exceeds the limit.
var ErrMessageTooLarge = errors.New("message too large")

// ConnOptions tune a single TCP connection; zero values use the defaults
// above. IdleTimeout closes a connection that sends nothing for that long;
// zero or negative means no idle deadline.
type ConnOptions struct {
	WriteWait      time.Duration
	IdleTimeout    time.Duration
	MaxMessageSize int
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.WriteWait <= 0 {
		o.WriteWait = WriteWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = MaxMessageSize
	}
	return o
}

// ClientConnection carries newline-delimited JSON events over a raw
// net.Conn and implements protocol.Conn.
type ClientConnection struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	opts   ConnOptions

	pending   *protocol.Event // frame read during the handshake that was not a handshake
	closeOnce sync.Once
}

// constructor for ClientConnection
func NewClientConnection(conn net.Conn, opts ConnOptions) *ClientConnection {
	return &ClientConnection{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		opts:   opts.withDefaults(),
	}
}

func (c *ClientConnection) ReadEvent() (protocol.Event, error) {
	if c.pending != nil {
		e := *c.pending
		c.pending = nil
		return e, nil
	}
	return c.readEvent(c.opts.IdleTimeout)
}

// readEvent reads the next non-blank line with the given read deadline.
func (c *ClientConnection) readEvent(timeout time.Duration) (protocol.Event, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return protocol.Event{}, err
	}
	for {
		line, err := c.readLine()
		if err != nil {
			return protocol.Event{}, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return protocol.EventFromJSON(line)
	}
}

// readLine reads up to '\n' without buffering more than MaxMessageSize.
func (c *ClientConnection) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := c.reader.ReadSlice('\n')
		if len(line)+len(chunk) > c.opts.MaxMessageSize {
			return nil, fmt.Errorf("%w: limit %d bytes", ErrMessageTooLarge, c.opts.MaxMessageSize)
		}
		line = append(line, chunk...)
		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			// a partial line at EOF is dropped
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

// WriteEvent writes data + "\n" then flushes to the socket.
func (c *ClientConnection) WriteEvent(e protocol.Event) error {
	data, err := e.ToJSON()
	if err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

func (c *ClientConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *ClientConnection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// ReadHandshake consumes the first frame and returns the handshake params.
// A missing, late or malformed handshake yields empty params; a first frame
// that is some other valid event is kept and returned by the next
// ReadEvent. Only a dead transport is reported as an error.
func (c *ClientConnection) ReadHandshake(timeout time.Duration) (protocol.Params, error) {
	e, err := c.readEvent(timeout)
	if err != nil {
		var netErr net.Error
		if protocol.IsAdvisory(err) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return protocol.Params{}, nil
		}
		return nil, err
	}
	if e.Name != protocol.EventHandshake {
		c.pending = &e
		return protocol.Params{}, nil
	}
	return e.Params(), nil
}
