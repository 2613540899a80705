package websocket

import (
	"fmt"
	"io"
	"sync"
	"time"

	"echohub/internal/protocol"

	"github.com/gorilla/websocket"
)

const ( // ping pong (2-way heartbeat) keeps idle connections alive
	WriteWait      = 10 * time.Second // max time to write one event to the peer
	PongWait       = 60 * time.Second // no pong within this window = connection is gone
	MaxMessageSize = 64 * 1024        // maximum inbound frame size
)

// ConnOptions tune a single WebSocket connection. Zero values fall back to
// the package defaults, except PongWait where a negative value disables
// the heartbeat entirely.
type ConnOptions struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.WriteWait <= 0 {
		o.WriteWait = WriteWait
	}
	if o.PongWait == 0 {
		o.PongWait = PongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = MaxMessageSize
	}
	return o
}

// Conn adapts a gorilla connection to protocol.Conn. Every event travels
// as one text frame holding the JSON envelope.
type Conn struct {
	ws   *websocket.Conn
	opts ConnOptions

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps ws and, when the heartbeat is enabled, starts pinging the
// peer until Close is called.
func NewConn(ws *websocket.Conn, opts ConnOptions) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		ws:     ws,
		opts:   opts,
		closed: make(chan struct{}),
	}
	ws.SetReadLimit(opts.MaxMessageSize)
	if opts.PongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(opts.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(opts.PongWait))
		})
		go c.keepAlive((opts.PongWait * 9) / 10) // ping at 90% of the pong window
	}
	return c
}

func (c *Conn) ReadEvent() (protocol.Event, error) {
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
		) {
			return protocol.Event{}, io.EOF
		}
		return protocol.Event{}, err
	}
	if msgType != websocket.TextMessage {
		return protocol.Event{}, fmt.Errorf("%w: unexpected frame type %d", protocol.ErrMalformedEvent, msgType)
	}
	return protocol.EventFromJSON(data)
}

func (c *Conn) WriteEvent(e protocol.Event) error {
	data, err := e.ToJSON()
	if err != nil {
		return err
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and drops the connection. WriteControl
// is safe alongside a concurrent WriteEvent, so Close may run anywhere.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *Conn) keepAlive(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
		}
	}
}
