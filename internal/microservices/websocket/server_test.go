package websocket

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"echohub/internal/logging"
	"echohub/internal/microservices/session"
	"echohub/internal/protocol"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
)

// ServerTestSuite runs a real listener on a loopback port per test.
type ServerTestSuite struct {
	suite.Suite
	hub    *session.Hub
	server *Server
	cancel context.CancelFunc
}

func (s *ServerTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
}

func (s *ServerTestSuite) SetupTest() {
	s.hub = session.NewHub(session.WithLogger(logging.Discard()))
	s.server = NewServer(Config{
		Host:             "127.0.0.1",
		Port:             0,
		Path:             "/socket",
		HandshakeTimeout: 2 * time.Second,
		Conn:             ConnOptions{MaxMessageSize: 1024},
	}, s.hub, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.Require().NoError(s.server.Start(ctx))
}

func (s *ServerTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.NoError(s.server.Shutdown(ctx))
	s.cancel()
	s.hub.Wait()
}

func (s *ServerTestSuite) dial(query string) *websocket.Conn {
	url := "ws://" + s.server.Addr() + "/socket"
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { conn.Close() })
	return conn
}

func (s *ServerTestSuite) readEvent(conn *websocket.Conn) protocol.Event {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, data, err := conn.ReadMessage()
	s.Require().NoError(err)
	e, err := protocol.EventFromJSON(data)
	s.Require().NoError(err)
	return e
}

func (s *ServerTestSuite) readText(conn *websocket.Conn, name protocol.EventName) string {
	e := s.readEvent(conn)
	s.Require().Equal(name, e.Name)
	text, err := e.Text()
	s.Require().NoError(err)
	return text
}

func (s *ServerTestSuite) sendMessage(conn *websocket.Conn, text string) {
	data, err := protocol.NewTextEvent(protocol.EventMessage, text).ToJSON()
	s.Require().NoError(err)
	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, data))
}

func (s *ServerTestSuite) TestHandshakeAndGreeting() {
	conn := s.dial("userId=12345&sessionId=abcde")

	id := s.readText(conn, protocol.EventClientID)
	s.NotEmpty(id)

	handle, err := s.hub.Registry().Lookup(id)
	s.Require().NoError(err)
	sess, ok := handle.(*session.Session)
	s.Require().True(ok)
	s.Equal(protocol.Params{"userId": "12345", "sessionId": "abcde"}, sess.Params())

	s.sendMessage(conn, "Hello, Server!")
	s.Equal("Echo: Hello, Server!", s.readText(conn, protocol.EventMessage))
}

func (s *ServerTestSuite) TestRepeatedQueryKeyKeepsFirstValue() {
	conn := s.dial("userId=1&userId=2")
	id := s.readText(conn, protocol.EventClientID)

	handle, err := s.hub.Registry().Lookup(id)
	s.Require().NoError(err)
	s.Equal("1", handle.(*session.Session).Params()["userId"])
}

func (s *ServerTestSuite) TestConcurrentClientsAreIsolated() {
	a := s.dial("userId=a")
	b := s.dial("userId=b")
	idA := s.readText(a, protocol.EventClientID)
	idB := s.readText(b, protocol.EventClientID)
	s.NotEqual(idA, idB)

	s.sendMessage(a, "from a")
	s.sendMessage(b, "from b")
	s.Equal("Echo: from a", s.readText(a, protocol.EventMessage))
	s.Equal("Echo: from b", s.readText(b, protocol.EventMessage))

	// nothing else is queued for a
	s.Require().NoError(a.SetReadDeadline(time.Now().Add(100 * time.Millisecond)))
	_, _, err := a.ReadMessage()
	var netErr net.Error
	s.Require().True(errors.As(err, &netErr) && netErr.Timeout(), "unexpected frame or error: %v", err)
}

func (s *ServerTestSuite) TestMalformedFrameKeepsSessionOpen() {
	conn := s.dial("")
	s.readText(conn, protocol.EventClientID)

	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"bogus","data":"x"}`)))
	s.Require().NoError(conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}))
	s.sendMessage(conn, "after garbage")

	s.Equal("Echo: after garbage", s.readText(conn, protocol.EventMessage))
}

func (s *ServerTestSuite) TestDisconnectRemovesConnection() {
	conn := s.dial("")
	id := s.readText(conn, protocol.EventClientID)
	s.Equal(1, s.hub.Registry().Len())

	s.Require().NoError(conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	s.Eventually(func() bool {
		_, err := s.hub.Registry().Lookup(id)
		return errors.Is(err, session.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *ServerTestSuite) TestOversizedFrameClosesConnection() {
	conn := s.dial("")
	s.readText(conn, protocol.EventClientID)

	s.sendMessage(conn, strings.Repeat("x", 4096))
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	s.Error(err)
	s.Eventually(func() bool { return s.hub.Registry().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func (s *ServerTestSuite) TestContextCancelClosesSessions() {
	conn := s.dial("")
	s.readText(conn, protocol.EventClientID)

	s.cancel()
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	s.True(websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	s.Eventually(func() bool { return s.hub.Registry().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func (s *ServerTestSuite) TestBindErrorOnUsedPort() {
	_, port, err := net.SplitHostPort(s.server.Addr())
	s.Require().NoError(err)

	p, err := strconv.Atoi(port)
	s.Require().NoError(err)
	other := NewServer(Config{Host: "127.0.0.1", Port: p}, s.hub, logging.Discard())
	err = other.Start(context.Background())
	s.Require().Error(err)
	s.ErrorIs(err, session.ErrBind)

	var bindErr *session.BindError
	s.Require().ErrorAs(err, &bindErr)
	s.Equal(s.server.Addr(), bindErr.Addr)
}

func (s *ServerTestSuite) TestShutdownStopsReadiness() {
	s.True(s.server.Ready())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(s.server.Shutdown(ctx))
	s.False(s.server.Ready())

	_, _, err := websocket.DefaultDialer.Dial("ws://"+s.server.Addr()+"/socket", nil)
	s.Error(err)
}

func (s *ServerTestSuite) TestHeartbeatKeepsQuietClientOpen() {
	hub := session.NewHub(session.WithLogger(logging.Discard()))
	srv := NewServer(Config{
		Host: "127.0.0.1",
		Path: "/socket",
		Conn: ConnOptions{PongWait: 300 * time.Millisecond},
	}, hub, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	s.Require().NoError(srv.Start(ctx))
	defer func() {
		_ = srv.Shutdown(context.Background())
		cancel()
		hub.Wait()
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/socket", nil)
	s.Require().NoError(err)
	defer conn.Close()
	s.readText(conn, protocol.EventClientID)

	// quiet for several pong windows; the pending read answers the pings
	data, err := protocol.NewTextEvent(protocol.EventMessage, "after a while").ToJSON()
	s.Require().NoError(err)
	go func() {
		time.Sleep(time.Second)
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}()
	s.Equal("Echo: after a while", s.readText(conn, protocol.EventMessage))
	s.Equal(1, hub.Registry().Len())
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
