package realtime

import (
	"encoding/json"
	"net/http"

	"github.com/PaulBabatuyi/marketchat/internal/auth"
	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"go.uber.org/zap"
)

const namespace = "/"

// sioConn adapts a Socket.IO connection to presence.Conn.
type sioConn struct {
	socketio.Conn
}

func (c sioConn) ID() string { return "sio:" + c.Conn.ID() }

func (c sioConn) Emit(event string, payload any) error {
	c.Conn.Emit(event, payload)
	return nil
}

func sessionOf(c socketio.Conn) (*Session, bool) {
	if c == nil {
		return nil, false
	}
	s, ok := c.Context().(*Session)
	return s, ok
}

// NewSocketIOServer builds a Socket.IO server whose handlers drive sessions
// opened on h. The caller runs Serve and mounts it under /socket.io/.
func NewSocketIOServer(h *Hub, j *auth.JWTManager, checkOrigin func(*http.Request) bool) *socketio.Server {
	server := socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			&websocket.Transport{CheckOrigin: checkOrigin},
			&polling.Transport{CheckOrigin: checkOrigin},
		},
	})

	server.OnConnect(namespace, func(c socketio.Conn) error {
		u := c.URL()
		claims, err := tokenClaims(j, u.Query().Get("token"), c.RemoteHeader().Get("Authorization"))
		if err != nil {
			h.log.Debug("socket.io connection rejected", zap.String("sid", c.ID()), zap.Error(err))
			return err
		}
		c.SetContext(h.Open(sioConn{c}, claims))
		return nil
	})

	server.OnEvent(namespace, EventAnnounce, func(c socketio.Conn, email string) {
		if s, ok := sessionOf(c); ok {
			s.Announce(email)
		}
	})

	server.OnEvent(namespace, EventCheckStatus, func(c socketio.Conn, email string) {
		if s, ok := sessionOf(c); ok {
			s.CheckStatus(email)
		}
	})

	server.OnEvent(namespace, EventSendMessage, func(c socketio.Conn, p SendMessagePayload) {
		if s, ok := sessionOf(c); ok {
			s.SendMessage(p)
		}
	})

	for _, event := range SignalEvents {
		event := event
		server.OnEvent(namespace, event, func(c socketio.Conn, payload json.RawMessage) {
			if s, ok := sessionOf(c); ok {
				s.Signal(event, payload)
			}
		})
	}

	server.OnDisconnect(namespace, func(c socketio.Conn, reason string) {
		if s, ok := sessionOf(c); ok {
			s.Close()
		}
	})

	server.OnError(namespace, func(c socketio.Conn, err error) {
		sid := ""
		if c != nil {
			sid = c.ID()
		}
		h.log.Debug("socket.io error", zap.String("sid", sid), zap.Error(err))
	})

	return server
}
