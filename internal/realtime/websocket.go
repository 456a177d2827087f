package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/PaulBabatuyi/marketchat/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBufferSize = 256
)

var (
	// ErrConnClosed is returned when emitting on a connection that has gone away.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when a slow client cannot keep up; the
	// connection is closed.
	ErrSendBufferFull = errors.New("send buffer full")
)

// envelope frames every WebSocket message in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// wsConn adapts a gorilla connection to presence.Conn. Emit only enqueues;
// writePump owns the socket's write side.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		id:   "ws:" + uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Emit(event string, payload any) error {
	b, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		c.shutdown()
		return ErrSendBufferFull
	}
}

func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// WebSocketHandler upgrades /ws requests. When j is set the token is taken
// from ?token= or the Authorization header and must verify before upgrade.
func WebSocketHandler(h *Hub, j *auth.JWTManager, checkOrigin func(*http.Request) bool) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin,
	}

	return func(c *gin.Context) {
		claims, err := tokenClaims(j, c.Query("token"), c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}

		conn := newWSConn(ws)
		session := h.Open(conn, claims)
		go conn.writePump(h.ctx)
		conn.readPump(session, h.log)
	}
}

func (c *wsConn) readPump(s *Session, log *zap.Logger) {
	defer func() {
		c.shutdown()
		s.Close()
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read failed", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			s.reply(EventError, "invalid envelope")
			continue
		}
		dispatch(s, env)
	}
}

// writePump drains the send buffer and keeps the peer alive with pings. It
// closes the socket when the connection shuts down or ctx is canceled, which
// also ends readPump.
func (c *wsConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-ctx.Done():
			c.shutdown()
			c.writeClose(websocket.CloseGoingAway)
			return
		case <-c.done:
			c.writeClose(websocket.CloseNormalClosure)
			return
		}
	}
}

func (c *wsConn) writeClose(code int) {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
}

// dispatch decodes an envelope's data for its event and hands it to s.
func dispatch(s *Session, env envelope) {
	switch env.Event {
	case EventAnnounce, EventCheckStatus:
		var email string
		if err := json.Unmarshal(env.Data, &email); err != nil {
			s.reply(EventError, "expected an email string")
			return
		}
		if env.Event == EventAnnounce {
			s.Announce(email)
		} else {
			s.CheckStatus(email)
		}
	case EventSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.reply(EventMessageError, "invalid message payload")
			return
		}
		s.SendMessage(p)
	default:
		s.Signal(env.Event, env.Data)
	}
}
