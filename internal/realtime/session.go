// Package realtime runs the live connection protocol: identity announcement,
// status checks, message sends and call-signaling passthrough. Transports
// (Socket.IO, plain WebSocket) adapt their connections to presence.Conn and
// feed decoded events into a Session.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/PaulBabatuyi/marketchat/internal/auth"
	"github.com/PaulBabatuyi/marketchat/internal/chat"
	"github.com/PaulBabatuyi/marketchat/internal/data"
	"github.com/PaulBabatuyi/marketchat/internal/metrics"
	"github.com/PaulBabatuyi/marketchat/internal/normalize"
	"github.com/PaulBabatuyi/marketchat/internal/presence"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client -> server events.
const (
	EventAnnounce    = "announce-identity"
	EventCheckStatus = "check-status"
	EventSendMessage = "send-message"
)

// Server -> client events.
const (
	EventStatusResponse = "status-response"
	EventMessageError   = "message-error"
	EventError          = "error"
)

// SignalEvents are forwarded verbatim to the target named in the payload.
var SignalEvents = []string{
	"call-request",
	"call-accept",
	"call-decline",
	"call-offer",
	"call-answer",
	"ice-candidate",
	"call-end",
}

func isSignal(event string) bool {
	for _, e := range SignalEvents {
		if e == event {
			return true
		}
	}
	return false
}

// SendMessagePayload is the body of a send-message event.
type SendMessagePayload struct {
	SenderEmail   string `json:"senderEmail"`
	ReceiverEmail string `json:"receiverEmail"`
	MessageText   string `json:"messageText"`
}

// ErrorPayload is the body of error and message-error events.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Sender routes a message draft; implemented by *chat.Router.
type Sender interface {
	Send(ctx context.Context, d chat.Draft) (*data.Message, error)
}

// State is a session's position in its lifecycle.
type State int

const (
	StateConnecting State = iota // attached, not addressable
	StateOpen                    // identity announced
	StateClosed                  // terminal
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Options tunes per-connection behaviour.
type Options struct {
	SendTimeout     time.Duration // bound on one live send, persistence included
	EventsPerSecond float64       // inbound event budget; <= 0 disables limiting
	EventBurst      int
}

// Hub holds what every session shares and opens sessions for new connections.
type Hub struct {
	ctx      context.Context
	registry *presence.Registry
	router   Sender
	notifier presence.Notifier
	log      *zap.Logger
	metrics  *metrics.Metrics
	opts     Options
}

// NewHub wires a Hub. ctx bounds every live send; cancel it on shutdown.
func NewHub(ctx context.Context, reg *presence.Registry, router Sender, n presence.Notifier, log *zap.Logger, m *metrics.Metrics, opts Options) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Hub{
		ctx:      ctx,
		registry: reg,
		router:   router,
		notifier: n,
		log:      log,
		metrics:  m,
		opts:     opts,
	}
}

// Open attaches conn to the registry and returns its session in the
// Connecting state. claims is nil when token auth is off.
func (h *Hub) Open(conn presence.Conn, claims *auth.Claims) *Session {
	s := &Session{
		hub:    h,
		conn:   conn,
		claims: claims,
		log:    h.log.With(zap.String("conn_id", conn.ID())),
	}
	if h.opts.EventsPerSecond > 0 {
		burst := h.opts.EventBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(h.opts.EventsPerSecond), burst)
	}
	h.registry.Attach(conn)
	s.log.Debug("connection opened")
	return s
}

// Session is the server side of one live connection.
type Session struct {
	hub     *Hub
	conn    presence.Conn
	claims  *auth.Claims
	limiter *rate.Limiter
	log     *zap.Logger

	mu    sync.Mutex
	state State
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// accept reports whether an inbound event should be processed.
func (s *Session) accept(event string) bool {
	if s.State() == StateClosed {
		return false
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.hub.metrics.RecordInboundDropped()
		s.log.Debug("inbound event dropped by rate limit", zap.String("event", event))
		return false
	}
	return true
}

func (s *Session) reply(event, msg string) {
	s.hub.notifier.Notify(s.conn, event, ErrorPayload{Error: msg})
}

// Announce binds the connection to identity. Announcing a different identity
// later moves the handle.
func (s *Session) Announce(identity string) {
	if !s.accept(EventAnnounce) {
		return
	}
	identity = normalize.Email(identity)
	if identity == "" {
		s.reply(EventError, "email is required")
		return
	}
	if s.claims != nil && identity != s.claims.Email {
		s.log.Warn("announce does not match token identity",
			zap.String("announced", identity),
			zap.String("token_email", s.claims.Email),
		)
		s.reply(EventError, "identity does not match token")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.hub.registry.Register(identity, s.conn)
	s.state = StateOpen
	s.log.Info("identity announced", zap.String("email", identity))
}

// CheckStatus answers the requester with the identity's presence.
func (s *Session) CheckStatus(identity string) {
	if !s.accept(EventCheckStatus) {
		return
	}
	identity = normalize.Email(identity)
	s.hub.notifier.Notify(s.conn, EventStatusResponse, presence.Status{
		Email:    identity,
		IsOnline: identity != "" && s.hub.registry.IsOnline(identity),
	})
}

// SendMessage routes a text message. Validation failures are answered with
// message-error; persistence failures are logged only.
func (s *Session) SendMessage(p SendMessagePayload) {
	if !s.accept(EventSendMessage) {
		return
	}
	if s.claims != nil && normalize.Email(p.SenderEmail) != s.claims.Email {
		s.reply(EventMessageError, "senderEmail does not match authenticated identity")
		return
	}

	ctx, cancel := context.WithTimeout(s.hub.ctx, s.hub.opts.SendTimeout)
	defer cancel()

	_, err := s.hub.router.Send(ctx, chat.Draft{
		SenderEmail:   p.SenderEmail,
		ReceiverEmail: p.ReceiverEmail,
		Type:          data.TypeText,
		Text:          p.MessageText,
	})
	if err == nil {
		return
	}

	var verr *chat.ValidationError
	if errors.As(err, &verr) {
		s.reply(EventMessageError, verr.Error())
		return
	}
	s.log.Error("live send failed",
		zap.String("sender", normalize.Email(p.SenderEmail)),
		zap.String("receiver", normalize.Email(p.ReceiverEmail)),
		zap.Error(err),
	)
}

// signalTarget is the only field read from a signaling payload; the payload
// itself is forwarded untouched.
type signalTarget struct {
	TargetUserEmail string `json:"targetUserEmail"`
}

// Signal forwards a call-signaling payload to targetUserEmail under the same
// event name. Offline targets are dropped.
func (s *Session) Signal(event string, payload json.RawMessage) {
	if !s.accept(event) {
		return
	}
	if !isSignal(event) {
		s.reply(EventError, "unsupported event "+event)
		return
	}

	var target signalTarget
	if err := json.Unmarshal(payload, &target); err != nil {
		s.reply(EventError, "invalid signal payload")
		return
	}
	conn, ok := s.hub.registry.Lookup(target.TargetUserEmail)
	s.hub.metrics.RecordSignal(event, ok)
	if !ok {
		s.log.Debug("signal target offline",
			zap.String("event", event),
			zap.String("target", normalize.Email(target.TargetUserEmail)),
		)
		return
	}
	s.hub.notifier.Notify(conn, event, payload)
}

// Close detaches the connection. Only the first call has an effect.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	identity, wentOffline := s.hub.registry.Detach(s.conn)
	s.log.Debug("connection closed",
		zap.String("email", identity),
		zap.Bool("went_offline", wentOffline),
	)
}
