package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/marketchat/internal/auth"
	"github.com/PaulBabatuyi/marketchat/internal/chat"
	"github.com/PaulBabatuyi/marketchat/internal/data"
	"github.com/PaulBabatuyi/marketchat/internal/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type event struct {
	name    string
	payload any
}

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []event
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Emit(name string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{name: name, payload: payload})
	return nil
}

func (f *fakeConn) named(name string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.events {
		if e.name == name {
			out = append(out, e.payload)
		}
	}
	return out
}

type env struct {
	hub      *Hub
	store    *data.MemoryStore
	registry *presence.Registry
	stop     context.CancelFunc
}

func newEnv(t *testing.T, opts Options) *env {
	log := zaptest.NewLogger(t)
	n := presence.NewDirectNotifier(log, nil)
	reg := presence.NewRegistry(n, nil)
	store := data.NewMemoryStore()
	router := chat.NewRouter(store, reg, n, log, nil)
	ctx, stop := context.WithCancel(context.Background())
	t.Cleanup(stop)
	return &env{
		hub:      NewHub(ctx, reg, router, n, log, nil, opts),
		store:    store,
		registry: reg,
		stop:     stop,
	}
}

func (e *env) open(id string) (*Session, *fakeConn) {
	c := &fakeConn{id: id}
	return e.hub.Open(c, nil), c
}

func TestSession_Lifecycle(t *testing.T) {
	e := newEnv(t, Options{})
	s, _ := e.open("c1")
	assert.Equal(t, StateConnecting, s.State())
	assert.Equal(t, 1, e.registry.Connections())

	s.Announce("Alice@X.com")
	assert.Equal(t, StateOpen, s.State())
	assert.True(t, e.registry.IsOnline("alice@x.com"))

	s.Close()
	s.Close()
	assert.Equal(t, StateClosed, s.State())
	assert.False(t, e.registry.IsOnline("alice@x.com"))
	assert.Equal(t, 0, e.registry.Connections())

	// events after close are ignored
	s.Announce("alice@x.com")
	assert.False(t, e.registry.IsOnline("alice@x.com"))
}

func TestSession_AnnounceRequiresEmail(t *testing.T) {
	e := newEnv(t, Options{})
	s, c := e.open("c1")

	s.Announce("   ")
	require.Len(t, c.named(EventError), 1)
	assert.Equal(t, StateConnecting, s.State())
}

func TestSession_CheckStatus(t *testing.T) {
	e := newEnv(t, Options{})
	bob, _ := e.open("bob")
	bob.Announce("bob@x.com")
	alice, c := e.open("alice")

	alice.CheckStatus("BOB@x.com")
	alice.CheckStatus("carol@x.com")

	assert.Equal(t, []any{
		presence.Status{Email: "bob@x.com", IsOnline: true},
		presence.Status{Email: "carol@x.com", IsOnline: false},
	}, c.named(EventStatusResponse))
}

func TestSession_SendMessage(t *testing.T) {
	e := newEnv(t, Options{})
	alice, ac := e.open("alice")
	alice.Announce("alice@x.com")
	bob, bc := e.open("bob")
	bob.Announce("bob@x.com")

	alice.SendMessage(SendMessagePayload{SenderEmail: "alice@x.com", ReceiverEmail: "bob@x.com", MessageText: "hi bob"})

	require.Len(t, bc.named(chat.EventMessageReceived), 1)
	require.Len(t, ac.named(chat.EventMessageReceived), 1)
	got := bc.named(chat.EventMessageReceived)[0].(*data.Message)
	assert.Equal(t, "hi bob", got.Text())

	history, err := e.store.GetConversation(context.Background(), "alice@x.com", "bob@x.com")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSession_SendMessageValidation(t *testing.T) {
	e := newEnv(t, Options{})
	alice, ac := e.open("alice")
	alice.Announce("alice@x.com")

	alice.SendMessage(SendMessagePayload{SenderEmail: "alice@x.com", ReceiverEmail: "bob@x.com"})

	errs := ac.named(EventMessageError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].(ErrorPayload).Error, "messageText")
	assert.Empty(t, ac.named(chat.EventMessageReceived))

	history, err := e.store.GetConversation(context.Background(), "alice@x.com", "bob@x.com")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSession_Signal(t *testing.T) {
	e := newEnv(t, Options{})
	alice, ac := e.open("alice")
	alice.Announce("alice@x.com")
	bob, bc := e.open("bob")
	bob.Announce("bob@x.com")

	// large integers and key order survive the forward untouched
	offer := json.RawMessage(`{"targetUserEmail":"Bob@x.com","sdp":"v=0","sdpMLineIndex":9007199254740993,"from":"alice@x.com"}`)
	alice.Signal("call-offer", offer)

	got := bc.named("call-offer")
	require.Len(t, got, 1)
	assert.Equal(t, offer, got[0])

	// offline target is dropped silently
	alice.Signal("call-request", json.RawMessage(`{"targetUserEmail":"carol@x.com"}`))
	assert.Empty(t, bc.named("call-request"))
	assert.Empty(t, ac.named(EventError))

	alice.Signal("call-end", json.RawMessage(`"bob@x.com"`))
	errs := ac.named(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "invalid signal payload", errs[0].(ErrorPayload).Error)
}

func TestSession_SignalRejectsUnknownEvent(t *testing.T) {
	e := newEnv(t, Options{})
	s, c := e.open("c1")
	s.Signal("call-hijack", json.RawMessage(`{"targetUserEmail":"x@x.com"}`))
	assert.Len(t, c.named(EventError), 1)
}

func TestSession_UnknownEventsCountAgainstRateLimit(t *testing.T) {
	e := newEnv(t, Options{EventsPerSecond: 0.001, EventBurst: 1})
	s, c := e.open("c1")

	for i := 0; i < 5; i++ {
		s.Signal("call-hijack", nil)
	}
	assert.Len(t, c.named(EventError), 1)
}

func TestSession_RateLimit(t *testing.T) {
	e := newEnv(t, Options{EventsPerSecond: 0.001, EventBurst: 2})
	bob, _ := e.open("bob")
	bob.Announce("bob@x.com")
	s, c := e.open("c1")

	for i := 0; i < 5; i++ {
		s.CheckStatus("bob@x.com")
	}
	assert.Len(t, c.named(EventStatusResponse), 2)
}

func TestSession_TokenBinding(t *testing.T) {
	j := auth.NewJWTManager("secret", time.Minute)
	token, _, err := j.GenerateToken("u-1", "alice@x.com")
	require.NoError(t, err)
	claims, err := tokenClaims(j, token, "")
	require.NoError(t, err)

	e := newEnv(t, Options{})
	c := &fakeConn{id: "alice"}
	s := e.hub.Open(c, claims)

	s.Announce("mallory@x.com")
	assert.Len(t, c.named(EventError), 1)
	assert.False(t, e.registry.IsOnline("mallory@x.com"))

	s.SendMessage(SendMessagePayload{SenderEmail: "mallory@x.com", ReceiverEmail: "bob@x.com", MessageText: "x"})
	assert.Len(t, c.named(EventMessageError), 1)

	s.Announce("ALICE@x.com")
	assert.True(t, e.registry.IsOnline("alice@x.com"))
}

func TestTokenClaims(t *testing.T) {
	claims, err := tokenClaims(nil, "", "")
	assert.NoError(t, err)
	assert.Nil(t, claims)

	j := auth.NewJWTManager("secret", time.Minute)
	_, err = tokenClaims(j, "", "")
	assert.ErrorIs(t, err, errTokenRequired)

	_, err = tokenClaims(j, "", "Bearer junk")
	assert.Error(t, err)

	token, _, err := j.GenerateToken("u", "a@x.com")
	require.NoError(t, err)
	claims, err = tokenClaims(j, "", "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", claims.Email)
}
