// Package chat persists direct messages and delivers them to live connections.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PaulBabatuyi/marketchat/internal/data"
	"github.com/PaulBabatuyi/marketchat/internal/metrics"
	"github.com/PaulBabatuyi/marketchat/internal/normalize"
	"github.com/PaulBabatuyi/marketchat/internal/presence"
	"go.uber.org/zap"
)

// EventMessageReceived carries a persisted message to its receiver and sender.
const EventMessageReceived = "message-received"

// MessageSaver persists one message and returns the stored record.
type MessageSaver interface {
	SaveMessage(ctx context.Context, msg *data.Message) (*data.Message, error)
}

// Locator resolves an identity to its live connection.
type Locator interface {
	Lookup(identity string) (presence.Conn, bool)
}

// Draft is a message that has not been persisted yet.
type Draft struct {
	SenderEmail   string
	ReceiverEmail string
	Type          data.MessageType
	Text          string
	FileURL       string
	OriginalName  string
	MimeType      string
}

// Router validates, persists and emits messages. Sends within one
// conversation are serialized so they persist and emit in processing order.
type Router struct {
	store    MessageSaver
	presence Locator
	notifier presence.Notifier
	log      *zap.Logger
	metrics  *metrics.Metrics
	locks    *keyedMutex
	now      func() time.Time
}

// NewRouter wires a Router.
func NewRouter(store MessageSaver, loc Locator, n presence.Notifier, log *zap.Logger, m *metrics.Metrics) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		store:    store,
		presence: loc,
		notifier: n,
		log:      log,
		metrics:  m,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// Validate normalizes d in place and reports the first missing or invalid field.
func (d *Draft) Validate() error {
	d.SenderEmail = normalize.Email(d.SenderEmail)
	d.ReceiverEmail = normalize.Email(d.ReceiverEmail)
	if d.Type == "" {
		d.Type = data.TypeText
	}

	switch {
	case d.SenderEmail == "":
		return &ValidationError{Field: "senderEmail", Reason: "is required"}
	case d.ReceiverEmail == "":
		return &ValidationError{Field: "receiverEmail", Reason: "is required"}
	}

	switch d.Type {
	case data.TypeText:
		if strings.TrimSpace(d.Text) == "" {
			return &ValidationError{Field: "messageText", Reason: "is required"}
		}
	case data.TypeFile:
		if d.FileURL == "" {
			return &ValidationError{Field: "fileUrl", Reason: "is required"}
		}
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported value %q", d.Type)}
	}
	return nil
}

func (d *Draft) message(at time.Time) *data.Message {
	msg := &data.Message{
		SenderEmail:   d.SenderEmail,
		ReceiverEmail: d.ReceiverEmail,
		Type:          d.Type,
		Timestamp:     at,
	}
	if d.Type == data.TypeText {
		msg.MessageText = data.StringPtr(d.Text)
		return msg
	}
	msg.FileURL = data.StringPtr(d.FileURL)
	msg.OriginalName = data.StringPtr(d.OriginalName)
	msg.MimeType = data.StringPtr(d.MimeType)
	return msg
}

// Send validates d, persists it with a server timestamp and emits the stored
// record to the receiver's and the sender's live connections when registered.
// Validation failures return *ValidationError before anything is persisted.
// A persistence failure is returned wrapped and nothing is emitted.
func (r *Router) Send(ctx context.Context, d Draft) (*data.Message, error) {
	if err := d.Validate(); err != nil {
		r.metrics.RecordSendFailure("validation")
		return nil, err
	}

	unlock := r.locks.Lock(normalize.Pair(d.SenderEmail, d.ReceiverEmail))
	defer unlock()

	// MongoDB keeps milliseconds; truncating here makes the echoed record
	// identical to what a later history fetch returns.
	saved, err := r.store.SaveMessage(ctx, d.message(r.now().UTC().Truncate(time.Millisecond)))
	if err != nil {
		r.metrics.RecordSendFailure("persistence")
		return nil, fmt.Errorf("save message: %w", err)
	}
	r.metrics.RecordPersisted(string(saved.Type))

	r.deliver(saved)
	return saved, nil
}

func (r *Router) deliver(msg *data.Message) {
	receiver, receiverOnline := r.presence.Lookup(msg.ReceiverEmail)
	if receiverOnline {
		r.notifier.Notify(receiver, EventMessageReceived, msg)
	} else {
		r.log.Debug("receiver offline; message kept for history",
			zap.String("receiver", msg.ReceiverEmail),
			zap.String("msg_id", msg.ID.Hex()),
		)
	}
	r.metrics.RecordDelivery("receiver", receiverOnline)

	sender, senderOnline := r.presence.Lookup(msg.SenderEmail)
	if senderOnline && !(receiverOnline && sender.ID() == receiver.ID()) {
		r.notifier.Notify(sender, EventMessageReceived, msg)
	}
	r.metrics.RecordDelivery("sender", senderOnline)
}
