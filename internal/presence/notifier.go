package presence

import (
	"github.com/PaulBabatuyi/marketchat/internal/metrics"
	"go.uber.org/zap"
)

// Notifier hands an event to a connection. Implementations decide whether
// delivery is acknowledged, queued or retried; callers never wait on it.
type Notifier interface {
	Notify(c Conn, event string, payload any)
}

// DirectNotifier emits straight onto the connection and forgets about it.
// Failures are logged and counted, never surfaced to the caller.
type DirectNotifier struct {
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewDirectNotifier returns a fire-and-forget Notifier.
func NewDirectNotifier(log *zap.Logger, m *metrics.Metrics) *DirectNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &DirectNotifier{log: log, metrics: m}
}

func (n *DirectNotifier) Notify(c Conn, event string, payload any) {
	if c == nil {
		return
	}
	if err := c.Emit(event, payload); err != nil {
		n.metrics.RecordEmitFailure()
		n.log.Warn("emit failed",
			zap.String("conn_id", c.ID()),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}
