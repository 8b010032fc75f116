package notify

import (
	"context"
	"log/slog"
)

// NoopNotifier logs the notification and discards it. Default mode for
// development and tests.
type NoopNotifier struct {
	logger *slog.Logger
}

// NewNoopNotifier builds a NoopNotifier.
func NewNoopNotifier(logger *slog.Logger) *NoopNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopNotifier{logger: logger.With(slog.String("component", "notify"))}
}

// Send logs the would-be delivery and succeeds.
func (n *NoopNotifier) Send(ctx context.Context, msg Notification) error {
	n.logger.InfoContext(ctx, "notification discarded (noop mode)",
		slog.String("user_id", msg.UserID),
		slog.String("email", msg.Email),
		slog.String("subject", msg.Subject))
	return nil
}
