package notify

import (
	"context"

	"coordline/internal/logging"
)

// LogSink records notifications in the structured log.
type LogSink struct {
	Logger *logging.Logger
}

func (s LogSink) Notify(_ context.Context, n Notification) error {
	s.Logger.Info("notification",
		"kind", string(n.Kind),
		"event", n.Event,
		"entity_id", n.EntityID,
		"aliases", n.Aliases,
	)
	return nil
}
