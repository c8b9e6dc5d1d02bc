package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/netra-systems/service-warden/internal/transition"
)

// DryRunNotifier logs transitions without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, environment string, report transition.Report) error {
	for _, change := range report.Transitions {
		n.logger.Info().
			Str("environment", environment).
			Str("service", change.Service).
			Str("previous_status", string(change.PreviousStatus)).
			Str("current_status", string(change.CurrentStatus)).
			Float64("score", change.Score).
			Str("detail", change.Detail).
			Msg("[DRY-RUN] Would notify")
	}
	if change := report.LevelChange; change != nil {
		n.logger.Info().
			Str("environment", environment).
			Str("previous_level", string(change.Previous)).
			Str("current_level", string(change.Current)).
			Msg("[DRY-RUN] Would notify level change")
	}
	return nil
}
