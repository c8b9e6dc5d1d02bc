package notify

import (
	"context"

	"github.com/netra-systems/service-warden/internal/transition"
)

// Notifier delivers transition reports to external systems.
type Notifier interface {
	Notify(ctx context.Context, environment string, report transition.Report) error
}
