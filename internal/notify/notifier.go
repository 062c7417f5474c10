package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/motorlog/livelink/internal/domain"
)

// Notifier is the handoff point to the notification collaborator. Emission
// is fire-and-forget: delivery, retry and per-channel fan-out are the
// collaborator's contract, so Publish never reports failure to its caller.
type Notifier interface {
	Publish(ctx context.Context, event domain.AlertEvent)
}

// Nop logs events and drops them. Used when no AMQP sink is configured.
type Nop struct {
	logger *zap.Logger
}

// NewNop creates a no-op notifier
func NewNop(logger *zap.Logger) *Nop {
	return &Nop{logger: logger}
}

func (n *Nop) Publish(_ context.Context, event domain.AlertEvent) {
	n.logger.Info("alert event (no notification sink configured)",
		zap.String("kind", string(event.Kind)),
		zap.String("device_id", event.DeviceID),
	)
}
