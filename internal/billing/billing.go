// Package billing defines the seat-billing collaborator boundary. Seatsmith
// never talks to the payments provider directly: the rule layer requests seat
// adjustments through SeatAdjuster, and provider webhooks flow back in through
// the subscription sync service. Hosted deployments plug in a provider-backed
// implementation; self-hosted installs run the logging adjuster.
package billing

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// SeatAdjustment describes a requested seat-quantity change for one
// subscription item at the provider.
type SeatAdjustment struct {
	SubscriptionID string
	ItemID         string
	Quantity       int
}

// SeatAdjuster pushes seat-quantity changes to the external billing provider.
// Calls are assumed idempotent per quantity; no retries are performed here.
type SeatAdjuster interface {
	AdjustSeats(ctx context.Context, adj SeatAdjustment) error
}

// LogAdjuster records seat adjustments to the log without contacting any
// provider. Used by self-hosted deployments that bill out of band.
type LogAdjuster struct {
	log *zap.Logger
}

// NewLogAdjuster constructs a LogAdjuster writing through the supplied logger.
func NewLogAdjuster(log *zap.Logger) (*LogAdjuster, error) {
	if log == nil {
		return nil, errors.New("billing: logger is required")
	}
	return &LogAdjuster{log: log}, nil
}

// AdjustSeats implements SeatAdjuster.
func (a *LogAdjuster) AdjustSeats(_ context.Context, adj SeatAdjustment) error {
	a.log.Info("seat adjustment requested",
		zap.String("subscription_id", adj.SubscriptionID),
		zap.String("item_id", adj.ItemID),
		zap.Int("quantity", adj.Quantity),
	)
	return nil
}
