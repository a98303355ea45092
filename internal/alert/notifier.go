package alert

import (
	"context"

	"github.com/go-logr/logr"
)

// Notifier is the downstream alerting collaborator: hard bounces and
// bounce-rate threshold crossings fan out to it.
type Notifier interface {
	OnHardBounce(ctx context.Context, address string)
	OnBounceRateThresholdCrossed(ctx context.Context, rate float64)
}

// LogNotifier is the default boundary implementation; deployments swap
// in a channel-backed notifier.
type LogNotifier struct {
	Log logr.Logger
}

func (n LogNotifier) OnHardBounce(_ context.Context, address string) {
	n.Log.Info("hard bounce recorded", "address", address)
}

func (n LogNotifier) OnBounceRateThresholdCrossed(_ context.Context, rate float64) {
	n.Log.Info("bounce rate threshold crossed", "rate", rate)
}
