package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-logr/logr"

	"mailwatch/internal/alert"
	"mailwatch/internal/event"
	"mailwatch/internal/providers/shared"
	"mailwatch/internal/store"
)

const defaultBounceWindow = 50

// Service receives canonical events from ingestion and hands them to
// the persistence and alerting collaborators.
type Service struct {
	repo     store.Repository
	notifier alert.Notifier
	log      logr.Logger

	// Bounce rate over a sliding window of recent events. The send
	// path is outside this core, so the denominator is observed
	// events, not sends.
	threshold float64
	window    int

	mu      sync.Mutex
	flags   []bool
	crossed bool
}

func NewService(repo store.Repository, notifier alert.Notifier, threshold float64, window int, log logr.Logger) *Service {
	if window <= 0 {
		window = defaultBounceWindow
	}
	return &Service{
		repo:      repo,
		notifier:  notifier,
		threshold: threshold,
		window:    window,
		log:       log.WithName("dispatch"),
	}
}

func (s *Service) HandleEvent(ctx context.Context, ev event.CanonicalEvent) error {
	if err := s.repo.StoreEvent(ctx, ev); err != nil {
		return err
	}

	if ev.Kind == event.KindHardBounced {
		if address := bouncedAddress(ev); address != "" {
			s.notifier.OnHardBounce(ctx, address)
		}
	}

	if rate, crossed := s.recordBounce(ev.Kind.IsBounce()); crossed {
		s.notifier.OnBounceRateThresholdCrossed(ctx, rate)
	}
	return nil
}

// recordBounce updates the sliding window and reports a threshold
// crossing exactly once per excursion above the threshold.
func (s *Service) recordBounce(isBounce bool) (rate float64, crossedNow bool) {
	if s.threshold <= 0 {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flags = append(s.flags, isBounce)
	if len(s.flags) > s.window {
		s.flags = s.flags[len(s.flags)-s.window:]
	}
	if len(s.flags) < s.window {
		return 0, false
	}
	bounces := 0
	for _, flag := range s.flags {
		if flag {
			bounces++
		}
	}
	rate = float64(bounces) / float64(len(s.flags))
	if rate >= s.threshold {
		if s.crossed {
			return rate, false
		}
		s.crossed = true
		return rate, true
	}
	s.crossed = false
	return rate, false
}

// Known recipient locations across provider payload shapes, checked
// against the (unwrapped) raw payload.
var bouncedAddressPaths = []string{
	"bounce.bouncedRecipients.0.emailAddress",
	"Email",
	"Recipient",
}

func bouncedAddress(ev event.CanonicalEvent) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(ev.RawPayload, &payload); err != nil {
		return ""
	}
	if inner, ok := payload["Message"].(string); ok {
		var unwrapped map[string]interface{}
		if err := json.Unmarshal([]byte(inner), &unwrapped); err == nil {
			payload = unwrapped
		}
	}
	for _, path := range bouncedAddressPaths {
		if address := shared.LookupString(payload, path); address != "" {
			return address
		}
	}
	return ""
}
