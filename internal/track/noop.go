package track

import (
	"context"
	"time"
)

// NoopDriver is the fallback member of the driver set. It verifies
// nothing, maps nothing and tags nothing, so callers degrade gracefully
// instead of branching on provider support.
type NoopDriver struct{}

func (NoopDriver) Name() string { return "noop" }

func (NoopDriver) VerifySignature(context.Context, *Envelope) bool { return false }

func (NoopDriver) WrappedEventField() string { return "" }

func (NoopDriver) EventMapping() []EventMappingRule { return nil }

func (NoopDriver) DataMapping() []DataMappingRule { return nil }

func (NoopDriver) ExtractCorrelationID(map[string]interface{}) string { return "" }

func (NoopDriver) ExtractEventTimestamp(map[string]interface{}) time.Time {
	return time.Now().UTC()
}

func (NoopDriver) TagOutboundMessage(OutboundMessage, string) {}

func (NoopDriver) Provision(_ context.Context, rep Reporter) error {
	if rep != nil {
		rep.Progress("noop", "no tracking infrastructure to provision")
	}
	return nil
}

func (NoopDriver) RemoveFromSuppressionList(context.Context, string) error {
	return ErrUnsupportedProvider
}
