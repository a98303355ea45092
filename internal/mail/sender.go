package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"mailwatch/internal/track"
)

// Tagger stamps outbound messages with a correlation identifier and the
// driver's tracking metadata. Tagging is an enhancement: it never
// blocks or fails a send.
type Tagger struct {
	driver track.Driver
	log    logr.Logger
}

func NewTagger(driver track.Driver, log logr.Logger) *Tagger {
	return &Tagger{driver: driver, log: log.WithName("tagger")}
}

// Tag assigns (or reuses) the message's correlation id and lets the
// driver attach its tracking headers. Returns the correlation id.
func (t *Tagger) Tag(msg *Message) string {
	if msg == nil {
		return ""
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}
	t.driver.TagOutboundMessage(msg, msg.CorrelationID)
	return msg.CorrelationID
}

// repairer is implemented by drivers that can recreate the send-side
// resource whose absence fails outbound sends.
type repairer interface {
	RepairSendResources(ctx context.Context) error
}

// Sender tags and sends. When the transport reports a missing send
// resource it repairs once through the driver and retries exactly once
// more, then surfaces the failure. Bounded by construction, unlike a
// retry-by-recursion.
type Sender struct {
	transport Transport
	driver    track.Driver
	tagger    *Tagger
	log       logr.Logger
}

func NewSender(transport Transport, driver track.Driver, log logr.Logger) *Sender {
	return &Sender{
		transport: transport,
		driver:    driver,
		tagger:    NewTagger(driver, log),
		log:       log.WithName("sender"),
	}
}

func (s *Sender) Send(ctx context.Context, msg *Message) error {
	s.tagger.Tag(msg)

	err := s.transport.Send(ctx, msg)
	if err == nil || !errors.Is(err, ErrMissingSendResource) {
		return err
	}

	r, ok := s.driver.(repairer)
	if !ok {
		return err
	}
	s.log.Info("send failed on missing resource, repairing once", "provider", s.driver.Name())
	if repairErr := r.RepairSendResources(ctx); repairErr != nil {
		return fmt.Errorf("repair after missing send resource: %w", repairErr)
	}
	return s.transport.Send(ctx, msg)
}
