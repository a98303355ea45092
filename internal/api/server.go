package api

import (
	"context"
	"strings"

	"github.com/go-logr/logr"

	"mailwatch/internal/event"
	"mailwatch/internal/observability"
	"mailwatch/internal/track"
)

const defaultWebhookPrefix = "/webhooks/mails"

// Dispatcher is the persistence/alerting collaborator consuming
// canonical events.
type Dispatcher interface {
	HandleEvent(ctx context.Context, ev event.CanonicalEvent) error
}

type ServerOptions struct {
	WebhookPathPrefix string
	Metrics           *observability.IngestMetrics
	Logger            logr.Logger
}

type Server struct {
	registry   *track.Registry
	dispatcher Dispatcher
	prefix     string
	metrics    *observability.IngestMetrics
	log        logr.Logger
}

func NewServer(registry *track.Registry, dispatcher Dispatcher, opts ServerOptions) *Server {
	prefix := strings.TrimRight(strings.TrimSpace(opts.WebhookPathPrefix), "/")
	if prefix == "" {
		prefix = defaultWebhookPrefix
	}
	return &Server{
		registry:   registry,
		dispatcher: dispatcher,
		prefix:     prefix,
		metrics:    opts.Metrics,
		log:        opts.Logger.WithName("api"),
	}
}
