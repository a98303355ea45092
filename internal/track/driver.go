package track

import (
	"context"
	"net/http"
	"time"

	"mailwatch/internal/event"
)

// Envelope is the raw inbound webhook request: its headers, raw body
// and the post-repair structured field mapping. It exists only for the
// duration of one ingestion call.
type Envelope struct {
	Header http.Header
	Body   []byte
	Fields map[string]interface{}
}

// OutboundMessage is the minimal surface a driver needs to tag a
// message before it is handed to the transport.
type OutboundMessage interface {
	SetHeader(name, value string)
	SetMetadata(name, value string)
}

// Reporter receives provisioning progress. It is supplied by the
// operator-facing caller; drivers never print directly.
type Reporter interface {
	Progress(step, message string)
	Failed(step string, err error)
}

// Driver encapsulates one provider's webhook, verification, tagging and
// provisioning behavior. Ingestion-path methods are total functions
// over malformed input: they return false, zero values or fallbacks,
// never an error. Operator-path methods (Provision,
// RemoveFromSuppressionList) return typed failures.
type Driver interface {
	Name() string

	// VerifySignature authenticates that the envelope originated from
	// the provider. Malformed input verifies false.
	VerifySignature(ctx context.Context, env *Envelope) bool

	// WrappedEventField names the payload field carrying the real event
	// as a JSON string when the provider wraps it in an outer envelope.
	// Empty means the top-level payload is the event itself.
	WrappedEventField() string

	// EventMapping returns the ordered first-match rules classifying a
	// payload into a canonical event kind.
	EventMapping() []EventMappingRule

	// DataMapping returns the rules extracting canonical data fields.
	// A rule with an empty path marks the field as not derivable.
	DataMapping() []DataMappingRule

	// ExtractCorrelationID recovers the correlation identifier stamped
	// on the originating outbound message, or "" when absent.
	ExtractCorrelationID(payload map[string]interface{}) string

	// ExtractEventTimestamp never fails: kind-specific path, then the
	// provider's generic message timestamp, then the processing time.
	ExtractEventTimestamp(payload map[string]interface{}) time.Time

	// TagOutboundMessage attaches tracking metadata and the correlation
	// id. It must not fail the send; internal errors are logged by the
	// driver and the message passes through unmodified.
	TagOutboundMessage(msg OutboundMessage, correlationID string)

	// Provision configures the provider-side tracking infrastructure.
	// Idempotent; the first unrecoverable step failure aborts the run.
	Provision(ctx context.Context, rep Reporter) error

	// RemoveFromSuppressionList unblocks a bounced or complained
	// address on the provider side. Returns ErrNotSuppressed when the
	// address is not on the list, a *TransportError on API failure.
	RemoveFromSuppressionList(ctx context.Context, address string) error
}

// Handshaker is implemented by drivers whose webhook protocol requires
// an endpoint-ownership handshake before notifications flow. Handled
// handshakes produce no canonical event.
type Handshaker interface {
	HandleHandshake(ctx context.Context, payload map[string]interface{}) bool
}

// Predicate is one (nested path, expected value) condition of an event
// mapping rule.
type Predicate struct {
	Path   string
	Equals string
}

// EventMappingRule classifies a payload as a canonical kind when every
// predicate matches. Rules are evaluated in declared order; the first
// full match wins.
type EventMappingRule struct {
	Kind  event.Kind
	Match []Predicate
}

// Transform post-processes an extracted data value.
type Transform func(interface{}) interface{}

// DataMappingRule resolves one canonical data field from a nested
// payload path. Path "" means the provider cannot derive the field.
type DataMappingRule struct {
	Field     string
	Path      string
	Transform Transform
}
