package ses

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"mailwatch/internal/event"
	"mailwatch/internal/providers/shared"
	"mailwatch/internal/track"
)

const (
	// Header SES uses to route a sent message through a configuration
	// set, which is what makes event publishing fire for it.
	configurationSetHeader = "X-SES-CONFIGURATION-SET"

	defaultSubscriptionWait = 5 * time.Second
)

// Options is the explicit configuration value object handed to the
// driver at construction. Nothing is read from ambient state.
type Options struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// WebhookURL is the public HTTPS endpoint SNS delivers to.
	WebhookURL string

	// UUIDHeaderName carries the correlation identifier on outbound
	// messages and inside SES message tags on inbound events.
	UUIDHeaderName string

	// ModelsHeaderName links a message to its originating domain
	// records; consumed by the persistence layer, opaque here.
	ModelsHeaderName string

	// ResourcePrefix, when set, prefixes every provider-side resource
	// name (environment separation).
	ResourcePrefix string

	// TrackingEvents is the enabled canonical event-kind set routed to
	// the event destination.
	TrackingEvents []string

	// SubscriptionWait is the fixed delay after creating a subscription
	// before attribute updates are attempted, allowing the SNS control
	// plane to converge.
	SubscriptionWait time.Duration

	HTTPClient *http.Client
	Logger     logr.Logger
}

// Driver implements mail tracking over SES event publishing delivered
// through SNS HTTPS webhooks.
type Driver struct {
	opts     Options
	verifier *snsVerifier
	ses      sesAPI
	sns      snsAPI
	log      logr.Logger

	// configSetKnown caches a confirmed configuration set. A stale
	// false only costs one extra existence check; it never skips the
	// create-or-confirm on first use.
	configSetKnown atomic.Bool
}

func New(ctx context.Context, opts Options) (*Driver, error) {
	sesClient, snsClient, err := newAWSClients(ctx, opts)
	if err != nil {
		return nil, err
	}
	return NewWithClients(opts, sesClient, snsClient), nil
}

// NewWithClients wires explicit API clients; used by New and by tests.
func NewWithClients(opts Options, sesClient sesAPI, snsClient snsAPI) *Driver {
	if opts.UUIDHeaderName == "" {
		opts.UUIDHeaderName = "X-Mails-UUID"
	}
	if opts.SubscriptionWait <= 0 {
		opts.SubscriptionWait = defaultSubscriptionWait
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Driver{
		opts:     opts,
		verifier: newSNSVerifier(httpClient),
		ses:      sesClient,
		sns:      snsClient,
		log:      opts.Logger.WithName("ses-driver"),
	}
}

func (d *Driver) Name() string { return "ses" }

func (d *Driver) VerifySignature(ctx context.Context, env *track.Envelope) bool {
	if d == nil || env == nil || len(env.Fields) == 0 {
		return false
	}
	return d.verifier.Verify(ctx, env.Fields)
}

// WrappedEventField: SNS wraps the SES event as a JSON string inside
// the notification envelope.
func (d *Driver) WrappedEventField() string { return "Message" }

func (d *Driver) EventMapping() []track.EventMappingRule {
	return []track.EventMappingRule{
		{Kind: event.KindClicked, Match: []track.Predicate{{Path: "eventType", Equals: "Click"}}},
		{Kind: event.KindOpened, Match: []track.Predicate{{Path: "eventType", Equals: "Open"}}},
		{Kind: event.KindDelivered, Match: []track.Predicate{{Path: "eventType", Equals: "Delivery"}}},
		{Kind: event.KindComplained, Match: []track.Predicate{{Path: "eventType", Equals: "Complaint"}}},
		{Kind: event.KindHardBounced, Match: []track.Predicate{
			{Path: "eventType", Equals: "Bounce"},
			{Path: "bounce.bounceType", Equals: "Permanent"},
		}},
		{Kind: event.KindSoftBounced, Match: []track.Predicate{
			{Path: "eventType", Equals: "Bounce"},
			{Path: "bounce.bounceType", Equals: "Transient"},
		}},
		{Kind: event.KindSoftBounced, Match: []track.Predicate{
			{Path: "eventType", Equals: "Bounce"},
			{Path: "bounce.bounceType", Equals: "Undetermined"},
		}},
		{Kind: event.KindUnsubscribed, Match: []track.Predicate{{Path: "eventType", Equals: "Subscription"}}},
	}
}

func (d *Driver) DataMapping() []track.DataMappingRule {
	return []track.DataMappingRule{
		{Field: event.FieldBrowser},
		{Field: event.FieldCity},
		{Field: event.FieldCountryCode},
		{Field: event.FieldIPAddress, Path: "click.ipAddress"},
		{Field: event.FieldLink, Path: "click.link"},
		{Field: event.FieldOS},
		{Field: event.FieldPlatform},
		{Field: event.FieldCorrelationTag, Path: "mail.tags." + d.opts.UUIDHeaderName, Transform: shared.First},
		{Field: event.FieldUserAgent, Path: "click.userAgent"},
	}
}

func (d *Driver) ExtractCorrelationID(payload map[string]interface{}) string {
	if v, ok := shared.Lookup(payload, "mail.tags."+d.opts.UUIDHeaderName); ok {
		if s := strings.TrimSpace(shared.Stringify(shared.First(v))); s != "" {
			return s
		}
	}
	if headers, ok := shared.Lookup(payload, "mail.headers"); ok {
		if list, ok := headers.([]interface{}); ok {
			for _, item := range list {
				entry, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				name := shared.Stringify(entry["name"])
				if strings.EqualFold(name, d.opts.UUIDHeaderName) {
					if s := strings.TrimSpace(shared.Stringify(entry["value"])); s != "" {
						return s
					}
				}
			}
		}
	}
	return d.correlationFromRawHeaders(payload)
}

// correlationFromRawHeaders pattern-matches the serialized mail section
// when the structured tag and header locations are both absent.
func (d *Driver) correlationFromRawHeaders(payload map[string]interface{}) string {
	mail, ok := payload["mail"]
	if !ok {
		return ""
	}
	raw, err := json.Marshal(mail)
	if err != nil {
		return ""
	}
	re := regexp.MustCompile(regexp.QuoteMeta(d.opts.UUIDHeaderName) + `\\?"?\s*[:=]\s*\\?"?([A-Za-z0-9][A-Za-z0-9-]*)`)
	m := re.FindSubmatch(raw)
	if len(m) != 2 {
		return ""
	}
	return string(m[1])
}

var eventTimestampPaths = map[string]string{
	"Bounce":       "bounce.timestamp",
	"Complaint":    "complaint.timestamp",
	"Delivery":     "delivery.timestamp",
	"Open":         "open.timestamp",
	"Click":        "click.timestamp",
	"Subscription": "subscription.timestamp",
}

func (d *Driver) ExtractEventTimestamp(payload map[string]interface{}) time.Time {
	eventType := shared.LookupString(payload, "eventType")
	if t := shared.TimeFromPath(payload, eventTimestampPaths[eventType]); !t.IsZero() {
		return t
	}
	if t := shared.TimeFromPath(payload, "mail.timestamp"); !t.IsZero() {
		return t
	}
	return time.Now().UTC()
}

func (d *Driver) TagOutboundMessage(msg track.OutboundMessage, correlationID string) {
	if msg == nil {
		return
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		d.log.Info("skipping outbound tagging: empty correlation id")
		return
	}
	msg.SetHeader(configurationSetHeader, d.configurationSetName())
	msg.SetHeader(d.opts.UUIDHeaderName, correlationID)
	msg.SetMetadata(d.opts.UUIDHeaderName, correlationID)
}

// HandleHandshake auto-confirms SNS subscription handshakes by fetching
// the SubscribeURL. The payload has already passed signature
// verification when this runs.
func (d *Driver) HandleHandshake(ctx context.Context, payload map[string]interface{}) bool {
	msgType := shared.Stringify(payload["Type"])
	if msgType != "SubscriptionConfirmation" && msgType != "UnsubscribeConfirmation" {
		return false
	}
	if msgType == "SubscriptionConfirmation" {
		d.confirmSubscription(ctx, shared.Stringify(payload["SubscribeURL"]))
	}
	return true
}

func (d *Driver) confirmSubscription(ctx context.Context, subscribeURL string) {
	u, err := url.Parse(strings.TrimSpace(subscribeURL))
	if err != nil || !d.verifier.trustedURL(u) {
		d.log.Info("refusing subscription confirmation for untrusted url", "url", subscribeURL)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return
	}
	resp, err := d.verifier.client.Do(req)
	if err != nil {
		d.log.Error(err, "subscription confirmation fetch failed")
		return
	}
	defer resp.Body.Close()
	d.log.Info("confirmed sns subscription", "status", resp.StatusCode)
}

func (d *Driver) resourceName(base string) string {
	prefix := strings.TrimSpace(d.opts.ResourcePrefix)
	if prefix == "" {
		return base
	}
	return prefix + "-" + base
}

func (d *Driver) configurationSetName() string { return d.resourceName("mailwatch") }
func (d *Driver) topicName() string            { return d.resourceName("mailwatch-events") }
func (d *Driver) eventDestinationName() string { return d.resourceName("mailwatch-webhook") }
