package postmark

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"mailwatch/internal/event"
	"mailwatch/internal/providers/shared"
	"mailwatch/internal/track"
)

const defaultTokenHeader = "X-Postmark-Webhook-Token"

type Options struct {
	// ServerToken authenticates API calls (provisioning, suppression
	// removal).
	ServerToken string

	// WebhookToken is the shared secret the webhook is registered with;
	// inbound calls present it in TokenHeader.
	WebhookToken string
	TokenHeader  string

	WebhookURL    string
	MessageStream string

	// UUIDHeaderName is the metadata key carrying the correlation id.
	UUIDHeaderName string

	TrackingEvents []string

	BaseURL    string
	HTTPClient *http.Client
	Logger     logr.Logger
}

// Driver implements mail tracking over Postmark's webhook API.
type Driver struct {
	opts   Options
	client *Client
	log    logr.Logger
}

func New(opts Options) *Driver {
	if opts.TokenHeader == "" {
		opts.TokenHeader = defaultTokenHeader
	}
	if opts.UUIDHeaderName == "" {
		opts.UUIDHeaderName = "X-Mails-UUID"
	}
	if opts.MessageStream == "" {
		opts.MessageStream = "outbound"
	}
	return &Driver{
		opts:   opts,
		client: NewClient(opts.BaseURL, opts.ServerToken, opts.HTTPClient),
		log:    opts.Logger.WithName("postmark-driver"),
	}
}

func (d *Driver) Name() string { return "postmark" }

// VerifySignature compares the webhook's shared token header. An
// unconfigured token rejects everything rather than accepting
// everything.
func (d *Driver) VerifySignature(_ context.Context, env *track.Envelope) bool {
	if d == nil || env == nil || env.Header == nil {
		return false
	}
	want := strings.TrimSpace(d.opts.WebhookToken)
	if want == "" {
		return false
	}
	got := strings.TrimSpace(env.Header.Get(d.opts.TokenHeader))
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Postmark delivers the event at the top level, unwrapped.
func (d *Driver) WrappedEventField() string { return "" }

func (d *Driver) EventMapping() []track.EventMappingRule {
	return []track.EventMappingRule{
		{Kind: event.KindClicked, Match: []track.Predicate{{Path: "RecordType", Equals: "Click"}}},
		{Kind: event.KindOpened, Match: []track.Predicate{{Path: "RecordType", Equals: "Open"}}},
		{Kind: event.KindDelivered, Match: []track.Predicate{{Path: "RecordType", Equals: "Delivery"}}},
		{Kind: event.KindComplained, Match: []track.Predicate{{Path: "RecordType", Equals: "SpamComplaint"}}},
		{Kind: event.KindHardBounced, Match: []track.Predicate{
			{Path: "RecordType", Equals: "Bounce"},
			{Path: "Type", Equals: "HardBounce"},
		}},
		{Kind: event.KindSoftBounced, Match: []track.Predicate{
			{Path: "RecordType", Equals: "Bounce"},
			{Path: "Type", Equals: "SoftBounce"},
		}},
		{Kind: event.KindSoftBounced, Match: []track.Predicate{
			{Path: "RecordType", Equals: "Bounce"},
			{Path: "Type", Equals: "Transient"},
		}},
		{Kind: event.KindUnsubscribed, Match: []track.Predicate{
			{Path: "RecordType", Equals: "SubscriptionChange"},
			{Path: "SuppressSending", Equals: "true"},
		}},
	}
}

func (d *Driver) DataMapping() []track.DataMappingRule {
	return []track.DataMappingRule{
		{Field: event.FieldBrowser, Path: "Client.Name"},
		{Field: event.FieldCity, Path: "Geo.City"},
		{Field: event.FieldCountryCode, Path: "Geo.CountryISOCode"},
		{Field: event.FieldIPAddress, Path: "Geo.IP"},
		{Field: event.FieldLink, Path: "OriginalLink"},
		{Field: event.FieldOS, Path: "OS.Name"},
		{Field: event.FieldPlatform, Path: "Platform"},
		{Field: event.FieldCorrelationTag, Path: "Metadata." + d.opts.UUIDHeaderName},
		{Field: event.FieldUserAgent, Path: "UserAgent"},
	}
}

func (d *Driver) ExtractCorrelationID(payload map[string]interface{}) string {
	if s := strings.TrimSpace(shared.LookupString(payload, "Metadata."+d.opts.UUIDHeaderName)); s != "" {
		return s
	}
	// Metadata keys survive with arbitrary casing; scan before giving up.
	if metadata, ok := payload["Metadata"].(map[string]interface{}); ok {
		for key, value := range metadata {
			if strings.EqualFold(key, d.opts.UUIDHeaderName) {
				return strings.TrimSpace(shared.Stringify(value))
			}
		}
	}
	return ""
}

var recordTimestampPaths = map[string]string{
	"Delivery":           "DeliveredAt",
	"Bounce":             "BouncedAt",
	"SpamComplaint":      "BouncedAt",
	"Open":               "ReceivedAt",
	"Click":              "ReceivedAt",
	"SubscriptionChange": "ChangedAt",
}

func (d *Driver) ExtractEventTimestamp(payload map[string]interface{}) time.Time {
	recordType := shared.LookupString(payload, "RecordType")
	if t := shared.TimeFromPath(payload, recordTimestampPaths[recordType]); !t.IsZero() {
		return t
	}
	if t := shared.TimeFromPath(payload, "ReceivedAt"); !t.IsZero() {
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
	msg.SetHeader(d.opts.UUIDHeaderName, correlationID)
	msg.SetMetadata(d.opts.UUIDHeaderName, correlationID)
}

const stepWebhook = "webhook"

// Provision registers the tracking webhook, or updates its trigger set
// in place when it already exists. Postmark's workflow is a single
// resource but follows the same reporter protocol as the multi-step
// providers.
func (d *Driver) Provision(ctx context.Context, rep track.Reporter) error {
	fail := func(err error) error {
		if rep != nil {
			rep.Failed(stepWebhook, err)
		}
		return &track.ProvisioningStepError{Step: stepWebhook, Err: err}
	}

	hooks, err := d.client.ListWebhooks(ctx, d.opts.MessageStream)
	if err != nil {
		return fail(err)
	}
	desired := Webhook{
		URL:           d.opts.WebhookURL,
		MessageStream: d.opts.MessageStream,
		Triggers:      d.triggers(),
	}
	for _, hook := range hooks {
		if hook.URL != d.opts.WebhookURL {
			continue
		}
		if err := d.client.UpdateWebhook(ctx, hook.ID, desired); err != nil {
			return fail(err)
		}
		if rep != nil {
			rep.Progress(stepWebhook, "webhook updated to enabled event types")
		}
		return nil
	}
	if _, err := d.client.CreateWebhook(ctx, desired); err != nil {
		return fail(err)
	}
	if rep != nil {
		rep.Progress(stepWebhook, "webhook created for "+d.opts.WebhookURL)
	}
	return nil
}

func (d *Driver) triggers() WebhookTriggers {
	enabled := map[event.Kind]bool{}
	for _, name := range d.opts.TrackingEvents {
		enabled[event.Kind(strings.TrimSpace(name))] = true
	}
	t := WebhookTriggers{}
	if enabled[event.KindDelivered] {
		t.Delivery = &TriggerEnabled{Enabled: true}
	}
	if enabled[event.KindOpened] {
		t.Open = &TriggerEnabled{Enabled: true}
	}
	if enabled[event.KindClicked] {
		t.Click = &TriggerEnabled{Enabled: true}
	}
	if enabled[event.KindHardBounced] || enabled[event.KindSoftBounced] {
		t.Bounce = &TriggerIncludingRaw{Enabled: true}
	}
	if enabled[event.KindComplained] {
		t.SpamComplaint = &TriggerIncludingRaw{Enabled: true}
	}
	if enabled[event.KindUnsubscribed] {
		t.SubscriptionChange = &TriggerEnabled{Enabled: true}
	}
	return t
}

func (d *Driver) RemoveFromSuppressionList(ctx context.Context, address string) error {
	statuses, err := d.client.DeleteSuppressions(ctx, d.opts.MessageStream, address)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		if !strings.EqualFold(st.EmailAddress, address) {
			continue
		}
		if strings.EqualFold(st.Status, "Deleted") {
			return nil
		}
		return track.ErrNotSuppressed
	}
	return track.ErrNotSuppressed
}

var _ track.Driver = (*Driver)(nil)
