package event

import (
	"encoding/json"
	"time"
)

// Kind is the provider-independent classification of a delivery
// lifecycle occurrence.
type Kind string

const (
	KindDelivered    Kind = "delivered"
	KindOpened       Kind = "opened"
	KindClicked      Kind = "clicked"
	KindSoftBounced  Kind = "soft_bounced"
	KindHardBounced  Kind = "hard_bounced"
	KindComplained   Kind = "complained"
	KindUnsubscribed Kind = "unsubscribed"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDelivered, KindOpened, KindClicked, KindSoftBounced,
		KindHardBounced, KindComplained, KindUnsubscribed:
		return true
	}
	return false
}

func (k Kind) IsBounce() bool {
	return k == KindSoftBounced || k == KindHardBounced
}

// Canonical data field names. A provider's data mapping resolves into
// this closed vocabulary; fields it cannot derive are simply absent.
const (
	FieldBrowser        = "browser"
	FieldCity           = "city"
	FieldCountryCode    = "country_code"
	FieldIPAddress      = "ip_address"
	FieldLink           = "link"
	FieldOS             = "os"
	FieldPlatform       = "platform"
	FieldCorrelationTag = "correlation_tag"
	FieldUserAgent      = "user_agent"
)

// CanonicalEvent is the normalized representation of one provider
// webhook call. RawPayload keeps the provider-shaped body for audit.
type CanonicalEvent struct {
	Provider      string                 `json:"provider"`
	Kind          Kind                   `json:"kind"`
	OccurredAt    time.Time              `json:"occurred_at"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
	RawPayload    json.RawMessage        `json:"raw_payload,omitempty"`
}
