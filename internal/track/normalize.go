package track

import (
	"encoding/json"
	"strings"

	"mailwatch/internal/event"
	"mailwatch/internal/providers/shared"
)

// Normalize converts a verified envelope into a canonical event using
// the driver's declarative mapping tables.
func Normalize(d Driver, env *Envelope) (event.CanonicalEvent, error) {
	if env == nil {
		return event.CanonicalEvent{}, &UnrecognizedEventError{Provider: d.Name()}
	}
	fields := unwrapEnvelope(d, env.Fields)

	kind, ok := classify(d.EventMapping(), fields)
	if !ok {
		return event.CanonicalEvent{}, &UnrecognizedEventError{Provider: d.Name()}
	}

	data := extractData(d.DataMapping(), fields)

	return event.CanonicalEvent{
		Provider:      d.Name(),
		Kind:          kind,
		OccurredAt:    d.ExtractEventTimestamp(fields),
		CorrelationID: d.ExtractCorrelationID(fields),
		Data:          data,
		RawPayload:    json.RawMessage(env.Body),
	}, nil
}

// unwrapEnvelope peels the provider's outer notification envelope when
// the wrapper field is present and carries a JSON object as a string.
// Otherwise the top-level payload is the event itself.
func unwrapEnvelope(d Driver, payload map[string]interface{}) map[string]interface{} {
	field := d.WrappedEventField()
	if field == "" {
		return payload
	}
	inner, ok := payload[field].(string)
	if !ok {
		return payload
	}
	var unwrapped map[string]interface{}
	if err := json.Unmarshal([]byte(inner), &unwrapped); err != nil {
		return payload
	}
	return unwrapped
}

func classify(rules []EventMappingRule, fields map[string]interface{}) (event.Kind, bool) {
	for _, rule := range rules {
		if matchesAll(rule.Match, fields) {
			return rule.Kind, true
		}
	}
	return "", false
}

func matchesAll(predicates []Predicate, fields map[string]interface{}) bool {
	if len(predicates) == 0 {
		return false
	}
	for _, p := range predicates {
		if shared.LookupString(fields, p.Path) != p.Equals {
			return false
		}
	}
	return true
}

func extractData(rules []DataMappingRule, fields map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, rule := range rules {
		if rule.Path == "" {
			continue
		}
		value, ok := shared.Lookup(fields, rule.Path)
		if !ok {
			continue
		}
		if rule.Transform != nil {
			value = rule.Transform(value)
		}
		if isEmptyValue(value) {
			continue
		}
		out[rule.Field] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	}
	return false
}
