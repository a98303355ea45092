package shared

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Lookup resolves a dot-separated path through nested maps and slices.
// Numeric segments index into slices. The second return reports whether
// the full path resolved.
func Lookup(payload map[string]interface{}, path string) (interface{}, bool) {
	path = strings.TrimSpace(path)
	if payload == nil || path == "" {
		return nil, false
	}
	var current interface{} = payload
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			v, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = v
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// LookupString resolves a path and renders scalar results as strings.
// Missing paths yield "".
func LookupString(payload map[string]interface{}, path string) string {
	v, ok := Lookup(payload, path)
	if !ok {
		return ""
	}
	return Stringify(v)
}

func Stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// First collapses a slice to its first element; scalars pass through.
func First(v interface{}) interface{} {
	if list, ok := v.([]interface{}); ok {
		if len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return v
}

// JoinWith flattens a slice into one delimited string.
func JoinWith(sep string) func(interface{}) interface{} {
	return func(v interface{}) interface{} {
		list, ok := v.([]interface{})
		if !ok {
			return v
		}
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if s := strings.TrimSpace(Stringify(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, sep)
	}
}

func NonEmpty(a, b string) string {
	a = strings.TrimSpace(a)
	if a != "" {
		return a
	}
	return strings.TrimSpace(b)
}

// ParseTime accepts the timestamp shapes seen across provider payloads.
// The zero time signals an unparseable value so callers can apply their
// own fallback chain.
func ParseTime(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	formats := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05 -0700"}
	for _, f := range formats {
		if t, err := time.Parse(f, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// TimeFromPath resolves a payload path and parses it as a timestamp.
func TimeFromPath(payload map[string]interface{}, path string) time.Time {
	if path == "" {
		return time.Time{}
	}
	return ParseTime(LookupString(payload, path))
}
