package shared

import (
	"testing"
	"time"
)

func TestLookup(t *testing.T) {
	payload := map[string]interface{}{
		"mail": map[string]interface{}{
			"tags": map[string]interface{}{
				"X-Mails-UUID": []interface{}{"abc-123"},
			},
			"headers": []interface{}{
				map[string]interface{}{"name": "Subject", "value": "hello"},
			},
		},
		"count": float64(3),
	}

	cases := []struct {
		name string
		path string
		want interface{}
		ok   bool
	}{
		{"nested map", "mail.tags.X-Mails-UUID.0", "abc-123", true},
		{"slice index into map", "mail.headers.0.value", "hello", true},
		{"top level", "count", float64(3), true},
		{"missing key", "mail.tags.other", nil, false},
		{"index out of range", "mail.headers.5.value", nil, false},
		{"non-numeric index", "mail.headers.first", nil, false},
		{"descend through scalar", "count.0", nil, false},
		{"empty path", "", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Lookup(payload, tc.path)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if tc.ok && got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStringify(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{"text", "text"},
		{true, "true"},
		{float64(42), "42"},
		{float64(1.5), "1.5"},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := Stringify(tc.in); got != tc.want {
			t.Fatalf("Stringify(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFirst(t *testing.T) {
	if got := First([]interface{}{"a", "b"}); got != "a" {
		t.Fatalf("First = %v", got)
	}
	if got := First([]interface{}{}); got != nil {
		t.Fatalf("First(empty) = %v, want nil", got)
	}
	if got := First("scalar"); got != "scalar" {
		t.Fatalf("First(scalar) = %v", got)
	}
}

func TestJoinWith(t *testing.T) {
	join := JoinWith(", ")
	got := join([]interface{}{"a", " ", "b"})
	if got != "a, b" {
		t.Fatalf("JoinWith = %q", got)
	}
	if got := join("scalar"); got != "scalar" {
		t.Fatalf("JoinWith(scalar) = %v", got)
	}
}

func TestNonEmpty(t *testing.T) {
	if got := NonEmpty("  ", "fallback"); got != "fallback" {
		t.Fatalf("NonEmpty = %q", got)
	}
	if got := NonEmpty("value", "fallback"); got != "value" {
		t.Fatalf("NonEmpty = %q", got)
	}
}

func TestParseTime(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want time.Time
	}{
		{"rfc3339", "2024-01-01T00:00:00Z", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"rfc3339 nano", "2024-01-01T00:00:00.123Z", time.Date(2024, 1, 1, 0, 0, 0, 123000000, time.UTC)},
		{"offset layout", "2024-01-01 02:00:00 +0200", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"garbage", "not a time", time.Time{}},
		{"empty", "", time.Time{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseTime(tc.in)
			if !got.Equal(tc.want) {
				t.Fatalf("ParseTime(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestTimeFromPath(t *testing.T) {
	payload := map[string]interface{}{
		"mail": map[string]interface{}{"timestamp": "2024-01-01T00:00:00Z"},
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := TimeFromPath(payload, "mail.timestamp"); !got.Equal(want) {
		t.Fatalf("TimeFromPath = %v", got)
	}
	if got := TimeFromPath(payload, "mail.missing"); !got.IsZero() {
		t.Fatalf("missing path must yield zero time, got %v", got)
	}
	if got := TimeFromPath(payload, ""); !got.IsZero() {
		t.Fatalf("empty path must yield zero time, got %v", got)
	}
}
