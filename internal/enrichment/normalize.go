package enrichment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Timestamp layouts providers actually use, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts the timestamp shapes seen across provider payloads:
// RFC 3339 strings with or without zone, epoch seconds as int or float, and
// native time.Time. The result is UTC truncated to whole seconds. Returns
// nil for anything unparseable; a bad upstream timestamp is dropped, never
// guessed at.
func ParseTimestamp(v any) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return utcSecond(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return utcSecond(*t)
	case float64:
		return epoch(t)
	case float32:
		return epoch(float64(t))
	case int:
		return epoch(float64(t))
	case int64:
		return epoch(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return epoch(f)
		}
		return nil
	case string:
		if t == "" {
			return nil
		}
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return utcSecond(parsed)
			}
		}
		return nil
	default:
		return nil
	}
}

func epoch(secs float64) *time.Time {
	if secs <= 0 {
		return nil
	}
	return utcSecond(time.Unix(int64(secs), 0))
}

func utcSecond(t time.Time) *time.Time {
	u := t.UTC().Truncate(time.Second)
	return &u
}

// CoerceRawJSON forces a provider payload into a JSON-serializable tree.
// Payloads built from decoded JSON pass through untouched; a string that
// itself encodes a JSON object or array is parsed into the tree; anything
// exotic is round-tripped through encoding, and a value that will not encode
// is replaced by its string rendering so persistence never fails on raw_json.
func CoerceRawJSON(v any) any {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		trimmed := strings.TrimSpace(t)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var out any
			if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
				return out
			}
		}
		return v
	case map[string]any, []any, float64, bool:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"unserializable": fmt.Sprintf("%v", v)}
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"unserializable": fmt.Sprintf("%v", v)}
	}
	return out
}
