package docstore

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Lookup returns the first present, non-nil value among keys.
func Lookup(data map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := data[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Int reads an integer field. Whole floats and numeric strings are accepted
// since documents written by other clients do not agree on number types.
func Int(data map[string]any, keys ...string) (int64, bool) {
	v, ok := Lookup(data, keys...)
	if !ok {
		return 0, false
	}
	return AsInt(v)
}

// AsInt converts a decoded scalar to int64.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// Float reads a numeric field.
func Float(data map[string]any, keys ...string) (float64, bool) {
	v, ok := Lookup(data, keys...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(n), ",", ".", 1), 64)
		return f, err == nil
	}
	return 0, false
}

// String reads a string field. Empty strings count as absent.
func String(data map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := data[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// Time reads a timestamp field. Besides native times it understands the
// {seconds, nanos} map some clients write and RFC 3339 or date-only strings.
func Time(data map[string]any, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		if t, ok := AsTime(data[k]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// AsTime converts a decoded value to a time.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t, true
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	case map[string]any:
		secs, ok := Int(t, "seconds", "_seconds")
		if !ok {
			return time.Time{}, false
		}
		nanos, _ := Int(t, "nanoseconds", "nanos", "_nanoseconds")
		return time.Unix(secs, nanos).UTC(), true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// Strings reads a list of strings, skipping non-string entries.
func Strings(data map[string]any, keys ...string) []string {
	v, ok := Lookup(data, keys...)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Clone returns a deep copy of a document body so stores never hand out
// maps they keep mutating.
func Clone(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	}
	return v
}
