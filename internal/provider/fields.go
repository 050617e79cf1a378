package provider

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field helpers read provider payloads decoded into map[string]any.
// Paths are dotted ("likes.summary.total_count"); the first path that
// yields a usable value wins.

func lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Str returns the first non-empty string at any of paths. Numbers are
// formatted, since ids arrive as either.
func Str(m map[string]any, paths ...string) string {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		switch x := v.(type) {
		case string:
			if x != "" {
				return x
			}
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		case int:
			return strconv.Itoa(x)
		case int64:
			return strconv.FormatInt(x, 10)
		case json.Number:
			return x.String()
		}
	}
	return ""
}

// Count returns the first numeric value at any of paths, accepting numeric
// strings ("1200"). Missing or unparsable values give 0.
func Count(m map[string]any, paths ...string) int64 {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		if n, ok := toInt(v); ok {
			return n
		}
	}
	return 0
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(math.Round(x)), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		if f, err := x.Float64(); err == nil {
			return int64(math.Round(f)), true
		}
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(math.Round(f)), true
		}
	}
	return 0, false
}

// Bool reports the first boolean at any of paths. "true"/"false" strings
// count.
func Bool(m map[string]any, paths ...string) (value, found bool) {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		switch x := v.(type) {
		case bool:
			return x, true
		case string:
			if b, err := strconv.ParseBool(x); err == nil {
				return b, true
			}
		}
	}
	return false, false
}

// Time accepts RFC 3339 strings, Facebook's "+0000" offset form and unix
// timestamps in seconds or milliseconds.
func Time(m map[string]any, paths ...string) (time.Time, bool) {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05-0700"} {
				if t, err := time.Parse(layout, s); err == nil {
					return t.UTC(), true
				}
			}
		}
		if n, ok := toInt(v); ok && n > 0 {
			if n > 1e12 {
				return time.UnixMilli(n).UTC(), true
			}
			return time.Unix(n, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

// List returns the first []map[string]any at any of paths.
func List(m map[string]any, paths ...string) []map[string]any {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		if typed, ok := v.([]map[string]any); ok {
			return typed
		}
		items, ok := v.([]any)
		if !ok {
			continue
		}
		out := make([]map[string]any, 0, len(items))
		for _, it := range items {
			if obj, ok := it.(map[string]any); ok {
				out = append(out, obj)
			}
		}
		return out
	}
	return nil
}
