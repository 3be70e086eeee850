// Package truncate shrinks oversized tool results before they are fed back to
// the model. JSON payloads holding a list are trimmed to the largest prefix
// that fits; anything else is cut on a rune boundary.
package truncate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// DefaultMargin is the headroom reserved under the budget for the list path.
const DefaultMargin = 200

// Marker terminates a hard-cut result.
const Marker = "...[truncated]"

// ListKeys are the top-level keys checked, in order, for a list to shorten.
var ListKeys = []string{"deals", "buyers", "results", "items", "records", "contacts", "companies", "matches", "rows", "data"}

// Truncate returns s unchanged when it fits in budget characters, otherwise
// a shortened rendition that does.
func Truncate(s string, budget int) string {
	return TruncateWithMargin(s, budget, DefaultMargin)
}

// TruncateWithMargin is Truncate with an explicit list-path margin.
func TruncateWithMargin(s string, budget, margin int) string {
	if len(s) <= budget {
		return s
	}
	if out, ok := truncateList(s, budget-margin); ok {
		return out
	}
	return hardCut(s, budget)
}

func truncateList(s string, limit int) (string, bool) {
	if limit <= 0 {
		return "", false
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return "", false
	}

	var obj map[string]any
	switch v := parsed.(type) {
	case map[string]any:
		obj = v
	case []any:
		obj = map[string]any{"items": v}
	default:
		return "", false
	}

	key, list := findList(obj)
	if key == "" {
		return "", false
	}
	total := totalOf(obj, len(list))

	render := func(k int) (string, bool) {
		out := make(map[string]any, len(obj)+3)
		for name, v := range obj {
			out[name] = v
		}
		out[key] = list[:k]
		out["total"] = total
		out["_truncated"] = true
		out["_note"] = fmt.Sprintf("showing %d of %v %s; narrow the query to see more", k, total, key)
		data, err := marshal(out)
		if err != nil {
			return "", false
		}
		return data, len(data) <= limit
	}

	best, ok := render(0)
	if !ok {
		return "", false
	}
	lo, hi := 1, len(list)
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if data, fits := render(mid); fits {
			best = data
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best, true
}

func findList(obj map[string]any) (string, []any) {
	for _, key := range ListKeys {
		if list, ok := obj[key].([]any); ok {
			return key, list
		}
	}
	return "", nil
}

func totalOf(obj map[string]any, fallback int) any {
	for _, key := range []string{"total", "count"} {
		if n, ok := obj[key].(json.Number); ok {
			return n
		}
	}
	return fallback
}

func marshal(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func hardCut(s string, budget int) string {
	n := budget - len(Marker)
	if n <= 0 {
		return Marker
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + Marker
}
