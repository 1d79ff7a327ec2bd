// Package normalize maps raw provider rows onto property values.
//
// Every function here is pure and total: missing or malformed input yields
// zero values or nil, never an error or a panic. Numeric fields never carry
// NaN, strings are trimmed, and dates are rendered as ISO-8601.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// record is a decoded JSON object. Lookups take several candidate keys and
// use the first one holding a usable value, so canonical names are listed
// before their variants.
type record map[string]any

func (r record) raw(key string) (any, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return v, true
}

// has reports whether any key holds a non-empty value.
func (r record) has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := r.raw(k); ok {
			return true
		}
	}
	return false
}

func (r record) str(keys ...string) string {
	for _, k := range keys {
		v, ok := r.raw(k)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			return strings.TrimSpace(t)
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(t)
		case map[string]any, []any:
			continue
		default:
			return strings.TrimSpace(fmt.Sprint(t))
		}
	}
	return ""
}

func (r record) optNum(keys ...string) *float64 {
	for _, k := range keys {
		v, ok := r.raw(k)
		if !ok {
			continue
		}
		if f, ok := toFloat(v); ok {
			return &f
		}
	}
	return nil
}

func (r record) num(keys ...string) float64 {
	if f := r.optNum(keys...); f != nil {
		return *f
	}
	return 0
}

func (r record) integer(keys ...string) int {
	return int(math.Trunc(r.num(keys...)))
}

func (r record) area(keys ...string) int64 {
	return int64(math.Round(r.num(keys...)))
}

// positiveInt returns nil for absent or zero values; PLUTO uses 0 for
// "unknown" in its year columns.
func (r record) positiveInt(keys ...string) *int {
	f := r.optNum(keys...)
	if f == nil || *f <= 0 {
		return nil
	}
	n := int(math.Trunc(*f))
	return &n
}

func (r record) optInt(keys ...string) *int {
	f := r.optNum(keys...)
	if f == nil {
		return nil
	}
	n := int(math.Trunc(*f))
	return &n
}

// positive returns nil unless the value is greater than zero.
func (r record) positive(keys ...string) *float64 {
	f := r.optNum(keys...)
	if f == nil || *f <= 0 {
		return nil
	}
	return f
}

func (r record) flag(keys ...string) bool {
	for _, k := range keys {
		v, ok := r.raw(k)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t
		case float64:
			return t != 0
		case string:
			switch strings.ToUpper(strings.TrimSpace(t)) {
			case "Y", "YES", "TRUE", "1", "T":
				return true
			}
			return false
		}
	}
	return false
}

func (r record) obj(keys ...string) record {
	for _, k := range keys {
		if m, ok := r[k].(map[string]any); ok {
			return record(m)
		}
	}
	return nil
}

func (r record) list(keys ...string) []record {
	for _, k := range keys {
		items, ok := r[k].([]any)
		if !ok {
			continue
		}
		out := make([]record, 0, len(items))
		for _, it := range items {
			if m, ok := it.(map[string]any); ok {
				out = append(out, record(m))
			}
		}
		return out
	}
	return nil
}

func (r record) stringList(keys ...string) []string {
	for _, k := range keys {
		items, ok := r[k].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s := strings.TrimSpace(fmt.Sprint(it)); it != nil && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

func (r record) date(keys ...string) string {
	return isoDate(r.str(keys...))
}

// collect returns the non-empty values of keys, in order.
func (r record) collect(keys ...string) []string {
	out := []string{}
	for _, k := range keys {
		if s := r.str(k); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		s = strings.TrimPrefix(s, "$")
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102",
	"01/02/2006",
}

// isoDate renders a provider date as "2006-01-02", keeping the time of day
// only when it is not midnight. Unrecognized input is returned as is.
func isoDate(s string) string {
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		if layout == time.RFC3339Nano {
			return t.Format(time.RFC3339)
		}
		return t.Format("2006-01-02T15:04:05")
	}
	return s
}
