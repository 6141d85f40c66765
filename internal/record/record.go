package record

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is a schema-flexible entity (category, series, video, plan, challenge) decoded from a
// backend payload. No field is guaranteed to be present; use the accessors.
type Record map[string]any

// From converts a decoded JSON value into a Record when it is an object.
func From(v any) (Record, bool) {
	switch m := v.(type) {
	case Record:
		return m, m != nil
	case map[string]any:
		return Record(m), m != nil
	}
	return nil, false
}

// List converts a decoded JSON array into a slice, reporting false for non-array values.
func List(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, s != nil
	case []Record:
		if s == nil {
			return nil, false
		}
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case []map[string]any:
		if s == nil {
			return nil, false
		}
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	}
	return nil, false
}

// Get returns the value stored under key. Explicit JSON nulls are reported as absent.
func (r Record) Get(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Lookup returns the first present value among keys.
func (r Record) Lookup(keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := r.Get(key); ok {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether any of the keys holds a non-null value.
func (r Record) Has(keys ...string) bool {
	_, ok := r.Lookup(keys...)
	return ok
}

// String returns the first non-empty textual value among keys.
func (r Record) String(keys ...string) string {
	for _, key := range keys {
		v, ok := r.Get(key)
		if !ok {
			continue
		}
		if s := Text(v); s != "" {
			return s
		}
	}
	return ""
}

// Int returns the first numeric value among keys.
func (r Record) Int(keys ...string) (int, bool) {
	f, ok := r.Float(keys...)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Float returns the first numeric value among keys. Numeric strings are accepted.
func (r Record) Float(keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := r.Get(key)
		if !ok {
			continue
		}
		if f, ok := number(v); ok {
			return f, true
		}
	}
	return 0, false
}

// Bool reports whether the first present value among keys is truthy.
func (r Record) Bool(keys ...string) bool {
	v, ok := r.Lookup(keys...)
	if !ok {
		return false
	}
	return Truthy(v)
}

// Map returns the nested object stored under key.
func (r Record) Map(key string) (Record, bool) {
	v, ok := r.Get(key)
	if !ok {
		return nil, false
	}
	return From(v)
}

// Slice returns the nested array stored under key.
func (r Record) Slice(key string) ([]any, bool) {
	v, ok := r.Get(key)
	if !ok {
		return nil, false
	}
	return List(v)
}

// Time parses the first timestamp among keys. Unparseable or missing values yield the zero time.
func (r Record) Time(keys ...string) time.Time {
	for _, key := range keys {
		v, ok := r.Get(key)
		if !ok {
			continue
		}
		if ts := parseTime(v); !ts.IsZero() {
			return ts
		}
	}
	return time.Time{}
}

// ID returns the entity identifier as text.
func (r Record) ID() string {
	return r.String("id")
}

// Text formats scalar JSON values as strings. Objects and arrays yield "".
func Text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// Truthy mirrors the loose truthiness the upstream service relies on: null, false, zero, NaN and
// the empty string are false; every other value, including empty objects and arrays, is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number, float64, float32, int, int64:
		f, ok := number(t)
		return ok && f != 0 && !math.IsNaN(f)
	}
	return true
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
