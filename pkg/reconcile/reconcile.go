// Package reconcile normalizes stored JSON documents into well-formed state.
//
// Documents written by older or foreign clients may be missing fields, carry
// values of the wrong type or hold extra fields. Every field is decoded on its
// own: a field that is missing or malformed falls back to its default and the
// problem is recorded as an Issue. Reconciliation never fails.
package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Issue describes one malformed part of a document.
type Issue struct {
	Field  string
	Reason string
}

func (i Issue) Error() string {
	return fmt.Sprintf("malformed record field %q: %s", i.Field, i.Reason)
}

// Issues collects problems found while reconciling one document.
type Issues []Issue

// Log writes each issue as a warning.
func (is Issues) Log(logger *zap.Logger, key string) {
	for _, issue := range is {
		logger.Warn("reconciled malformed record",
			zap.String("key", key),
			zap.String("field", issue.Field),
			zap.String("reason", issue.Reason))
	}
}

// Record is a document split into top-level fields.
type Record struct {
	fields  map[string]json.RawMessage
	present bool
	used    map[string]struct{}
	issues  Issues
}

// Parse splits raw into top-level fields. A nil raw is an absent document; a
// value that is not a JSON object is recorded as an issue and treated as
// empty.
func Parse(raw json.RawMessage) *Record {
	r := &Record{
		fields: make(map[string]json.RawMessage),
		used:   make(map[string]struct{}),
	}
	if len(raw) == 0 || string(raw) == "null" {
		return r
	}
	if err := json.Unmarshal(raw, &r.fields); err != nil {
		r.fields = make(map[string]json.RawMessage)
		r.issues = append(r.issues, Issue{Field: "", Reason: "document is not an object"})
		return r
	}
	r.present = true
	return r
}

// Present reports whether a document object was found.
func (r *Record) Present() bool {
	return r.present
}

// Has reports whether the field exists with a non-null value.
func (r *Record) Has(name string) bool {
	v, ok := r.fields[name]
	return ok && string(v) != "null"
}

// IsObject reports whether the field holds a JSON object.
func (r *Record) IsObject(name string) bool {
	v := bytes.TrimSpace(r.fields[name])
	return len(v) > 0 && v[0] == '{'
}

// Issues returns everything recorded so far.
func (r *Record) Issues() Issues {
	return r.issues
}

// Unknown lists top-level fields no decoder asked for, sorted.
func (r *Record) Unknown() []string {
	var out []string
	for name := range r.fields {
		if _, ok := r.used[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Record) raw(name string) (json.RawMessage, bool) {
	r.used[name] = struct{}{}
	v, ok := r.fields[name]
	if !ok || string(v) == "null" {
		return nil, false
	}
	return v, true
}

func (r *Record) addIssue(field, reason string) {
	r.issues = append(r.issues, Issue{Field: field, Reason: reason})
}

// Field decodes one top-level field into T. A missing field yields def()
// silently; a field that fails to decode or fails a check yields def() and
// records an issue.
func Field[T any](r *Record, name string, def func() T, checks ...func(T) error) T {
	raw, ok := r.raw(name)
	if !ok {
		return def()
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		r.addIssue(name, err.Error())
		return def()
	}
	for _, check := range checks {
		if err := check(v); err != nil {
			r.addIssue(name, err.Error())
			return def()
		}
	}
	return v
}

// Map decodes a top-level object field entry by entry. Entries that fail to
// decode or fail a check are dropped; the rest survive. A missing or
// non-object field yields an empty map.
func Map[V any](r *Record, name string, checks ...func(key string, v V) error) map[string]V {
	out := make(map[string]V)
	raw, ok := r.raw(name)
	if !ok {
		return out
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		r.addIssue(name, "expected an object")
		return out
	}
	for key, entry := range entries {
		v, err := decodeChecked(entry, func(v V) error {
			for _, check := range checks {
				if err := check(key, v); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			r.addIssue(name+"."+key, err.Error())
			continue
		}
		out[key] = v
	}
	return out
}

// List decodes a top-level JSON array element by element, dropping elements
// that fail to decode or fail a check. A nil raw yields an empty slice.
func List[V any](raw json.RawMessage, checks ...func(V) error) ([]V, Issues) {
	out := make([]V, 0)
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return out, Issues{{Field: "", Reason: "document is not an array"}}
	}
	var issues Issues
	for i, elem := range elems {
		v, err := decodeChecked(elem, func(v V) error {
			for _, check := range checks {
				if err := check(v); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			issues = append(issues, Issue{Field: fmt.Sprintf("[%d]", i), Reason: err.Error()})
			continue
		}
		out = append(out, v)
	}
	return out, issues
}

// KeyedBy returns a map whose key set is exactly valid: values present in raw
// are kept, missing ones get def(), and keys outside valid are dropped.
func KeyedBy[V any](valid []string, raw map[string]V, def func() V) map[string]V {
	out := make(map[string]V, len(valid))
	for _, key := range valid {
		if v, ok := raw[key]; ok {
			out[key] = v
			continue
		}
		out[key] = def()
	}
	return out
}

func decodeChecked[V any](raw json.RawMessage, check func(V) error) (V, error) {
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, err
	}
	if err := check(v); err != nil {
		return v, err
	}
	return v, nil
}

// OneOf builds a check accepting only the listed values.
func OneOf[T comparable](allowed ...T) func(T) error {
	return func(v T) error {
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		return fmt.Errorf("unexpected value %v", v)
	}
}

// Timestamp reads instants stored either as RFC 3339 strings or as
// {seconds, nanoseconds} objects.
type Timestamp time.Time

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		*ts = Timestamp(t)
		return nil
	}
	var v struct {
		Seconds     *int64 `json:"seconds"`
		Nanoseconds int64  `json:"nanoseconds"`
	}
	if err := json.Unmarshal(data, &v); err != nil || v.Seconds == nil {
		return fmt.Errorf("unsupported timestamp %s", data)
	}
	*ts = Timestamp(time.Unix(*v.Seconds, v.Nanoseconds))
	return nil
}

// Time returns ts as a time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Time(ts)
}

// NonNegative rejects values below zero.
func NonNegative(v int) error {
	if v < 0 {
		return fmt.Errorf("negative value %d", v)
	}
	return nil
}
