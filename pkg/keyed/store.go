// Package keyed provides a uniform get/set/subscribe interface over the
// durable stores backing the front-desk tools.
//
// Every backend stores one JSON document per key. Subscribers receive the full
// document after each committed write (not deltas), in commit order.
package keyed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNotFound is returned by Get when no document exists for the key.
	ErrNotFound = errors.New("keyed: record not found")
	// ErrInvalidKey is returned for keys that cannot be stored.
	ErrInvalidKey = errors.New("keyed: invalid key")
	// ErrInvalidPayload is returned when a payload is not valid JSON.
	ErrInvalidPayload = errors.New("keyed: payload is not valid JSON")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("keyed: store closed")
)

// Change is delivered to subscribers after a committed write.
type Change struct {
	Key     string
	Payload json.RawMessage
	Deleted bool
	// Seq is the commit sequence assigned by the backend, zero when the backend
	// has none.
	Seq int64
}

// Store is the contract every backend implements.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, payload json.RawMessage) error
	Delete(ctx context.Context, key string) error
	Subscribe(ctx context.Context, key string, fn func(Change)) (func(), error)
	Close() error
}

// Merger is implemented by stores that merge top-level object fields on the
// server side, so concurrent writers touching different fields do not clobber
// each other.
type Merger interface {
	Merge(ctx context.Context, key string, fields map[string]json.RawMessage) error
}

// Op is one write in a batch. Delete ops ignore Payload.
type Op struct {
	Key     string
	Payload json.RawMessage
	Delete  bool
}

// Batcher is implemented by stores that can commit several writes atomically.
type Batcher interface {
	Apply(ctx context.Context, ops ...Op) error
}

// PartialError reports a non-atomic batch that stopped part way.
type PartialError struct {
	Applied int
	Total   int
	Err     error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("keyed: batch stopped after %d of %d writes: %v", e.Applied, e.Total, e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,199}$`)

// ValidateKey checks that key is usable by every backend (it doubles as a file
// name for the local store).
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Merge merges fields into the document at key. Stores without server-side
// merge get a read-modify-write, which is last-write-wins across clients.
func Merge(ctx context.Context, s Store, key string, fields map[string]json.RawMessage) error {
	if m, ok := s.(Merger); ok {
		return m.Merge(ctx, key, fields)
	}
	current, err := s.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	merged, err := MergeDocument(current, fields)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, merged)
}

// MergeDocument overlays fields onto the top-level object in doc. A missing or
// non-object doc is treated as empty.
func MergeDocument(doc json.RawMessage, fields map[string]json.RawMessage) (json.RawMessage, error) {
	obj := make(map[string]json.RawMessage)
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &obj); err != nil {
			obj = make(map[string]json.RawMessage)
		}
	}
	for k, v := range fields {
		obj[k] = v
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("keyed: failed to encode merged document: %w", err)
	}
	return out, nil
}

// Apply commits ops atomically when the store supports it, otherwise one at a
// time in order. A sequential failure is reported as *PartialError.
func Apply(ctx context.Context, s Store, ops ...Op) error {
	if b, ok := s.(Batcher); ok {
		return b.Apply(ctx, ops...)
	}
	for i, op := range ops {
		var err error
		if op.Delete {
			err = s.Delete(ctx, op.Key)
		} else {
			err = s.Set(ctx, op.Key, op.Payload)
		}
		if err != nil {
			return &PartialError{Applied: i, Total: len(ops), Err: err}
		}
	}
	return nil
}
