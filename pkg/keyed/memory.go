package keyed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

var (
	_ Store   = (*MemoryStore)(nil)
	_ Batcher = (*MemoryStore)(nil)
)

// MemoryStore keeps documents in process. It is used for tests and for the
// single-process mode where nothing needs to survive a restart.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string]json.RawMessage
	seq    int64
	hub    *hub
	fail   error
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]json.RawMessage),
		hub:  newHub(),
	}
}

// FailWith makes every following write return err until called with nil.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *MemoryStore) Get(_ context.Context, key string) (json.RawMessage, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	doc, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), doc...), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, payload json.RawMessage) error {
	return s.Apply(ctx, Op{Key: key, Payload: payload})
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	return s.Apply(ctx, Op{Key: key, Delete: true})
}

// Apply commits all ops or none.
func (s *MemoryStore) Apply(_ context.Context, ops ...Op) error {
	for _, op := range ops {
		if err := ValidateKey(op.Key); err != nil {
			return err
		}
		if !op.Delete && !json.Valid(op.Payload) {
			return fmt.Errorf("%w: %q", ErrInvalidPayload, op.Key)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.fail != nil {
		return s.fail
	}
	for _, op := range ops {
		s.seq++
		c := Change{Key: op.Key, Deleted: op.Delete, Seq: s.seq}
		if op.Delete {
			delete(s.docs, op.Key)
		} else {
			doc := append(json.RawMessage(nil), op.Payload...)
			s.docs[op.Key] = doc
			c.Payload = doc
		}
		s.hub.publish(c)
	}
	return nil
}

func (s *MemoryStore) Subscribe(_ context.Context, key string, fn func(Change)) (func(), error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return s.hub.add(key, fn)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.close()
	return nil
}
