// Package pipeline applies user actions to a stored document optimistically
// and persists them in the background.
//
// A Record holds the current state of one document. Mutate applies an action
// to that state immediately, notifies watchers and queues the write; writes
// reach the store in action order through a single worker. Changes committed
// by other clients arrive through the store subscription; the document is then
// re-read and reconciled into the state, deferred while local writes are still
// in flight.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mklimuk/frontdesk/pkg/keyed"
	"github.com/mklimuk/frontdesk/pkg/notify"
	"github.com/mklimuk/frontdesk/pkg/reconcile"
)

// Decoder turns a stored document into state. raw is nil when the document
// does not exist. It must not fail; problems are returned as issues.
type Decoder[S any] func(raw json.RawMessage) (S, reconcile.Issues)

// Policy decides what happens to the optimistic state when a write fails.
type Policy int

const (
	// NotifyOnly keeps the optimistic state and raises a notice.
	NotifyOnly Policy = iota
	// RollbackAndNotify restores the last state known to be stored, drops
	// writes queued after the failed one and raises a notice.
	RollbackAndNotify
)

type options struct {
	policy   Policy
	logger   *zap.Logger
	notifier notify.Notifier
	onError  func(*PersistenceError)
}

// Option configures a Record.
type Option func(*options)

func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithErrorHandler is called with every failed write, after the policy ran.
func WithErrorHandler(fn func(*PersistenceError)) Option {
	return func(o *options) { o.onError = fn }
}

type write[S any] struct {
	action string
	delta  encodedDelta
	gen    uint64
	after  S
}

// Record is the live state of one stored document.
type Record[S any] struct {
	store  keyed.Store
	key    string
	decode Decoder[S]
	opts   options
	log    *zap.Logger

	mu        sync.Mutex
	state     S
	committed S
	gen       uint64
	inflight  int
	busy      bool
	idle      chan struct{}
	stale     bool
	version   uint64
	closed    bool
	queue     []write[S]
	wake      chan struct{}
	watchers  map[int]func(S)
	nextWatch int

	emitMu      sync.Mutex
	refreshMu   sync.Mutex
	unsubscribe func()
	done        chan struct{}
}

// Open loads key, reconciles it and subscribes to changes from other
// clients.
func Open[S any](ctx context.Context, store keyed.Store, key string, decode Decoder[S], opts ...Option) (*Record[S], error) {
	o := options{policy: NotifyOnly, logger: zap.NewNop(), notifier: notify.Nop}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Record[S]{
		store:    store,
		key:      key,
		decode:   decode,
		opts:     o,
		log:      o.logger.With(zap.String("key", key)),
		wake:     make(chan struct{}, 1),
		watchers: make(map[int]func(S)),
		done:     make(chan struct{}),
	}
	r.idle = make(chan struct{})
	close(r.idle)

	// Hold the lock while loading so changes delivered meanwhile are applied
	// after the initial read.
	r.mu.Lock()
	unsubscribe, err := store.Subscribe(ctx, key, r.onChange)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}
	r.unsubscribe = unsubscribe

	raw, err := store.Get(ctx, key)
	if err != nil && !errors.Is(err, keyed.ErrNotFound) {
		r.mu.Unlock()
		unsubscribe()
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	r.state = r.reconcile(raw)
	r.committed = r.state
	r.mu.Unlock()

	go r.run()
	return r, nil
}

// Key returns the document key.
func (r *Record[S]) Key() string {
	return r.key
}

// State returns the current state. Callers must not modify shared parts of it
// (maps, slices) in place.
func (r *Record[S]) State() S {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Mutate runs fn against the current state. An error from fn (typically a
// ValidationError) is returned with nothing changed. Otherwise the returned
// state becomes current, watchers see it, and delta is queued for the store.
// Mutate does not wait for the write.
func (r *Record[S]) Mutate(ctx context.Context, action string, fn func(S) (S, Delta, error)) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}

	next, delta, err := fn(r.state)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	enc, err := delta.encode()
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to encode %s: %w", action, err)
	}

	r.state = next
	if enc.kind != deltaNone {
		r.enqueue(write[S]{action: action, delta: enc, gen: r.gen, after: next})
	}
	r.emitLocked()
	return nil
}

// Watch registers fn for every state change, starting with the current
// state. fn runs synchronously in change order and must not call back into
// the Record.
func (r *Record[S]) Watch(fn func(S)) func() {
	r.mu.Lock()
	id := r.nextWatch
	r.nextWatch++
	r.watchers[id] = fn
	state := r.state
	r.emitMu.Lock()
	r.mu.Unlock()
	fn(state)
	r.emitMu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}
}

// Flush waits until every queued write has been attempted.
func (r *Record[S]) Flush(ctx context.Context) error {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload re-reads the document once queued writes have drained. It is meant
// for documents rewritten directly through the store, whose change may not be
// delivered back to this process.
func (r *Record[S]) Reload(ctx context.Context) error {
	if err := r.Flush(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.inflight > 0 {
		r.stale = true
		r.mu.Unlock()
		return nil
	}
	r.markBusyLocked()
	r.mu.Unlock()
	r.refresh()
	return nil
}

// Close detaches watchers, stops listening for changes and waits for queued
// writes to finish. Their results are discarded: no notices or policy actions
// run after Close.
func (r *Record[S]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.watchers = make(map[int]func(S))
	r.mu.Unlock()

	r.unsubscribe()
	select {
	case r.wake <- struct{}{}:
	default:
	}
	<-r.done
	return nil
}

// emitLocked hands the current state to watchers. It is entered with mu held
// and releases it; emitMu keeps notifications in change order.
func (r *Record[S]) emitLocked() {
	state := r.state
	watchers := make([]func(S), 0, len(r.watchers))
	for i := 0; i < r.nextWatch; i++ {
		if fn, ok := r.watchers[i]; ok {
			watchers = append(watchers, fn)
		}
	}
	r.emitMu.Lock()
	r.mu.Unlock()
	for _, fn := range watchers {
		fn(state)
	}
	r.emitMu.Unlock()
}

func (r *Record[S]) reconcile(raw json.RawMessage) S {
	state, issues := r.decode(raw)
	issues.Log(r.log, r.key)
	return state
}

// onChange receives commits from the store, including late echoes of our own
// writes. The payload is not applied as is: the document is re-read, so a
// stale echo can never roll the state back. While local writes are in flight
// the re-read waits until the queue drains.
func (r *Record[S]) onChange(keyed.Change) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.inflight > 0 {
		r.stale = true
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.refresh()
}

func (r *Record[S]) markBusyLocked() {
	if !r.busy {
		r.busy = true
		r.idle = make(chan struct{})
	}
}

func (r *Record[S]) markIdleLocked() {
	if r.busy {
		r.busy = false
		close(r.idle)
	}
}

func (r *Record[S]) enqueue(w write[S]) {
	r.markBusyLocked()
	r.inflight++
	r.version++
	r.queue = append(r.queue, w)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Record[S]) run() {
	defer close(r.done)
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			closed := r.closed
			r.mu.Unlock()
			if closed {
				return
			}
			<-r.wake
			continue
		}
		w := r.queue[0]
		r.queue = r.queue[1:]
		stale := w.gen != r.gen
		r.mu.Unlock()

		var err error
		if !stale {
			err = r.persist(w)
		}
		r.finish(w, err)
	}
}

func (r *Record[S]) persist(w write[S]) error {
	ctx := context.Background()
	switch w.delta.kind {
	case deltaReplace:
		return r.store.Set(ctx, r.key, w.delta.payload)
	case deltaFields:
		return keyed.Merge(ctx, r.store, r.key, w.delta.fields)
	case deltaDelete:
		return r.store.Delete(ctx, r.key)
	}
	return nil
}

func (r *Record[S]) finish(w write[S], err error) {
	r.mu.Lock()
	r.inflight--

	var perr *PersistenceError
	if err != nil && !r.closed {
		perr = &PersistenceError{Action: w.action, Key: r.key, Err: err}
		r.log.Error("failed to persist action", zap.String("action", w.action), zap.Error(err))
	} else if err == nil && w.gen == r.gen {
		r.committed = w.after
	}

	rolledBack := false
	if perr != nil && r.opts.policy == RollbackAndNotify {
		r.gen++
		r.state = r.committed
		rolledBack = true
	}

	refresh := r.inflight == 0 && r.stale && !r.closed
	if refresh {
		r.stale = false
	}

	if rolledBack {
		r.emitLocked()
	} else {
		r.mu.Unlock()
	}

	if perr != nil {
		n := notify.Error(w.action, "Could not save", fmt.Sprintf("%s: %v", w.action, err))
		if rolledBack {
			n.Message += " (change reverted)"
		}
		if nerr := r.opts.notifier.Notify(context.Background(), n); nerr != nil {
			r.log.Warn("failed to deliver notice", zap.Error(nerr))
		}
		if r.opts.onError != nil {
			r.opts.onError(perr)
		}
	}

	if refresh {
		r.refresh()
		return
	}
	r.mu.Lock()
	if r.inflight == 0 {
		r.markIdleLocked()
	}
	r.mu.Unlock()
}

// refresh re-reads the document and makes it the current state, unless local
// writes started in the meantime.
func (r *Record[S]) refresh() {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	for {
		r.mu.Lock()
		version := r.version
		r.mu.Unlock()

		raw, err := r.store.Get(context.Background(), r.key)

		r.mu.Lock()
		switch {
		case r.closed:
			if r.inflight == 0 {
				r.markIdleLocked()
			}
			r.mu.Unlock()
			return
		case r.inflight > 0:
			// Re-read when the new writes drain.
			r.stale = true
			r.mu.Unlock()
			return
		case r.version != version:
			// A write started and finished while reading; read again.
			r.mu.Unlock()
			continue
		case err != nil && !errors.Is(err, keyed.ErrNotFound):
			r.log.Warn("failed to re-read record", zap.Error(err))
			r.markIdleLocked()
			r.mu.Unlock()
			return
		}
		r.state = r.reconcile(raw)
		r.committed = r.state
		r.markIdleLocked()
		r.emitLocked()
		return
	}
}
