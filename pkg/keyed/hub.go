package keyed

import (
	"sync"
)

// hub fans committed changes out to per-key subscribers. Each subscriber gets
// its own goroutine and unbounded queue, so publish never blocks on a
// callback (callbacks may write to the store) and delivery order per
// subscriber is publish order.
type hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	fn      func(Change)
	mu      sync.Mutex
	pending []Change
	wake    chan struct{}
	done    chan struct{}
	stopped sync.Once
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*subscriber]struct{})}
}

func (h *hub) add(key string, fn func(Change)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	sub := &subscriber{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if h.subs[key] == nil {
		h.subs[key] = make(map[*subscriber]struct{})
	}
	h.subs[key][sub] = struct{}{}
	go sub.run()

	return func() {
		h.mu.Lock()
		delete(h.subs[key], sub)
		if len(h.subs[key]) == 0 {
			delete(h.subs, key)
		}
		h.mu.Unlock()
		sub.stop()
	}, nil
}

// watching reports whether any subscriber exists for key.
func (h *hub) watching(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key]) > 0
}

// publish must be called in commit order.
func (h *hub) publish(c Change) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs[c.Key]))
	for sub := range h.subs[c.Key] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.enqueue(c)
	}
}

func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	all := h.subs
	h.subs = make(map[string]map[*subscriber]struct{})
	h.mu.Unlock()

	for _, subs := range all {
		for sub := range subs {
			sub.stop()
		}
	}
}

func (s *subscriber) enqueue(c Change) {
	s.mu.Lock()
	s.pending = append(s.pending, c)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			c := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(c)
		}
	}
}

func (s *subscriber) stop() {
	s.stopped.Do(func() { close(s.done) })
}
