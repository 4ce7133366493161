package keyed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/peterbourgon/diskv/v3"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

var _ Store = (*LocalStore)(nil)

const tempDirName = ".tmp"

// LocalOptions configures a LocalStore.
type LocalOptions struct {
	BasePath string
	Logger   *zap.Logger
	// Throttle coalesces bursts of file events per key. Zero means 50ms.
	Throttle time.Duration
}

// LocalStore keeps one file per key under a directory. Other processes
// writing the same directory are picked up through a file watcher; changes
// this process wrote itself are recognised by content digest and not
// delivered.
type LocalStore struct {
	d        *diskv.Diskv
	basePath string
	log      *zap.Logger
	hub      *hub

	mu      sync.Mutex
	digests map[string][32]byte
	seq     int64
	closed  bool

	watcher  *fsnotify.Watcher
	throttle *keyThrottle
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewLocalStore opens (creating if needed) a directory-backed store. A watcher
// that cannot be started is logged and the store keeps working without
// cross-process notifications.
func NewLocalStore(opts LocalOptions) (*LocalStore, error) {
	if opts.BasePath == "" {
		return nil, errors.New("keyed: local store base path required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Throttle <= 0 {
		opts.Throttle = 50 * time.Millisecond
	}
	if err := os.MkdirAll(opts.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &LocalStore{
		d: diskv.New(diskv.Options{
			BasePath: opts.BasePath,
			TempDir:  filepath.Join(opts.BasePath, tempDirName),
			// Files change under us from other processes, so reads never come
			// from cache.
			CacheSizeMax: 0,
		}),
		basePath: opts.BasePath,
		log:      opts.Logger.Named("local-store"),
		hub:      newHub(),
		digests:  make(map[string][32]byte),
		throttle: newKeyThrottle(opts.Throttle),
		stopCh:   make(chan struct{}),
	}

	if err := s.startWatcher(); err != nil {
		s.log.Warn("file watcher unavailable, cross-process changes will not be delivered",
			zap.String("path", opts.BasePath), zap.Error(err))
	}
	return s, nil
}

func (s *LocalStore) Get(_ context.Context, key string) (json.RawMessage, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := s.d.Read(key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (s *LocalStore) Set(_ context.Context, key string, payload json.RawMessage) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: %q", ErrInvalidPayload, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.d.Write(key, payload); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	s.digests[key] = blake3.Sum256(payload)
	return nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.d.Erase(key); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	delete(s.digests, key)
	return nil
}

// Subscribe delivers changes other processes make to key. Writes made through
// this store are never delivered.
func (s *LocalStore) Subscribe(_ context.Context, key string, fn func(Change)) (func(), error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	// Seed the digest so an unchanged file touched by another process is not
	// reported as a change.
	if data, err := s.d.Read(key); err == nil {
		s.mu.Lock()
		if _, ok := s.digests[key]; !ok {
			s.digests[key] = blake3.Sum256(data)
		}
		s.mu.Unlock()
	}
	return s.hub.add(key, fn)
}

func (s *LocalStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopCh)
	s.throttle.Stop()
	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	s.wg.Wait()
	s.hub.close()
	return err
}

func (s *LocalStore) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.basePath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.basePath, err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stopCh:
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("file watcher error", zap.Error(err))
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				key := filepath.Base(evt.Name)
				if ValidateKey(key) != nil || filepath.Dir(evt.Name) != filepath.Clean(s.basePath) {
					continue
				}
				s.throttle.Enqueue(key, s.reload)
			}
		}
	}()
	return nil
}

// reload re-reads key from disk and publishes it when the content differs
// from the last version this process wrote or saw.
func (s *LocalStore) reload(key string) {
	if !s.hub.watching(key) {
		return
	}
	// Read under the lock so an own write cannot land between the read and
	// the digest check.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	data, err := s.d.Read(key)

	switch {
	case err != nil && os.IsNotExist(err):
		if _, known := s.digests[key]; !known {
			return
		}
		delete(s.digests, key)
		s.seq++
		s.hub.publish(Change{Key: key, Deleted: true, Seq: s.seq})
	case err != nil:
		s.log.Warn("failed to reload changed file", zap.String("key", key), zap.Error(err))
	default:
		if !json.Valid(data) {
			// Partially written by a non-atomic writer; the next event carries
			// the full content.
			return
		}
		digest := blake3.Sum256(data)
		if prev, ok := s.digests[key]; ok && prev == digest {
			return
		}
		s.digests[key] = digest
		s.seq++
		s.hub.publish(Change{Key: key, Payload: data, Seq: s.seq})
	}
}

// keyThrottle coalesces rapid file events per key so a burst of writes is
// reloaded once.
type keyThrottle struct {
	mu      sync.Mutex
	delay   time.Duration
	timers  map[string]*time.Timer
	stopped bool
}

func newKeyThrottle(delay time.Duration) *keyThrottle {
	return &keyThrottle{delay: delay, timers: make(map[string]*time.Timer)}
}

func (t *keyThrottle) Enqueue(key string, fire func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if _, pending := t.timers[key]; pending {
		return
	}
	t.timers[key] = time.AfterFunc(t.delay, func() {
		t.mu.Lock()
		delete(t.timers, key)
		stopped := t.stopped
		t.mu.Unlock()
		if !stopped {
			fire(key)
		}
	})
}

func (t *keyThrottle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}
