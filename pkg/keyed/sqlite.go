package keyed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mklimuk/frontdesk/pkg/db"
)

var (
	_ Store   = (*SQLiteStore)(nil)
	_ Batcher = (*SQLiteStore)(nil)
)

// SQLiteOptions configures a SQLiteStore.
type SQLiteOptions struct {
	// PollInterval is how often the change log is read for writes made by
	// other processes. Zero means 500ms.
	PollInterval time.Duration
	Logger       *zap.Logger
}

// SQLiteStore keeps documents in a SQLite database shared by every process on
// the host. Each commit appends to a change log; subscribers are fed from that
// log so they observe commits from any process in sequence order.
type SQLiteStore struct {
	repo *db.Repository
	log  *zap.Logger
	hub  *hub

	pollMu  sync.Mutex
	lastSeq int64

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewSQLiteStore starts polling the change log from its current head.
func NewSQLiteStore(ctx context.Context, repo *db.Repository, opts SQLiteOptions) (*SQLiteStore, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	seq, err := repo.LatestSeq(ctx)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{
		repo:     repo,
		log:      opts.Logger.Named("sqlite-store"),
		hub:      newHub(),
		lastSeq:  seq,
		interval: opts.PollInterval,
		stopCh:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	doc, err := s.repo.GetDocument(ctx, key)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc.Payload, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, payload json.RawMessage) error {
	return s.Apply(ctx, Op{Key: key, Payload: payload})
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.Apply(ctx, Op{Key: key, Delete: true})
}

// Apply commits all ops in one transaction.
func (s *SQLiteStore) Apply(ctx context.Context, ops ...Op) error {
	writes := make([]db.DocumentWrite, 0, len(ops))
	for _, op := range ops {
		if err := ValidateKey(op.Key); err != nil {
			return err
		}
		if !op.Delete && !json.Valid(op.Payload) {
			return fmt.Errorf("%w: %q", ErrInvalidPayload, op.Key)
		}
		writes = append(writes, db.DocumentWrite{Key: op.Key, Payload: op.Payload, Delete: op.Delete})
	}
	select {
	case <-s.stopCh:
		return ErrClosed
	default:
	}

	if _, err := s.repo.PutDocuments(ctx, writes...); err != nil {
		return err
	}
	// Deliver our own commit right away, together with anything other
	// processes committed before it.
	if err := s.poll(ctx); err != nil {
		s.log.Warn("failed to read change log after write", zap.Error(err))
	}
	return nil
}

func (s *SQLiteStore) Subscribe(_ context.Context, key string, fn func(Change)) (func(), error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return s.hub.add(key, fn)
}

// Close stops polling. The underlying database is owned by the caller.
func (s *SQLiteStore) Close() error {
	s.once.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.hub.close()
	})
	return nil
}

func (s *SQLiteStore) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.poll(context.Background()); err != nil {
				s.log.Warn("failed to poll change log", zap.Error(err))
			}
		}
	}
}

func (s *SQLiteStore) poll(ctx context.Context) error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	for {
		rows, err := s.repo.ChangesSince(ctx, s.lastSeq, 256)
		if err != nil {
			return err
		}
		for _, row := range rows {
			s.hub.publish(Change{
				Key:     row.Key,
				Payload: row.Payload,
				Deleted: row.Deleted,
				Seq:     row.Seq,
			})
			s.lastSeq = row.Seq
		}
		if len(rows) < 256 {
			return nil
		}
	}
}
