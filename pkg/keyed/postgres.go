package keyed

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

var (
	_ Store   = (*PostgresStore)(nil)
	_ Merger  = (*PostgresStore)(nil)
	_ Batcher = (*PostgresStore)(nil)
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS frontdesk_documents (
	key TEXT PRIMARY KEY,
	payload JSONB NOT NULL,
	seq BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS frontdesk_changes (
	seq BIGSERIAL PRIMARY KEY,
	key TEXT NOT NULL,
	payload JSONB,
	deleted BOOLEAN NOT NULL DEFAULT false,
	committed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresOptions configures a PostgresStore.
type PostgresOptions struct {
	DB *sql.DB
	// ConnString enables LISTEN/NOTIFY wake-ups. Without it the change log is
	// only polled.
	ConnString string
	// Channel is the NOTIFY channel. Defaults to "frontdesk_changes".
	Channel string
	// PollInterval is the fallback change log poll. Zero means 5s.
	PollInterval time.Duration
	Logger       *zap.Logger
}

// PostgresStore keeps documents in jsonb rows. Every commit appends to a
// change log and sends a NOTIFY carrying its sequence; listeners read the log
// from their last seen sequence, so notifications lost during a reconnect are
// recovered on the next wake-up or poll.
type PostgresStore struct {
	db      *sql.DB
	channel string
	log     *zap.Logger
	hub     *hub

	pollMu  sync.Mutex
	lastSeq int64

	listener *pq.Listener
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// EnsurePostgresSchema creates the document and change tables if needed.
func EnsurePostgresSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to init postgres schema: %w", err)
	}
	return nil
}

func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	if opts.DB == nil {
		return nil, errors.New("keyed: postgres db required")
	}
	if opts.Channel == "" {
		opts.Channel = "frontdesk_changes"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &PostgresStore{
		db:       opts.DB,
		channel:  opts.Channel,
		log:      opts.Logger.Named("postgres-store"),
		hub:      newHub(),
		interval: opts.PollInterval,
		stopCh:   make(chan struct{}),
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM frontdesk_changes`).Scan(&s.lastSeq); err != nil {
		return nil, fmt.Errorf("failed to read change log head: %w", err)
	}

	if opts.ConnString != "" {
		s.listener = pq.NewListener(opts.ConnString, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				s.log.Warn("postgres listener event", zap.Int("event", int(ev)), zap.Error(err))
			}
		})
		if err := s.listener.Listen(opts.Channel); err != nil {
			_ = s.listener.Close()
			return nil, fmt.Errorf("failed to listen on %s: %w", opts.Channel, err)
		}
	}

	s.wg.Add(1)
	go s.loop()
	return s, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM frontdesk_documents WHERE key = $1`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return payload, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, payload json.RawMessage) error {
	return s.Apply(ctx, Op{Key: key, Payload: payload})
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	return s.Apply(ctx, Op{Key: key, Delete: true})
}

// Apply commits all ops in one transaction.
func (s *PostgresStore) Apply(ctx context.Context, ops ...Op) error {
	for _, op := range ops {
		if err := ValidateKey(op.Key); err != nil {
			return err
		}
		if !op.Delete && !json.Valid(op.Payload) {
			return fmt.Errorf("%w: %q", ErrInvalidPayload, op.Key)
		}
	}
	return s.inTx(ctx, func(tx *sql.Tx) (int64, error) {
		var seq int64
		for _, op := range ops {
			var err error
			if op.Delete {
				seq, err = s.appendChange(ctx, tx, op.Key, nil, true)
				if err == nil {
					_, err = tx.ExecContext(ctx, `DELETE FROM frontdesk_documents WHERE key = $1`, op.Key)
				}
			} else {
				seq, err = s.appendChange(ctx, tx, op.Key, op.Payload, false)
				if err == nil {
					_, err = tx.ExecContext(ctx, `
						INSERT INTO frontdesk_documents (key, payload, seq, updated_at) VALUES ($1, $2, $3, now())
						ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, seq = EXCLUDED.seq, updated_at = now()`,
						op.Key, string(op.Payload), seq)
				}
			}
			if err != nil {
				return 0, fmt.Errorf("failed to write %s: %w", op.Key, err)
			}
		}
		return seq, nil
	})
}

// Merge overlays fields with jsonb concatenation under a row lock.
func (s *PostgresStore) Merge(ctx context.Context, key string, fields map[string]json.RawMessage) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode merge fields: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) (int64, error) {
		var merged []byte
		err := tx.QueryRowContext(ctx, `
			INSERT INTO frontdesk_documents (key, payload, seq, updated_at) VALUES ($1, $2, 0, now())
			ON CONFLICT (key) DO UPDATE SET
				payload = CASE WHEN jsonb_typeof(frontdesk_documents.payload) = 'object'
					THEN frontdesk_documents.payload || EXCLUDED.payload
					ELSE EXCLUDED.payload END,
				updated_at = now()
			RETURNING payload`, key, string(patch)).Scan(&merged)
		if err != nil {
			return 0, fmt.Errorf("failed to merge %s: %w", key, err)
		}
		seq, err := s.appendChange(ctx, tx, key, merged, false)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE frontdesk_documents SET seq = $1 WHERE key = $2`, seq, key); err != nil {
			return 0, fmt.Errorf("failed to stamp %s: %w", key, err)
		}
		return seq, nil
	})
}

func (s *PostgresStore) appendChange(ctx context.Context, tx *sql.Tx, key string, payload []byte, deleted bool) (int64, error) {
	var p sql.NullString
	if !deleted {
		p = sql.NullString{String: string(payload), Valid: true}
	}
	var seq int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO frontdesk_changes (key, payload, deleted) VALUES ($1, $2, $3) RETURNING seq`,
		key, p, deleted).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to append change: %w", err)
	}
	return seq, nil
}

// inTx runs fn, sends one NOTIFY with the last sequence it wrote and commits.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) (int64, error)) error {
	select {
	case <-s.stopCh:
		return ErrClosed
	default:
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	seq, err := fn(tx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, s.channel, fmt.Sprint(seq)); err != nil {
		return fmt.Errorf("failed to notify: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	if err := s.poll(ctx); err != nil {
		s.log.Warn("failed to read change log after write", zap.Error(err))
	}
	return nil
}

func (s *PostgresStore) Subscribe(_ context.Context, key string, fn func(Change)) (func(), error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return s.hub.add(key, fn)
}

// Close stops listening. The *sql.DB is owned by the caller.
func (s *PostgresStore) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.wg.Wait()
		s.hub.close()
	})
	return err
}

func (s *PostgresStore) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var notify <-chan *pq.Notification
	if s.listener != nil {
		notify = s.listener.Notify
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-notify:
			// A nil notification means the connection was re-established;
			// reading the log catches up either way.
		case <-ticker.C:
		}
		if err := s.poll(context.Background()); err != nil {
			s.log.Warn("failed to poll change log", zap.Error(err))
		}
	}
}

func (s *PostgresStore) poll(ctx context.Context) error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, key, payload, deleted FROM frontdesk_changes WHERE seq > $1 ORDER BY seq ASC LIMIT 1000`,
		s.lastSeq)
	if err != nil {
		return fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Change
		var payload []byte
		if err := rows.Scan(&c.Seq, &c.Key, &payload, &c.Deleted); err != nil {
			return fmt.Errorf("failed to scan change: %w", err)
		}
		if !c.Deleted {
			c.Payload = payload
		}
		s.hub.publish(c)
		s.lastSeq = c.Seq
	}
	return rows.Err()
}
