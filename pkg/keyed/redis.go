package keyed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var (
	_ Store   = (*RedisStore)(nil)
	_ Merger  = (*RedisStore)(nil)
	_ Batcher = (*RedisStore)(nil)
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Client *redis.Client
	// Prefix is prepended to every document key. Defaults to "frontdesk:doc:".
	Prefix string
	// Stream carries one entry per committed write. Defaults to
	// "frontdesk:changes".
	Stream string
	// MaxLen caps the change stream (approximate trimming). Zero means 10000.
	MaxLen int64
	Logger *zap.Logger
}

// RedisStore keeps documents as plain string values and records each commit
// on a Redis stream. Every process tails the stream, so subscribers in all
// processes see writes in stream order.
type RedisStore struct {
	client *redis.Client
	prefix string
	stream string
	maxLen int64
	log    *zap.Logger
	hub    *hub

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRedisStore starts tailing the change stream from its current end.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, errors.New("keyed: redis client required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "frontdesk:doc:"
	}
	if opts.Stream == "" {
		opts.Stream = "frontdesk:changes"
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = 10000
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if err := opts.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	lastID := "0-0"
	latest, err := opts.Client.XRevRangeN(ctx, opts.Stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read change stream head: %w", err)
	}
	if len(latest) > 0 {
		lastID = latest[0].ID
	}

	tailCtx, cancel := context.WithCancel(context.Background())
	s := &RedisStore{
		client: opts.Client,
		prefix: opts.Prefix,
		stream: opts.Stream,
		maxLen: opts.MaxLen,
		log:    opts.Logger.Named("redis-store"),
		hub:    newHub(),
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.tail(tailCtx, lastID)
	return s, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, payload json.RawMessage) error {
	return s.Apply(ctx, Op{Key: key, Payload: payload})
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.Apply(ctx, Op{Key: key, Delete: true})
}

// Apply commits all ops in one MULTI/EXEC block.
func (s *RedisStore) Apply(ctx context.Context, ops ...Op) error {
	for _, op := range ops {
		if err := ValidateKey(op.Key); err != nil {
			return err
		}
		if !op.Delete && !json.Valid(op.Payload) {
			return fmt.Errorf("%w: %q", ErrInvalidPayload, op.Key)
		}
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range ops {
			s.queue(ctx, pipe, op)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit to redis: %w", err)
	}
	return nil
}

// Merge updates top-level fields under WATCH, retrying when another client
// wrote the same key in between.
func (s *RedisStore) Merge(ctx context.Context, key string, fields map[string]json.RawMessage) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	docKey := s.prefix + key

	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, docKey).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			merged, err := MergeDocument(current, fields)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				s.queue(ctx, pipe, Op{Key: key, Payload: merged})
				return nil
			})
			return err
		}, docKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to merge %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("failed to merge %s: too much contention", key)
}

func (s *RedisStore) queue(ctx context.Context, pipe redis.Pipeliner, op Op) {
	values := map[string]interface{}{"key": op.Key}
	if op.Delete {
		pipe.Del(ctx, s.prefix+op.Key)
		values["deleted"] = "1"
	} else {
		pipe.Set(ctx, s.prefix+op.Key, []byte(op.Payload), 0)
		values["payload"] = string(op.Payload)
	}
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	})
}

func (s *RedisStore) Subscribe(_ context.Context, key string, fn func(Change)) (func(), error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return s.hub.add(key, fn)
}

// Close stops tailing. The client is owned by the caller.
func (s *RedisStore) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.hub.close()
	})
	return nil
}

func (s *RedisStore) tail(ctx context.Context, lastID string) {
	defer s.wg.Done()
	for {
		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.stream, lastID},
			Count:   256,
			Block:   time.Second,
		}).Result()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				s.log.Warn("failed to read change stream", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				c, ok := changeFromStream(msg)
				if !ok {
					s.log.Warn("skipping malformed change entry", zap.String("id", msg.ID))
					continue
				}
				s.hub.publish(c)
			}
		}
	}
}

func changeFromStream(msg redis.XMessage) (Change, bool) {
	key, ok := msg.Values["key"].(string)
	if !ok || key == "" {
		return Change{}, false
	}
	c := Change{Key: key, Seq: streamSeq(msg.ID)}
	if deleted, _ := msg.Values["deleted"].(string); deleted == "1" {
		c.Deleted = true
		return c, true
	}
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return Change{}, false
	}
	c.Payload = json.RawMessage(payload)
	return c, true
}

// streamSeq folds a stream ID ("<ms>-<n>") into one increasing number.
func streamSeq(id string) int64 {
	ms, n, found := strings.Cut(id, "-")
	if !found {
		return 0
	}
	msv, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return 0
	}
	nv, _ := strconv.ParseInt(n, 10, 64)
	return msv*1000 + nv
}
