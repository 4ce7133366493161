package courier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mklimuk/frontdesk/pkg/keyed"
	"github.com/mklimuk/frontdesk/pkg/notify"
	"github.com/mklimuk/frontdesk/pkg/pipeline"
)

var (
	// ErrNothingToArchive is returned when the week has no stored counts.
	ErrNothingToArchive = errors.New("no data to archive for the current week")
	// ErrArchiveIncomplete is returned when a week reached the archive list
	// but its counts were not removed. RecoveryCheck finds such weeks.
	ErrArchiveIncomplete = errors.New("archive incomplete")
	// ErrNoPendingArchive is returned by CompleteArchive when there is
	// nothing to complete for the week.
	ErrNoPendingArchive = errors.New("no incomplete archive for week")
)

type Options struct {
	Logger   *zap.Logger
	Notifier notify.Notifier
	// Now defaults to time.Now.
	Now func() time.Time
	// Record options are passed to the week and archive records.
	Record []pipeline.Option
	// OnArchive runs after a week was archived.
	OnArchive func(ctx context.Context, weekKey string)
}

// Snapshot is what watchers receive.
type Snapshot struct {
	WeekKey  string         `json:"weekKey"`
	Week     Week           `json:"week"`
	Archives []ArchivedWeek `json:"archives"`
}

// Tracker keeps the counts of the current week and the archive list. The
// current week follows the clock: the first call after Sunday midnight
// switches to the new week's record.
type Tracker struct {
	store    keyed.Store
	log      *zap.Logger
	notifier notify.Notifier
	now      func() time.Time
	recOpts  []pipeline.Option
	onArch   func(context.Context, string)

	mu       sync.Mutex
	week     *pipeline.Record[Week]
	weekKey  string
	detach   func()
	archives *pipeline.Record[[]ArchivedWeek]

	// archiveMu serializes archive transactions.
	archiveMu sync.Mutex

	viewMu    sync.Mutex
	view      Snapshot
	watchers  map[int]func(Snapshot)
	nextWatch int
}

func Open(ctx context.Context, store keyed.Store, opts Options) (*Tracker, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	t := &Tracker{
		store:    store,
		log:      opts.Logger.Named("courier"),
		notifier: opts.Notifier,
		now:      opts.Now,
		onArch:   opts.OnArchive,
		watchers: make(map[int]func(Snapshot)),
	}
	t.recOpts = append([]pipeline.Option{
		pipeline.WithLogger(t.log),
		pipeline.WithNotifier(t.notifier),
	}, opts.Record...)

	archives, err := pipeline.Open(ctx, store, ArchiveKey, DecodeArchives, t.recOpts...)
	if err != nil {
		return nil, err
	}
	t.archives = archives
	archives.Watch(func(a []ArchivedWeek) {
		t.update(func(s *Snapshot) { s.Archives = a })
	})

	if _, _, err := t.current(ctx); err != nil {
		_ = archives.Close()
		return nil, err
	}
	return t, nil
}

// current returns the record of the week containing now, switching weeks
// when the clock has moved on.
func (t *Tracker) current(ctx context.Context) (*pipeline.Record[Week], string, error) {
	key := WeekKey(t.now())
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.week != nil && t.weekKey == key {
		return t.week, key, nil
	}

	rec, err := pipeline.Open(ctx, t.store, RecordKey(key), DecodeWeek, t.recOpts...)
	if err != nil {
		return nil, "", err
	}
	if t.week != nil {
		t.log.Info("switching to new week", zap.String("from", t.weekKey), zap.String("to", key))
		t.detach()
		_ = t.week.Close()
	}
	t.week, t.weekKey = rec, key
	t.detach = rec.Watch(func(w Week) {
		t.update(func(s *Snapshot) {
			s.WeekKey = key
			s.Week = w
		})
	})
	return rec, key, nil
}

func (t *Tracker) update(fn func(*Snapshot)) {
	t.viewMu.Lock()
	defer t.viewMu.Unlock()
	fn(&t.view)
	snap := t.view
	for i := 0; i < t.nextWatch; i++ {
		if w, ok := t.watchers[i]; ok {
			w(snap)
		}
	}
}

// Watch calls fn with the current snapshot and after every change.
func (t *Tracker) Watch(fn func(Snapshot)) func() {
	t.viewMu.Lock()
	id := t.nextWatch
	t.nextWatch++
	t.watchers[id] = fn
	fn(t.view)
	t.viewMu.Unlock()
	return func() {
		t.viewMu.Lock()
		delete(t.watchers, id)
		t.viewMu.Unlock()
	}
}

// Current returns the current week and its key.
func (t *Tracker) Current(ctx context.Context) (string, Week, error) {
	rec, key, err := t.current(ctx)
	if err != nil {
		return "", Week{}, err
	}
	return key, rec.State(), nil
}

// Archives returns the archived weeks, newest first.
func (t *Tracker) Archives() []ArchivedWeek {
	return append([]ArchivedWeek(nil), t.archives.State()...)
}

// Archived returns the archive at index (0 is the newest).
func (t *Tracker) Archived(index int) (ArchivedWeek, error) {
	archives := t.archives.State()
	if index < 0 || index >= len(archives) {
		return ArchivedWeek{}, pipeline.Invalid("index", "no archived week at %d", index)
	}
	return archives[index], nil
}

// Adjust adds delta to today's count of courier. Counts stay within
// [0, MaxCount].
func (t *Tracker) Adjust(ctx context.Context, dir Direction, courierID string, delta int) error {
	if !Known(courierID) {
		return pipeline.Invalid("courier", "unknown courier %q", courierID)
	}
	day := Days[t.now().Local().Weekday()]
	return t.mutate(ctx, "adjust count", dir, func(c Counts) (bool, error) {
		c[courierID][day] = addCount(c[courierID][day], delta)
		return true, nil
	})
}

// AddManual adds a batch of counts to today's column. Only positive values
// count; it reports whether anything was added.
func (t *Tracker) AddManual(ctx context.Context, dir Direction, values map[string]int) (bool, error) {
	for id := range values {
		if !Known(id) {
			return false, pipeline.Invalid("courier", "unknown courier %q", id)
		}
	}
	day := Days[t.now().Local().Weekday()]
	updated := false
	err := t.mutate(ctx, "add manual counts", dir, func(c Counts) (bool, error) {
		for id, v := range values {
			if v > 0 {
				c[id][day] = addCount(c[id][day], v)
				updated = true
			}
		}
		return updated, nil
	})
	return updated, err
}

func (t *Tracker) mutate(ctx context.Context, action string, dir Direction, fn func(Counts) (bool, error)) error {
	if dir != Incoming && dir != Outgoing {
		return pipeline.Invalid("direction", "must be incoming or outgoing, got %q", dir)
	}
	rec, _, err := t.current(ctx)
	if err != nil {
		return err
	}
	return rec.Mutate(ctx, action, func(w Week) (Week, pipeline.Delta, error) {
		c := w.Counts(dir).clone()
		changed, err := fn(c)
		if err != nil || !changed {
			return w, pipeline.None(), err
		}
		next := w.with(dir, c)
		return next, pipeline.Replace(next), nil
	})
}

// Archive moves the current week to the head of the archive list and clears
// it.
func (t *Tracker) Archive(ctx context.Context) error {
	return t.ArchiveWeek(ctx, WeekKey(t.now()))
}

// ArchiveWeek archives the week starting on weekKey. The archive list update
// and the removal of the week are written in one batch; on stores that cannot
// do that atomically a failure between the two leaves an incomplete archive
// that RecoveryCheck reports.
func (t *Tracker) ArchiveWeek(ctx context.Context, weekKey string) error {
	if _, err := ParseWeekKey(weekKey); err != nil {
		return err
	}
	t.archiveMu.Lock()
	defer t.archiveMu.Unlock()

	if err := t.flush(ctx); err != nil {
		return err
	}

	raw, err := t.store.Get(ctx, RecordKey(weekKey))
	if errors.Is(err, keyed.ErrNotFound) {
		return ErrNothingToArchive
	}
	if err != nil {
		return fmt.Errorf("failed to read week %s: %w", weekKey, err)
	}
	week, issues := DecodeWeek(raw)
	issues.Log(t.log, RecordKey(weekKey))

	archives, err := t.storedArchives(ctx)
	if err != nil {
		return err
	}
	if len(archives) > 0 && archives[0].WeekStart == weekKey && archives[0].Week().Equal(week) {
		return fmt.Errorf("%w: week %s is already at the head of the archive", ErrArchiveIncomplete, weekKey)
	}

	next := append([]ArchivedWeek{{
		WeekStart:      weekKey,
		CountsIncoming: week.Incoming,
		CountsOutgoing: week.Outgoing,
	}}, archives...)
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode archive: %w", err)
	}

	err = keyed.Apply(ctx, t.store,
		keyed.Op{Key: ArchiveKey, Payload: payload},
		keyed.Op{Key: RecordKey(weekKey), Delete: true},
	)
	var partial *keyed.PartialError
	switch {
	case errors.As(err, &partial) && partial.Applied > 0:
		t.log.Error("archive stopped part way", zap.String("week", weekKey), zap.Error(err))
		t.reload(ctx)
		t.deliver(ctx, notify.Error("archive week", "Archive incomplete",
			fmt.Sprintf("Week %s was archived but its counts could not be cleared: %v", Label(weekKey), partial.Err)))
		return fmt.Errorf("%w: %v", ErrArchiveIncomplete, err)
	case err != nil:
		return fmt.Errorf("failed to archive week %s: %w", weekKey, err)
	}

	t.log.Info("week archived", zap.String("week", weekKey), zap.Int("incoming", week.Incoming.Total()),
		zap.Int("outgoing", week.Outgoing.Total()))
	t.reload(ctx)
	t.deliver(ctx, notify.Notice{Level: notify.LevelSuccess, Title: "Success", Message: "Week archived successfully.", Action: "archive week"})
	if t.onArch != nil {
		t.onArch(ctx, weekKey)
	}
	return nil
}

// Recovery describes a week found both at the head of the archive list and
// still stored as a live week with identical counts.
type Recovery struct {
	WeekKey string       `json:"weekKey"`
	Archive ArchivedWeek `json:"archive"`
}

// RecoveryCheck looks for an archive that stopped after writing the archive
// list. It returns nil when everything is consistent.
func (t *Tracker) RecoveryCheck(ctx context.Context) (*Recovery, error) {
	archives, err := t.storedArchives(ctx)
	if err != nil || len(archives) == 0 {
		return nil, err
	}
	head := archives[0]
	raw, err := t.store.Get(ctx, RecordKey(head.WeekStart))
	if errors.Is(err, keyed.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read week %s: %w", head.WeekStart, err)
	}
	week, _ := DecodeWeek(raw)
	if !week.Equal(head.Week()) {
		// Counted again after archiving.
		return nil, nil
	}
	return &Recovery{WeekKey: head.WeekStart, Archive: head}, nil
}

// CompleteArchive clears the live counts of a week found by RecoveryCheck.
func (t *Tracker) CompleteArchive(ctx context.Context, weekKey string) error {
	t.archiveMu.Lock()
	defer t.archiveMu.Unlock()

	if err := t.flush(ctx); err != nil {
		return err
	}
	rec, err := t.RecoveryCheck(ctx)
	if err != nil {
		return err
	}
	if rec == nil || rec.WeekKey != weekKey {
		return fmt.Errorf("%w %s", ErrNoPendingArchive, weekKey)
	}
	if err := t.store.Delete(ctx, RecordKey(weekKey)); err != nil {
		return fmt.Errorf("failed to clear week %s: %w", weekKey, err)
	}
	t.log.Info("incomplete archive completed", zap.String("week", weekKey))
	t.reload(ctx)
	return nil
}

func (t *Tracker) storedArchives(ctx context.Context) ([]ArchivedWeek, error) {
	raw, err := t.store.Get(ctx, ArchiveKey)
	if err != nil && !errors.Is(err, keyed.ErrNotFound) {
		return nil, fmt.Errorf("failed to read archives: %w", err)
	}
	archives, issues := DecodeArchives(raw)
	issues.Log(t.log, ArchiveKey)
	return archives, nil
}

func (t *Tracker) flush(ctx context.Context) error {
	t.mu.Lock()
	week := t.week
	t.mu.Unlock()
	if err := week.Flush(ctx); err != nil {
		return err
	}
	return t.archives.Flush(ctx)
}

// reload brings both records up to date after writing the store directly.
func (t *Tracker) reload(ctx context.Context) {
	t.mu.Lock()
	week := t.week
	t.mu.Unlock()
	if err := week.Reload(ctx); err != nil {
		t.log.Warn("failed to reload week", zap.Error(err))
	}
	if err := t.archives.Reload(ctx); err != nil {
		t.log.Warn("failed to reload archives", zap.Error(err))
	}
}

func (t *Tracker) deliver(ctx context.Context, n notify.Notice) {
	if err := t.notifier.Notify(ctx, n); err != nil {
		t.log.Warn("failed to deliver notice", zap.Error(err))
	}
}

// Flush waits for queued writes.
func (t *Tracker) Flush(ctx context.Context) error {
	return t.flush(ctx)
}

func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detach != nil {
		t.detach()
	}
	var errs []error
	if t.week != nil {
		errs = append(errs, t.week.Close())
	}
	errs = append(errs, t.archives.Close())
	return errors.Join(errs...)
}
