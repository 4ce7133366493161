package incident

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mklimuk/frontdesk/pkg/keyed"
	"github.com/mklimuk/frontdesk/pkg/notify"
	"github.com/mklimuk/frontdesk/pkg/pipeline"
)

type Options struct {
	Logger   *zap.Logger
	Notifier notify.Notifier
	// Legacy defaults to the embedded historical log.
	Legacy    []Incident
	Suggester Suggester
	Now       func() time.Time
	Record    []pipeline.Option
}

// Log is the live incident log joined with the legacy one.
type Log struct {
	rec       *pipeline.Record[map[string]Incident]
	legacy    []Incident
	suggester Suggester
	notifier  notify.Notifier
	log       *zap.Logger
	now       func() time.Time
}

func Open(ctx context.Context, store keyed.Store, opts Options) (*Log, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop
	}
	if opts.Legacy == nil {
		opts.Legacy = Legacy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.Named("incident")
	recOpts := append([]pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithNotifier(opts.Notifier),
	}, opts.Record...)
	rec, err := pipeline.Open(ctx, store, Key, Decode, recOpts...)
	if err != nil {
		return nil, err
	}
	return &Log{
		rec:       rec,
		legacy:    opts.Legacy,
		suggester: opts.Suggester,
		notifier:  opts.Notifier,
		log:       logger,
		now:       opts.Now,
	}, nil
}

// All returns live and legacy incidents, newest first.
func (l *Log) All() []Incident {
	return Merge(l.rec.State(), l.legacy)
}

// Live returns the incidents logged here, newest first.
func (l *Log) Live() []Incident {
	return Merge(l.rec.State(), nil)
}

// Locations lists the known locations for the form.
func (l *Log) Locations() []string {
	return Locations(l.All())
}

// Add validates the form and logs the incident. Each incident is written as
// its own field of the document, so concurrent adds do not overwrite each
// other.
func (l *Log) Add(ctx context.Context, f Form) (Incident, error) {
	inc, err := f.Incident()
	if err != nil {
		return Incident{}, err
	}
	inc.ID = uuid.NewString()
	ts := l.now().UTC()
	inc.Timestamp = &ts

	err = l.rec.Mutate(ctx, "log incident", func(live map[string]Incident) (map[string]Incident, pipeline.Delta, error) {
		next := make(map[string]Incident, len(live)+1)
		for id, v := range live {
			next[id] = v
		}
		next[inc.ID] = inc
		return next, pipeline.Field(inc.ID, inc), nil
	})
	if err != nil {
		return Incident{}, err
	}
	l.log.Info("incident logged", zap.String("id", inc.ID), zap.String("location", inc.Location))
	return inc, nil
}

// Suggest asks the suggestion service for a location. Failures are reported
// as a notice and ErrSuggestionUnavailable; they never block logging.
func (l *Log) Suggest(ctx context.Context, description string) (Suggestion, error) {
	s, err := suggest(ctx, l.suggester, description, l.Locations())
	if err == nil {
		return s, nil
	}
	var verr *pipeline.ValidationError
	if errors.As(err, &verr) {
		return Suggestion{}, err
	}
	l.log.Warn("location suggestion failed", zap.Error(err))
	if nerr := l.notifier.Notify(ctx, notify.Error("suggest location", "AI Error", "Could not get suggestion.")); nerr != nil {
		l.log.Warn("failed to deliver notice", zap.Error(nerr))
	}
	return Suggestion{}, err
}

// Watch calls fn with the unified list on every change.
func (l *Log) Watch(fn func([]Incident)) func() {
	return l.rec.Watch(func(live map[string]Incident) {
		fn(Merge(live, l.legacy))
	})
}

func (l *Log) Flush(ctx context.Context) error {
	return l.rec.Flush(ctx)
}

func (l *Log) Close() error {
	return l.rec.Close()
}
