// Package app assembles the front-desk tools from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/mklimuk/frontdesk/pkg/ai"
	"github.com/mklimuk/frontdesk/pkg/api"
	"github.com/mklimuk/frontdesk/pkg/automation"
	"github.com/mklimuk/frontdesk/pkg/config"
	"github.com/mklimuk/frontdesk/pkg/contacts"
	"github.com/mklimuk/frontdesk/pkg/courier"
	"github.com/mklimuk/frontdesk/pkg/db"
	"github.com/mklimuk/frontdesk/pkg/incident"
	"github.com/mklimuk/frontdesk/pkg/integration/chat"
	"github.com/mklimuk/frontdesk/pkg/integration/discord"
	"github.com/mklimuk/frontdesk/pkg/integration/drive"
	"github.com/mklimuk/frontdesk/pkg/integration/telegram"
	"github.com/mklimuk/frontdesk/pkg/keyed"
	"github.com/mklimuk/frontdesk/pkg/notify"
	"github.com/mklimuk/frontdesk/pkg/passon"
	"github.com/mklimuk/frontdesk/pkg/pipeline"
	"github.com/mklimuk/frontdesk/pkg/sendup"
	"github.com/mklimuk/frontdesk/pkg/shift"
	"github.com/mklimuk/frontdesk/pkg/snapshot"
)

// App owns the store, the tools opened on it and everything that reports on
// them.
type App struct {
	cfg *config.Config
	log *zap.Logger
	now func() time.Time

	Store    keyed.Store
	Repo     *db.Repository
	Hub      *api.Hub
	Notifier notify.Notifier

	Notes     *passon.Board
	Shift     *shift.Board
	Courier   *courier.Tracker
	SendUp    *sendup.Board
	Incidents *incident.Log
	Contacts  []contacts.Contact
	Jobs      *automation.Service

	aiClient ai.Client
	telegram *telegram.Bot
	discord  *discord.Bot
	snapshot *snapshot.Repo
	database *db.DB
	redis    *redis.Client
	postgres *sql.DB

	closers []func() error
	unwatch []func()
}

type Option func(*App)

// WithClock replaces time.Now for the tools and jobs.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New opens the configured store and every tool on it. Optional
// integrations that fail to start are logged and skipped.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, log: logger, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg

	database, err := db.NewDB(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	a.database = database
	if err := database.InitSchema(); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	a.Repo = db.NewRepository(database)

	contactList, err := contacts.Load(cfg.Contacts.File)
	if err != nil {
		return err
	}
	a.Contacts = contactList

	a.Hub = api.NewHub(a.log)
	a.initBots()
	targets := notify.Multi{notify.Log{Logger: a.log.Named("notice")}, a.Hub}
	if a.telegram != nil {
		targets = append(targets, a.telegram)
	}
	if a.discord != nil {
		targets = append(targets, a.discord)
	}
	a.Notifier = targets

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.Store = store
	if cfg.Snapshot.Enabled {
		a.openSnapshot()
	}
	if err := a.openTools(ctx); err != nil {
		return err
	}
	a.watch()

	if cfg.Jobs.Enabled {
		if err := a.registerJobs(ctx); err != nil {
			return err
		}
	}

	// An archive interrupted by the last run is reported right away.
	if _, err := automation.CheckArchives(a.Courier, a.Notifier)(ctx); err != nil {
		a.log.Warn("archive recovery check failed", zap.Error(err))
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (keyed.Store, error) {
	cfg := a.cfg.Store
	logger := a.log.Named("store")
	switch cfg.Backend {
	case config.BackendMemory:
		return keyed.NewMemoryStore(), nil
	case config.BackendLocal:
		return keyed.NewLocalStore(keyed.LocalOptions{BasePath: cfg.Path, Logger: logger})
	case config.BackendSQLite:
		return keyed.NewSQLiteStore(ctx, a.Repo, keyed.SQLiteOptions{Logger: logger})
	case config.BackendRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return keyed.NewRedisStore(ctx, keyed.RedisOptions{
			Client: a.redis,
			Prefix: cfg.Redis.Prefix,
			Stream: cfg.Redis.Stream,
			Logger: logger,
		})
	case config.BackendPostgres:
		pg, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		a.postgres = pg
		return keyed.NewPostgresStore(ctx, keyed.PostgresOptions{
			DB:           pg,
			ConnString:   cfg.Postgres.DSN,
			Channel:      cfg.Postgres.Channel,
			PollInterval: cfg.Postgres.PollInterval,
			Logger:       logger,
		})
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// openSnapshot versions the data directory of the local backend.
func (a *App) openSnapshot() {
	if a.cfg.Store.Backend != config.BackendLocal {
		a.log.Warn("snapshots need the local backend", zap.String("backend", a.cfg.Store.Backend))
		return
	}
	s := a.cfg.Snapshot
	repo, err := snapshot.Open(a.cfg.Store.Path, snapshot.Options{
		Push:        s.Push,
		SSHKey:      s.SSHKey,
		AuthorName:  s.AuthorName,
		AuthorEmail: s.AuthorEmail,
		Logger:      a.log,
	})
	if err != nil {
		a.log.Warn("snapshots disabled", zap.Error(err))
		return
	}
	a.snapshot = repo
}

func (a *App) onArchive(ctx context.Context, weekKey string) {
	if a.snapshot == nil {
		return
	}
	hash, err := a.snapshot.Commit(ctx, "Archive courier week "+weekKey)
	if err != nil {
		a.log.Warn("failed to snapshot data", zap.String("week", weekKey), zap.Error(err))
		return
	}
	if hash != "" {
		a.log.Info("data snapshot committed", zap.String("week", weekKey), zap.String("commit", hash))
	}
}

func (a *App) openTools(ctx context.Context) error {
	recOpts := []pipeline.Option{
		pipeline.WithLogger(a.log),
		pipeline.WithNotifier(a.Notifier),
	}
	var err error
	if a.Notes, err = passon.Open(ctx, a.Store, recOpts...); err != nil {
		return fmt.Errorf("failed to open pass-on notes: %w", err)
	}
	a.closers = append(a.closers, a.Notes.Close)

	if a.Shift, err = shift.Open(ctx, a.Store, recOpts...); err != nil {
		return fmt.Errorf("failed to open shift board: %w", err)
	}
	a.closers = append(a.closers, a.Shift.Close)

	a.Courier, err = courier.Open(ctx, a.Store, courier.Options{
		Logger:    a.log,
		Notifier:  a.Notifier,
		Now:       a.now,
		OnArchive: a.onArchive,
	})
	if err != nil {
		return fmt.Errorf("failed to open courier tracker: %w", err)
	}
	a.closers = append(a.closers, a.Courier.Close)

	if a.SendUp, err = sendup.Open(ctx, a.Store, a.cfg.SendUp.Lists, recOpts...); err != nil {
		return fmt.Errorf("failed to open send-up lists: %w", err)
	}
	a.closers = append(a.closers, a.SendUp.Close)

	incOpts := incident.Options{Logger: a.log, Notifier: a.Notifier, Now: a.now}
	if suggester := a.openSuggester(ctx); suggester != nil {
		incOpts.Suggester = suggester
	}
	if a.Incidents, err = incident.Open(ctx, a.Store, incOpts); err != nil {
		return fmt.Errorf("failed to open incident log: %w", err)
	}
	a.closers = append(a.closers, a.Incidents.Close)
	return nil
}

func (a *App) openSuggester(ctx context.Context) ai.Locator {
	c := a.cfg.AI
	client, err := ai.New(ctx, ai.Config{Provider: c.Provider, APIKey: c.APIKey, Model: c.Model, BaseURL: c.BaseURL}, a.log)
	if err != nil {
		a.log.Warn("location suggestions disabled", zap.Error(err))
		return nil
	}
	if client == nil {
		return nil
	}
	a.aiClient = client
	return ai.NewLocator(client, a.log)
}

func (a *App) desk() chat.Desk {
	return chat.Desk{
		Notes: func() []passon.Note {
			if a.Notes == nil {
				return nil
			}
			return a.Notes.Notes()
		},
		Contacts: a.Contacts,
		Status:   a.Status,
	}
}

func (a *App) initBots() {
	if tg := a.cfg.Telegram; tg.Token != "" {
		bot, err := telegram.NewBot(telegram.Config{Token: tg.Token, ChatID: tg.ChatID}, a.desk(), a.log)
		if err != nil {
			a.log.Warn("failed to create Telegram bot", zap.Error(err))
		} else {
			a.telegram = bot
		}
	}
	if dc := a.cfg.Discord; dc.Token != "" {
		bot, err := discord.NewBot(dc.Token, dc.ChannelID, a.desk(), a.log)
		if err != nil {
			a.log.Warn("failed to create Discord bot", zap.Error(err))
		} else {
			a.discord = bot
		}
	}
}

// watch streams every tool's state to the socket hub.
func (a *App) watch() {
	a.unwatch = append(a.unwatch,
		a.Notes.Watch(func(n []passon.Note) { a.Hub.Publish(api.TopicNotes, n) }),
		a.Shift.Watch(func(d shift.Data) { a.Hub.Publish(api.TopicShift, api.NewShiftView(d)) }),
		a.Courier.Watch(func(s courier.Snapshot) { a.Hub.Publish(api.TopicCourier, s) }),
		a.SendUp.Watch(func(d sendup.Data) { a.Hub.Publish(api.TopicSendUp, d) }),
		a.Incidents.Watch(func(list []incident.Incident) { a.Hub.Publish(api.TopicIncidents, list) }),
	)
}

type jobSpec struct {
	name, expr string
	fn         automation.JobFunc
}

func (a *App) registerJobs(ctx context.Context) error {
	loc, err := a.cfg.Jobs.Location()
	if err != nil {
		return err
	}
	a.Jobs = automation.NewService(a.Repo, automation.Options{Logger: a.log, Location: loc, Now: a.now})

	j := a.cfg.Jobs
	jobs := []jobSpec{
		{automation.JobArchiveWeek, j.ArchiveWeek, automation.ArchivePreviousWeek(a.Courier, a.now)},
		{automation.JobArchiveCheck, j.RecoveryCheck, automation.CheckArchives(a.Courier, a.Notifier)},
	}
	if a.cfg.Store.Backend == config.BackendSQLite {
		jobs = append(jobs, jobSpec{automation.JobPruneChanges, j.PruneChanges, automation.PruneChanges(a.Repo, j.KeepChanges, a.now)})
	}
	if pub := a.openDrive(ctx); pub != nil {
		jobs = append(jobs, jobSpec{automation.JobIncidentReport, j.IncidentReport, automation.PublishIncidentReport(a.Incidents, pub, a.now)})
	}
	for _, job := range jobs {
		if job.expr == "" {
			continue
		}
		if err := a.Jobs.Register(ctx, job.name, job.expr, job.fn); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) openDrive(ctx context.Context) *drive.Publisher {
	d := a.cfg.Drive
	if d.Credentials == "" || d.FolderID == "" {
		return nil
	}
	svc, err := drive.NewService(ctx, d.Credentials, d.FolderID)
	if err != nil {
		a.log.Warn("report uploads disabled", zap.Error(err))
		return nil
	}
	return drive.NewPublisher(svc, a.log)
}

// Status is the one-line summary the chat bots answer /status with.
func (a *App) Status(ctx context.Context) string {
	if a.Notes == nil || a.Courier == nil || a.Incidents == nil {
		return "Front desk is starting."
	}
	open, high := 0, 0
	for _, n := range a.Notes.Notes() {
		if n.Completed {
			continue
		}
		open++
		if n.Urgency == passon.High {
			high++
		}
	}
	status := fmt.Sprintf("Notes: %d open (%d high)", open, high)
	if key, week, err := a.Courier.Current(ctx); err == nil {
		status += fmt.Sprintf(" | Packages %s: %d in, %d out", courier.Label(key),
			week.Incoming.Total(), week.Outgoing.Total())
	}
	summary := incident.Summarize(a.Incidents.All(), a.now())
	status += fmt.Sprintf(" | Incidents this year: %d", summary.ThisYear)
	return status
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return api.NewRouter(&api.Handler{
		Notes:     a.Notes,
		Shift:     a.Shift,
		Courier:   a.Courier,
		SendUp:    a.SendUp,
		Incidents: a.Incidents,
		Contacts:  a.Contacts,
		Jobs:      a.Jobs,
		Hub:       a.Hub,
		Logger:    a.log.Named("api"),
		Now:       a.now,
	})
}

// Start runs the scheduler and the chat bots.
func (a *App) Start() {
	if a.Jobs != nil {
		a.Jobs.Start()
	}
	if a.telegram != nil {
		if err := a.telegram.Start(); err != nil {
			a.log.Warn("failed to start Telegram bot", zap.Error(err))
		}
	}
	if a.discord != nil {
		if err := a.discord.Start(); err != nil {
			a.log.Warn("failed to start Discord bot", zap.Error(err))
			a.discord = nil
		}
	}
}

// Serve starts the background services and serves the API on addr until ctx
// is done.
func (a *App) Serve(ctx context.Context, addr string) error {
	a.Start()
	srv := &http.Server{Addr: addr, Handler: a.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	a.Hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// Flush waits for every pending write of the tools.
func (a *App) Flush(ctx context.Context) error {
	var errs []error
	for _, f := range []interface{ Flush(context.Context) error }{a.Notes, a.Shift, a.Courier, a.SendUp, a.Incidents} {
		if err := f.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops everything New and Start opened, in reverse order.
func (a *App) Close() error {
	if a.Jobs != nil {
		a.Jobs.Stop()
	}
	if a.telegram != nil {
		a.telegram.Stop()
	}
	if a.discord != nil {
		_ = a.discord.Stop()
	}
	for _, u := range a.unwatch {
		u()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.postgres != nil {
		if err := a.postgres.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.aiClient != nil {
		if err := a.aiClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
