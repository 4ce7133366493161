package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mklimuk/frontdesk/pkg/db"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrJobRunning = errors.New("job is already running")
)

// Run status values stored in the job log.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// JobFunc executes one job and returns a short result for the job log.
type JobFunc func(ctx context.Context) (string, error)

// RunLog persists job runs. *db.Repository implements it.
type RunLog interface {
	StartJobRun(ctx context.Context, job string) (int64, error)
	FinishJobRun(ctx context.Context, id int64, status, result string) error
	GetLatestJobRun(ctx context.Context, job string) (*db.JobRun, error)
}

type job struct {
	name     string
	expr     string
	schedule Schedule
	run      JobFunc
	next     time.Time
	running  bool
}

// JobStatus is a registered job as reported to clients.
type JobStatus struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	NextRun  *time.Time `json:"nextRun,omitempty"`
	Running  bool       `json:"running"`
}

// Service runs registered jobs on their schedules.
type Service struct {
	runs         RunLog
	log          *zap.Logger
	loc          *time.Location
	pollInterval time.Duration
	now          func() time.Time

	mu   sync.Mutex
	jobs map[string]*job

	stop chan struct{}
	wg   sync.WaitGroup
}

type Options struct {
	Logger *zap.Logger
	// Location schedules are read in. Defaults to time.Local.
	Location     *time.Location
	PollInterval time.Duration
	Now          func() time.Time
}

// NewService creates a new scheduler. runs may be nil, in which case runs are
// only logged.
func NewService(runs RunLog, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		runs:         runs,
		log:          opts.Logger.Named("automation"),
		loc:          opts.Location,
		pollInterval: opts.PollInterval,
		now:          opts.Now,
		jobs:         make(map[string]*job),
		stop:         make(chan struct{}),
	}
}

// Register adds a job. The first run is planned from the job's last logged
// run, so a run missed while the service was down happens on the next tick.
func (s *Service) Register(ctx context.Context, name, expr string, fn JobFunc) error {
	sched, err := ParseSchedule(expr, s.loc)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	from := s.now()
	if s.runs != nil {
		last, err := s.runs.GetLatestJobRun(ctx, name)
		if err != nil {
			return err
		}
		if last != nil {
			from = last.StartedAt
		}
	}
	next, ok := sched.Next(from)
	if !ok {
		return fmt.Errorf("job %s: schedule %q never fires", name, expr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = &job{name: name, expr: expr, schedule: sched, run: fn, next: next}
	s.log.Info("job registered", zap.String("job", name), zap.String("schedule", expr), zap.Time("next", next))
	return nil
}

// Jobs lists the registered jobs by name.
func (s *Service) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{Name: j.name, Schedule: j.expr, Running: j.running}
		if !j.next.IsZero() {
			next := j.next
			st.NextRun = &next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start begins the polling loop.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop stops the polling loop and waits for running jobs.
func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Service) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	s.runDue(ctx)
	for {
		select {
		case <-ticker.C:
			s.runDue(ctx)
		case <-s.stop:
			return
		}
	}
}

// runDue runs every job whose next run time has passed.
func (s *Service) runDue(ctx context.Context) {
	now := s.now()
	var due []*job
	s.mu.Lock()
	for _, j := range s.jobs {
		if j.running || j.next.IsZero() || j.next.After(now) {
			continue
		}
		j.running = true
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		s.execute(ctx, j)
		s.mu.Lock()
		j.running = false
		next, ok := j.schedule.Next(now)
		if !ok {
			next = time.Time{}
		}
		j.next = next
		s.mu.Unlock()
	}
}

// RunNow runs the named job immediately, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if j.running {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	j.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		j.running = false
		s.mu.Unlock()
	}()
	return s.execute(ctx, j)
}

func (s *Service) execute(ctx context.Context, j *job) (string, error) {
	logger := s.log.With(zap.String("job", j.name))
	var runID int64
	if s.runs != nil {
		id, err := s.runs.StartJobRun(ctx, j.name)
		if err != nil {
			logger.Error("failed to log job start", zap.Error(err))
		}
		runID = id
	}

	started := time.Now()
	result, err := j.run(ctx)
	status := StatusSuccess
	if err != nil {
		status = StatusFailed
		result = err.Error()
		logger.Error("job failed", zap.Error(err), zap.Duration("took", time.Since(started)))
	} else {
		logger.Info("job finished", zap.String("result", result), zap.Duration("took", time.Since(started)))
	}

	if s.runs != nil && runID != 0 {
		if ferr := s.runs.FinishJobRun(ctx, runID, status, result); ferr != nil {
			logger.Error("failed to log job result", zap.Int64("run", runID), zap.Error(ferr))
		}
	}
	return result, err
}
