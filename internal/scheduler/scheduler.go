package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/observability"
)

// ErrUnknownJob is returned by RunNow for names that were never registered.
var ErrUnknownJob = errors.New("scheduler: unknown job")

// Names of the jobs the server registers.
const (
	JobForecastIngestion  = "forecast-ingestion"
	JobForecastCleanup    = "forecast-cleanup"
	JobAlertSweep         = "alert-sweep"
	JobObservationRefresh = "observation-refresh"
)

// Job is a named unit of periodic work.
type Job struct {
	Name string
	// Spec is a standard five-field cron expression or a descriptor such as "@every 30m".
	Spec string
	Run  func(ctx context.Context) error
	// Warmup runs the job once, WarmupDelay after Start.
	Warmup bool
}

// JobStatus is the introspection view of one registered job.
type JobStatus struct {
	Name    string    `json:"name"`
	Spec    string    `json:"schedule"`
	Next    time.Time `json:"next"`
	Prev    time.Time `json:"prev,omitempty"`
	Running bool      `json:"running"`
}

type entry struct {
	job  Job
	id   cron.EntryID
	busy atomic.Bool
}

// Scheduler runs registered jobs on their cron schedules. A run that would
// overlap the previous run of the same job is skipped.
type Scheduler struct {
	cron    *cron.Cron
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *observability.Metrics
	warmup  time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	timer   clockwork.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New creates a stopped scheduler evaluating schedules in loc.
func New(loc *time.Location, clock clockwork.Clock, logger *zap.Logger, metrics *observability.Metrics, warmup time.Duration) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		warmup:  warmup,
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a job. It must be called before Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a run func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[job.Name]; dup {
		return fmt.Errorf("scheduler: job %q already registered", job.Name)
	}

	e := &entry{job: job}
	id, err := s.cron.AddJob(job.Spec, cron.FuncJob(func() { s.execute(e) }))
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for %s: %w", job.Spec, job.Name, err)
	}
	e.id = id
	s.entries[job.Name] = e
	s.order = append(s.order, job.Name)
	return nil
}

// execute runs one job invocation with overlap protection, metrics and logging.
func (s *Scheduler) execute(e *entry) {
	name := e.job.Name
	if !e.busy.CompareAndSwap(false, true) {
		s.metrics.JobRuns.WithLabelValues(name, "skipped").Inc()
		s.logger.Info("job still running, skipping", zap.String("job", name))
		return
	}
	defer e.busy.Store(false)

	start := s.clock.Now()
	err := e.job.Run(s.ctx)
	elapsed := s.clock.Since(start)
	s.metrics.JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		s.metrics.JobRuns.WithLabelValues(name, "error").Inc()
		s.logger.Error("job failed", zap.String("job", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return
	}
	s.metrics.JobRuns.WithLabelValues(name, "success").Inc()
	s.logger.Info("job finished", zap.String("job", name), zap.Duration("elapsed", elapsed))
}

// Start begins firing schedules and arms the warm-up timer. Calling Start on
// a running or stopped scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.ctx.Err() != nil {
		return
	}
	s.running = true
	s.cron.Start()

	var warm []string
	for _, name := range s.order {
		if s.entries[name].job.Warmup {
			warm = append(warm, name)
		}
	}
	if len(warm) > 0 {
		s.timer = s.clock.AfterFunc(s.warmup, func() {
			for _, name := range warm {
				if s.ctx.Err() != nil {
					return
				}
				_ = s.RunNow(name)
			}
		})
	}
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.entries)), zap.Strings("warmup", warm))
}

// Stop halts new runs and cancels the context passed to running jobs. The
// returned context is done once in-flight cron runs have returned. A stopped
// scheduler cannot be restarted.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.cancel()
	s.running = false
	s.logger.Info("scheduler stopping")
	return s.cron.Stop()
}

// Running reports whether Start has been called without a following Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow runs a job synchronously through the same wrapper as scheduled runs.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.cron.Entry(e.id).WrappedJob.Run()
	return nil
}

// Jobs lists registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.entries))
	for name, e := range s.entries {
		ce := s.cron.Entry(e.id)
		out = append(out, JobStatus{
			Name:    name,
			Spec:    e.job.Spec,
			Next:    ce.Next,
			Prev:    ce.Prev,
			Running: e.busy.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
