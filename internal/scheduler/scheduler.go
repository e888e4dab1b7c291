// Package scheduler binds named jobs to cron schedules and guarantees that
// at most one run of each job executes at a time, whether it was started by
// its schedule or by a manual trigger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/moonerfun/flywheel/internal/logger"
	"github.com/moonerfun/flywheel/internal/metrics"
)

var (
	// ErrUnknownTask is returned by TriggerTask for a name with no scheduled task.
	ErrUnknownTask = errors.New("unknown task")
	// ErrTaskAlreadyRunning is returned by TriggerTask when the task is mid-run.
	ErrTaskAlreadyRunning = errors.New("task already running")
	// ErrDuplicateJob is returned by Register for a name registered twice.
	ErrDuplicateJob = errors.New("job already registered")
)

// Handler is the body of a scheduled job.
type Handler func(ctx context.Context) error

// Job is a named handler bound to a cron expression.
type Job struct {
	Name     string
	Schedule string
	Run      Handler
}

// TaskStatus is a snapshot of one scheduled task.
type TaskStatus struct {
	Name           string     `json:"name"`
	CronExpression string     `json:"cron_expression"`
	IsRunning      bool       `json:"is_running"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastDuration   string     `json:"last_duration,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// task is the in-memory registry entry for a started job.
type task struct {
	job     Job
	entryID cron.EntryID
	running atomic.Bool

	mu           sync.Mutex
	lastRunAt    time.Time
	lastDuration time.Duration
	lastErr      error
}

func (t *task) record(startedAt time.Time, elapsed time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRunAt = startedAt
	t.lastDuration = elapsed
	t.lastErr = err
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records task runs on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithManualOnly builds the task registry without starting cron, for
// one-shot processes that only call TriggerTask.
func WithManualOnly() Option {
	return func(s *Scheduler) {
		s.manualOnly = true
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// Scheduler runs registered jobs on their cron schedules.
type Scheduler struct {
	logger     logger.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	parser     cron.Parser
	now        func() time.Time
	manualOnly bool

	mu      sync.RWMutex
	jobs    []Job
	order   []string
	tasks   map[string]*task
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a scheduler with no jobs.
func New(log logger.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: log.With(logger.Component("scheduler")),
		tracer: otel.Tracer("scheduler"),
		parser: NewParser(),
		now:    time.Now,
		tasks:  make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewParser returns the cron parser used for every schedule: five fields with
// optional seconds, plus descriptors such as @hourly.
func NewParser() cron.Parser {
	return cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
}

// ValidateSchedule reports whether expr is a valid cron expression.
func ValidateSchedule(expr string) error {
	if _, err := NewParser().Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Register adds a job. Jobs registered after Start take effect on the next Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job name and handler are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.Name == job.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start schedules every registered job whose cron expression parses.
// Jobs with an invalid expression are logged and skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.cron = cron.New(cron.WithParser(s.parser), cron.WithLocation(time.UTC))
	s.tasks = make(map[string]*task, len(s.jobs))
	s.order = s.order[:0]

	for _, job := range s.jobs {
		if _, err := s.parser.Parse(job.Schedule); err != nil {
			s.logger.Error("invalid cron expression, task not scheduled",
				logger.String("task", job.Name),
				logger.String("cron", job.Schedule),
				logger.Error(err),
			)
			continue
		}

		t := &task{job: job}
		entryID, err := s.cron.AddFunc(job.Schedule, func() {
			_, _ = s.run(s.ctx, t)
		})
		if err != nil {
			s.logger.Error("failed to add cron entry",
				logger.String("task", job.Name),
				logger.Error(err),
			)
			continue
		}
		t.entryID = entryID

		s.tasks[job.Name] = t
		s.order = append(s.order, job.Name)
		s.logger.Info("task scheduled",
			logger.String("task", job.Name),
			logger.String("cron", job.Schedule),
		)
	}

	if !s.manualOnly {
		s.cron.Start()
	}
	s.started = true

	s.logger.Info("scheduler started",
		logger.Int("tasks", len(s.tasks)),
		logger.Int("skipped", len(s.jobs)-len(s.tasks)),
	)
	return nil
}

// Stop stops all cron triggers, waits for cron-started runs to return and
// clears the task registry. Safe to call repeatedly or before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	c := s.cron
	cancel := s.cancel
	s.started = false
	s.tasks = make(map[string]*task)
	s.order = nil
	s.cron = nil
	s.mu.Unlock()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	cancel()

	s.logger.Info("scheduler stopped")
}

// Status returns a snapshot of every scheduled task in registration order.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaskStatus, 0, len(s.order))
	for _, name := range s.order {
		t := s.tasks[name]
		status := TaskStatus{
			Name:           name,
			CronExpression: t.job.Schedule,
			IsRunning:      t.running.Load(),
		}

		if s.cron != nil && !s.manualOnly {
			if next := s.cron.Entry(t.entryID).Next; !next.IsZero() {
				status.NextRunAt = &next
			}
		}

		t.mu.Lock()
		if !t.lastRunAt.IsZero() {
			last := t.lastRunAt
			status.LastRunAt = &last
			status.LastDuration = t.lastDuration.String()
		}
		if t.lastErr != nil {
			status.LastError = t.lastErr.Error()
		}
		t.mu.Unlock()

		out = append(out, status)
	}
	return out
}

// TriggerTask runs the named task now through the same single-flight guard
// as its schedule and returns the handler's error. The handler runs to
// completion even if ctx is cancelled; ctx only carries request values.
func (s *Scheduler) TriggerTask(ctx context.Context, name string) error {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	s.logger.Info("manual trigger", logger.String("task", name))

	ran, err := s.run(context.WithoutCancel(ctx), t)
	if !ran {
		return fmt.Errorf("%w: %s", ErrTaskAlreadyRunning, name)
	}
	return err
}

// run executes t unless it is already running. The running flag is released
// on every exit path, including a panic in the handler.
func (s *Scheduler) run(ctx context.Context, t *task) (ran bool, err error) {
	name := t.job.Name
	if !t.running.CompareAndSwap(false, true) {
		s.logger.Warn("task already running, skipping", logger.String("task", name))
		s.metrics.TaskSkipped(name)
		return false, nil
	}

	ctx, span := s.tracer.Start(ctx, "scheduler.task",
		trace.WithAttributes(attribute.String("task", name)),
	)
	startedAt := s.now()
	s.metrics.TaskStarted(name)
	s.logger.Info("task started", logger.String("task", name))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", name, r)
		}

		elapsed := s.now().Sub(startedAt)
		t.record(startedAt, elapsed, err)
		t.running.Store(false)
		s.metrics.TaskFinished(name, err == nil, elapsed)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error("task failed",
				logger.String("task", name),
				logger.Duration("duration", elapsed),
				logger.Error(err),
			)
		} else {
			s.logger.Info("task finished",
				logger.String("task", name),
				logger.Duration("duration", elapsed),
			)
		}
		span.End()
	}()

	ran = true
	err = t.job.Run(ctx)
	return ran, err
}
