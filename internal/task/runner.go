package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/phrazzld/mailpipe/internal/redact"
)

// ErrRunnerStarted is returned when a job is registered after Start.
var ErrRunnerStarted = errors.New("runner already started")

// PeriodicJob is a unit of background work run on its own ticker.
type PeriodicJob struct {
	// Name identifies the job in logs.
	Name string

	// Interval is the time between the end of one run and the next tick.
	Interval time.Duration

	// Run performs one pass. Errors are logged; the job keeps running.
	Run func(ctx context.Context) error
}

// Runner schedules PeriodicJobs. The database is the only shared state
// between jobs, so each job runs in its own goroutine with no coordination.
type Runner struct {
	mu         sync.Mutex
	jobs       []PeriodicJob
	started    bool
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewRunner creates a new Runner.
func NewRunner(log *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		ctx:        ctx,
		cancelFunc: cancel,
		logger:     log.With(slog.String("component", "runner")),
	}
}

// Register adds a job. Jobs must be registered before Start.
func (r *Runner) Register(job PeriodicJob) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("invalid job %q: name and run function are required", job.Name)
	}
	if job.Interval <= 0 {
		return fmt.Errorf("invalid job %q: interval must be positive", job.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrRunnerStarted
	}
	r.jobs = append(r.jobs, job)
	return nil
}

// Start launches one goroutine per registered job. Each job runs once
// immediately and then on every tick.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(job)
	}
	r.logger.Info("runner started", slog.Int("jobs", len(r.jobs)))
}

// Stop cancels all jobs and waits for in-flight runs to return.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
	r.logger.Info("runner stopped")
}

func (r *Runner) loop(job PeriodicJob) {
	defer r.wg.Done()

	log := r.logger.With(slog.String("job", job.Name))
	log.Debug("starting job", slog.Duration("interval", job.Interval))

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		r.runOnce(job, log)

		select {
		case <-r.ctx.Done():
			log.Debug("stopping job")
			return
		case <-ticker.C:
		}
	}
}

// runOnce executes a single pass with a fresh correlation id so every log
// line of the pass can be grouped.
func (r *Runner) runOnce(job PeriodicJob, log *slog.Logger) {
	if r.ctx.Err() != nil {
		return
	}

	ctx := logger.EnsureCorrelationID(r.ctx)
	ctx = logger.WithContext(ctx, log)

	defer func() {
		if p := recover(); p != nil {
			log.ErrorContext(ctx, "job panicked", slog.Any("panic", p))
		}
	}()

	if err := job.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.ErrorContext(ctx, "job run failed", slog.String("error", redact.Error(err)))
	}
}
