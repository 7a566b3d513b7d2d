package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/platform/logger"
	"github.com/phrazzld/mailpipe/internal/redact"
	"github.com/phrazzld/mailpipe/internal/store"
)

// ReaperConfig holds configuration for the stuck-task reaper.
type ReaperConfig struct {
	// Threshold is how long a task may stay PROCESSING before it is
	// considered abandoned.
	Threshold time.Duration

	// BaseRetryDelay is the first step of the exponential retry ladder.
	BaseRetryDelay time.Duration
}

// DefaultReaperConfig returns a ReaperConfig with reasonable defaults.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Threshold:      30 * time.Minute,
		BaseRetryDelay: 60 * time.Second,
	}
}

// StuckTaskReaper recovers tasks left PROCESSING by a crashed or hung
// worker by pushing them through the normal failure ladder.
type StuckTaskReaper struct {
	tasks      store.TaskStore
	aggregator GroupAggregator
	config     ReaperConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewStuckTaskReaper creates a StuckTaskReaper.
func NewStuckTaskReaper(
	tasks store.TaskStore,
	aggregator GroupAggregator,
	config ReaperConfig,
	log *slog.Logger,
) (*StuckTaskReaper, error) {
	switch {
	case tasks == nil:
		return nil, ErrNilTaskStore
	case aggregator == nil:
		return nil, ErrNilAggregator
	case log == nil:
		return nil, ErrNilLogger
	}

	defaults := DefaultReaperConfig()
	if config.Threshold <= 0 {
		config.Threshold = defaults.Threshold
	}
	if config.BaseRetryDelay <= 0 {
		config.BaseRetryDelay = defaults.BaseRetryDelay
	}

	return &StuckTaskReaper{
		tasks:      tasks,
		aggregator: aggregator,
		config:     config,
		logger:     log.With(slog.String("component", "stuck_task_reaper")),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// RunOnce fails every task that has been PROCESSING longer than the
// threshold and returns how many were recovered. A task that a live worker
// finished in the meantime is skipped.
func (r *StuckTaskReaper) RunOnce(ctx context.Context) (int, error) {
	log := logger.FromContextOrDefault(ctx, r.logger)
	now := r.now()

	stuck, err := r.tasks.FindStuck(ctx, now.Add(-r.config.Threshold))
	if err != nil {
		return 0, fmt.Errorf("failed to find stuck tasks: %w", err)
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	log.Info("found stuck tasks", slog.Int("count", len(stuck)))

	message := fmt.Sprintf("recovered stuck task: processing exceeded %s", r.config.Threshold)
	recovered := 0
	for _, t := range stuck {
		taskLog := log.With(slog.String("task_id", t.ID.String()))
		guard := store.GuardOf(t)

		if err := t.Fail(now, r.config.BaseRetryDelay, message); err != nil {
			taskLog.Error("failed to apply stuck task failure", slog.String("error", err.Error()))
			continue
		}

		if err := r.tasks.UpdateState(ctx, t, guard); err != nil {
			if errors.Is(err, store.ErrConflict) {
				taskLog.Debug("stuck task finished before recovery")
				continue
			}
			taskLog.Error("failed to reset stuck task", slog.String("error", redact.Error(err)))
			continue
		}

		recovered++
		taskLog.Warn("recovered stuck task",
			slog.String("status", string(t.Status)),
			slog.Int("attempts", t.Attempts))

		if t.Status == domain.TaskStatusFailed {
			if err := r.aggregator.Aggregate(ctx, t.EmailID); err != nil {
				taskLog.Error("failed to aggregate completion group", slog.String("error", redact.Error(err)))
			}
		}
	}

	return recovered, nil
}
