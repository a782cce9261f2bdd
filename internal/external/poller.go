package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"farmsight/internal/types"
)

// Default polling bounds: 30 attempts x 2s gives a ~60s ceiling per task.
const (
	DefaultPollMaxAttempts = 30
	DefaultPollInterval    = 2 * time.Second
)

// StatusSource issues a single task status request. EOSClient is the
// production implementation; tests substitute fakes.
type StatusSource interface {
	TaskStatus(ctx context.Context, taskID string) (*TaskStatusResponse, error)
}

// Poller drives a submitted provider task to a terminal state by repeated
// status requests. Each PollUntilDone call is independent; any number of poll
// loops may run concurrently, each suspending only its own goroutine.
//
// Transient status-request failures are tolerated: the error is swallowed and
// the loop continues, except on the final attempt where it propagates. An
// explicit provider failure is terminal immediately.
type Poller struct {
	source      StatusSource
	maxAttempts int
	interval    time.Duration
	logger      *slog.Logger
	sleepFn     func(ctx context.Context, d time.Duration) error
}

// PollerOption is a functional option for configuring a Poller.
type PollerOption func(*Poller)

// WithPollBounds overrides the attempt ceiling and the interval between
// attempts.
func WithPollBounds(maxAttempts int, interval time.Duration) PollerOption {
	return func(p *Poller) {
		if maxAttempts > 0 {
			p.maxAttempts = maxAttempts
		}
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithPollSleepFunc overrides the sleep function used between attempts.
// This is intended for testing to avoid real delays.
func WithPollSleepFunc(fn func(ctx context.Context, d time.Duration) error) PollerOption {
	return func(p *Poller) {
		p.sleepFn = fn
	}
}

// NewPoller creates a Poller over the given status source.
func NewPoller(source StatusSource, logger *slog.Logger, opts ...PollerOption) *Poller {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Poller{
		source:      source,
		maxAttempts: DefaultPollMaxAttempts,
		interval:    DefaultPollInterval,
		logger:      logger,
		sleepFn:     sleepContext,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// PollUntilDone polls the task until it completes, fails, or the attempt
// ceiling is reached. On completion it returns the final status payload.
//
// Terminal outcomes:
//   - completed: the payload is returned immediately, no further waiting.
//   - failed: a task_failed AppError carrying the provider's reason, no retry.
//   - attempts exhausted: a task_poll_timeout AppError.
//   - context cancelled during a sleep: ctx.Err() propagates.
func (p *Poller) PollUntilDone(ctx context.Context, taskID string) (json.RawMessage, error) {
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		status, err := p.source.TaskStatus(ctx, taskID)
		if err != nil {
			// Tolerate transient polling failures; only the final attempt
			// propagates the error.
			if attempt == p.maxAttempts-1 {
				return nil, err
			}
			p.logger.WarnContext(ctx, "task status request failed, will retry",
				"task_id", taskID,
				"attempt", attempt+1,
				"error", err,
			)
			if serr := p.sleepFn(ctx, p.interval); serr != nil {
				return nil, serr
			}
			continue
		}

		switch status.Status {
		case TaskStatusCompleted:
			return status.Raw, nil
		case TaskStatusFailed:
			reason := status.Error
			if reason == "" {
				reason = "Unknown error"
			}
			return nil, types.NewAppError(
				types.ErrCodeTaskFailed,
				fmt.Sprintf("EOS task failed: %s", reason),
				nil,
			)
		}

		// Pending or an unrecognized status: keep waiting.
		if attempt < p.maxAttempts-1 {
			if serr := p.sleepFn(ctx, p.interval); serr != nil {
				return nil, serr
			}
		}
	}

	return nil, types.NewAppErrorWithDetails(
		types.ErrCodeTaskPollTimeout,
		fmt.Sprintf("EOS task timeout after %d attempts", p.maxAttempts),
		nil,
		map[string]any{"task_id": taskID, "max_attempts": p.maxAttempts},
	)
}

// sleepContext blocks for d or until the context is cancelled, whichever
// comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
