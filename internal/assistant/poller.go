package assistant

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPollInterval = time.Second
	defaultPollMaxTicks = 60
)

// RunState is the poller's view of a run after mapping service statuses.
type RunState string

const (
	RunStateQueued         RunState = "queued"
	RunStateInProgress     RunState = "in_progress"
	RunStateRequiresAction RunState = "requires_action"
	RunStateCompleted      RunState = "completed"
	RunStateFailed         RunState = "failed"
	RunStateTimedOut       RunState = "timed_out"
)

// RunChecker reports the current status of an asynchronous run.
type RunChecker interface {
	PollRun(ctx context.Context, threadID, runID string) (RunStatus, error)
}

// PollerConfig configures the bounded run-completion poll loop.
type PollerConfig struct {
	Interval time.Duration
	MaxTicks int
	Sleep    func(time.Duration)
	Logger   *zap.Logger
}

// Poller waits for a run to reach a terminal state, bounded by a fixed tick
// count with a fixed interval between polls. No backoff, no retry.
type Poller struct {
	interval time.Duration
	maxTicks int
	sleep    func(time.Duration)
	logger   *zap.Logger
}

// NewPoller constructs a Poller with sane defaults.
func NewPoller(cfg PollerConfig) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxTicks := cfg.MaxTicks
	if maxTicks <= 0 {
		maxTicks = defaultPollMaxTicks
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		interval: interval,
		maxTicks: maxTicks,
		sleep:    sleep,
		logger:   logger,
	}
}

// Await polls the run until it reaches a terminal state or the tick ceiling.
// A transport error while polling exits immediately as RunStateFailed. Await
// never returns an error: failures surface as states for the caller to turn
// into reply text.
func (p *Poller) Await(ctx context.Context, runs RunChecker, threadID, runID string) RunState {
	for tick := 0; tick < p.maxTicks; tick++ {
		status, err := runs.PollRun(ctx, threadID, runID)
		if err != nil {
			p.logger.Warn("run poll failed",
				zap.String("thread_id", threadID),
				zap.String("run_id", runID),
				zap.Int("tick", tick),
				zap.Error(err))
			return RunStateFailed
		}

		switch status {
		case RunStatusCompleted:
			return RunStateCompleted
		case RunStatusFailed, RunStatusCancelled, RunStatusExpired:
			return RunStateFailed
		}

		// queued, in_progress and requires_action are all re-polled; no
		// tool-output submission is implemented.
		if tick < p.maxTicks-1 {
			p.sleep(p.interval)
		}
	}

	p.logger.Warn("run poll exceeded tick ceiling",
		zap.String("thread_id", threadID),
		zap.String("run_id", runID),
		zap.Int("max_ticks", p.maxTicks))
	return RunStateTimedOut
}
