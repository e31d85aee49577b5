// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package worker

import (
	"context"
	"log/slog"
	"time"
)

// Runner is one schedulable invocation. *Worker implements it.
type Runner interface {
	Run(ctx context.Context) (*RunSummary, error)
}

// Scheduler invokes a Runner on a fixed interval. Runs happen one at a time
// on the scheduler's goroutine; ticks that arrive while a run is in progress
// are coalesced.
type Scheduler struct {
	runner     Runner
	interval   time.Duration
	hardLimit  time.Duration
	runOnStart bool
	logger     *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithRunOnStart makes the scheduler run once immediately instead of
// waiting for the first tick.
func WithRunOnStart() SchedulerOption {
	return func(s *Scheduler) { s.runOnStart = true }
}

// WithSchedulerLogger sets a custom logger.
// Default is slog.Default().
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler creates a Scheduler that starts runner every interval and
// gives each run hardLimit to finish.
func NewScheduler(runner Runner, interval, hardLimit time.Duration, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		runner:    runner,
		interval:  interval,
		hardLimit: hardLimit,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// Start runs until ctx is done. Run errors are logged; they never stop the
// schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "hard_limit", s.hardLimit)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStart {
		s.runOnce(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, s.hardLimit)
	defer cancel()

	if _, err := s.runner.Run(runCtx); err != nil {
		s.logger.Error("worker run failed", "err", err)
	}
}
