// Package scheduler drives continuous mode: each cron tick starts a full run.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based triggering of runs.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field parser plus descriptors such as "@every 5m".
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	c.Start()
	return &Scheduler{cron: c}
}

// Validate reports whether expr is a schedule AddJob would accept.
func Validate(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// AddJob schedules a task using the provided cron expression.
// A tick that fires while the previous one is still running is skipped.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Run schedules task and blocks until ctx is done, then waits for the
// in-flight task to finish.
func (s *Scheduler) Run(ctx context.Context, expr string, task func(context.Context)) error {
	if err := s.AddJob(expr, func() { task(ctx) }); err != nil {
		return err
	}
	slog.Info("Scheduler.Run: continuous mode started", "schedule", expr)
	<-ctx.Done()
	s.Stop()
	slog.Info("Scheduler.Run: stopped")
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
