// Package scheduler triggers periodic sync runs from a cron expression.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SyncFunc runs one sync.
type SyncFunc func(ctx context.Context) error

// Config configures the scheduler.
type Config struct {
	// Spec is a standard 5-field cron expression or a descriptor such as
	// "@hourly" or "@every 30m". Empty disables scheduling.
	Spec string `yaml:"spec"`
	// Timeout bounds one run. Default: 10 minutes.
	Timeout time.Duration `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Minute
	}
}

// Enabled reports whether a spec is configured.
func (c Config) Enabled() bool { return c.Spec != "" }

// Scheduler runs a SyncFunc on a cron schedule. Overlapping runs are
// skipped.
type Scheduler struct {
	cron   *cron.Cron
	run    SyncFunc
	config Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. It fails when cfg.Spec does not parse.
func New(cfg Config, run SyncFunc, logger *slog.Logger) (*Scheduler, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := cron.ParseStandard(cfg.Spec); err != nil {
		return nil, fmt.Errorf("scheduler: parse %q: %w", cfg.Spec, err)
	}
	adapter := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		run:    run,
		config: cfg,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(cfg.Spec, s.tick); err != nil {
		return nil, fmt.Errorf("scheduler: add %q: %w", cfg.Spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.Timeout)
	defer cancel()
	start := time.Now()
	if err := s.run(ctx); err != nil {
		s.logger.Error("scheduler: sync failed", "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("scheduler: sync done", "duration", time.Since(start))
}

// Start begins scheduling in the background. Runs inherit ctx values but
// are cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.cron.Start()
	s.logger.Info("scheduler: started", "spec", s.config.Spec)
}

// Stop stops scheduling and waits for a running sync to return or for ctx
// to expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Next returns the next scheduled run time, or the zero time when the
// scheduler is not started.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("scheduler: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("scheduler: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
