// Package cron provides a periodic scheduler that starts focus sessions
// from due cron schedules in the persistence store.
package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/pinefield/focusd/internal/persistence"
	"github.com/pinefield/focusd/internal/session"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// StartRequest is the schedule payload: the session to start when a
// schedule fires.
type StartRequest struct {
	Mode    string   `json:"mode"`
	Minutes int      `json:"minutes"`
	Goals   []string `json:"goals,omitempty"`
}

// Launch starts the requested session. Wired to the session host at startup.
type Launch func(ctx context.Context, req StartRequest) error

// Config holds the dependencies for the cron scheduler.
type Config struct {
	Store    *persistence.Store
	Launch   Launch
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler periodically queries the store for due cron schedules and
// starts a session for each one.
type Scheduler struct {
	store    *persistence.Store
	launch   Launch
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		launch:   cfg.Launch,
		logger:   logger.With("component", "cron"),
		interval: interval,
	}
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

// loop is the main scheduler loop. It ticks at the configured interval,
// queries for due schedules, and fires each one.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediately on startup, then on each tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick queries for due schedules and fires each one.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("cron: failed to query due schedules", "error", err)
		return
	}
	for _, sched := range due {
		s.fire(ctx, sched, now)
	}
}

// fire starts the scheduled session and updates the schedule's run
// timestamps. A schedule that fires while a session is already active is
// skipped but still advanced, so it does not re-fire every tick.
func (s *Scheduler) fire(ctx context.Context, sched persistence.Schedule, now time.Time) {
	var req StartRequest
	if err := json.Unmarshal([]byte(sched.Payload), &req); err != nil {
		s.logger.Error("cron: bad schedule payload",
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
			"error", err,
		)
		return
	}

	err := s.launch(ctx, req)
	switch {
	case errors.Is(err, session.ErrSessionActive):
		s.logger.Info("cron: schedule skipped, session already active",
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
		)
	case err != nil:
		s.logger.Error("cron: failed to start scheduled session",
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
			"error", err,
		)
		return
	}

	nextRun, err := NextRunTime(sched.CronExpr, now)
	if err != nil {
		s.logger.Error("cron: failed to compute next run time",
			"schedule_id", sched.ID,
			"cron_expr", sched.CronExpr,
			"error", err,
		)
		return
	}

	if err := s.store.UpdateScheduleRun(ctx, sched.ID, now, nextRun); err != nil {
		s.logger.Error("cron: failed to update schedule run",
			"schedule_id", sched.ID,
			"error", err,
		)
		return
	}

	s.logger.Info("cron: schedule fired",
		"schedule_id", sched.ID,
		"schedule_name", sched.Name,
		"mode", req.Mode,
		"next_run_at", nextRun,
	)
}

// CreateSchedule validates the cron expression, computes the first run, and
// stores the schedule enabled.
func CreateSchedule(ctx context.Context, store *persistence.Store, name, cronExpr string, req StartRequest) error {
	if req.Minutes <= 0 {
		return fmt.Errorf("schedule %q: session length must be positive", name)
	}
	next, err := NextRunTime(cronExpr, time.Now())
	if err != nil {
		return fmt.Errorf("schedule %q: invalid cron expression %q: %w", name, cronExpr, err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("schedule %q: encode payload: %w", name, err)
	}
	return store.InsertSchedule(ctx, persistence.Schedule{
		Name:      name,
		CronExpr:  cronExpr,
		Payload:   string(payload),
		Enabled:   true,
		NextRunAt: &next,
	})
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
