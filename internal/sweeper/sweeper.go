// Package sweeper deletes task and event log rows past their retention on
// a cron schedule.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/insurance-ai/backoffice/internal/metrics"
	"github.com/robfig/cron/v3"
)

// DefaultRetention is how long finished rows are kept.
const DefaultRetention = 30 * 24 * time.Hour

// DefaultSchedule runs the sweep once a day at midnight UTC.
const DefaultSchedule = "@daily"

// Pruner deletes rows created before cutoff and returns how many it removed.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Target is one table the sweeper prunes.
type Target struct {
	Name   string
	Pruner Pruner
}

// Config holds sweeper settings.
type Config struct {
	// Schedule is a cron spec or descriptor such as "@daily".
	Schedule  string
	Retention time.Duration
}

// Sweeper periodically prunes its targets.
type Sweeper struct {
	targets []Target
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a Sweeper. Zero config fields take the defaults.
func New(config Config, logger *slog.Logger, m *metrics.Metrics, targets ...Target) *Sweeper {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	return &Sweeper{
		targets: targets,
		config:  config,
		logger:  logger.With("component", "sweeper"),
		metrics: m,
		now:     time.Now,
	}
}

// Sweep deletes rows older than the retention from every target and
// returns the total removed. A failing target does not stop the others.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.config.Retention)

	var total int64
	var errs []error
	for _, t := range s.targets {
		n, err := t.Pruner.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			s.logger.ErrorContext(ctx, "sweep failed", "table", t.Name, "cutoff", cutoff, "error", err)
			errs = append(errs, fmt.Errorf("failed to sweep %s: %w", t.Name, err))
			continue
		}
		s.metrics.SweeperDeleted(t.Name, n)
		total += n
		if n > 0 {
			s.logger.InfoContext(ctx, "swept expired rows", "table", t.Name, "deleted", n, "cutoff", cutoff)
		}
	}
	return total, errors.Join(errs...)
}

// Start schedules Sweep. It returns an error for an invalid schedule.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("sweeper already started")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(s.config.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Warn("scheduled sweep incomplete", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweeper schedule %q: %w", s.config.Schedule, err)
	}

	c.Start()
	s.cron = c
	s.logger.Info("sweeper started",
		"schedule", s.config.Schedule,
		"retention", s.config.Retention)
	return nil
}

// Stop unschedules the sweep and waits for a running one to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
}
