package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/wacrm/internal/config"
)

// Sweeper deletes materialized media older than a cutoff.
type Sweeper interface {
	Sweep(cutoff time.Time) (int, error)
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron      *cron.Cron
	sweeper   Sweeper
	cfg       config.RetentionConfig
	logger    *zap.Logger
	now       func() time.Time
	scheduled bool
}

// NewScheduler creates a new scheduler instance. Jobs run in cfg.Timezone.
func NewScheduler(cfg config.RetentionConfig, sweeper Sweeper, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %s: %w", cfg.Timezone, err)
		}
		loc = l
	}

	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		sweeper: sweeper,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Start registers the media sweep and starts the cron loop. Retention of
// zero days leaves the scheduler idle.
func (s *Scheduler) Start() error {
	if s.cfg.MediaDays <= 0 || s.sweeper == nil {
		s.logger.Info("media retention disabled")
		return nil
	}

	s.logger.Info("starting scheduler",
		zap.String("schedule", s.cfg.Schedule),
		zap.Int("retention_days", s.cfg.MediaDays))

	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.sweepMedia); err != nil {
		return fmt.Errorf("schedule media sweep: %w", err)
	}
	s.scheduled = true
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	if !s.scheduled {
		return
	}
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sweepMedia() {
	cutoff := s.now().Add(-time.Duration(s.cfg.MediaDays) * 24 * time.Hour)

	removed, err := s.sweeper.Sweep(cutoff)
	if err != nil {
		s.logger.Error("failed to sweep media", zap.Error(err), zap.Int("removed", removed))
		return
	}
	s.logger.Info("media sweep finished", zap.Int("removed", removed), zap.Time("cutoff", cutoff))
}
