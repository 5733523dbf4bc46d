package scheduler

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mamadbah2/wacrm/internal/config"
)

type fakeSweeper struct {
	cutoff  time.Time
	calls   int
	removed int
	err     error
}

func (f *fakeSweeper) Sweep(cutoff time.Time) (int, error) {
	f.calls++
	f.cutoff = cutoff
	return f.removed, f.err
}

func TestSweepMediaUsesRetentionCutoff(t *testing.T) {
	sweeper := &fakeSweeper{removed: 3}
	s, err := NewScheduler(config.RetentionConfig{MediaDays: 7, Schedule: "0 3 * * *"}, sweeper, nil)
	if err != nil {
		t.Fatalf("NewScheduler returned error: %v", err)
	}
	now := time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.sweepMedia()

	if sweeper.calls != 1 {
		t.Fatalf("calls = %d, want 1", sweeper.calls)
	}
	if want := now.AddDate(0, 0, -7); !sweeper.cutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", sweeper.cutoff, want)
	}
}

func TestSweepMediaLogsFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	sweeper := &fakeSweeper{err: errors.New("permission denied")}
	s, _ := NewScheduler(config.RetentionConfig{MediaDays: 1, Schedule: "@daily"}, sweeper, zap.New(core))

	s.sweepMedia()

	if logs.FilterMessage("failed to sweep media").Len() != 1 {
		t.Fatalf("expected sweep failure to be logged")
	}
}

func TestStartDisabledRetention(t *testing.T) {
	sweeper := &fakeSweeper{}
	s, _ := NewScheduler(config.RetentionConfig{MediaDays: 0}, sweeper, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	s.Stop()
	if len(s.cron.Entries()) != 0 {
		t.Fatalf("no job should be scheduled when retention is disabled")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s, _ := NewScheduler(config.RetentionConfig{MediaDays: 1, Schedule: "every tuesday"}, &fakeSweeper{}, nil)
	if err := s.Start(); err == nil {
		t.Fatalf("expected error for malformed schedule")
	}
}

func TestNewSchedulerRejectsUnknownTimezone(t *testing.T) {
	if _, err := NewScheduler(config.RetentionConfig{Timezone: "Mars/Olympus"}, nil, nil); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
}
