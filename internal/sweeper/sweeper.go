package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Expirer moves purchases past their expiry date to Expired.
type Expirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper runs the expiry job on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	expirer Expirer
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// New schedules expirer on spec (standard five-field cron or @every descriptors).
func New(spec string, expirer Expirer, logger *slog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		expirer: expirer,
		logger:  logger.With("component", "sweeper"),
		timeout: 5 * time.Minute,
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return nil, fmt.Errorf("schedule expiry sweep %q: %w", spec, err)
	}
	return s, nil
}

// RunOnce expires overdue purchases a single time.
func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := s.now()
	count, err := s.expirer.ExpireDue(ctx, start.UTC())
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
		return
	}
	s.logger.Info("expiry sweep finished", "expired", count, "took", time.Since(start).String())
}

// Start begins scheduling in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("expiry sweeper started")
}

// Stop halts scheduling and waits for a running sweep up to ctx's deadline.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("expiry sweeper stopped")
	case <-ctx.Done():
		s.logger.Warn("expiry sweeper forced to stop")
	}
}
