package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Retention purges old audit records on a cron schedule.
type Retention struct {
	repo   *Repo
	keep   time.Duration
	cron   *cron.Cron
	now    func() time.Time
	logger *slog.Logger
}

// NewRetention schedules the purge. schedule uses six fields, seconds first.
func NewRetention(repo *Repo, schedule string, keep time.Duration, logger *slog.Logger) (*Retention, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retention{
		repo:   repo,
		keep:   keep,
		cron:   cron.New(cron.WithSeconds()),
		now:    time.Now,
		logger: logger,
	}
	if _, err := r.cron.AddFunc(schedule, func() { r.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("audit purge schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Retention) Start() { r.cron.Start() }

// Stop waits for a running purge to finish.
func (r *Retention) Stop() { <-r.cron.Stop().Done() }

func (r *Retention) RunOnce(ctx context.Context) int64 {
	if r.keep <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.keep)
	n, err := r.repo.Purge(ctx, cutoff)
	if err != nil {
		r.logger.Error("audit purge failed", "error", err)
		return 0
	}
	if n > 0 {
		r.logger.Info("audit purged", "rows", n, "before", cutoff)
	}
	return n
}
