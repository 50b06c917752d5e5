package utils

import (
	"context"
	"fmt"
	"time"

	"card-market-tracker/src/logger"

	"github.com/robfig/cron/v3"
)

// RefreshScheduler fires the daily refresh on a cron expression in a fixed timezone.
type RefreshScheduler struct {
	cron   *cron.Cron
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

// NewRefreshScheduler registers job at spec (standard 5-field cron) in timezone.
// The job receives the UTC calendar day of the firing.
func NewRefreshScheduler(spec, timezone string, job func(ctx context.Context, asOf string), l *logger.Logger) (*RefreshScheduler, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule timezone %q: %w", timezone, err)
		}
	}

	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(spec, func() {
		asOf := Today()
		l.Info("Scheduled refresh firing for %s", asOf)
		job(context.Background(), asOf)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid refresh cron %q: %w", spec, err)
	}

	return &RefreshScheduler{cron: c, Logger: l}, nil
}

// -----------------------------------------------------------------------------

func (rs *RefreshScheduler) Start() {
	rs.cron.Start()
	for _, e := range rs.cron.Entries() {
		rs.Logger.Info("Next scheduled refresh at %s", e.Next.Format(time.RFC3339))
	}
}

// -----------------------------------------------------------------------------

// Stop waits for a running job to return or ctx to expire.
func (rs *RefreshScheduler) Stop(ctx context.Context) {
	done := rs.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		rs.Logger.Warning("Scheduler stop timed out while a refresh was still running")
	}
}
