// Package retention hard-deletes tombstoned messages once they age past
// the configured period. Runs are driven by a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/store"
)

// Scheduler owns the background purge loop.
type Scheduler struct {
	store *store.Store
	cfg   config.RetentionConfig
}

func New(st *store.Store, cfg config.RetentionConfig) *Scheduler {
	return &Scheduler{store: st, cfg: cfg}
}

// Start launches the scheduler if retention is enabled. The returned
// cancel func stops the loop.
func (s *Scheduler) Start(ctx context.Context) (context.CancelFunc, error) {
	if !s.cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := s.cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", s.cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", s.cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", time.Duration(s.cfg.Period).String(), "dry_run", s.cfg.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go s.runScheduler(ctx2, cronExpr)
	return cancel, nil
}

// runScheduler sleeps until the next cron tick and fires a purge run.
func (s *Scheduler) runScheduler(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := s.RunOnce(ctx); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce purges tombstones older than the retention period, in batches,
// until none remain or ctx is canceled. With DryRun set it only reports
// what would be removed.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	period := time.Duration(s.cfg.Period)
	if period <= 0 {
		return fmt.Errorf("retention period must be positive")
	}
	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	cutoff := time.Now().UTC().Add(-period).UnixNano()

	var purged int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		tombs, err := s.store.ListTombstones(cutoff, batch)
		if err != nil {
			return fmt.Errorf("list tombstones: %w", err)
		}
		if len(tombs) == 0 {
			break
		}
		for _, t := range tombs {
			if s.cfg.DryRun {
				logger.Info("retention_would_purge", "conv", t.ConversationID, "msg", t.ID)
				continue
			}
			if err := s.store.HardDeleteMessage(t.ConversationID, t.ID); err != nil {
				return fmt.Errorf("purge %s/%d: %w", t.ConversationID, t.ID, err)
			}
			purged++
		}
		if s.cfg.DryRun || len(tombs) < batch {
			break
		}
	}
	logger.Info("retention_run_complete", "purged", purged, "cutoff", cutoff, "dry_run", s.cfg.DryRun)
	return nil
}
