// Package maintenance runs periodic ledger housekeeping: pruning old
// transactions and compacting the database file. Unlike the dashboard's
// second-scale polling this is calendar work, so it rides on cron specs
// ("@daily", "@every 6h", "0 3 * * *").
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"peillute/internal/storage"
	logx "peillute/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string        // cron spec or descriptor
	Keep     time.Duration // retention window; 0 disables pruning
}

type Service struct {
	log   logx.Logger
	cfg   Config
	store *storage.Store

	mu sync.Mutex
	c  *cron.Cron
}

func New(cfg Config, store *storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, cfg: cfg, store: store}
}

// Start registers the housekeeping job and starts the cron runner.
// Disabled services start as a no-op.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		s.log.Debug("maintenance disabled")
		return nil
	}
	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		spec = "@daily"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return errors.New("maintenance: already started")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(spec, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("maintenance run failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: bad schedule %q: %w", spec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("maintenance started", logx.String("schedule", spec), logx.Duration("keep", s.cfg.Keep))
	return nil
}

// Stop halts the cron runner and waits for a running job to finish.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// job keeps finishing in the background
	}
	s.log.Debug("maintenance stopped")
}

// RunOnce performs one housekeeping pass: prune outside the retention
// window (if configured), then vacuum.
func (s *Service) RunOnce(ctx context.Context) error {
	start := time.Now()
	var pruned int64
	if s.cfg.Keep > 0 {
		n, err := s.store.PruneBefore(ctx, time.Now().Add(-s.cfg.Keep))
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		pruned = n
	}
	if err := s.store.Vacuum(ctx); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	s.log.Info("maintenance completed",
		logx.Int64("pruned", pruned), logx.Duration("took", time.Since(start)))
	return nil
}
