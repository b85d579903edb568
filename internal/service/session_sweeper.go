package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type staleSessionStore interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// SessionSweeper periodically flips mirrored sessions past their expiry to
// inactive.
type SessionSweeper struct {
	store    staleSessionStore
	schedule string
	logger   *zap.Logger
	metrics  *MetricsService
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSessionSweeper validates schedule, a standard cron expression or an
// @every descriptor.
func NewSessionSweeper(store staleSessionStore, schedule string, logger *zap.Logger, metrics *MetricsService) (*SessionSweeper, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionSweeper{
		store:    store,
		schedule: schedule,
		logger:   logger,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start schedules the sweep. It is safe to call Start multiple times.
func (s *SessionSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("session sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *SessionSweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// RunOnce performs a single sweep and returns the number of sessions expired.
func (s *SessionSweeper) RunOnce(ctx context.Context) int64 {
	n, err := s.store.ExpireStale(ctx, s.now())
	if err != nil {
		s.logger.Warn("session sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		s.logger.Info("expired stale sessions", zap.Int64("count", n))
	}
	s.metrics.AddExpiredSessions(n)
	return n
}
