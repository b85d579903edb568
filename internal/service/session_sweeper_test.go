package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingSweepStore struct{}

func (failingSweepStore) ExpireStale(context.Context, time.Time) (int64, error) {
	return 0, errors.New("db down")
}

func TestSessionSweeperExpiresStaleSessions(t *testing.T) {
	store := newFakeSessionStore()
	now := time.Now().UTC()
	stale := store.add("u1", "tok_old", now.Add(-time.Minute), now.Add(-time.Hour))
	live := store.add("u1", "tok_new", now.Add(time.Hour), now)

	metrics := NewMetricsService()
	sweeper, err := NewSessionSweeper(store, "@every 10m", zap.NewNop(), metrics)
	require.NoError(t, err)

	assert.Equal(t, int64(1), sweeper.RunOnce(context.Background()))
	assert.False(t, store.get(stale.ID).Active)
	assert.True(t, store.get(live.ID).Active)
	assert.Equal(t, uint64(1), metrics.Snapshot().SessionsExpired)

	assert.Equal(t, int64(0), sweeper.RunOnce(context.Background()))
}

func TestSessionSweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewSessionSweeper(newFakeSessionStore(), "every tuesday", nil, nil)
	assert.Error(t, err)
}

func TestSessionSweeperStoreFailure(t *testing.T) {
	sweeper, err := NewSessionSweeper(failingSweepStore{}, "*/5 * * * *", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sweeper.RunOnce(context.Background()))
}

func TestSessionSweeperStartStop(t *testing.T) {
	sweeper, err := NewSessionSweeper(newFakeSessionStore(), "@every 1h", nil, nil)
	require.NoError(t, err)

	require.NoError(t, sweeper.Start(context.Background()))
	require.NoError(t, sweeper.Start(context.Background()))
	sweeper.Stop()
	sweeper.Stop()
}
