package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/tests/helpers"
)

func TestSweepExpiresSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expired := helpers.CreateTestSession(t, f.store, -time.Minute)
	_, _, err := f.svc.Upsert(ctx, expired.ID, newID(), Patch{IsOnline: ptr(true)})
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, f.session.ID, JoinRequest{ParticipantID: newID()})
	require.NoError(t, err)

	res, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, &domain.SweepResult{DeactivatedSessions: 1, ExpiredLocationRows: 1}, res)

	session, err := f.svc.GetSession(ctx, expired.ID)
	require.NoError(t, err)
	assert.False(t, session.Active)

	entries, err := f.svc.AuditLog(ctx, expired.ID, 10)
	require.NoError(t, err)
	var actions []domain.AuditAction
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, domain.AuditExpired)

	n, err := f.svc.ParticipantCount(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "live sessions keep their participants")

	res, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.DeactivatedSessions, "sweeps are idempotent")
}

func TestSweepRetention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	long := helpers.CreateTestSession(t, f.store, 60*24*time.Hour)
	ghost, waiting := newID(), newID()
	_, err := f.svc.ReportLocation(ctx, long.ID, LocationReport{ParticipantID: ghost, Latitude: 35.0, Longitude: 135.0})
	require.NoError(t, err)
	_, err = f.svc.GoOffline(ctx, long.ID, ghost)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, long.ID, JoinRequest{ParticipantID: waiting})
	require.NoError(t, err)

	f.clock.Advance(8 * 24 * time.Hour)
	res, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.StaleOfflineRows)
	assert.Zero(t, res.OldAuditRows)

	p, err := f.svc.Participant(ctx, long.ID, waiting)
	require.NoError(t, err)
	assert.NotNil(t, p, "online participants are never swept")

	f.clock.Advance(23 * 24 * time.Hour)
	res, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Positive(t, res.OldAuditRows)
}

func TestRunCleanupSweeperStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.svc.config.SweepInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunCleanupSweeper(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
