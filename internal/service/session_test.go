package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/errs"
	"github.com/xiaot623/gogo/locshare/tests/helpers"
)

func TestCreateSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.CreateSession(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultDurationMinutes, session.DurationMinutes)
	assert.Equal(t, 30*time.Minute, session.ExpiresAt.Sub(session.CreatedAt))
	assert.True(t, session.Active)

	got, err := f.svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	entries, err := f.svc.AuditLog(ctx, session.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditCreated, entries[0].Action)

	_, err = f.svc.CreateSession(ctx, 7)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestGetSessionErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetSession(ctx, "not-a-uuid")
	assert.True(t, errors.Is(err, errs.ErrInvalidSessionID))

	_, err = f.svc.GetSession(ctx, newID())
	assert.True(t, errors.Is(err, errs.ErrSessionNotFound))
}

func TestRequireActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.RequireActive(ctx, f.session.ID)
	require.NoError(t, err)
	assert.False(t, f.svc.IsExpired(session))

	f.clock.Advance(2 * time.Hour)
	session, err = f.svc.RequireActive(ctx, f.session.ID)
	assert.True(t, errors.Is(err, errs.ErrSessionExpired))
	require.NotNil(t, session, "expired sessions are still returned")
	assert.True(t, f.svc.IsExpired(session))
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Join(ctx, f.session.ID, JoinRequest{ParticipantID: newID()})
	require.NoError(t, err)
	helpers.CreateTestSession(t, f.store, -time.Minute)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 1, stats.OnlineParticipants)
}
