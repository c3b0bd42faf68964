package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/scheduler"
)

func sharingParticipant(t *testing.T, f *fixture, name string) string {
	t.Helper()
	pid := newID()
	_, err := f.svc.ReportLocation(context.Background(), f.session.ID, LocationReport{
		ParticipantID: pid,
		Name:          name,
		Latitude:      35.0,
		Longitude:     135.0,
	})
	require.NoError(t, err)
	return pid
}

func offlineTask(t *testing.T, sid, pid string, delay, margin time.Duration) scheduler.Task {
	t.Helper()
	payload, err := json.Marshal(offlineCheck{SessionID: sid, ParticipantID: pid, Delay: delay, Margin: margin})
	require.NoError(t, err)
	return scheduler.Task{Type: TaskOfflineCheck, Key: participantKey(sid, pid), Payload: payload}
}

func TestDisconnectSchedulesOfflineCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session.ID
	pid := sharingParticipant(t, f, "Alice")

	p, err := f.svc.Disconnect(ctx, sid, pid, DisconnectAbnormal, false)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.IsOnline)
	assert.True(t, p.IsBackground)
	assert.Equal(t, "Alice", p.Name)
	assert.True(t, f.sched.Pending(participantKey(sid, pid)))
}

func TestDisconnectAfterLeaveSchedulesNothing(t *testing.T) {
	f := newFixture(t)
	sid := f.session.ID
	pid := sharingParticipant(t, f, "Alice")

	p, err := f.svc.Disconnect(context.Background(), sid, pid, DisconnectLeave, false)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.False(t, f.sched.Pending(participantKey(sid, pid)))

	p, err = f.svc.Disconnect(context.Background(), sid, "", DisconnectAbnormal, false)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestOfflineDelay(t *testing.T) {
	f := newFixture(t)

	delay, margin := f.svc.offlineDelay(DisconnectAbnormal, false)
	assert.Equal(t, 2*time.Minute, delay)
	assert.Equal(t, 30*time.Second, margin)

	delay, _ = f.svc.offlineDelay(DisconnectAbnormal, true)
	assert.Equal(t, 5*time.Minute, delay)

	delay, margin = f.svc.offlineDelay(DisconnectPageClose, true)
	assert.Equal(t, 12*time.Hour, delay)
	assert.Equal(t, time.Minute, margin)
}

func TestOfflineCheckCommitsStaleParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session.ID
	pid := sharingParticipant(t, f, "Alice")

	_, err := f.svc.Disconnect(ctx, sid, pid, DisconnectAbnormal, false)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.svc.HandleOfflineCheck(ctx, offlineTask(t, sid, pid, 2*time.Minute, 30*time.Second)))

	p, err := f.svc.Participant(ctx, sid, pid)
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
	assert.Equal(t, domain.StatusStopped, p.Status)
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, []string{sid}, f.notifier.sessions)
}

func TestOfflineCheckSkips(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, f *fixture, pid string)
		advance time.Duration
	}{
		{
			name:    "recently updated",
			advance: time.Minute,
		},
		{
			name:    "live connection",
			advance: 3 * time.Minute,
			prepare: func(t *testing.T, f *fixture, pid string) {
				f.presence.live[participantKey(f.session.ID, pid)] = true
			},
		},
		{
			name:    "waiting",
			advance: 3 * time.Minute,
			prepare: func(t *testing.T, f *fixture, pid string) {
				_, err := f.svc.StopSharing(context.Background(), f.session.ID, pid, "")
				require.NoError(t, err)
			},
		},
		{
			name:    "already offline",
			advance: 3 * time.Minute,
			prepare: func(t *testing.T, f *fixture, pid string) {
				_, err := f.svc.GoOffline(context.Background(), f.session.ID, pid)
				require.NoError(t, err)
			},
		},
		{
			name:    "left",
			advance: 3 * time.Minute,
			prepare: func(t *testing.T, f *fixture, pid string) {
				require.NoError(t, f.svc.Leave(context.Background(), f.session.ID, pid))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			sid := f.session.ID
			pid := sharingParticipant(t, f, "Alice")
			if tt.prepare != nil {
				tt.prepare(t, f, pid)
			}
			before, err := f.svc.Participant(ctx, sid, pid)
			require.NoError(t, err)

			f.clock.Advance(tt.advance)
			committed, err := f.svc.commitOffline(ctx, offlineCheck{
				SessionID:     sid,
				ParticipantID: pid,
				Delay:         2 * time.Minute,
				Margin:        30 * time.Second,
			})
			require.NoError(t, err)
			assert.False(t, committed)

			after, err := f.svc.Participant(ctx, sid, pid)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestOfflineCheckDropsMalformedPayload(t *testing.T) {
	f := newFixture(t)

	err := f.svc.HandleOfflineCheck(context.Background(), scheduler.Task{Type: TaskOfflineCheck, Payload: []byte("{")})
	assert.NoError(t, err)
	assert.Empty(t, f.notifier.sessions)
}
