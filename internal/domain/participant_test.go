package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParticipantDisplayable(t *testing.T) {
	assert.True(t, (&Participant{Status: StatusWaiting}).Displayable())
	assert.True(t, (&Participant{Status: StatusStopped, IsOnline: true}).Displayable())
	assert.True(t, (&Participant{Status: StatusStopped, HasSharedBefore: true}).Displayable())
	assert.False(t, (&Participant{Status: StatusStopped}).Displayable())
}

func TestStayMinutes(t *testing.T) {
	now := time.Now()
	start := now.Add(-7*time.Minute - 30*time.Second)

	sharing := &Participant{Status: StatusSharing, IsOnline: true, StayStartTime: &start, TotalStayMinutes: 2}
	assert.Equal(t, 7, sharing.StayMinutes(now))

	offline := &Participant{Status: StatusSharing, IsOnline: false, StayStartTime: &start, TotalStayMinutes: 2}
	assert.Equal(t, 2, offline.StayMinutes(now))

	ahead := now.Add(3 * time.Minute)
	skewed := &Participant{Status: StatusSharing, IsOnline: true, StayStartTime: &ahead}
	assert.Zero(t, skewed.StayMinutes(now), "a future start never yields negative minutes")
}

func TestViewHidesPartialLocation(t *testing.T) {
	lat := 35.0
	p := &Participant{ParticipantID: "abcdef", Latitude: &lat}
	v := p.View(time.Now())
	assert.Nil(t, v.Latitude)
	assert.Equal(t, "Participant abcd", v.Name)
}

func TestNormalizeNotificationLevel(t *testing.T) {
	assert.Equal(t, NotificationDanger, NormalizeNotificationLevel("danger"))
	assert.Equal(t, NotificationInfo, NormalizeNotificationLevel("critical"))
}

func TestSessionIsExpired(t *testing.T) {
	now := time.Now()
	s := &Session{Active: true, ExpiresAt: now.Add(time.Minute)}
	assert.False(t, s.IsExpired(now))
	assert.True(t, s.IsExpired(now.Add(2*time.Minute)))
	s.Active = false
	assert.True(t, s.IsExpired(now))
}
