package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/locshare/internal/domain"
)

func TestMergeNewParticipantDefaults(t *testing.T) {
	now := time.Now().UTC()
	p := merge(nil, "s", "p", Patch{}, now, StayTimer{Threshold: 30})

	assert.Equal(t, domain.StatusWaiting, p.Status)
	assert.True(t, p.IsOnline)
	assert.True(t, p.Active)
	assert.Equal(t, now, p.FirstSeen)
	assert.Equal(t, now, p.LastUpdated)
	require.NotNil(t, p.LastSeenAt)
	assert.False(t, p.HasSharedBefore)
}

func TestMergeNameRules(t *testing.T) {
	now := time.Now().UTC()
	existing := &domain.Participant{SessionID: "s", ParticipantID: "p", Name: "Alice", Status: domain.StatusSharing}

	p := merge(existing, "s", "p", Patch{Name: ptr("")}, now, StayTimer{})
	assert.Equal(t, "Alice", p.Name, "blank names do not overwrite")

	p = merge(existing, "s", "p", Patch{Name: ptr("Bob")}, now, StayTimer{})
	assert.Equal(t, "Bob", p.Name)

	p = merge(existing, "s", "p", Patch{Name: ptr("Bob"), Preserve: []Field{FieldName}}, now, StayTimer{})
	assert.Equal(t, "Alice", p.Name, "preserved names keep the stored value")

	blank := &domain.Participant{SessionID: "s", ParticipantID: "p"}
	p = merge(blank, "s", "p", Patch{Name: ptr("Bob"), Preserve: []Field{FieldName}}, now, StayTimer{})
	assert.Equal(t, "Bob", p.Name, "preserve fills a blank stored value")

	assert.Equal(t, "Alice", existing.Name, "merge never mutates the stored row")
}

func TestMergeSharedBeforeIsSticky(t *testing.T) {
	now := time.Now().UTC()
	p := merge(nil, "s", "p", Patch{Status: ptr(domain.StatusSharing)}, now, StayTimer{})
	require.True(t, p.HasSharedBefore)

	p = merge(p, "s", "p", Patch{Status: ptr(domain.StatusWaiting)}, now, StayTimer{})
	assert.Equal(t, domain.StatusWaiting, p.Status)
	assert.True(t, p.HasSharedBefore)
}

func TestMergeLocation(t *testing.T) {
	now := time.Now().UTC()
	p := merge(nil, "s", "p", Patch{Latitude: ptr(35.0), Longitude: ptr(135.0), Accuracy: ptr(5.0)}, now, StayTimer{})
	require.True(t, p.HasLocation())
	assert.Equal(t, 5.0, *p.Accuracy)

	// a half-specified fix is ignored
	q := merge(p, "s", "p", Patch{Latitude: ptr(1.0)}, now, StayTimer{})
	assert.Equal(t, 35.0, *q.Latitude)

	q = merge(p, "s", "p", Patch{ClearLocation: true}, now, StayTimer{})
	assert.False(t, q.HasLocation())
	assert.Nil(t, q.Accuracy)

	q = merge(p, "s", "p", Patch{ClearLocation: true, Preserve: []Field{FieldLocation}}, now, StayTimer{})
	assert.True(t, q.HasLocation())
}

func TestMergeKeepLastUpdated(t *testing.T) {
	t0 := time.Now().UTC()
	p := merge(nil, "s", "p", Patch{KeepLastUpdated: true}, t0, StayTimer{})
	assert.Equal(t, t0, p.LastUpdated, "new rows always get last_updated")

	t1 := t0.Add(time.Minute)
	q := merge(p, "s", "p", Patch{KeepLastUpdated: true}, t1, StayTimer{})
	assert.Equal(t, t0, q.LastUpdated)
	assert.Equal(t, t1, *q.LastSeenAt)
}

func TestMergeKeepsFirstSeen(t *testing.T) {
	t0 := time.Now().UTC()
	p := merge(nil, "s", "p", Patch{}, t0, StayTimer{})
	q := merge(p, "s", "p", Patch{IsOnline: ptr(false)}, t0.Add(time.Hour), StayTimer{})
	assert.Equal(t, t0, q.FirstSeen)
	assert.False(t, q.IsOnline)
}
