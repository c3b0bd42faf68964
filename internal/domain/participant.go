package domain

import (
	"fmt"
	"time"
)

// Participant is one identity sharing or observing location within a session.
type Participant struct {
	SessionID     string
	ParticipantID string
	PersistentID  string
	Fingerprint   string
	Name          string

	Latitude  *float64
	Longitude *float64
	Accuracy  *float64

	Status          ParticipantStatus
	IsOnline        bool
	IsBackground    bool
	IsMobile        bool
	HasSharedBefore bool

	FirstSeen     time.Time
	LastUpdated   time.Time
	LastSeenAt    *time.Time
	SourceAddress string

	StayStartTime    *time.Time
	TotalStayMinutes int
	CurrentSpeed     float64
	IsMoving         bool

	Active bool
}

// HasLocation reports whether both coordinates are known.
func (p *Participant) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// Displayable reports whether the participant belongs in a snapshot.
func (p *Participant) Displayable() bool {
	return p.HasSharedBefore || p.IsOnline || p.Status == StatusWaiting
}

// DisplayName returns the stored name or the fallback derived from the id.
func (p *Participant) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return FallbackName(p.ParticipantID)
}

// StayMinutes is the live dwell time while online and sharing, otherwise the stored total.
func (p *Participant) StayMinutes(now time.Time) int {
	if p.StayStartTime != nil && p.IsOnline && p.Status == StatusSharing {
		// A start time ahead of now (clock skew) counts as no stay yet.
		if elapsed := now.Sub(*p.StayStartTime); elapsed > 0 {
			return int(elapsed / time.Minute)
		}
		return 0
	}
	return p.TotalStayMinutes
}

// View renders the participant as it appears in snapshots and deltas.
func (p *Participant) View(now time.Time) ParticipantView {
	v := ParticipantView{
		ParticipantID:   p.ParticipantID,
		Name:            p.DisplayName(),
		LastUpdated:     p.LastUpdated,
		LastSeenAt:      p.LastSeenAt,
		IsBackground:    p.IsBackground,
		IsOnline:        p.IsOnline,
		IsMobile:        p.IsMobile,
		Status:          p.Status,
		HasSharedBefore: p.HasSharedBefore,
		StayMinutes:     p.StayMinutes(now),
		CurrentSpeed:    p.CurrentSpeed,
		IsMoving:        p.IsMoving,
	}
	if p.HasLocation() {
		v.Latitude = p.Latitude
		v.Longitude = p.Longitude
		v.Accuracy = p.Accuracy
	}
	return v
}

// FallbackName is the display name of a participant who never set one.
func FallbackName(participantID string) string {
	prefix := participantID
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	return fmt.Sprintf("Participant %s", prefix)
}

// ParticipantView is the wire form of a participant.
type ParticipantView struct {
	ParticipantID   string            `json:"participant_id"`
	Name            string            `json:"participant_name"`
	Latitude        *float64          `json:"latitude"`
	Longitude       *float64          `json:"longitude"`
	Accuracy        *float64          `json:"accuracy"`
	LastUpdated     time.Time         `json:"last_updated"`
	LastSeenAt      *time.Time        `json:"last_seen_at"`
	IsBackground    bool              `json:"is_background"`
	IsOnline        bool              `json:"is_online"`
	IsMobile        bool              `json:"is_mobile"`
	Status          ParticipantStatus `json:"status"`
	HasSharedBefore bool              `json:"has_shared_before"`
	StayMinutes     int               `json:"stay_minutes"`
	CurrentSpeed    float64           `json:"current_speed"`
	IsMoving        bool              `json:"is_moving"`
}
