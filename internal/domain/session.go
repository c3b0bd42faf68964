package domain

import "time"

// AllowedDurations lists the session lengths, in minutes, that may be requested.
var AllowedDurations = []int{15, 30, 60, 120, 240, 480, 720}

// DefaultDurationMinutes is used when a create request names no duration.
const DefaultDurationMinutes = 30

// IsAllowedDuration reports whether minutes is one of AllowedDurations.
func IsAllowedDuration(minutes int) bool {
	for _, d := range AllowedDurations {
		if d == minutes {
			return true
		}
	}
	return false
}

// Session is a time-bounded sharing room.
type Session struct {
	ID              string    `json:"session_id"`
	DurationMinutes int       `json:"duration_minutes"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	Active          bool      `json:"is_active"`
}

// IsExpired reports whether the session no longer accepts mutations at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.Active || now.After(s.ExpiresAt)
}

// Stats summarizes current activity.
type Stats struct {
	ActiveSessions     int       `json:"active_sessions_count"`
	OnlineParticipants int       `json:"online_participants_count"`
	Timestamp          time.Time `json:"timestamp"`
}
