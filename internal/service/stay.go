package service

import (
	"time"

	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/geo"
)

// StayTimer tracks how long a participant has stayed within Threshold meters of one point.
// Elapsed time always comes from the stored anchor, never from client clocks.
type StayTimer struct {
	Threshold float64
}

// Track handles a new position. Moving Threshold meters or more starts a new stay point.
func (t StayTimer) Track(p *domain.Participant, lat, lon float64, now time.Time) {
	if !p.HasLocation() {
		t.Reset(p, now)
		return
	}
	if geo.Distance(*p.Latitude, *p.Longitude, lat, lon) >= t.Threshold {
		t.Reset(p, now)
		return
	}
	if p.StayStartTime == nil {
		p.StayStartTime = ptr(now)
		p.TotalStayMinutes = 0
		return
	}
	p.TotalStayMinutes = elapsedMinutes(*p.StayStartTime, now)
}

// Refresh recomputes the total from the anchor while the participant is sharing.
func (t StayTimer) Refresh(p *domain.Participant, now time.Time) {
	if p.Status != domain.StatusSharing || p.StayStartTime == nil {
		return
	}
	p.TotalStayMinutes = elapsedMinutes(*p.StayStartTime, now)
}

// Reset starts a new stay point at now.
func (t StayTimer) Reset(p *domain.Participant, now time.Time) {
	p.StayStartTime = ptr(now)
	p.TotalStayMinutes = 0
}

// Add applies a client-supplied increment. The next anchor recomputation overrides it.
func (t StayTimer) Add(p *domain.Participant, minutes int) {
	p.TotalStayMinutes += minutes
	if p.TotalStayMinutes < 0 {
		p.TotalStayMinutes = 0
	}
}

func elapsedMinutes(start, now time.Time) int {
	if now.Before(start) {
		return 0
	}
	return int(now.Sub(start) / time.Minute)
}
