package service

import (
	"time"

	"github.com/xiaot623/gogo/locshare/internal/domain"
)

// Field is a mergeable group of participant columns.
type Field int

const (
	FieldName Field = iota
	FieldPersistentID
	FieldFingerprint
	FieldSourceAddress
	FieldStatus
	FieldLocation
	FieldOnline
	FieldBackground
	FieldMobile
	FieldMotion
	FieldSharedBefore
	FieldStay
)

// Rule decides how a patch value combines with the stored one.
type Rule int

const (
	// Overwrite replaces the stored value whenever the patch carries one.
	Overwrite Rule = iota
	// PreserveIfBlank replaces the stored value unless the patch value is blank.
	PreserveIfBlank
	// PreserveAlways keeps a stored value and only fills a blank one.
	PreserveAlways
	// Recompute derives the value from the stored row and the patch.
	Recompute
)

// mergePolicy is the single table every upsert goes through.
var mergePolicy = map[Field]Rule{
	FieldName:          PreserveIfBlank,
	FieldPersistentID:  PreserveIfBlank,
	FieldFingerprint:   PreserveIfBlank,
	FieldSourceAddress: PreserveIfBlank,
	FieldStatus:        Overwrite,
	FieldLocation:      Overwrite,
	FieldOnline:        Overwrite,
	FieldBackground:    Overwrite,
	FieldMobile:        Overwrite,
	FieldMotion:        Overwrite,
	FieldSharedBefore:  Recompute,
	FieldStay:          Recompute,
}

// StayOp is the stay-timer step an upsert performs.
type StayOp int

const (
	StayKeep StayOp = iota
	// StayTrack compares the patch coordinates with the stored ones.
	StayTrack
	// StayRefresh recomputes the total from the anchor while sharing.
	StayRefresh
	StayReset
	// StayAdd adds StayDelta minutes to the stored total.
	StayAdd
)

// Patch is a partial participant update. nil fields are absent.
type Patch struct {
	Name          *string
	PersistentID  *string
	Fingerprint   *string
	SourceAddress *string
	Status        *domain.ParticipantStatus

	Latitude      *float64
	Longitude     *float64
	Accuracy      *float64
	ClearLocation bool

	IsOnline     *bool
	IsBackground *bool
	IsMobile     *bool
	CurrentSpeed *float64
	IsMoving     *bool

	Stay      StayOp
	StayDelta int

	// KeepLastUpdated leaves last_updated alone. last_seen_at is always refreshed.
	KeepLastUpdated bool
	// Preserve upgrades the listed fields to PreserveAlways for this patch.
	Preserve []Field
}

func ptr[T any](v T) *T {
	return &v
}

func (p Patch) rule(f Field) Rule {
	for _, pf := range p.Preserve {
		if pf == f {
			return PreserveAlways
		}
	}
	return mergePolicy[f]
}

func apply[T comparable](dst *T, v *T, rule Rule) {
	if v == nil {
		return
	}
	var zero T
	switch rule {
	case Overwrite:
		*dst = *v
	case PreserveIfBlank:
		if *v != zero {
			*dst = *v
		}
	case PreserveAlways:
		if *dst == zero {
			*dst = *v
		}
	}
}

// merge applies patch to existing (nil for a new participant) and returns the row to store.
func merge(existing *domain.Participant, sessionID, participantID string, patch Patch, now time.Time, timer StayTimer) *domain.Participant {
	var next domain.Participant
	if existing != nil {
		next = *existing
	} else {
		next = domain.Participant{
			SessionID:     sessionID,
			ParticipantID: participantID,
			Status:        domain.StatusWaiting,
			IsOnline:      true,
			FirstSeen:     now,
		}
	}
	next.Active = true

	apply(&next.Name, patch.Name, patch.rule(FieldName))
	apply(&next.PersistentID, patch.PersistentID, patch.rule(FieldPersistentID))
	apply(&next.Fingerprint, patch.Fingerprint, patch.rule(FieldFingerprint))
	apply(&next.SourceAddress, patch.SourceAddress, patch.rule(FieldSourceAddress))
	apply(&next.Status, patch.Status, patch.rule(FieldStatus))
	apply(&next.IsOnline, patch.IsOnline, patch.rule(FieldOnline))
	apply(&next.IsBackground, patch.IsBackground, patch.rule(FieldBackground))
	apply(&next.IsMobile, patch.IsMobile, patch.rule(FieldMobile))
	apply(&next.CurrentSpeed, patch.CurrentSpeed, patch.rule(FieldMotion))
	apply(&next.IsMoving, patch.IsMoving, patch.rule(FieldMotion))

	// The stay timer reads the stored coordinates, so it runs before the location moves.
	if patch.rule(FieldStay) == Recompute {
		switch patch.Stay {
		case StayTrack:
			if patch.Latitude != nil && patch.Longitude != nil {
				timer.Track(&next, *patch.Latitude, *patch.Longitude, now)
			}
		case StayRefresh:
			timer.Refresh(&next, now)
		case StayReset:
			timer.Reset(&next, now)
		case StayAdd:
			timer.Add(&next, patch.StayDelta)
		}
	}

	mergeLocation(&next, patch)

	// has_shared_before is sticky once the participant has shared.
	next.HasSharedBefore = next.HasSharedBefore || next.Status == domain.StatusSharing

	next.LastSeenAt = ptr(now)
	if existing == nil || !patch.KeepLastUpdated {
		next.LastUpdated = now
	}
	return &next
}

func mergeLocation(next *domain.Participant, patch Patch) {
	rule := patch.rule(FieldLocation)
	if rule == PreserveAlways && next.HasLocation() {
		return
	}
	if patch.ClearLocation {
		next.Latitude, next.Longitude, next.Accuracy = nil, nil, nil
		return
	}
	if patch.Latitude != nil && patch.Longitude != nil {
		next.Latitude = ptr(*patch.Latitude)
		next.Longitude = ptr(*patch.Longitude)
		next.Accuracy = nil
		if patch.Accuracy != nil {
			next.Accuracy = ptr(*patch.Accuracy)
		}
	}
}
