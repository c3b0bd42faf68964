package service

import (
	"context"

	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/errs"
	"github.com/xiaot623/gogo/locshare/internal/repository"
)

// Candidate carries the identity signals of a connecting client.
type Candidate struct {
	ParticipantID string
	PersistentID  string
	Fingerprint   string
	SourceAddress string
}

// Resolution is a reconciled identity.
type Resolution struct {
	Participant *domain.Participant
	MatchedBy   store.IdentityField
	// IPChanged is set when the stored address differs from the current one.
	IPChanged bool
}

// Resolve finds the existing participant a client belongs to, or returns nil.
// Signals are tried in order: participant id, persistent id, fingerprint, source address.
func (s *Service) Resolve(ctx context.Context, sessionID string, c Candidate) (*Resolution, error) {
	since := s.now().Add(-s.config.IdentityLookback)

	steps := []struct {
		field store.IdentityField
		value string
	}{
		{store.ByParticipantID, c.ParticipantID},
		{store.ByPersistentID, c.PersistentID},
		{store.ByFingerprint, c.Fingerprint},
		{store.BySourceAddress, c.SourceAddress},
	}

	for _, step := range steps {
		if step.value == "" {
			continue
		}
		p, err := s.store.FindActiveParticipant(ctx, sessionID, step.field, step.value, since)
		if err != nil {
			return nil, errs.Transient(err, "failed to resolve participant")
		}
		if p == nil {
			continue
		}

		res := &Resolution{Participant: p, MatchedBy: step.field}
		if step.field != store.BySourceAddress {
			res.IPChanged = p.SourceAddress != c.SourceAddress
		}
		if _, err := s.DeactivateOfflineNamesakes(ctx, sessionID, p.Name, p.ParticipantID); err != nil {
			return nil, err
		}
		return res, nil
	}
	return nil, nil
}
