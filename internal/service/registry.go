package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/errs"
)

// Upsert merges patch into the participant row, creating it if absent.
// It reports whether the row was created.
func (s *Service) Upsert(ctx context.Context, sessionID, participantID string, patch Patch) (*domain.Participant, bool, error) {
	unlock := s.locks.Lock(participantKey(sessionID, participantID))
	defer unlock()

	existing, err := s.store.GetParticipant(ctx, sessionID, participantID)
	if err != nil {
		return nil, false, errs.Transient(err, "failed to load participant")
	}

	next := merge(existing, sessionID, participantID, patch, s.now(), s.stay)
	if err := s.store.SaveParticipant(ctx, next); err != nil {
		return nil, false, errs.Transient(err, "failed to save participant")
	}
	return next, existing == nil, nil
}

// Update merges patch into an existing participant. It returns nil when the participant
// is absent or guard rejects the current row.
func (s *Service) Update(ctx context.Context, sessionID, participantID string, patch Patch, guard func(*domain.Participant) bool) (*domain.Participant, error) {
	unlock := s.locks.Lock(participantKey(sessionID, participantID))
	defer unlock()

	existing, err := s.store.GetParticipant(ctx, sessionID, participantID)
	if err != nil {
		return nil, errs.Transient(err, "failed to load participant")
	}
	if existing == nil {
		return nil, nil
	}
	if guard != nil && !guard(existing) {
		return nil, nil
	}

	next := merge(existing, sessionID, participantID, patch, s.now(), s.stay)
	if err := s.store.SaveParticipant(ctx, next); err != nil {
		return nil, errs.Transient(err, "failed to save participant")
	}
	return next, nil
}

// Participant returns the active participant or nil.
func (s *Service) Participant(ctx context.Context, sessionID, participantID string) (*domain.Participant, error) {
	p, err := s.store.GetParticipant(ctx, sessionID, participantID)
	if err != nil {
		return nil, errs.Transient(err, "failed to load participant")
	}
	return p, nil
}

// Snapshot returns every displayable participant, most recently updated first.
func (s *Service) Snapshot(ctx context.Context, sessionID string) ([]domain.ParticipantView, error) {
	participants, err := s.store.ListActiveParticipants(ctx, sessionID)
	if err != nil {
		return nil, errs.Transient(err, "failed to list participants")
	}

	now := s.now()
	views := make([]domain.ParticipantView, 0, len(participants))
	for i := range participants {
		if participants[i].Displayable() {
			views = append(views, participants[i].View(now))
		}
	}
	return views, nil
}

// View renders one participant, or nil when absent.
func (s *Service) View(ctx context.Context, sessionID, participantID string) (*domain.ParticipantView, error) {
	p, err := s.Participant(ctx, sessionID, participantID)
	if err != nil || p == nil {
		return nil, err
	}
	v := p.View(s.now())
	return &v, nil
}

// Remove hard-deletes the participant and its unread counters.
func (s *Service) Remove(ctx context.Context, sessionID, participantID string) error {
	unlock := s.locks.Lock(participantKey(sessionID, participantID))
	defer unlock()

	if err := s.store.DeleteParticipant(ctx, sessionID, participantID); err != nil {
		return errs.Transient(err, "failed to remove participant")
	}
	return nil
}

// DeactivateOfflineNamesakes hides offline rows that share name with participantID.
func (s *Service) DeactivateOfflineNamesakes(ctx context.Context, sessionID, name, participantID string) (int64, error) {
	if name == "" {
		return 0, nil
	}
	n, err := s.store.DeactivateOfflineNamesakes(ctx, sessionID, name, participantID)
	if err != nil {
		return 0, errs.Transient(err, "failed to deactivate namesakes")
	}
	if n > 0 {
		s.log.Info("deactivated offline namesakes",
			zap.String("session_id", sessionID),
			zap.String("participant_id", participantID),
			zap.Int64("count", n))
	}
	return n, nil
}

// Deduplicate keeps the newest row matching either id and deactivates the others.
func (s *Service) Deduplicate(ctx context.Context, sessionID, participantID, persistentID string) (int64, error) {
	if persistentID == "" {
		persistentID = participantID
	}
	n, err := s.store.DeactivateDuplicates(ctx, sessionID, participantID, persistentID)
	if err != nil {
		return 0, errs.Transient(err, "failed to deduplicate participant")
	}
	return n, nil
}
