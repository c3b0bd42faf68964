package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/errs"
	"github.com/xiaot623/gogo/locshare/internal/validation"
)

// onlineWindow bounds how recently a participant must have updated to count as online in stats.
const onlineWindow = 5 * time.Minute

// CreateSession opens a session lasting durationMinutes. Zero selects the default.
func (s *Service) CreateSession(ctx context.Context, durationMinutes int) (*domain.Session, error) {
	if durationMinutes == 0 {
		durationMinutes = domain.DefaultDurationMinutes
	}
	if !domain.IsAllowedDuration(durationMinutes) {
		return nil, errs.Validationf("duration_minutes must be one of %v", domain.AllowedDurations)
	}

	now := s.now()
	session := &domain.Session{
		ID:              uuid.NewString(),
		DurationMinutes: durationMinutes,
		CreatedAt:       now,
		ExpiresAt:       now.Add(time.Duration(durationMinutes) * time.Minute),
		Active:          true,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, errs.Transient(err, "failed to create session")
	}

	s.audit(ctx, domain.AuditEntry{SessionID: session.ID, Action: domain.AuditCreated})
	return session, nil
}

// GetSession returns the session whether or not it has expired.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if !validation.IsIdentifier(sessionID) {
		return nil, errs.ErrInvalidSessionID
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errs.Transient(err, "failed to load session")
	}
	if session == nil {
		return nil, errs.ErrSessionNotFound
	}
	return session, nil
}

// RequireActive returns the session only while it accepts mutations.
func (s *Service) RequireActive(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsExpired(s.now()) {
		return session, errs.ErrSessionExpired
	}
	return session, nil
}

// requireMutable rejects client-initiated changes once the session is unknown or expired.
func (s *Service) requireMutable(ctx context.Context, sessionID string) error {
	_, err := s.RequireActive(ctx, sessionID)
	return err
}

// IsExpired reports whether the session has expired at the current time.
func (s *Service) IsExpired(session *domain.Session) bool {
	return session.IsExpired(s.now())
}

// ParticipantCount counts active participants.
func (s *Service) ParticipantCount(ctx context.Context, sessionID string) (int, error) {
	n, err := s.store.CountActiveParticipants(ctx, sessionID)
	if err != nil {
		return 0, errs.Transient(err, "failed to count participants")
	}
	return n, nil
}

// Stats summarizes live sessions and participants.
func (s *Service) Stats(ctx context.Context) (*domain.Stats, error) {
	now := s.now()
	stats, err := s.store.GetStats(ctx, now, now.Add(-onlineWindow))
	if err != nil {
		return nil, errs.Transient(err, "failed to load stats")
	}
	return stats, nil
}

// AuditLog returns the newest audit entries for a session.
func (s *Service) AuditLog(ctx context.Context, sessionID string, limit int) ([]domain.AuditEntry, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListAuditEntries(ctx, sessionID, limit)
	if err != nil {
		return nil, errs.Transient(err, "failed to load audit log")
	}
	return entries, nil
}
