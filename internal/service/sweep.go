package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/errs"
)

// RunCleanupSweeper runs Sweep every SweepInterval until ctx is canceled.
func (s *Service) RunCleanupSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := s.Sweep(sweepCtx)
	if err != nil {
		s.log.Warn("cleanup sweep failed", zap.Error(err))
		return
	}
	s.log.Info("cleanup sweep finished",
		zap.Int64("deactivated_sessions", res.DeactivatedSessions),
		zap.Int64("expired_location_rows", res.ExpiredLocationRows),
		zap.Int64("expired_sessions", res.ExpiredSessions),
		zap.Int64("stale_offline_participants", res.StaleOfflineRows),
		zap.Int64("old_audit_logs", res.OldAuditRows))
}

// Sweep runs one cleanup pass.
func (s *Service) Sweep(ctx context.Context) (*domain.SweepResult, error) {
	now := s.now()
	res := &domain.SweepResult{}

	expired, err := s.store.ExpireSessions(ctx, now)
	if err != nil {
		return nil, errs.Transient(err, "failed to expire sessions")
	}
	for _, id := range expired {
		s.audit(ctx, domain.AuditEntry{SessionID: id, Action: domain.AuditExpired})
	}
	res.DeactivatedSessions = int64(len(expired))

	if res.ExpiredLocationRows, err = s.store.DeleteExpiredLocationRows(ctx, now); err != nil {
		return nil, errs.Transient(err, "failed to delete expired location rows")
	}
	if res.ExpiredSessions, err = s.store.DeleteExpiredSessions(ctx, now.Add(-s.config.SessionRetention)); err != nil {
		return nil, errs.Transient(err, "failed to delete expired sessions")
	}
	if res.StaleOfflineRows, err = s.store.DeleteStaleOfflineParticipants(ctx, now.Add(-s.config.OfflineRetention)); err != nil {
		return nil, errs.Transient(err, "failed to delete stale participants")
	}
	if res.OldAuditRows, err = s.store.DeleteOldAuditEntries(ctx, now.Add(-s.config.AuditRetention)); err != nil {
		return nil, errs.Transient(err, "failed to delete old audit logs")
	}
	s.metrics.ObserveSweep(res)
	return res, nil
}
