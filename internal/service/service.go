// Package service implements the session presence engine: the participant registry,
// identity reconciliation, stay timing, chat and delayed-offline handling.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/locshare/internal/config"
	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/metrics"
	"github.com/xiaot623/gogo/locshare/internal/repository"
	"github.com/xiaot623/gogo/locshare/internal/scheduler"
)

// Notifier is told when a session's participant list changed outside a connection handler.
type Notifier interface {
	ParticipantsChanged(ctx context.Context, sessionID string)
}

// PresenceChecker reports whether a participant still has a live connection.
type PresenceChecker interface {
	HasParticipant(sessionID, participantID string) bool
}

type Service struct {
	store     store.Store
	scheduler scheduler.Scheduler
	config    *config.Config
	log       *zap.Logger
	stay      StayTimer
	locks     *keyedMutex
	now       func() time.Time

	notifier Notifier
	presence PresenceChecker
	metrics  *metrics.Metrics
}

func New(store store.Store, sched scheduler.Scheduler, cfg *config.Config, log *zap.Logger) *Service {
	s := &Service{
		store:     store,
		scheduler: sched,
		config:    cfg,
		log:       log,
		stay:      StayTimer{Threshold: cfg.StayDistanceThreshold},
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	sched.Register(TaskOfflineCheck, s.HandleOfflineCheck)
	return s
}

// SetNotifier installs the broadcaster used after detached state changes.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetPresenceChecker installs the live-connection lookup used by the offline check.
func (s *Service) SetPresenceChecker(p PresenceChecker) {
	s.presence = p
}

// SetMetrics installs the collectors for offline transitions and sweeps.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// audit records an entry. Failures are logged and never surface to the caller.
func (s *Service) audit(ctx context.Context, entry domain.AuditEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if err := s.store.CreateAuditEntry(ctx, &entry); err != nil {
		s.log.Warn("audit write failed",
			zap.String("session_id", entry.SessionID),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
	}
}

// Audit records an entry on behalf of the transport layer.
func (s *Service) Audit(ctx context.Context, entry domain.AuditEntry) {
	s.audit(ctx, entry)
}
