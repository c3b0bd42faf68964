package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/errs"
	"github.com/xiaot623/gogo/locshare/internal/scheduler"
)

// TaskOfflineCheck is the scheduler task type of the delayed-offline check.
const TaskOfflineCheck = "presence:offline_check"

// DisconnectKind classifies how a connection ended.
type DisconnectKind int

const (
	// DisconnectLeave follows an explicit leave; the participant is already gone.
	DisconnectLeave DisconnectKind = iota
	// DisconnectPageClose is a normal close from an unloading page.
	DisconnectPageClose
	// DisconnectAbnormal is any other close.
	DisconnectAbnormal
)

type offlineCheck struct {
	SessionID     string        `json:"session_id"`
	ParticipantID string        `json:"participant_id"`
	Delay         time.Duration `json:"delay"`
	Margin        time.Duration `json:"margin"`
}

// Disconnect keeps a departed participant visible in the background and schedules the
// offline check. It returns the updated row, or nil when nothing changed.
func (s *Service) Disconnect(ctx context.Context, sessionID, participantID string, kind DisconnectKind, isMobile bool) (*domain.Participant, error) {
	if kind == DisconnectLeave || participantID == "" {
		return nil, nil
	}

	p, err := s.Update(ctx, sessionID, participantID, Patch{
		IsOnline:     ptr(true),
		IsBackground: ptr(true),
		Preserve:     []Field{FieldName},
	}, nil)
	if err != nil || p == nil {
		return nil, err
	}

	delay, margin := s.offlineDelay(kind, isMobile)
	if err := s.ScheduleOfflineCheck(ctx, sessionID, participantID, delay, margin); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Service) offlineDelay(kind DisconnectKind, isMobile bool) (time.Duration, time.Duration) {
	if kind == DisconnectPageClose {
		return s.config.PageCloseOfflineDelay, s.config.PageCloseMargin
	}
	if isMobile {
		return s.config.MobileOfflineDelay, s.config.OfflineMargin
	}
	return s.config.DesktopOfflineDelay, s.config.OfflineMargin
}

// ScheduleOfflineCheck queues a check that flips the participant offline after delay
// unless it was updated in the meantime. A newer check for the same participant replaces
// an older one where the scheduler supports it.
func (s *Service) ScheduleOfflineCheck(ctx context.Context, sessionID, participantID string, delay, margin time.Duration) error {
	payload, err := json.Marshal(offlineCheck{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Delay:         delay,
		Margin:        margin,
	})
	if err != nil {
		return errs.Internal(err, "failed to encode offline check")
	}

	task := scheduler.Task{
		Type:    TaskOfflineCheck,
		Key:     participantKey(sessionID, participantID),
		Payload: payload,
	}
	if err := s.scheduler.Schedule(ctx, task, delay); err != nil {
		return errs.Transient(err, "failed to schedule offline check")
	}
	s.log.Debug("offline check scheduled",
		zap.String("session_id", sessionID),
		zap.String("participant_id", participantID),
		zap.Duration("delay", delay))
	return nil
}

// HandleOfflineCheck runs a fired offline check against the current stored row.
func (s *Service) HandleOfflineCheck(ctx context.Context, task scheduler.Task) error {
	var check offlineCheck
	if err := json.Unmarshal(task.Payload, &check); err != nil {
		// Malformed payloads are dropped, not retried.
		s.log.Error("invalid offline check payload", zap.String("key", task.Key), zap.Error(err))
		return nil
	}

	committed, err := s.commitOffline(ctx, check)
	if err != nil {
		return fmt.Errorf("offline check %s: %w", task.Key, err)
	}
	if committed && s.notifier != nil {
		s.notifier.ParticipantsChanged(ctx, check.SessionID)
	}
	return nil
}

func (s *Service) commitOffline(ctx context.Context, check offlineCheck) (bool, error) {
	now := s.now()
	guard := func(p *domain.Participant) bool {
		if !p.IsOnline || p.Status == domain.StatusWaiting {
			return false
		}
		if s.presence != nil && s.presence.HasParticipant(check.SessionID, check.ParticipantID) {
			return false
		}
		return now.Sub(p.LastUpdated) >= check.Delay-check.Margin
	}

	p, err := s.Update(ctx, check.SessionID, check.ParticipantID, Patch{
		Status:   ptr(domain.StatusStopped),
		IsOnline: ptr(false),
		Preserve: []Field{FieldName},
	}, guard)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}

	s.metrics.WentOffline()
	s.log.Info("participant went offline",
		zap.String("session_id", check.SessionID),
		zap.String("participant_id", check.ParticipantID),
		zap.Duration("delay", check.Delay))
	return true, nil
}
