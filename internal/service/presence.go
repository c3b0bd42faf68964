package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/errs"
)

// JoinRequest is a participant announcing itself on a connection.
type JoinRequest struct {
	ParticipantID        string
	PersistentID         string
	Name                 string
	Fingerprint          string
	SourceAddress        string
	IsMobile             bool
	IsBackground         bool
	InitialStatus        domain.ParticipantStatus
	RequestExistingCheck bool
	ImmediateOnline      bool
	PriorityConnection   bool
	Deduplicate          bool
	// LegacySharing is set by clients that predate initial_status.
	LegacySharing *bool
}

// JoinResult tells the connection which identity it now speaks for.
type JoinResult struct {
	Participant  *domain.Participant
	IsExisting   bool
	IPChanged    bool
	IsBackground bool
	// ConfirmedName is the name echoed back to the client.
	ConfirmedName string
}

// Join registers or reconnects a participant.
func (s *Service) Join(ctx context.Context, sessionID string, req JoinRequest) (*JoinResult, error) {
	if err := s.requireMutable(ctx, sessionID); err != nil {
		return nil, err
	}
	if req.PersistentID == "" {
		req.PersistentID = req.ParticipantID
	}
	if !req.InitialStatus.Valid() {
		req.InitialStatus = domain.StatusWaiting
	}
	isBackground := req.IsBackground
	if req.ImmediateOnline || req.PriorityConnection {
		isBackground = false
	}

	if req.Deduplicate {
		if _, err := s.Deduplicate(ctx, sessionID, req.ParticipantID, req.PersistentID); err != nil {
			return nil, err
		}
	}

	patch := Patch{
		Name:          ptr(req.Name),
		SourceAddress: ptr(req.SourceAddress),
		IsOnline:      ptr(true),
		IsBackground:  ptr(isBackground),
		IsMobile:      ptr(req.IsMobile),
	}

	var (
		resolution *Resolution
		err        error
	)
	if req.RequestExistingCheck {
		resolution, err = s.Resolve(ctx, sessionID, Candidate{
			ParticipantID: req.ParticipantID,
			PersistentID:  req.PersistentID,
			Fingerprint:   req.Fingerprint,
			SourceAddress: req.SourceAddress,
		})
		if err != nil {
			return nil, err
		}
	}

	participantID := req.ParticipantID
	switch {
	case resolution != nil:
		// A reconnecting participant keeps its stored name.
		participantID = resolution.Participant.ParticipantID
		patch.Status = ptr(req.InitialStatus)
		patch.Preserve = []Field{FieldName}
	case req.RequestExistingCheck:
		patch.Status = ptr(domain.StatusWaiting)
		patch.PersistentID = ptr(req.PersistentID)
		patch.Fingerprint = ptr(req.Fingerprint)
	default:
		status := domain.StatusWaiting
		if req.LegacySharing != nil && *req.LegacySharing {
			status = domain.StatusSharing
		}
		patch.Status = ptr(status)
		patch.PersistentID = ptr(req.PersistentID)
		patch.Fingerprint = ptr(req.Fingerprint)
	}

	p, created, err := s.Upsert(ctx, sessionID, participantID, patch)
	if err != nil {
		return nil, err
	}

	res := &JoinResult{
		Participant:   p,
		IsExisting:    resolution != nil,
		IsBackground:  isBackground,
		ConfirmedName: req.Name,
	}
	if resolution != nil {
		res.IPChanged = resolution.IPChanged
		res.ConfirmedName = resolution.Participant.Name
	}

	s.log.Info("participant joined",
		zap.String("session_id", sessionID),
		zap.String("participant_id", participantID),
		zap.Bool("created", created),
		zap.Bool("existing", res.IsExisting),
		zap.Bool("ip_changed", res.IPChanged))
	s.audit(ctx, domain.AuditEntry{
		SessionID:     sessionID,
		Action:        domain.AuditJoined,
		ParticipantID: participantID,
		SourceAddress: req.SourceAddress,
	})
	return res, nil
}

// LocationReport is a position fix from a participant.
type LocationReport struct {
	ParticipantID string
	Name          string
	Latitude      float64
	Longitude     float64
	Accuracy      *float64
	IsBackground  bool
	SourceAddress string
}

// ReportLocation stores a position and advances the stay timer.
func (s *Service) ReportLocation(ctx context.Context, sessionID string, r LocationReport) (*domain.Participant, error) {
	if err := s.requireMutable(ctx, sessionID); err != nil {
		return nil, err
	}
	p, _, err := s.Upsert(ctx, sessionID, r.ParticipantID, Patch{
		Name:          ptr(r.Name),
		SourceAddress: ptr(r.SourceAddress),
		Status:        ptr(domain.StatusSharing),
		Latitude:      ptr(r.Latitude),
		Longitude:     ptr(r.Longitude),
		Accuracy:      r.Accuracy,
		IsOnline:      ptr(true),
		IsBackground:  ptr(r.IsBackground),
		Stay:          StayTrack,
	})
	return p, err
}

// UpdateName renames a participant, hiding offline ghosts that carry the new name.
func (s *Service) UpdateName(ctx context.Context, sessionID, participantID, name string) (*domain.Participant, error) {
	if err := s.requireMutable(ctx, sessionID); err != nil {
		return nil, err
	}
	if _, err := s.DeactivateOfflineNamesakes(ctx, sessionID, name, participantID); err != nil {
		return nil, err
	}
	p, _, err := s.Upsert(ctx, sessionID, participantID, Patch{
		Name:     ptr(name),
		IsOnline: ptr(true),
	})
	return p, err
}

// BackgroundUpdate reports a visibility change on the client.
type BackgroundUpdate struct {
	ParticipantID string
	Name          string
	IsBackground  bool
	IsSharing     bool
	IsMobile      bool
	PageUnloading bool
}

// SetBackground records foreground/background transitions. An unloading page is
// always background and keeps its name.
func (s *Service) SetBackground(ctx context.Context, sessionID string, u BackgroundUpdate) (*domain.Participant, error) {
	if err := s.requireMutable(ctx, sessionID); err != nil {
		return nil, err
	}
	patch := Patch{
		Name:         ptr(u.Name),
		Status:       ptr(sharingStatus(u.IsSharing)),
		IsOnline:     ptr(true),
		IsBackground: ptr(u.IsBackground),
		IsMobile:     ptr(u.IsMobile),
	}
	if u.PageUnloading {
		patch.IsBackground = ptr(true)
		patch.Preserve = []Field{FieldName}
	}
	p, _, err := s.Upsert(ctx, sessionID, u.ParticipantID, patch)
	return p, err
}

// ReturnToForeground brings a participant back online in the foreground.
func (s *Service) ReturnToForeground(ctx context.Context, sessionID, participantID, name string, isSharing, isMobile bool) (*domain.Participant, error) {
	if err := s.requireMutable(ctx, sessionID); err != nil {
		return nil, err
	}
	p, _, err := s.Upsert(ctx, sessionID, participantID, Patch{
		Name:         ptr(name),
		Status:       ptr(sharingStatus(isSharing)),
		IsOnline:     ptr(true),
		IsBackground: ptr(false),
		IsMobile:     ptr(isMobile),
	})
	return p, err
}

// StopSharing moves a participant to waiting. Coordinates and sharing history stay.
func (s *Service) StopSharing(ctx context.Context, sessionID, participantID, name string) (*domain.Participant, error) {
	if err := s.requireMutable(ctx, sessionID); err != nil {
		return nil, err
	}
	p, _, err := s.Upsert(ctx, sessionID, participantID, Patch{
		Name:     ptr(name),
		Status:   ptr(domain.StatusWaiting),
		IsOnline: ptr(true),
	})
	return p, err
}

// SyncStatus reconciles the client's view of its own status. Anything but a consistent
// sharing state lands in waiting with coordinates cleared.
func (s *Service) SyncStatus(ctx context.Context, sessionID, participantID, name string, isSharing bool, status domain.ParticipantStatus) (*domain.Participant, error) {
	if err := s.requireMutable(ctx, sessionID); err != nil {
		return nil, err
	}
	sharing := isSharing && status == domain.StatusSharing
	p, _, err := s.Upsert(ctx, sessionID, participantID, Patch{
		Name:          ptr(name),
		Status:        ptr(sharingStatus(sharing)),
		IsOnline:      ptr(true),
		ClearLocation: !sharing,
	})
	return p, err
}

// GoOffline marks a participant offline and stopped, keeping name and coordinates.
func (s *Service) GoOffline(ctx context.Context, sessionID, participantID string) (*domain.Participant, error) {
	if err := s.requireMutable(ctx, sessionID); err != nil {
		return nil, err
	}
	p, _, err := s.Upsert(ctx, sessionID, participantID, Patch{
		Status:   ptr(domain.StatusStopped),
		IsOnline: ptr(false),
		Preserve: []Field{FieldName},
	})
	return p, err
}

// Leave removes the participant for good.
func (s *Service) Leave(ctx context.Context, sessionID, participantID string) error {
	if err := s.requireMutable(ctx, sessionID); err != nil {
		return err
	}
	if err := s.Remove(ctx, sessionID, participantID); err != nil {
		return err
	}
	s.log.Info("participant left",
		zap.String("session_id", sessionID),
		zap.String("participant_id", participantID))
	s.audit(ctx, domain.AuditEntry{
		SessionID:     sessionID,
		Action:        domain.AuditLeft,
		ParticipantID: participantID,
	})
	return nil
}

// PingReport is the periodic keepalive.
type PingReport struct {
	ParticipantID string
	IsSharing     bool
	IsBackground  bool
	IsMobile      bool
	HasPosition   bool
	CurrentSpeed  float64
	IsMoving      bool
}

// Ping refreshes presence and motion. last_updated only moves when the client has a position.
// Unknown participants are ignored.
func (s *Service) Ping(ctx context.Context, sessionID string, r PingReport) (*domain.Participant, error) {
	if err := s.requireMutable(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.Update(ctx, sessionID, r.ParticipantID, Patch{
		Status:          ptr(sharingStatus(r.IsSharing)),
		IsOnline:        ptr(true),
		IsBackground:    ptr(r.IsBackground),
		IsMobile:        ptr(r.IsMobile),
		CurrentSpeed:    ptr(r.CurrentSpeed),
		IsMoving:        ptr(r.IsMoving),
		Stay:            StayRefresh,
		KeepLastUpdated: !r.HasPosition,
	}, nil)
}

// ResetStay zeroes the stay timer at the current position.
func (s *Service) ResetStay(ctx context.Context, sessionID, participantID string) (*domain.Participant, error) {
	if err := s.requireMutable(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.Update(ctx, sessionID, participantID, Patch{Stay: StayReset, KeepLastUpdated: true}, nil)
}

// AddStayMinutes applies a client-supplied stay increment.
func (s *Service) AddStayMinutes(ctx context.Context, sessionID, participantID string, minutes int) (*domain.Participant, error) {
	if err := s.requireMutable(ctx, sessionID); err != nil {
		return nil, err
	}
	if minutes < 0 {
		return nil, errs.Validation("stay_minutes must not be negative")
	}
	return s.Update(ctx, sessionID, participantID, Patch{Stay: StayAdd, StayDelta: minutes, KeepLastUpdated: true}, nil)
}

func sharingStatus(sharing bool) domain.ParticipantStatus {
	if sharing {
		return domain.StatusSharing
	}
	return domain.StatusWaiting
}
