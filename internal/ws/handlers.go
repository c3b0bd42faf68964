package ws

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/errs"
	"github.com/xiaot623/gogo/locshare/internal/protocol"
	"github.com/xiaot623/gogo/locshare/internal/service"
	"github.com/xiaot623/gogo/locshare/internal/validation"
)

// Types whose storage failures are logged without telling the client.
var quietTypes = map[protocol.MessageType]bool{
	protocol.TypeSingleParticipantUpdate: true,
	protocol.TypeRequestChatHistory:      true,
	protocol.TypeMarkAsRead:              true,
	protocol.TypeStayReset:               true,
	protocol.TypeStayTimeUpdate:          true,
}

// handleFrame runs one inbound frame through size, rate, decode and validation checks
// before dispatching it. It returns false when the connection must close.
func (s *Server) handleFrame(cl *client, data []byte) (open bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic handling message",
				zap.String("connection_id", cl.conn.ID), zap.Any("panic", r), zap.Stack("stack"))
			open = s.closeWith(cl, protocol.CloseInternalError, protocol.ReasonInternalError)
		}
	}()

	if len(data) > s.cfg.MaxMessageSize {
		return s.closeWith(cl, protocol.CloseMessageTooLarge, protocol.ReasonMessageTooLarge)
	}
	if !cl.rate.Allow(time.Now()) {
		return s.closeWith(cl, protocol.CloseLimitExceeded, protocol.ReasonRateLimited)
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		s.sendError(cl, errs.PublicMessage(err))
		return true
	}
	s.metrics.MessageReceived(string(msg.MessageType()))

	if err := s.validate.Struct(msg); err != nil {
		s.sendError(cl, errs.PublicMessage(err))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	// Chat history stays readable after expiry.
	if msg.MessageType() != protocol.TypeRequestChatHistory {
		if expired, err := s.sessionExpired(ctx, cl); expired || err != nil {
			if err != nil {
				s.handleError(ctx, cl, msg.MessageType(), err)
			}
			return true
		}
	}

	if err := s.dispatch(ctx, cl, msg); err != nil {
		s.handleError(ctx, cl, msg.MessageType(), err)
	}
	return !cl.leaving
}

func (s *Server) dispatch(ctx context.Context, cl *client, msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.JoinMessage:
		return s.handleJoin(ctx, cl, m)
	case *protocol.LocationMessage:
		return s.handleLocation(ctx, cl, m)
	case *protocol.NameUpdateMessage:
		return s.handleNameUpdate(ctx, cl, m)
	case *protocol.BackgroundStatusMessage:
		return s.handleBackgroundStatus(ctx, cl, m)
	case *protocol.ForegroundReturnMessage:
		return s.handleForegroundReturn(ctx, cl, m)
	case *protocol.StopSharingMessage:
		return s.handleStopSharing(ctx, cl, m)
	case *protocol.SyncStatusMessage:
		return s.handleSyncStatus(ctx, cl, m)
	case *protocol.OfflineMessage:
		return s.handleOffline(ctx, cl, m)
	case *protocol.LeaveMessage:
		return s.handleLeave(ctx, cl, m)
	case *protocol.PingMessage:
		return s.handlePing(ctx, cl, m)
	case *protocol.NotificationMessage:
		return s.handleNotification(cl, m)
	case *protocol.ChatMessage:
		return s.handleChat(ctx, cl, m)
	case *protocol.TypingIndicatorMessage:
		return s.handleTyping(cl, m)
	case *protocol.ChatHistoryRequest:
		return s.handleChatHistory(ctx, cl, m)
	case *protocol.MarkAsReadMessage:
		return s.handleMarkAsRead(ctx, cl, m)
	case *protocol.StayResetMessage:
		return s.handleStayReset(ctx, cl, m)
	case *protocol.StayTimeUpdateMessage:
		return s.handleStayTimeUpdate(ctx, cl, m)
	default:
		return errs.Validationf("unknown message type: %s", msg.MessageType())
	}
}

func (s *Server) handleError(ctx context.Context, cl *client, t protocol.MessageType, err error) {
	if errors.Is(err, errs.ErrSessionExpired) {
		s.reply(cl, protocol.NewSessionExpired())
		return
	}
	if errs.IsKind(err, errs.KindValidation) {
		s.sendError(cl, errs.PublicMessage(err))
		return
	}

	s.log.Warn("failed to handle message",
		zap.String("session_id", cl.sessionID),
		zap.String("connection_id", cl.conn.ID),
		zap.String("type", string(t)),
		zap.Error(err))
	s.svc.Audit(ctx, domain.AuditEntry{
		SessionID:     cl.sessionID,
		Action:        domain.AuditError,
		ParticipantID: cl.participantID,
		ConnectionID:  cl.conn.ID,
		ErrorMessage:  err.Error(),
	})
	if !quietTypes[t] {
		s.sendError(cl, errs.PublicMessage(err))
	}
}

// bind ties the connection to the participant it speaks for.
func (s *Server) bind(cl *client, participantID string) {
	if cl.participantID == participantID {
		return
	}
	cl.participantID = participantID
	s.hub.BindParticipant(cl.conn, participantID)
}

func (s *Server) handleJoin(ctx context.Context, cl *client, m *protocol.JoinMessage) error {
	res, err := s.svc.Join(ctx, cl.sessionID, service.JoinRequest{
		ParticipantID:        m.ParticipantID,
		PersistentID:         m.PersistentParticipantID,
		Name:                 validation.SanitizeName(m.ParticipantName),
		Fingerprint:          m.SessionFingerprint,
		SourceAddress:        cl.sourceAddress,
		IsMobile:             m.IsMobile,
		IsBackground:         m.IsBackground,
		InitialStatus:        domain.ParticipantStatus(m.InitialStatus),
		RequestExistingCheck: m.RequestExistingCheck,
		ImmediateOnline:      m.ImmediateOnline,
		PriorityConnection:   m.PriorityConnection,
		Deduplicate:          m.Deduplicate,
		LegacySharing:        m.IsSharing,
	})
	if err != nil {
		return err
	}

	cl.isMobile = m.IsMobile
	s.bind(cl, res.Participant.ParticipantID)

	if m.RequestExistingCheck {
		s.reply(cl, protocol.ParticipantConfirmedMessage{
			Type:            protocol.TypeParticipantConfirmed,
			ParticipantID:   res.Participant.ParticipantID,
			IsExisting:      res.IsExisting,
			ParticipantName: res.ConfirmedName,
			ImmediateOnline: m.ImmediateOnline,
			IsBackground:    res.IsBackground,
			IPChanged:       res.IPChanged,
		})
	}
	s.broadcastSnapshot(ctx, cl.sessionID)
	return nil
}

// sessionExpired answers session_expired when the session is past its expiry.
func (s *Server) sessionExpired(ctx context.Context, cl *client) (bool, error) {
	_, err := s.svc.RequireActive(ctx, cl.sessionID)
	if errors.Is(err, errs.ErrSessionExpired) {
		s.reply(cl, protocol.NewSessionExpired())
		return true, nil
	}
	return false, err
}

func (s *Server) handleLocation(ctx context.Context, cl *client, m *protocol.LocationMessage) error {
	lat, lon, err := validation.Coordinates(m.Latitude, m.Longitude)
	if err != nil {
		return err
	}

	p, err := s.svc.ReportLocation(ctx, cl.sessionID, service.LocationReport{
		ParticipantID: m.ParticipantID,
		Name:          validation.SanitizeName(m.ParticipantName),
		Latitude:      lat,
		Longitude:     lon,
		Accuracy:      validation.ClampAccuracy(m.Accuracy),
		IsBackground:  m.IsBackground,
		SourceAddress: cl.sourceAddress,
	})
	if err != nil {
		return err
	}
	if cl.participantID == "" {
		s.bind(cl, p.ParticipantID)
	}

	if m.Kind == protocol.TypeSingleParticipantUpdate {
		return s.hub.BroadcastJSON(cl.sessionID, protocol.SingleParticipantMessage{
			Type:            protocol.TypeSingleParticipantUpdate,
			ParticipantID:   p.ParticipantID,
			ParticipantData: p.View(time.Now().UTC()),
		})
	}
	s.broadcastSnapshot(ctx, cl.sessionID)
	return nil
}

func (s *Server) handleNameUpdate(ctx context.Context, cl *client, m *protocol.NameUpdateMessage) error {
	name := validation.SanitizeName(m.ParticipantName)
	if name == "" {
		return errs.Validation("participant_name is required")
	}
	p, err := s.svc.UpdateName(ctx, cl.sessionID, m.ParticipantID, name)
	if err != nil {
		return err
	}

	s.broadcastSnapshot(ctx, cl.sessionID)
	s.reply(cl, protocol.NameUpdateResponse{
		Type:            protocol.TypeNameUpdateResponse,
		Success:         true,
		ParticipantName: p.Name,
		ParticipantID:   p.ParticipantID,
	})
	return nil
}

func (s *Server) handleBackgroundStatus(ctx context.Context, cl *client, m *protocol.BackgroundStatusMessage) error {
	_, err := s.svc.SetBackground(ctx, cl.sessionID, service.BackgroundUpdate{
		ParticipantID: m.ParticipantID,
		Name:          validation.SanitizeName(m.ParticipantName),
		IsBackground:  m.IsBackground,
		IsSharing:     m.IsSharing,
		IsMobile:      m.IsMobile,
		PageUnloading: m.PageUnloading,
	})
	if err != nil {
		return err
	}
	cl.isMobile = m.IsMobile
	s.broadcastSnapshot(ctx, cl.sessionID)
	return nil
}

func (s *Server) handleForegroundReturn(ctx context.Context, cl *client, m *protocol.ForegroundReturnMessage) error {
	p, err := s.svc.ReturnToForeground(ctx, cl.sessionID, m.ParticipantID,
		validation.SanitizeName(m.ParticipantName), m.IsSharing, m.IsMobile)
	if err != nil {
		return err
	}
	cl.isMobile = m.IsMobile

	s.broadcastSnapshot(ctx, cl.sessionID)
	s.reply(cl, protocol.ForegroundConfirmedMessage{
		Type:          protocol.TypeImmediateForegroundConfirmed,
		ParticipantID: p.ParticipantID,
		IsOnline:      p.IsOnline,
		IsBackground:  p.IsBackground,
		Status:        p.Status,
		ServerTime:    time.Now().UTC(),
		Message:       "foreground restored",
	})
	return nil
}

func (s *Server) handleStopSharing(ctx context.Context, cl *client, m *protocol.StopSharingMessage) error {
	if _, err := s.svc.StopSharing(ctx, cl.sessionID, m.ParticipantID, validation.SanitizeName(m.ParticipantName)); err != nil {
		return err
	}
	if m.RemoveDirectionIndicator {
		if err := s.hub.BroadcastJSON(cl.sessionID, protocol.RemoveDirectionIndicatorMessage{
			Type:          protocol.TypeRemoveDirectionIndicator,
			ParticipantID: m.ParticipantID,
		}); err != nil {
			return err
		}
	}
	s.broadcastSnapshot(ctx, cl.sessionID)
	return nil
}

func (s *Server) handleSyncStatus(ctx context.Context, cl *client, m *protocol.SyncStatusMessage) error {
	_, err := s.svc.SyncStatus(ctx, cl.sessionID, m.ParticipantID,
		validation.SanitizeName(m.ParticipantName), m.IsSharing, domain.ParticipantStatus(m.Status))
	if err != nil {
		return err
	}
	s.broadcastSnapshot(ctx, cl.sessionID)
	return nil
}

func (s *Server) handleOffline(ctx context.Context, cl *client, m *protocol.OfflineMessage) error {
	if _, err := s.svc.GoOffline(ctx, cl.sessionID, m.ParticipantID); err != nil {
		return err
	}
	s.broadcastSnapshot(ctx, cl.sessionID)
	return nil
}

// handleLeave removes the participant, confirms and closes normally.
func (s *Server) handleLeave(ctx context.Context, cl *client, m *protocol.LeaveMessage) error {
	if err := s.svc.Leave(ctx, cl.sessionID, m.ParticipantID); err != nil {
		return err
	}
	cl.leaving = true

	s.broadcastSnapshot(ctx, cl.sessionID)
	s.reply(cl, protocol.LeaveConfirmedMessage{
		Type:          protocol.TypeLeaveConfirmed,
		ParticipantID: m.ParticipantID,
		Message:       "left session",
	})
	s.closeWith(cl, protocol.CloseNormal, protocol.ReasonUserLeave)
	return nil
}

func (s *Server) handlePing(ctx context.Context, cl *client, m *protocol.PingMessage) error {
	var speed float64
	if m.CurrentSpeed != nil {
		speed = *m.CurrentSpeed
	}
	p, err := s.svc.Ping(ctx, cl.sessionID, service.PingReport{
		ParticipantID: m.ParticipantID,
		IsSharing:     m.IsSharing,
		IsBackground:  m.IsBackground,
		IsMobile:      m.IsMobile,
		HasPosition:   m.HasPosition,
		CurrentSpeed:  speed,
		IsMoving:      m.IsMoving,
	})
	if err != nil {
		return err
	}
	cl.isMobile = m.IsMobile
	if p != nil && cl.participantID == "" {
		s.bind(cl, p.ParticipantID)
	}

	s.reply(cl, protocol.PongMessage{
		Type:              protocol.TypePong,
		Timestamp:         m.Timestamp,
		ParticipantID:     m.ParticipantID,
		ServerTime:        time.Now().UTC(),
		KeepAlive:         true,
		SpeedAcknowledged: true,
		CurrentSpeed:      speed,
	})

	// Only a moving sharer changes what others see.
	if p != nil && m.IsSharing && m.HasPosition && m.IsMoving {
		s.broadcastSnapshot(ctx, cl.sessionID)
	}
	return nil
}

func (s *Server) handleNotification(cl *client, m *protocol.NotificationMessage) error {
	return s.hub.BroadcastJSON(cl.sessionID, protocol.NotificationBroadcast{
		Type:             protocol.TypeNotification,
		ParticipantID:    m.ParticipantID,
		ParticipantName:  validation.SanitizeName(m.ParticipantName),
		Message:          validation.SanitizeText(m.Message),
		NotificationType: domain.NormalizeNotificationLevel(m.NotificationType),
		Timestamp:        time.Now().UTC(),
	})
}

func (s *Server) handleChat(ctx context.Context, cl *client, m *protocol.ChatMessage) error {
	msg, err := s.svc.PostChat(ctx, cl.sessionID, service.ChatPost{
		ChatType:   domain.ChatType(m.ChatType),
		SenderID:   m.SenderID,
		SenderName: validation.SanitizeName(m.SenderName),
		TargetID:   m.TargetID,
		Text:       validation.SanitizeText(m.Text),
	})
	if err != nil {
		return err
	}

	out := protocol.NewChatBroadcast(msg)
	if msg.ChatType == domain.ChatTypeIndividual {
		return s.hub.SendJSONToParticipants(cl.sessionID, out, msg.SenderID, msg.TargetID)
	}
	return s.hub.BroadcastJSON(cl.sessionID, out)
}

func (s *Server) handleTyping(cl *client, m *protocol.TypingIndicatorMessage) error {
	chatType := domain.ChatType(m.ChatType)
	if chatType == "" {
		chatType = domain.ChatTypeGroup
	}
	name := validation.SanitizeName(m.SenderName)
	if name == "" {
		name = domain.FallbackName(m.SenderID)
	}

	if chatType == domain.ChatTypeIndividual && m.TargetID != "" {
		out := protocol.NewTypingBroadcast(chatType, m.SenderID, name, m.TargetID, m.IsTyping)
		return s.hub.SendJSONToParticipants(cl.sessionID, out, m.SenderID, m.TargetID)
	}
	return s.hub.BroadcastJSON(cl.sessionID, protocol.NewTypingBroadcast(chatType, m.SenderID, name, "", m.IsTyping))
}

func (s *Server) handleChatHistory(ctx context.Context, cl *client, m *protocol.ChatHistoryRequest) error {
	history, err := s.svc.ChatHistory(ctx, cl.sessionID, m.ParticipantID)
	if err != nil {
		return err
	}
	s.reply(cl, protocol.NewChatHistory(history))
	return nil
}

func (s *Server) handleMarkAsRead(ctx context.Context, cl *client, m *protocol.MarkAsReadMessage) error {
	chatType := domain.ChatType(m.ChatType)
	if chatType == "" {
		chatType = domain.ChatTypeGroup
	}
	_, err := s.svc.MarkRead(ctx, cl.sessionID, m.ParticipantID, chatType, m.SenderID)
	return err
}

func (s *Server) handleStayReset(ctx context.Context, cl *client, m *protocol.StayResetMessage) error {
	p, err := s.svc.ResetStay(ctx, cl.sessionID, m.ParticipantID)
	if err != nil || p == nil {
		return err
	}
	s.broadcastSnapshot(ctx, cl.sessionID)
	return nil
}

func (s *Server) handleStayTimeUpdate(ctx context.Context, cl *client, m *protocol.StayTimeUpdateMessage) error {
	p, err := s.svc.AddStayMinutes(ctx, cl.sessionID, m.ParticipantID, m.StayMinutes)
	if err != nil || p == nil {
		return err
	}
	s.broadcastSnapshot(ctx, cl.sessionID)
	return nil
}
