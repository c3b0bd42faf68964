package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/errs"
)

// ChatPost is an outgoing chat message.
type ChatPost struct {
	ChatType   domain.ChatType
	SenderID   string
	SenderName string
	TargetID   string
	Text       string
}

// PostChat stores a message with the server's timestamp.
func (s *Service) PostChat(ctx context.Context, sessionID string, post ChatPost) (*domain.ChatMessage, error) {
	if err := s.requireMutable(ctx, sessionID); err != nil {
		return nil, err
	}
	if post.ChatType == "" {
		post.ChatType = domain.ChatTypeGroup
	}
	switch post.ChatType {
	case domain.ChatTypeGroup:
		post.TargetID = ""
	case domain.ChatTypeIndividual:
		if post.TargetID == "" {
			return nil, errs.Validation("target_id is required for individual chat")
		}
	default:
		return nil, errs.Validationf("unknown chat type: %s", post.ChatType)
	}
	if post.Text == "" {
		return nil, errs.Validation("message is empty")
	}
	if post.SenderName == "" {
		post.SenderName = domain.FallbackName(post.SenderID)
	}

	msg := &domain.ChatMessage{
		SessionID:  sessionID,
		ChatType:   post.ChatType,
		SenderID:   post.SenderID,
		SenderName: post.SenderName,
		TargetID:   post.TargetID,
		Text:       post.Text,
		Timestamp:  s.now(),
	}
	id, err := s.store.CreateChatMessage(ctx, msg)
	if err != nil {
		return nil, errs.Transient(err, "failed to save chat message")
	}
	msg.ID = id

	if msg.ChatType == domain.ChatTypeIndividual {
		s.refreshUnread(ctx, sessionID, msg.TargetID)
	}
	return msg, nil
}

// MarkRead marks group messages, or the messages from senderID, as read by participantID.
func (s *Service) MarkRead(ctx context.Context, sessionID, participantID string, chatType domain.ChatType, senderID string) (int64, error) {
	if err := s.requireMutable(ctx, sessionID); err != nil {
		return 0, err
	}
	var (
		n   int64
		err error
	)
	switch chatType {
	case "", domain.ChatTypeGroup:
		n, err = s.store.MarkGroupRead(ctx, sessionID, participantID)
	case domain.ChatTypeIndividual:
		if senderID == "" {
			return 0, nil
		}
		n, err = s.store.MarkIndividualRead(ctx, sessionID, participantID, senderID)
	default:
		return 0, errs.Validationf("unknown chat type: %s", chatType)
	}
	if err != nil {
		return 0, errs.Transient(err, "failed to mark messages read")
	}
	s.refreshUnread(ctx, sessionID, participantID)
	return n, nil
}

// UnreadCounts recomputes the unread view from message rows.
func (s *Service) UnreadCounts(ctx context.Context, sessionID, participantID string) (domain.UnreadCounts, error) {
	counts, err := s.store.CountUnread(ctx, sessionID, participantID)
	if err != nil {
		return domain.UnreadCounts{}, errs.Transient(err, "failed to count unread messages")
	}
	if err := s.store.SaveUnreadCounter(ctx, sessionID, participantID, counts); err != nil {
		s.log.Warn("failed to store unread counter", zap.String("session_id", sessionID), zap.Error(err))
	}
	return counts, nil
}

// refreshUnread rewrites the cached counter. The counter is a view, so failures only log.
func (s *Service) refreshUnread(ctx context.Context, sessionID, participantID string) {
	if _, err := s.UnreadCounts(ctx, sessionID, participantID); err != nil {
		s.log.Warn("failed to refresh unread counter",
			zap.String("session_id", sessionID),
			zap.String("participant_id", participantID),
			zap.Error(err))
	}
}

// ChatHistory returns the messages participantID can see within the history window.
// Individual threads are keyed by the other party; own messages count as read.
func (s *Service) ChatHistory(ctx context.Context, sessionID, participantID string) (*domain.ChatHistory, error) {
	since := s.now().Add(-s.config.ChatHistoryWindow)
	messages, err := s.store.ListChatMessages(ctx, sessionID, participantID, since)
	if err != nil {
		return nil, errs.Transient(err, "failed to load chat history")
	}

	history := &domain.ChatHistory{
		Group:      []domain.ChatMessage{},
		Individual: map[string][]domain.ChatMessage{},
	}
	for _, msg := range messages {
		if msg.SenderID == participantID {
			msg.IsRead = true
		}
		if msg.ChatType == domain.ChatTypeGroup {
			history.Group = append(history.Group, msg)
			continue
		}

		var other string
		switch participantID {
		case msg.TargetID:
			other = msg.SenderID
		case msg.SenderID:
			other = msg.TargetID
		}
		if other == "" || other == participantID {
			continue
		}
		history.Individual[other] = append(history.Individual[other], msg)
	}

	counts, err := s.UnreadCounts(ctx, sessionID, participantID)
	if err != nil {
		return nil, err
	}
	history.UnreadCounts = counts
	return history, nil
}
