package protocol

import (
	"encoding/json"
	"time"

	"github.com/xiaot623/gogo/locshare/internal/domain"
)

// SnapshotMessage is the full participant list of a session.
type SnapshotMessage struct {
	Type      MessageType              `json:"type"`
	Locations []domain.ParticipantView `json:"locations"`
}

// NewSnapshot builds a location_update broadcast. A nil list is sent as [].
func NewSnapshot(views []domain.ParticipantView) SnapshotMessage {
	if views == nil {
		views = []domain.ParticipantView{}
	}
	return SnapshotMessage{Type: TypeLocationUpdate, Locations: views}
}

// SingleParticipantMessage is a delta carrying one participant.
type SingleParticipantMessage struct {
	Type            MessageType            `json:"type"`
	ParticipantID   string                 `json:"participant_id"`
	ParticipantData domain.ParticipantView `json:"participant_data"`
}

type ParticipantConfirmedMessage struct {
	Type            MessageType `json:"type"`
	ParticipantID   string      `json:"participant_id"`
	IsExisting      bool        `json:"is_existing"`
	ParticipantName string      `json:"participant_name"`
	ImmediateOnline bool        `json:"immediate_online"`
	IsBackground    bool        `json:"is_background"`
	IPChanged       bool        `json:"ip_changed"`
}

type ForegroundConfirmedMessage struct {
	Type          MessageType              `json:"type"`
	ParticipantID string                   `json:"participant_id"`
	IsOnline      bool                     `json:"is_online"`
	IsBackground  bool                     `json:"is_background"`
	Status        domain.ParticipantStatus `json:"status"`
	ServerTime    time.Time                `json:"server_time"`
	Message       string                   `json:"message"`
}

type NameUpdateResponse struct {
	Type            MessageType `json:"type"`
	Success         bool        `json:"success"`
	ParticipantName string      `json:"participant_name"`
	ParticipantID   string      `json:"participant_id"`
}

type LeaveConfirmedMessage struct {
	Type          MessageType `json:"type"`
	ParticipantID string      `json:"participant_id"`
	Message       string      `json:"message"`
}

type PongMessage struct {
	Type              MessageType     `json:"type"`
	Timestamp         json.RawMessage `json:"timestamp"`
	ParticipantID     string          `json:"participant_id"`
	ServerTime        time.Time       `json:"server_time"`
	KeepAlive         bool            `json:"keep_alive"`
	SpeedAcknowledged bool            `json:"speed_acknowledged"`
	CurrentSpeed      float64         `json:"current_speed"`
}

type NotificationBroadcast struct {
	Type             MessageType              `json:"type"`
	ParticipantID    string                   `json:"participant_id"`
	ParticipantName  string                   `json:"participant_name"`
	Message          string                   `json:"message"`
	NotificationType domain.NotificationLevel `json:"notification_type"`
	Timestamp        time.Time                `json:"timestamp"`
}

type ChatBroadcast struct {
	Type       MessageType     `json:"type"`
	MessageID  int64           `json:"message_id"`
	ChatType   domain.ChatType `json:"chat_type"`
	SenderID   string          `json:"sender_id"`
	SenderName string          `json:"sender_name"`
	TargetID   *string         `json:"target_id"`
	Text       string          `json:"text"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewChatBroadcast renders a stored message for delivery.
func NewChatBroadcast(msg *domain.ChatMessage) ChatBroadcast {
	return ChatBroadcast{
		Type:       TypeChatMessage,
		MessageID:  msg.ID,
		ChatType:   msg.ChatType,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		TargetID:   optional(msg.TargetID),
		Text:       msg.Text,
		Timestamp:  msg.Timestamp,
	}
}

type TypingBroadcast struct {
	Type       MessageType     `json:"type"`
	ChatType   domain.ChatType `json:"chat_type"`
	SenderID   string          `json:"sender_id"`
	SenderName string          `json:"sender_name"`
	TargetID   *string         `json:"target_id"`
	IsTyping   bool            `json:"is_typing"`
}

// NewTypingBroadcast builds a typing indicator. An empty targetID is sent as null.
func NewTypingBroadcast(chatType domain.ChatType, senderID, senderName, targetID string, isTyping bool) TypingBroadcast {
	return TypingBroadcast{
		Type:       TypeTypingIndicator,
		ChatType:   chatType,
		SenderID:   senderID,
		SenderName: senderName,
		TargetID:   optional(targetID),
		IsTyping:   isTyping,
	}
}

type ChatHistoryMessage struct {
	Type         MessageType         `json:"type"`
	Messages     ChatThreads         `json:"messages"`
	UnreadCounts domain.UnreadCounts `json:"unread_counts"`
}

type ChatThreads struct {
	Group      []domain.ChatMessage            `json:"group"`
	Individual map[string][]domain.ChatMessage `json:"individual"`
}

// NewChatHistory splits a history into the wire shape, never sending null lists.
func NewChatHistory(h *domain.ChatHistory) ChatHistoryMessage {
	threads := ChatThreads{Group: h.Group, Individual: h.Individual}
	if threads.Group == nil {
		threads.Group = []domain.ChatMessage{}
	}
	if threads.Individual == nil {
		threads.Individual = map[string][]domain.ChatMessage{}
	}
	counts := h.UnreadCounts
	if counts.Individual == nil {
		counts.Individual = map[string]int{}
	}
	return ChatHistoryMessage{Type: TypeChatHistory, Messages: threads, UnreadCounts: counts}
}

type RemoveDirectionIndicatorMessage struct {
	Type          MessageType `json:"type"`
	ParticipantID string      `json:"participant_id"`
}

// StatusMessage is used for error and session_expired.
type StatusMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewError(message string) StatusMessage {
	return StatusMessage{Type: TypeError, Message: message}
}

func NewSessionExpired() StatusMessage {
	return StatusMessage{Type: TypeSessionExpired, Message: "Session has expired"}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
