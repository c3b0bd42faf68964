// Package protocol defines the WebSocket message protocol between participants and the server.
package protocol

import "encoding/json"

// MessageType names an inbound or outbound message.
type MessageType string

// Message types from client to server
const (
	TypeJoin                      MessageType = "join"
	TypeLocationUpdate            MessageType = "location_update"
	TypeNameUpdate                MessageType = "name_update"
	TypeBackgroundStatusUpdate    MessageType = "background_status_update"
	TypeImmediateForegroundReturn MessageType = "immediate_foreground_return"
	TypeStopSharing               MessageType = "stop_sharing"
	TypeSyncStatus                MessageType = "sync_status"
	TypeOffline                   MessageType = "offline"
	TypeLeave                     MessageType = "leave"
	TypePing                      MessageType = "ping"
	TypeNotification              MessageType = "notification"
	TypeChatMessage               MessageType = "chat_message"
	TypeTypingIndicator           MessageType = "typing_indicator"
	TypeRequestChatHistory        MessageType = "request_chat_history"
	TypeMarkAsRead                MessageType = "mark_as_read"
	TypeStayReset                 MessageType = "stay_reset"
	TypeStayTimeUpdate            MessageType = "stay_time_update"
	TypeSingleParticipantUpdate   MessageType = "single_participant_update"
)

// Message types from server to client. Some share a name with an inbound type.
const (
	TypeParticipantConfirmed         MessageType = "participant_confirmed"
	TypeImmediateForegroundConfirmed MessageType = "immediate_foreground_confirmed"
	TypeNameUpdateResponse           MessageType = "name_update_response"
	TypeLeaveConfirmed               MessageType = "leave_confirmed"
	TypeChatHistory                  MessageType = "chat_history"
	TypePong                         MessageType = "pong"
	TypeRemoveDirectionIndicator     MessageType = "remove_direction_indicator"
	TypeSessionExpired               MessageType = "session_expired"
	TypeError                        MessageType = "error"
)

// Envelope carries only the discriminator of an inbound frame.
type Envelope struct {
	Type MessageType `json:"type"`
}

// Message is one decoded inbound message.
type Message interface {
	MessageType() MessageType
}

// JoinMessage announces a participant on a connection.
type JoinMessage struct {
	ParticipantID           string `json:"participant_id" validate:"required,ident"`
	PersistentParticipantID string `json:"persistent_participant_id" validate:"omitempty,ident"`
	ParticipantName         string `json:"participant_name"`
	SessionFingerprint      string `json:"session_fingerprint" validate:"max=256"`
	IsMobile                bool   `json:"is_mobile"`
	IsBackground            bool   `json:"is_background"`
	InitialStatus           string `json:"initial_status"`
	RequestExistingCheck    bool   `json:"request_existing_check"`
	ImmediateOnline         bool   `json:"immediate_online"`
	PriorityConnection      bool   `json:"priority_connection"`
	PageReturning           bool   `json:"page_returning"`
	Deduplicate             bool   `json:"deduplicate"`
	// Legacy clients send is_sharing instead of initial_status.
	IsSharing *bool `json:"is_sharing"`
}

// LocationMessage is a position report. It backs both location_update and single_participant_update.
type LocationMessage struct {
	Kind            MessageType `json:"-"`
	ParticipantID   string      `json:"participant_id" validate:"required,ident"`
	ParticipantName string      `json:"participant_name"`
	Latitude        *float64    `json:"latitude"`
	Longitude       *float64    `json:"longitude"`
	Accuracy        *float64    `json:"accuracy"`
	IsBackground    bool        `json:"is_background"`
}

type NameUpdateMessage struct {
	ParticipantID   string `json:"participant_id" validate:"required,ident"`
	ParticipantName string `json:"participant_name"`
}

type BackgroundStatusMessage struct {
	ParticipantID       string `json:"participant_id" validate:"required,ident"`
	ParticipantName     string `json:"participant_name"`
	IsBackground        bool   `json:"is_background"`
	IsSharing           bool   `json:"is_sharing"`
	IsMobile            bool   `json:"is_mobile"`
	PageUnloading       bool   `json:"page_unloading"`
	MaintainActive      bool   `json:"maintain_active"`
	ImmediateTransition bool   `json:"immediate_transition"`
}

type ForegroundReturnMessage struct {
	ParticipantID   string `json:"participant_id" validate:"required,ident"`
	ParticipantName string `json:"participant_name"`
	IsSharing       bool   `json:"is_sharing"`
	IsMobile        bool   `json:"is_mobile"`
	PageReturning   bool   `json:"page_returning"`
	PriorityUpdate  bool   `json:"priority_update"`
}

type StopSharingMessage struct {
	ParticipantID            string `json:"participant_id" validate:"required,ident"`
	ParticipantName          string `json:"participant_name"`
	RemoveDirectionIndicator bool   `json:"remove_direction_indicator"`
}

type SyncStatusMessage struct {
	ParticipantID   string `json:"participant_id" validate:"required,ident"`
	ParticipantName string `json:"participant_name"`
	IsSharing       bool   `json:"is_sharing"`
	Status          string `json:"status"`
}

type OfflineMessage struct {
	ParticipantID string `json:"participant_id" validate:"required,ident"`
}

type LeaveMessage struct {
	ParticipantID string `json:"participant_id" validate:"required,ident"`
}

// PingMessage is the client's periodic keepalive and state re-sync.
type PingMessage struct {
	ParticipantID string          `json:"participant_id" validate:"required,ident"`
	IsSharing     bool            `json:"is_sharing"`
	IsBackground  bool            `json:"is_background"`
	IsMobile      bool            `json:"is_mobile"`
	HasPosition   bool            `json:"has_position"`
	CurrentSpeed  *float64        `json:"current_speed"`
	IsMoving      bool            `json:"is_moving"`
	Timestamp     json.RawMessage `json:"timestamp"`
}

type NotificationMessage struct {
	ParticipantID    string `json:"participant_id" validate:"required,ident"`
	ParticipantName  string `json:"participant_name"`
	Message          string `json:"message"`
	NotificationType string `json:"notification_type"`
}

type ChatMessage struct {
	ChatType   string `json:"chat_type" validate:"omitempty,oneof=group individual"`
	SenderID   string `json:"sender_id" validate:"required,ident"`
	SenderName string `json:"sender_name"`
	TargetID   string `json:"target_id" validate:"omitempty,ident"`
	Text       string `json:"text"`
}

type TypingIndicatorMessage struct {
	ChatType   string `json:"chat_type" validate:"omitempty,oneof=group individual"`
	SenderID   string `json:"sender_id" validate:"required,ident"`
	SenderName string `json:"sender_name"`
	TargetID   string `json:"target_id" validate:"omitempty,ident"`
	IsTyping   bool   `json:"is_typing"`
}

type ChatHistoryRequest struct {
	ParticipantID string `json:"participant_id" validate:"required,ident"`
}

type MarkAsReadMessage struct {
	ParticipantID string `json:"participant_id" validate:"required,ident"`
	ChatType      string `json:"chat_type" validate:"omitempty,oneof=group individual"`
	SenderID      string `json:"sender_id" validate:"omitempty,ident"`
}

type StayResetMessage struct {
	ParticipantID string `json:"participant_id" validate:"required,ident"`
}

type StayTimeUpdateMessage struct {
	ParticipantID string `json:"participant_id" validate:"required,ident"`
	StayMinutes   int    `json:"stay_minutes" validate:"min=0,max=1440"`
}

func (*JoinMessage) MessageType() MessageType { return TypeJoin }
func (m *LocationMessage) MessageType() MessageType { return m.Kind }
func (*NameUpdateMessage) MessageType() MessageType { return TypeNameUpdate }
func (*BackgroundStatusMessage) MessageType() MessageType { return TypeBackgroundStatusUpdate }
func (*ForegroundReturnMessage) MessageType() MessageType { return TypeImmediateForegroundReturn }
func (*StopSharingMessage) MessageType() MessageType { return TypeStopSharing }
func (*SyncStatusMessage) MessageType() MessageType { return TypeSyncStatus }
func (*OfflineMessage) MessageType() MessageType { return TypeOffline }
func (*LeaveMessage) MessageType() MessageType { return TypeLeave }
func (*PingMessage) MessageType() MessageType { return TypePing }
func (*NotificationMessage) MessageType() MessageType { return TypeNotification }
func (*ChatMessage) MessageType() MessageType { return TypeChatMessage }
func (*TypingIndicatorMessage) MessageType() MessageType { return TypeTypingIndicator }
func (*ChatHistoryRequest) MessageType() MessageType { return TypeRequestChatHistory }
func (*MarkAsReadMessage) MessageType() MessageType { return TypeMarkAsRead }
func (*StayResetMessage) MessageType() MessageType { return TypeStayReset }
func (*StayTimeUpdateMessage) MessageType() MessageType { return TypeStayTimeUpdate }
