// Package domain defines the core domain models for location sharing.
package domain

// ParticipantStatus represents whether a participant is sharing location.
type ParticipantStatus string

const (
	StatusWaiting ParticipantStatus = "waiting"
	StatusSharing ParticipantStatus = "sharing"
	StatusStopped ParticipantStatus = "stopped"
)

// Valid reports whether s is a known status.
func (s ParticipantStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusSharing, StatusStopped:
		return true
	}
	return false
}

// ChatType distinguishes group and one-to-one chat.
type ChatType string

const (
	ChatTypeGroup      ChatType = "group"
	ChatTypeIndividual ChatType = "individual"
)

// AuditAction represents an entry in the session audit trail.
type AuditAction string

const (
	AuditCreated               AuditAction = "created"
	AuditJoined                AuditAction = "joined"
	AuditLeft                  AuditAction = "left"
	AuditExpired               AuditAction = "expired"
	AuditLocationUpdated       AuditAction = "location_updated"
	AuditWebsocketConnected    AuditAction = "websocket_connected"
	AuditWebsocketDisconnected AuditAction = "websocket_disconnected"
	AuditError                 AuditAction = "error"
)

// NotificationLevel is the display level of a broadcast notification.
type NotificationLevel string

const (
	NotificationInfo      NotificationLevel = "info"
	NotificationSuccess   NotificationLevel = "success"
	NotificationWarning   NotificationLevel = "warning"
	NotificationDanger    NotificationLevel = "danger"
	NotificationSecondary NotificationLevel = "secondary"
)

// NormalizeNotificationLevel maps unknown levels to info.
func NormalizeNotificationLevel(level string) NotificationLevel {
	switch l := NotificationLevel(level); l {
	case NotificationInfo, NotificationSuccess, NotificationWarning, NotificationDanger, NotificationSecondary:
		return l
	}
	return NotificationInfo
}
