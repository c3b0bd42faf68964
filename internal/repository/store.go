// Package store defines the storage interface and its SQLite implementation.
package store

import (
	"context"
	"time"

	"github.com/xiaot623/gogo/locshare/internal/domain"
)

// IdentityField names a participant column usable for identity lookups.
type IdentityField int

const (
	ByParticipantID IdentityField = iota
	ByPersistentID
	ByFingerprint
	BySourceAddress
)

// Store defines the interface for data persistence.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// Participant operations
	GetParticipant(ctx context.Context, sessionID, participantID string) (*domain.Participant, error)
	SaveParticipant(ctx context.Context, p *domain.Participant) error
	ListActiveParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	CountActiveParticipants(ctx context.Context, sessionID string) (int, error)
	FindActiveParticipant(ctx context.Context, sessionID string, field IdentityField, value string, since time.Time) (*domain.Participant, error)
	DeactivateOfflineNamesakes(ctx context.Context, sessionID, name, exceptParticipantID string) (int64, error)
	DeactivateDuplicates(ctx context.Context, sessionID, participantID, persistentID string) (int64, error)
	DeleteParticipant(ctx context.Context, sessionID, participantID string) error

	// Chat operations
	CreateChatMessage(ctx context.Context, msg *domain.ChatMessage) (int64, error)
	MarkGroupRead(ctx context.Context, sessionID, readerID string) (int64, error)
	MarkIndividualRead(ctx context.Context, sessionID, readerID, senderID string) (int64, error)
	CountUnread(ctx context.Context, sessionID, participantID string) (domain.UnreadCounts, error)
	ListChatMessages(ctx context.Context, sessionID, participantID string, since time.Time) ([]domain.ChatMessage, error)
	SaveUnreadCounter(ctx context.Context, sessionID, participantID string, counts domain.UnreadCounts) error
	GetUnreadCounter(ctx context.Context, sessionID, participantID string) (*domain.UnreadCounts, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *domain.AuditEntry) error
	ListAuditEntries(ctx context.Context, sessionID string, limit int) ([]domain.AuditEntry, error)

	// Cleanup operations
	ExpireSessions(ctx context.Context, now time.Time) ([]string, error)
	DeleteExpiredLocationRows(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteStaleOfflineParticipants(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOldAuditEntries(ctx context.Context, cutoff time.Time) (int64, error)

	// Stats
	GetStats(ctx context.Context, now time.Time, onlineSince time.Time) (*domain.Stats, error)

	// Lifecycle
	Close() error
}
