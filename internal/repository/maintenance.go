package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/xiaot623/gogo/locshare/internal/domain"
)

// CreateAuditEntry appends a row to the session audit trail.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	var extra sql.NullString
	if len(entry.ExtraData) > 0 {
		extra = sql.NullString{String: string(entry.ExtraData), Valid: true}
	}
	userAgent := entry.UserAgent
	if len(userAgent) > domain.MaxUserAgentLength {
		userAgent = userAgent[:domain.MaxUserAgentLength]
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO session_logs (session_id, action, participant_id, source_address, user_agent, connection_id, error_message, extra_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID, string(entry.Action), nullString(entry.ParticipantID), nullString(entry.SourceAddress),
		nullString(userAgent), nullString(entry.ConnectionID), nullString(entry.ErrorMessage), extra, toMillis(createdAt))
	if err != nil {
		return err
	}
	entry.ID, _ = res.LastInsertId()
	return nil
}

// ListAuditEntries returns the newest audit rows for a session.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, sessionID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, action, participant_id, source_address, user_agent, connection_id, error_message, extra_data, created_at
		FROM session_logs WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var action string
		var participantID, sourceAddress, userAgent, connectionID, errorMessage, extra sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.SessionID, &action, &participantID, &sourceAddress, &userAgent,
			&connectionID, &errorMessage, &extra, &createdAt); err != nil {
			return nil, err
		}
		e.Action = domain.AuditAction(action)
		e.ParticipantID = participantID.String
		e.SourceAddress = sourceAddress.String
		e.UserAgent = userAgent.String
		e.ConnectionID = connectionID.String
		e.ErrorMessage = errorMessage.String
		if extra.Valid {
			e.ExtraData = []byte(extra.String)
		}
		e.CreatedAt = fromMillis(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ExpireSessions flags sessions past their expiry as inactive and returns their ids.
func (s *SQLiteStore) ExpireSessions(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM sessions WHERE is_active = 1 AND expires_at < ?`, toMillis(now))
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0 WHERE is_active = 1 AND expires_at < ?`, toMillis(now)); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteExpiredLocationRows removes participant rows of sessions that expired before now.
func (s *SQLiteStore) DeleteExpiredLocationRows(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM participants WHERE session_id IN (SELECT session_id FROM sessions WHERE expires_at < ?)`,
		toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredSessions removes sessions that expired before cutoff along with their children.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteStaleOfflineParticipants removes offline rows not updated since cutoff.
// Rows still waiting are kept.
func (s *SQLiteStore) DeleteStaleOfflineParticipants(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM participants WHERE is_online = 0 AND status != 'waiting' AND last_updated < ?`,
		toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOldAuditEntries removes audit rows created before cutoff.
func (s *SQLiteStore) DeleteOldAuditEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_logs WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetStats counts live sessions and participants online and updated since onlineSince.
func (s *SQLiteStore) GetStats(ctx context.Context, now time.Time, onlineSince time.Time) (*domain.Stats, error) {
	stats := &domain.Stats{Timestamp: now}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE is_active = 1 AND expires_at > ?`, toMillis(now)).Scan(&stats.ActiveSessions); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM participants WHERE is_online = 1 AND is_active = 1 AND last_updated >= ?`,
		toMillis(onlineSince)).Scan(&stats.OnlineParticipants); err != nil {
		return nil, err
	}
	return stats, nil
}
