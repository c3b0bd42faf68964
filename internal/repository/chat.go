package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/xiaot623/gogo/locshare/internal/domain"
)

// CreateChatMessage appends a message and returns its id.
func (s *SQLiteStore) CreateChatMessage(ctx context.Context, msg *domain.ChatMessage) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, chat_type, sender_id, sender_name, target_id, text, timestamp, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID, string(msg.ChatType), msg.SenderID, msg.SenderName, nullString(msg.TargetID),
		msg.Text, toMillis(msg.Timestamp), msg.IsRead)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// MarkGroupRead marks every group message not authored by readerID as read.
func (s *SQLiteStore) MarkGroupRead(ctx context.Context, sessionID, readerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_messages SET is_read = 1
		WHERE session_id = ? AND chat_type = 'group' AND sender_id != ? AND is_read = 0`,
		sessionID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkIndividualRead marks messages from senderID to readerID as read.
func (s *SQLiteStore) MarkIndividualRead(ctx context.Context, sessionID, readerID, senderID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_messages SET is_read = 1
		WHERE session_id = ? AND chat_type = 'individual' AND sender_id = ? AND target_id = ? AND is_read = 0`,
		sessionID, senderID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountUnread computes unread counts for participantID from message rows.
func (s *SQLiteStore) CountUnread(ctx context.Context, sessionID, participantID string) (domain.UnreadCounts, error) {
	counts := domain.UnreadCounts{Individual: map[string]int{}}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages
		WHERE session_id = ? AND chat_type = 'group' AND sender_id != ? AND is_read = 0`,
		sessionID, participantID).Scan(&counts.Group)
	if err != nil {
		return counts, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sender_id, COUNT(*) FROM chat_messages
		WHERE session_id = ? AND chat_type = 'individual' AND target_id = ? AND sender_id != ? AND is_read = 0
		GROUP BY sender_id`,
		sessionID, participantID, participantID)
	if err != nil {
		return counts, err
	}
	defer rows.Close()

	for rows.Next() {
		var sender string
		var n int
		if err := rows.Scan(&sender, &n); err != nil {
			return counts, err
		}
		counts.Individual[sender] = n
	}
	return counts, rows.Err()
}

// ListChatMessages returns messages visible to participantID since the given time, oldest first.
func (s *SQLiteStore) ListChatMessages(ctx context.Context, sessionID, participantID string, since time.Time) ([]domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, chat_type, sender_id, sender_name, target_id, text, timestamp, is_read
		FROM chat_messages
		WHERE session_id = ? AND timestamp >= ?
			AND (chat_type = 'group' OR sender_id = ? OR target_id = ?)
		ORDER BY timestamp ASC, id ASC`,
		sessionID, toMillis(since), participantID, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var chatType string
		var targetID sql.NullString
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &chatType, &msg.SenderID, &msg.SenderName,
			&targetID, &msg.Text, &ts, &msg.IsRead); err != nil {
			return nil, err
		}
		msg.ChatType = domain.ChatType(chatType)
		msg.TargetID = targetID.String
		msg.Timestamp = fromMillis(ts)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SaveUnreadCounter stores the materialized unread view for a participant.
func (s *SQLiteStore) SaveUnreadCounter(ctx context.Context, sessionID, participantID string, counts domain.UnreadCounts) error {
	individual, err := json.Marshal(counts.Individual)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_unread_counters (session_id, participant_id, group_unread, individual_unread, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, participant_id) DO UPDATE SET
			group_unread = excluded.group_unread,
			individual_unread = excluded.individual_unread,
			updated_at = excluded.updated_at`,
		sessionID, participantID, counts.Group, string(individual), toMillis(time.Now()))
	return err
}

// GetUnreadCounter returns the stored unread view, or nil.
func (s *SQLiteStore) GetUnreadCounter(ctx context.Context, sessionID, participantID string) (*domain.UnreadCounts, error) {
	var counts domain.UnreadCounts
	var individual string
	err := s.db.QueryRowContext(ctx,
		`SELECT group_unread, individual_unread FROM chat_unread_counters WHERE session_id = ? AND participant_id = ?`,
		sessionID, participantID).Scan(&counts.Group, &individual)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(individual), &counts.Individual); err != nil {
		return nil, err
	}
	return &counts, nil
}
