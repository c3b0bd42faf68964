package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/locshare/internal/domain"
)

const participantColumns = `session_id, participant_id, persistent_id, fingerprint, participant_name,
	latitude, longitude, accuracy, status, is_online, is_background, is_mobile, has_shared_before,
	first_seen, last_updated, last_seen_at, source_address, stay_start_time, total_stay_minutes,
	current_speed, is_moving, is_active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (*domain.Participant, error) {
	var p domain.Participant
	var persistentID, fingerprint, sourceAddress sql.NullString
	var lat, lon, acc sql.NullFloat64
	var firstSeen, lastUpdated int64
	var lastSeenAt, stayStart sql.NullInt64
	var status string

	err := row.Scan(&p.SessionID, &p.ParticipantID, &persistentID, &fingerprint, &p.Name,
		&lat, &lon, &acc, &status, &p.IsOnline, &p.IsBackground, &p.IsMobile, &p.HasSharedBefore,
		&firstSeen, &lastUpdated, &lastSeenAt, &sourceAddress, &stayStart, &p.TotalStayMinutes,
		&p.CurrentSpeed, &p.IsMoving, &p.Active)
	if err != nil {
		return nil, err
	}

	p.PersistentID = persistentID.String
	p.Fingerprint = fingerprint.String
	p.SourceAddress = sourceAddress.String
	p.Latitude = floatPtr(lat)
	p.Longitude = floatPtr(lon)
	p.Accuracy = floatPtr(acc)
	p.Status = domain.ParticipantStatus(status)
	p.FirstSeen = fromMillis(firstSeen)
	p.LastUpdated = fromMillis(lastUpdated)
	p.LastSeenAt = timePtr(lastSeenAt)
	p.StayStartTime = timePtr(stayStart)
	return &p, nil
}

// GetParticipant retrieves the active participant row, or nil.
func (s *SQLiteStore) GetParticipant(ctx context.Context, sessionID, participantID string) (*domain.Participant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE session_id = ? AND participant_id = ? AND is_active = 1`,
		sessionID, participantID)
	p, err := scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// SaveParticipant writes the full row, inserting or replacing the (session, participant) entry.
// first_seen is kept from the existing row.
func (s *SQLiteStore) SaveParticipant(ctx context.Context, p *domain.Participant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (`+participantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, participant_id) DO UPDATE SET
			persistent_id = excluded.persistent_id,
			fingerprint = excluded.fingerprint,
			participant_name = excluded.participant_name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			accuracy = excluded.accuracy,
			status = excluded.status,
			is_online = excluded.is_online,
			is_background = excluded.is_background,
			is_mobile = excluded.is_mobile,
			has_shared_before = excluded.has_shared_before,
			last_updated = excluded.last_updated,
			last_seen_at = excluded.last_seen_at,
			source_address = excluded.source_address,
			stay_start_time = excluded.stay_start_time,
			total_stay_minutes = excluded.total_stay_minutes,
			current_speed = excluded.current_speed,
			is_moving = excluded.is_moving,
			is_active = excluded.is_active`,
		p.SessionID, p.ParticipantID, nullString(p.PersistentID), nullString(p.Fingerprint), p.Name,
		nullFloat(p.Latitude), nullFloat(p.Longitude), nullFloat(p.Accuracy), string(p.Status),
		p.IsOnline, p.IsBackground, p.IsMobile, p.HasSharedBefore,
		toMillis(p.FirstSeen), toMillis(p.LastUpdated), nullMillis(p.LastSeenAt), nullString(p.SourceAddress),
		nullMillis(p.StayStartTime), p.TotalStayMinutes, p.CurrentSpeed, p.IsMoving, p.Active)
	return err
}

// ListActiveParticipants returns active rows, most recently updated first.
func (s *SQLiteStore) ListActiveParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE session_id = ? AND is_active = 1 ORDER BY last_updated DESC, id DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, *p)
	}
	return participants, rows.Err()
}

// CountActiveParticipants counts active rows in a session.
func (s *SQLiteStore) CountActiveParticipants(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM participants WHERE session_id = ? AND is_active = 1`, sessionID).Scan(&n)
	return n, err
}

func identityColumn(field IdentityField) (string, error) {
	switch field {
	case ByParticipantID:
		return "participant_id", nil
	case ByPersistentID:
		return "persistent_id", nil
	case ByFingerprint:
		return "fingerprint", nil
	case BySourceAddress:
		return "source_address", nil
	}
	return "", fmt.Errorf("unknown identity field %d", field)
}

// FindActiveParticipant returns the most recently updated active participant first seen
// at or after since whose field equals value, or nil.
func (s *SQLiteStore) FindActiveParticipant(ctx context.Context, sessionID string, field IdentityField, value string, since time.Time) (*domain.Participant, error) {
	column, err := identityColumn(field)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants
		WHERE session_id = ? AND `+column+` = ? AND is_active = 1 AND first_seen >= ?
		ORDER BY last_updated DESC, id DESC LIMIT 1`,
		sessionID, value, toMillis(since))
	p, err := scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// DeactivateOfflineNamesakes deactivates offline rows whose name matches case-insensitively.
func (s *SQLiteStore) DeactivateOfflineNamesakes(ctx context.Context, sessionID, name, exceptParticipantID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET is_active = 0
		WHERE session_id = ? AND is_active = 1 AND is_online = 0
			AND LOWER(participant_name) = LOWER(?) AND participant_id != ?`,
		sessionID, name, exceptParticipantID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeactivateDuplicates keeps the newest active row matching either id and deactivates the rest.
func (s *SQLiteStore) DeactivateDuplicates(ctx context.Context, sessionID, participantID, persistentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET is_active = 0
		WHERE session_id = ? AND is_active = 1 AND (participant_id = ? OR persistent_id = ?)
			AND id != (
				SELECT id FROM participants
				WHERE session_id = ? AND is_active = 1 AND (participant_id = ? OR persistent_id = ?)
				ORDER BY last_updated DESC, id DESC LIMIT 1
			)`,
		sessionID, participantID, persistentID, sessionID, participantID, persistentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteParticipant removes the participant row and its unread counters.
func (s *SQLiteStore) DeleteParticipant(ctx context.Context, sessionID, participantID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM participants WHERE session_id = ? AND participant_id = ?`, sessionID, participantID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chat_unread_counters WHERE session_id = ? AND participant_id = ?`, sessionID, participantID); err != nil {
		return err
	}
	return tx.Commit()
}
