package domain

import (
	"encoding/json"
	"time"
)

// MaxUserAgentLength caps the stored user agent.
const MaxUserAgentLength = 500

// AuditEntry is a row of the session audit trail.
type AuditEntry struct {
	ID            int64           `json:"id"`
	SessionID     string          `json:"session_id"`
	Action        AuditAction     `json:"action"`
	ParticipantID string          `json:"participant_id,omitempty"`
	SourceAddress string          `json:"source_address,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	ConnectionID  string          `json:"connection_id,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	ExtraData     json.RawMessage `json:"extra_data,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SweepResult counts rows changed by one cleanup pass.
type SweepResult struct {
	DeactivatedSessions int64 `json:"deactivated_sessions"`
	ExpiredLocationRows int64 `json:"expired_location_rows"`
	ExpiredSessions     int64 `json:"expired_sessions"`
	StaleOfflineRows    int64 `json:"stale_offline_participants"`
	OldAuditRows        int64 `json:"old_audit_logs"`
}
