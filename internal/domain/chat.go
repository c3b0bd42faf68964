package domain

import "time"

// ChatMessage is an append-only chat entry. Only IsRead changes after insert.
type ChatMessage struct {
	ID         int64     `json:"message_id"`
	SessionID  string    `json:"session_id"`
	ChatType   ChatType  `json:"chat_type"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	TargetID   string    `json:"target_id,omitempty"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	IsRead     bool      `json:"is_read"`
}

// UnreadCounts is the per-participant unread view, recomputed from messages.
type UnreadCounts struct {
	Group      int            `json:"group"`
	Individual map[string]int `json:"individual"`
}

// ChatHistory partitions a participant's visible messages.
// Individual is keyed by the other party's id.
type ChatHistory struct {
	Group        []ChatMessage            `json:"group"`
	Individual   map[string][]ChatMessage `json:"individual"`
	UnreadCounts UnreadCounts             `json:"unread_counts"`
}
