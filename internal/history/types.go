package history

import (
	"context"
	"time"
)

// Roles recorded in the transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// UtteranceRecord is one committed user utterance or one spoken reply.
type UtteranceRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	// Source is "auto" or "manual" for user utterances, the synthesizer
	// backend name for assistant replies.
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves the conversation transcript.
type Store interface {
	Save(ctx context.Context, record UtteranceRecord) error
	Recent(ctx context.Context, userID string, limit int) ([]UtteranceRecord, error)
	Close() error
}
