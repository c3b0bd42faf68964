package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xiaot623/gogo/locshare/internal/domain"
	"github.com/xiaot623/gogo/locshare/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// CreateTestSession inserts an active session expiring after ttl.
func CreateTestSession(t *testing.T, s store.Store, ttl time.Duration) *domain.Session {
	t.Helper()

	now := time.Now().UTC()
	session := &domain.Session{
		ID:              uuid.NewString(),
		DurationMinutes: int(ttl / time.Minute),
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
		Active:          true,
	}
	if err := s.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return session
}
