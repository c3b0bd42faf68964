package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("bad")))
	assert.Equal(t, KindTransient, KindOf(fmt.Errorf("save: %w", Transient(errors.New("disk"), "storage unavailable"))))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestSentinelsMatchWithErrorsIs(t *testing.T) {
	err := fmt.Errorf("join: %w", ErrSessionExpired)
	assert.True(t, errors.Is(err, ErrSessionExpired))
	assert.False(t, errors.Is(err, ErrSessionNotFound))
	assert.True(t, IsKind(err, KindExpired))
}

func TestPublicMessageHidesInternalDetail(t *testing.T) {
	assert.Equal(t, "internal error", PublicMessage(errors.New("sql: connection refused")))
	assert.Equal(t, "internal error", PublicMessage(Internal(errors.New("nil map"), "boom")))
	assert.Equal(t, "invalid participant id", PublicMessage(Validation("invalid participant id")))
}

func TestErrorString(t *testing.T) {
	err := Transient(errors.New("locked"), "storage unavailable")
	assert.Equal(t, "[transient] storage unavailable (locked)", err.Error())
	assert.Equal(t, "[capacity] rate limit exceeded", ErrRateLimited.Error())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "session_expired", CodeOf(fmt.Errorf("x: %w", ErrSessionExpired)))
	assert.Equal(t, "validation", CodeOf(Validation("latitude out of range")))
	assert.Equal(t, "internal", CodeOf(errors.New("plain")))
}
