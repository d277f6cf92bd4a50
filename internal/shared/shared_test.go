package shared

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("calendar: create: %w", NewValidationError("interval", "must be between 1 and 30"))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "validation failed: interval: must be between 1 and 30", UserSafeMessage(err))
}

func TestUserSafeMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "internal error", UserSafeMessage(errors.New("pq: connection refused")))
	assert.Equal(t, "authentication required", UserSafeMessage(fmt.Errorf("expired: %w", ErrUnauthenticated)))
}

func TestCSRFTokenBoundToSession(t *testing.T) {
	m := NewCSRFManager("secret")
	token := m.IssueToken("session-a")

	require.NoError(t, m.VerifyToken("session-a", token))
	assert.ErrorIs(t, m.VerifyToken("session-b", token), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, m.VerifyToken("session-a", ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, m.VerifyToken("session-a", "garbage"), ErrCSRFTokenMismatch)
}

func TestPageFromRequestBounds(t *testing.T) {
	req := httptest.NewRequest("GET", "/users?page=-3&per_page=1000", nil)
	page := PageFromRequest(req)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, maxPerPage, page.PerPage)
	assert.Equal(t, 0, page.Offset())

	meta := NewPagination(3, 10, 25)
	assert.Equal(t, 3, meta.TotalPages)
}

func TestIdempotencyConflictIsConflict(t *testing.T) {
	assert.ErrorIs(t, ErrIdempotencyConflict, ErrConflict)
	assert.ErrorIs(t, ErrLockHeld, ErrConflict)
}

func TestFromValidatorReportsFirstField(t *testing.T) {
	type input struct {
		Title string `validate:"required"`
	}
	err := FromValidator(validator.New().Struct(input{}))
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "title", vErr.Field)
	assert.ErrorIs(t, err, ErrValidation)
	assert.NoError(t, FromValidator(nil))
}
