package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	cause := stderrors.New("rule not found: cpu_high")
	err := Wrap(ErrNotFound, cause)

	assert.Equal(t, http.StatusNotFound, err.Code)
	assert.Equal(t, "rule not found: cpu_high", err.Details)
	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "details=rule not found")
}

func TestGetStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusConflict, GetStatusCode(ErrConflict))
	assert.Equal(t, http.StatusBadRequest, GetStatusCode(fmt.Errorf("binding: %w", ErrBadRequest)))
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(stderrors.New("boom")))
	assert.True(t, IsAppError(fmt.Errorf("wrapped: %w", ErrForbidden)))
	assert.False(t, IsAppError(stderrors.New("plain")))
}

func TestWithDetails(t *testing.T) {
	err := WithDetails(ErrBadRequest, "window must be one of 1m, 1h, 1d")
	assert.Equal(t, http.StatusBadRequest, err.Code)
	assert.Equal(t, "window must be one of 1m, 1h, 1d", err.Details)
	assert.Empty(t, ErrBadRequest.Details)
}
