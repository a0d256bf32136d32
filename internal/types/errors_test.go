package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewAppError(ErrCodeUpstreamTransient, "upstream request failed", cause)

	assert.Equal(t, "upstream_transient: upstream request failed", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestCodeOf(t *testing.T) {
	direct := NewAppError(ErrCodeCredentialInvalid, "refresh rejected", nil)
	assert.Equal(t, ErrCodeCredentialInvalid, CodeOf(direct))

	wrapped := fmt.Errorf("during sync: %w", direct)
	assert.Equal(t, ErrCodeCredentialInvalid, CodeOf(wrapped), "CodeOf must see through wrapping")

	assert.Equal(t, ErrCodeInternalUnexpected, CodeOf(errors.New("plain")))
	assert.Equal(t, ErrCodeInternalUnexpected, CodeOf(nil))
}

func TestIsCredentialInvalid(t *testing.T) {
	assert.True(t, IsCredentialInvalid(NewAppError(ErrCodeCredentialInvalid, "dead", nil)))
	assert.False(t, IsCredentialInvalid(NewAppError(ErrCodeCredentialNotFound, "absent", nil)))
	assert.False(t, IsCredentialInvalid(errors.New("plain")))
}

func TestAppError_WithDetailsMergesWithoutMutating(t *testing.T) {
	base := NewAppError(ErrCodeWriteBatchFailed, "batch failed", nil).
		WithDetails(map[string]any{"table": "search_facts", "batch": 0})

	extended := base.WithDetails(map[string]any{"batch": 2, "row_start": 2000})

	require.Equal(t, map[string]any{"table": "search_facts", "batch": 0}, base.Details)
	assert.Equal(t, map[string]any{
		"table":     "search_facts",
		"batch":     2,
		"row_start": 2000,
	}, extended.Details)
	assert.Equal(t, base.Code, extended.Code)
	assert.Equal(t, base.Message, extended.Message)
}
