package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Creation(t *testing.T) {
	cause := errors.New("underlying error")

	err := NewDownloadError("archive download failed", cause)

	assert.Equal(t, ErrorTypeDownload, err.Type)
	assert.Equal(t, "archive download failed", err.Message)
	assert.Equal(t, cause, err.Cause)
	assert.NotNil(t, err.Context)
}

func TestDomainError_WithContext(t *testing.T) {
	err := NewLaunchError("spawn failed", nil)

	err = err.WithContext("instance", "survival")
	err = err.WithContext("pid", 12345)

	assert.Equal(t, "survival", err.Context["instance"])
	assert.Equal(t, 12345, err.Context["pid"])
}

func TestDomainError_ErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		error    *DomainError
		expected string
	}{
		{
			name:     "error without cause",
			error:    NewBusyError("instance is running", nil),
			expected: "busy: instance is running",
		},
		{
			name:     "error with cause",
			error:    NewUnavailableError("catalog unreachable", errors.New("dial tcp: refused")),
			expected: "unavailable: catalog unreachable: dial tcp: refused",
		},
		{
			name:     "invalid name",
			error:    NewInvalidNameError("../etc", "parent directory segment"),
			expected: "validation: invalid name: parent directory segment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.error.Error())
		})
	}
}

func TestDomainError_TypeChecking(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", NewValidationError("x", nil), IsValidationError},
		{"not_found", NewNotFoundError("x", nil), IsNotFoundError},
		{"conflict", NewConflictError("x", nil), IsConflictError},
		{"already_running", NewAlreadyRunningError("x", nil), IsAlreadyRunningError},
		{"not_running", NewNotRunningError("x", nil), IsNotRunningError},
		{"busy", NewBusyError("x", nil), IsBusyError},
		{"launch", NewLaunchError("x", nil), IsLaunchError},
		{"download", NewDownloadError("x", nil), IsDownloadError},
		{"unavailable", NewUnavailableError("x", nil), IsUnavailableError},
		{"io", NewIOError("x", nil), IsIOError},
		{"incomplete", NewIncompleteError("x", nil), IsIncompleteError},
		{"timeout", NewTimeoutError("x", nil), IsTimeoutError},
		{"internal", NewInternalError("x", nil), IsInternalError},
		{"cancelled", NewCancelledError("x", nil), IsCancelledError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestDomainError_WrappedChain(t *testing.T) {
	inner := NewNotFoundError("release not found", nil)
	wrapped := fmt.Errorf("provisioning: %w", inner)

	assert.True(t, IsNotFoundError(wrapped))
	assert.Equal(t, ErrorTypeNotFound, TypeOf(wrapped))
	assert.True(t, errors.Is(wrapped, &DomainError{Type: ErrorTypeNotFound}))
	assert.False(t, errors.Is(wrapped, &DomainError{Type: ErrorTypeBusy}))
	assert.Equal(t, ErrorTypeInternal, TypeOf(errors.New("foreign")))
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()
	require.NoError(t, collection.ToError())
	assert.Equal(t, "no errors", collection.Error())

	collection.Add(nil)
	assert.False(t, collection.HasErrors())

	collection.Add(NewIOError("remove failed", nil))
	assert.Equal(t, "io: remove failed", collection.Error())

	collection.Add(NewIOError("chmod failed", nil))
	require.Error(t, collection.ToError())
	assert.Contains(t, collection.Error(), "2 errors occurred")
}
