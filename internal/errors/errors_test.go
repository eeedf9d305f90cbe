package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDebugErrorMessage(t *testing.T) {
	err := ResolutionFailed("main.c", []string{"/proj/src"})
	assert.Equal(t, CodeResolutionFailed, err.Code)
	assert.Contains(t, err.Error(), "could not find file: main.c")
	assert.Contains(t, err.Error(), "| Hint: ")
	assert.Equal(t, []string{"/proj/src"}, err.Details["searchDirs"])
}

func TestDebugErrorWithoutHint(t *testing.T) {
	err := &DebugError{Code: CodeBackendError, Message: "boom"}
	assert.Equal(t, "boom", err.Error())
}

func TestUnwrapAndHasCode(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := EngineConnectFailed("127.0.0.1:1", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, HasCode(err, CodeEngineConnectFailed))
	assert.True(t, HasCode(fmt.Errorf("wrapped: %w", err), CodeEngineConnectFailed))
	assert.False(t, HasCode(err, CodeBackendError))
	assert.False(t, HasCode(cause, CodeEngineConnectFailed))
	assert.False(t, HasCode(nil, CodeEngineConnectFailed))
}

func TestHasCodeCombined(t *testing.T) {
	err := multierr.Combine(ResolutionFailed("a.c", nil), MalformedBreakpoint(2, "line 0"))
	assert.True(t, HasCode(err, CodeResolutionFailed))
	assert.True(t, HasCode(err, CodeMalformedBreakpoint))
	assert.False(t, HasCode(err, CodeBackendError))
}

func TestFromError(t *testing.T) {
	t.Run("preserves structure", func(t *testing.T) {
		orig := UnknownBreakpoint(7)
		got := FromError(fmt.Errorf("ctx: %w", orig))
		require.NotNil(t, got)
		assert.Same(t, orig, got)
	})

	t.Run("wraps plain error", func(t *testing.T) {
		got := FromError(fmt.Errorf("plain"))
		assert.Equal(t, ErrorCode("UNKNOWN_ERROR"), got.Code)
		assert.Equal(t, "plain", got.Message)
	})
}

func TestWithDetails(t *testing.T) {
	err := BackendError("No symbol table is loaded.").WithDetails("command", "break")
	assert.Equal(t, "break", err.Details["command"])
	assert.Equal(t, "No symbol table is loaded.", err.Details["backendMessage"])
}
