// Package errors provides structured error types for dbgsync.
// Every error carries a machine-readable code and a hint that tells the
// caller (usually an MCP client) how to correct course.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Session errors
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionLimitReached ErrorCode = "SESSION_LIMIT_REACHED"

	// Engine errors
	CodeEngineConnectFailed ErrorCode = "ENGINE_CONNECT_FAILED"
	CodeEngineInitFailed    ErrorCode = "ENGINE_INIT_FAILED"
	CodeEngineCommandFailed ErrorCode = "ENGINE_COMMAND_FAILED"
	CodeEngineTimeout       ErrorCode = "ENGINE_TIMEOUT"

	// Synchronization core errors
	CodeResolutionFailed    ErrorCode = "RESOLUTION_FAILED"
	CodeParseFailed         ErrorCode = "PARSE_FAILED"
	CodeUnknownBreakpoint   ErrorCode = "UNKNOWN_BREAKPOINT"
	CodeBackendError        ErrorCode = "BACKEND_ERROR"
	CodeMalformedBreakpoint ErrorCode = "MALFORMED_BREAKPOINT"
	CodeVariableNotFound    ErrorCode = "VARIABLE_NOT_FOUND"

	// Parameter errors
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"

	// Configuration errors
	CodeConfigInvalid ErrorCode = "CONFIG_INVALID"
)

// DebugError is a structured error type that includes a hint on how to
// fix the problem.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a human-readable description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the invalid value, expected format)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// --- Session Errors ---

// SessionNotFound creates an error for when a session ID doesn't exist
func SessionNotFound(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session '%s' not found", sessionID),
		Hint:    "Use session_list to see active sessions, or session_open to create a new one.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// SessionLimitReached creates an error when max sessions is reached
func SessionLimitReached(maxSessions int) *DebugError {
	return &DebugError{
		Code:    CodeSessionLimitReached,
		Message: fmt.Sprintf("maximum number of sessions (%d) reached", maxSessions),
		Hint:    "Use session_close to terminate an existing session before opening a new one.",
		Details: map[string]interface{}{
			"maxSessions": maxSessions,
		},
	}
}

// --- Engine Errors ---

// EngineConnectFailed creates an error when connecting to a debug adapter fails
func EngineConnectFailed(address string, err error) *DebugError {
	return &DebugError{
		Code:    CodeEngineConnectFailed,
		Message: fmt.Sprintf("failed to connect to debug adapter at %s: %v", address, err),
		Hint:    "Start the adapter first, e.g. 'gdb -i dap' behind a socket or 'dlv dap --listen 127.0.0.1:4711', and pass its address.",
		Cause:   err,
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// EngineInitFailed creates an error for adapter handshake failures
func EngineInitFailed(err error) *DebugError {
	return &DebugError{
		Code:    CodeEngineInitFailed,
		Message: fmt.Sprintf("debug adapter initialization failed: %v", err),
		Hint:    "The adapter may be incompatible or crashed during startup. Close the session and open a new one.",
		Cause:   err,
	}
}

// EngineCommandFailed creates an error when a command could not be sent to the backend
func EngineCommandFailed(command string, err error) *DebugError {
	return &DebugError{
		Code:    CodeEngineCommandFailed,
		Message: fmt.Sprintf("failed to send %s to the debugger: %v", command, err),
		Hint:    "The backend connection may be closed. Check session_list and reopen the session if needed.",
		Cause:   err,
		Details: map[string]interface{}{
			"command": command,
		},
	}
}

// EngineTimeout creates an error for backend requests that never completed
func EngineTimeout(operation string, timeoutSeconds int) *DebugError {
	return &DebugError{
		Code:    CodeEngineTimeout,
		Message: fmt.Sprintf("%s timed out after %d seconds", operation, timeoutSeconds),
		Hint:    "The debuggee may be running. Wait for it to stop before inspecting state.",
		Details: map[string]interface{}{
			"operation":      operation,
			"timeoutSeconds": timeoutSeconds,
		},
	}
}

// --- Synchronization Core Errors ---

// ResolutionFailed creates an error for a bare file name that no search dir contains
func ResolutionFailed(fileName string, searchDirs []string) *DebugError {
	return &DebugError{
		Code:    CodeResolutionFailed,
		Message: fmt.Sprintf("could not find file: %s", fileName),
		Hint:    "Add the directory containing the file to sourceDirs in the configuration.",
		Details: map[string]interface{}{
			"fileName":   fileName,
			"searchDirs": searchDirs,
		},
	}
}

// ParseFailed creates an error for a qualified variable name that cannot be split
func ParseFailed(qname string, err error) *DebugError {
	return &DebugError{
		Code:    CodeParseFailed,
		Message: fmt.Sprintf("failed to parse variable name '%s': %v", qname, err),
		Hint:    "Qualified names are identifiers separated by '.' or '->', e.g. 'a.b->c'.",
		Cause:   err,
		Details: map[string]interface{}{
			"qname": qname,
		},
	}
}

// UnknownBreakpoint creates an error for a breakpoint number the registry does not hold
func UnknownBreakpoint(number int) *DebugError {
	return &DebugError{
		Code:    CodeUnknownBreakpoint,
		Message: fmt.Sprintf("breakpoint %d not found", number),
		Hint:    "Use breakpoint_list to see the breakpoints confirmed by the debugger.",
		Details: map[string]interface{}{
			"number": number,
		},
	}
}

// BackendError creates an error for a failure reported asynchronously by the debugger
func BackendError(message string) *DebugError {
	return &DebugError{
		Code:    CodeBackendError,
		Message: fmt.Sprintf("an error occurred: %s", message),
		Hint:    "The debugger rejected a command. Local state was left unchanged.",
		Details: map[string]interface{}{
			"backendMessage": message,
		},
	}
}

// MalformedBreakpoint creates an error for breakpoint data that violates the registry invariants
func MalformedBreakpoint(key int, reason string) *DebugError {
	return &DebugError{
		Code:    CodeMalformedBreakpoint,
		Message: fmt.Sprintf("malformed breakpoint %d from backend: %s", key, reason),
		Hint:    "The debugger backend reported inconsistent data; the entry was ignored.",
		Details: map[string]interface{}{
			"key":    key,
			"reason": reason,
		},
	}
}

// VariableNotFound creates an error for a qualified name with no node in the variable tree
func VariableNotFound(qname string) *DebugError {
	return &DebugError{
		Code:    CodeVariableNotFound,
		Message: fmt.Sprintf("variable '%s' not found in the variable tree", qname),
		Hint:    "Use variable_print to fetch the variable first, then variable_tree to inspect what was reported.",
		Details: map[string]interface{}{
			"qname": qname,
		},
	}
}

// --- Parameter Errors ---

// MissingParameter creates an error for missing required parameters
func MissingParameter(paramName, description string) *DebugError {
	return &DebugError{
		Code:    CodeMissingParameter,
		Message: fmt.Sprintf("required parameter '%s' is missing", paramName),
		Hint:    description,
		Details: map[string]interface{}{
			"parameter": paramName,
		},
	}
}

// InvalidParameter creates an error for invalid parameter values
func InvalidParameter(paramName string, value interface{}, expected string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidParameter,
		Message: fmt.Sprintf("invalid value for parameter '%s': %v", paramName, value),
		Hint:    fmt.Sprintf("Expected: %s", expected),
		Details: map[string]interface{}{
			"parameter": paramName,
			"value":     value,
			"expected":  expected,
		},
	}
}

// --- Configuration Errors ---

// ConfigInvalid creates an error for an invalid configuration value
func ConfigInvalid(key, reason string) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("configuration key '%s' is invalid: %s", key, reason),
		Hint:    "Fix the configuration file or the matching command line flag.",
		Details: map[string]interface{}{
			"key":    key,
			"reason": reason,
		},
	}
}

// --- Helper for wrapping generic errors ---

// Wrap wraps a generic error with context
func Wrap(code ErrorCode, message string, hint string, err error) *DebugError {
	return &DebugError{
		Code:    code,
		Message: message,
		Hint:    hint,
		Cause:   err,
	}
}

// FromError creates a DebugError from a generic error, attempting to preserve any existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    "UNKNOWN_ERROR",
		Message: err.Error(),
		Hint:    "An unexpected error occurred. Please check the error message for details.",
		Cause:   err,
	}
}

// HasCode reports whether err, any error it wraps, or any error combined
// into it with multierr is a DebugError with the given code
func HasCode(err error, code ErrorCode) bool {
	for _, e := range multierr.Errors(err) {
		var de *DebugError
		if stderrors.As(e, &de) && de.Code == code {
			return true
		}
	}
	return false
}
