// Package types defines shared data types used across dbgsync.
//
// This package provides type definitions for:
//   - Breakpoint: a backend-assigned breakpoint and its source location
//   - SavedBreakpoint: the persisted form of a breakpoint for session storage
//   - Frame: the location the debuggee stopped at
//   - Variable: a debugger variable and its reported members
//   - SessionStatus / SessionInfo: debug session state
//
// These types cross package boundaries between the synchronization core,
// the debugger engine backends and the MCP surface.
package types

import (
	"strconv"
)

// SessionStatus represents the status of a debug session
type SessionStatus string

const (
	SessionStatusInitializing SessionStatus = "initializing"
	SessionStatusRunning      SessionStatus = "running"
	SessionStatusStopped      SessionStatus = "stopped"
	SessionStatusTerminated   SessionStatus = "terminated"
)

// SessionInfo represents information about a debug session
type SessionInfo struct {
	SessionID   string        `json:"sessionId"`
	Status      SessionStatus `json:"status"`
	Address     string        `json:"address,omitempty"`
	Program     string        `json:"program,omitempty"`
	Breakpoints int           `json:"breakpoints"`
}

// Breakpoint is a breakpoint as reported by the debugger backend.
// Number is unique and assigned by the backend. FileFullName is derived:
// it may be empty until the bare FileName has been resolved.
type Breakpoint struct {
	Number       int    `json:"number"`
	FileName     string `json:"fileName,omitempty"`
	FileFullName string `json:"fileFullName,omitempty"`
	Line         int    `json:"line"`
}

// Location returns the "path:line" form of the breakpoint, preferring the
// resolved path.
func (b Breakpoint) Location() string {
	path := b.FileFullName
	if path == "" {
		path = b.FileName
	}
	return path + ":" + strconv.Itoa(b.Line)
}

// SavedBreakpoint is the persisted form of a breakpoint handed to session storage
type SavedBreakpoint struct {
	FileName     string `json:"fileName,omitempty"`
	FileFullName string `json:"fileFullName,omitempty"`
	Line         int    `json:"line"`
}

// Frame represents the frame the debuggee stopped in
type Frame struct {
	Function     string `json:"function,omitempty"`
	FileName     string `json:"fileName,omitempty"`
	FileFullName string `json:"fileFullName,omitempty"`
	Line         int    `json:"line,omitempty"`
	Address      string `json:"address,omitempty"`
}

// Variable represents a variable reported by the backend, with its
// struct/class members in declaration order.
type Variable struct {
	Name    string      `json:"name"`
	Type    string      `json:"type,omitempty"`
	Value   string      `json:"value,omitempty"`
	Members []*Variable `json:"members,omitempty"`
}
