// Package engine defines the command and event surface of a debugger
// backend as seen by a debug session.
//
// Commands are fire-and-forget: a nil error only means the command was
// accepted. Their outcome arrives later, in order of occurrence, as an Event
// on the channel returned by Events.
package engine

import (
	"context"

	"github.com/ctagard/dbgsync/pkg/types"
)

// Engine is a debugger backend.
type Engine interface {
	// SetBreakpoint asks for a breakpoint at file:line.
	SetBreakpoint(ctx context.Context, file string, line int) error
	// DeleteBreakpoint asks for the breakpoint with the given number to be removed.
	DeleteBreakpoint(ctx context.Context, number int) error
	// PrintVariableType asks for the type of the variable addressed by qname.
	PrintVariableType(ctx context.Context, qname string) error
	// PrintVariableValue asks for the value and members of a variable.
	PrintVariableValue(ctx context.Context, name string) error
	// Events returns the channel events are delivered on. It is closed
	// once the engine shuts down.
	Events() <-chan Event
	// Close releases the backend connection.
	Close() error
}

// Event is one of the event types below.
type Event interface {
	isEvent()
}

// BreakpointsSet reports breakpoints the backend now holds, keyed by number.
type BreakpointsSet struct {
	Breakpoints map[int]types.Breakpoint
}

// BreakpointDeleted confirms a breakpoint removal.
type BreakpointDeleted struct {
	Breakpoint types.Breakpoint
	Number     int
}

// Stopped reports that the inferior stopped. Frame is only meaningful when
// HasFrame is set.
type Stopped struct {
	Reason   string
	HasFrame bool
	Frame    types.Frame
	ThreadID int
}

// VariableValue answers PrintVariableValue.
type VariableValue struct {
	Name     string
	Variable *types.Variable
}

// VariableType answers PrintVariableType.
type VariableType struct {
	Name string
	Type string
}

// Command names a failed breakpoint request in Error.
type Command string

const (
	CommandSetBreakpoint    Command = "set"
	CommandDeleteBreakpoint Command = "delete"
)

// Error reports a backend failure. When Command is set the failure belongs
// to that breakpoint request: File and Line identify a set, Number a delete.
// Other failures carry only Message.
type Error struct {
	Message string
	Command Command
	File    string
	Line    int
	Number  int
}

// Running reports that the inferior resumed.
type Running struct {
	ThreadID int
}

// Exited reports that the inferior terminated.
type Exited struct {
	Code int
}

func (BreakpointsSet) isEvent()    {}
func (BreakpointDeleted) isEvent() {}
func (Stopped) isEvent()           {}
func (VariableValue) isEvent()     {}
func (VariableType) isEvent()      {}
func (Error) isEvent()             {}
func (Running) isEvent()           {}
func (Exited) isEvent()            {}
