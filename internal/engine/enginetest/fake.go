// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ctagard/dbgsync/internal/engine"
)

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("engine closed")

// Command is a recorded engine command.
type Command struct {
	Op     string
	File   string
	Line   int
	Number int
	Name   string
}

func (c Command) String() string {
	switch c.Op {
	case "set":
		return fmt.Sprintf("set %s:%d", c.File, c.Line)
	case "delete":
		return fmt.Sprintf("delete %d", c.Number)
	default:
		return c.Op + " " + c.Name
	}
}

// Fake records commands and lets tests inject events.
type Fake struct {
	mu       sync.Mutex
	commands []Command
	err      error
	closed   bool

	events chan engine.Event
}

// New creates a fake with a buffered event channel.
func New() *Fake {
	return &Fake{events: make(chan engine.Event, 64)}
}

// FailWith makes every subsequent command return err.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *Fake) record(c Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, c)
	return nil
}

func (f *Fake) SetBreakpoint(_ context.Context, file string, line int) error {
	return f.record(Command{Op: "set", File: file, Line: line})
}

func (f *Fake) DeleteBreakpoint(_ context.Context, number int) error {
	return f.record(Command{Op: "delete", Number: number})
}

func (f *Fake) PrintVariableType(_ context.Context, qname string) error {
	return f.record(Command{Op: "type", Name: qname})
}

func (f *Fake) PrintVariableValue(_ context.Context, name string) error {
	return f.record(Command{Op: "value", Name: name})
}

func (f *Fake) Events() <-chan engine.Event {
	return f.events
}

// Emit delivers ev to the consumer of Events.
func (f *Fake) Emit(ev engine.Event) {
	f.events <- ev
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// Commands returns the commands recorded so far.
func (f *Fake) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.commands...)
}

// Strings returns the recorded commands in their String form.
func (f *Fake) Strings() []string {
	var out []string
	for _, c := range f.Commands() {
		out = append(out, c.String())
	}
	return out
}

// Reset forgets the recorded commands.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = nil
}

var _ engine.Engine = (*Fake)(nil)
