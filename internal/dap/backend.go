package dap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/go-dap"
	"go.uber.org/zap"

	"github.com/ctagard/dbgsync/internal/engine"
	dbgerrors "github.com/ctagard/dbgsync/internal/errors"
	"github.com/ctagard/dbgsync/internal/vartree"
	"github.com/ctagard/dbgsync/pkg/types"
)

// ErrBackendClosed is returned for commands issued after Close.
var ErrBackendClosed = errors.New("debugger backend closed")

// Options tunes a Backend.
type Options struct {
	// RequestTimeout bounds every DAP request.
	RequestTimeout time.Duration
	// VariableDepth limits how many levels of members are fetched for a
	// printed variable. Zero fetches only the variable itself.
	VariableDepth int
	// Logger receives backend diagnostics.
	Logger *zap.Logger
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		RequestTimeout: 10 * time.Second,
		VariableDepth:  2,
		Logger:         zap.NewNop(),
	}
}

// Synthetic breakpoint numbers start high to stay clear of adapter ids.
const syntheticIDBase = 1 << 20

type bpRef struct {
	path string
	line int
}

// Backend is an engine.Engine speaking DAP to a running adapter. Commands
// and adapter events are executed in order on a single worker goroutine,
// which owns all breakpoint and frame state.
type Backend struct {
	client *Client
	opts   Options
	logger *zap.Logger

	events chan engine.Event
	jobs   *jobQueue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error

	// Worker state
	lines    map[string][]int
	ids      map[bpRef]int
	byID     map[int]bpRef
	nextID   int
	frameID  int
	threadID int
	exited   bool
}

// NewBackend wraps an established transport. Call Start to run the
// initialize and launch or attach handshake.
func NewBackend(transport *Transport, opts Options) *Backend {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultOptions().RequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Backend{
		opts:   opts,
		logger: opts.Logger,
		events: make(chan engine.Event, 128),
		jobs:   newJobQueue(),
		ctx:    ctx,
		cancel: cancel,
		lines:  make(map[string][]int),
		ids:    make(map[bpRef]int),
		byID:   make(map[int]bpRef),
		nextID: syntheticIDBase,
	}
	b.client = NewClient(transport, opts.Logger, opts.RequestTimeout, b.onEvent)

	b.wg.Add(1)
	go b.run()
	return b
}

// Connect dials the adapter at address and performs the handshake for
// request ("launch" or "attach") with the adapter-specific args.
func Connect(ctx context.Context, address string, dialTimeout time.Duration, request string, args map[string]any, opts Options) (*Backend, error) {
	transport, err := NewTCPTransport(ctx, address, dialTimeout)
	if err != nil {
		return nil, dbgerrors.EngineConnectFailed(address, err)
	}

	b := NewBackend(transport, opts)
	if err := b.Start(ctx, request, args); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// Start performs initialize, launch or attach, and configurationDone.
func (b *Backend) Start(ctx context.Context, request string, args map[string]any) error {
	c := b.client
	if _, err := c.Initialize(ctx, "dbgsync", "dbgsync"); err != nil {
		return dbgerrors.EngineInitFailed(err)
	}

	// Some adapters only answer launch/attach after configurationDone, and
	// send the initialized event before that answer.
	pending, err := c.StartAsync(request, args)
	if err != nil {
		return dbgerrors.EngineInitFailed(err)
	}
	if err := c.WaitInitialized(ctx, b.opts.RequestTimeout); err != nil {
		return dbgerrors.EngineInitFailed(err)
	}
	if err := c.ConfigurationDone(ctx); err != nil {
		return dbgerrors.EngineInitFailed(err)
	}
	if err := c.WaitStarted(ctx, pending, 3*b.opts.RequestTimeout); err != nil {
		return dbgerrors.EngineInitFailed(err)
	}
	b.logger.Info("debug adapter ready", zap.String("request", request))
	return nil
}

// Events returns the event channel. It is closed by Close.
func (b *Backend) Events() <-chan engine.Event {
	return b.events
}

func (b *Backend) submit(ctx context.Context, job func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.jobs.push(job) {
		return ErrBackendClosed
	}
	return nil
}

// SetBreakpoint implements engine.Engine.
func (b *Backend) SetBreakpoint(ctx context.Context, file string, line int) error {
	return b.submit(ctx, func() { b.setBreakpoint(file, line) })
}

// DeleteBreakpoint implements engine.Engine.
func (b *Backend) DeleteBreakpoint(ctx context.Context, number int) error {
	return b.submit(ctx, func() { b.deleteBreakpoint(number) })
}

// PrintVariableType implements engine.Engine.
func (b *Backend) PrintVariableType(ctx context.Context, qname string) error {
	return b.submit(ctx, func() { b.printType(qname) })
}

// PrintVariableValue implements engine.Engine.
func (b *Backend) PrintVariableValue(ctx context.Context, name string) error {
	return b.submit(ctx, func() { b.printValue(name) })
}

// Close disconnects from the adapter and stops the worker.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		b.jobs.close()

		select {
		case <-b.client.Done():
		default:
			ctx, cancel := context.WithTimeout(context.Background(), b.opts.RequestTimeout)
			if err := b.client.Disconnect(ctx, false); err != nil {
				b.logger.Debug("disconnect failed", zap.Error(err))
			}
			cancel()
		}

		b.cancel()
		b.closeErr = b.client.Close()
		b.wg.Wait()
		close(b.events)
	})
	return b.closeErr
}

func (b *Backend) run() {
	defer b.wg.Done()
	lost := b.client.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-lost:
			lost = nil
			select {
			case <-b.ctx.Done():
				return
			default:
			}
			b.emit(engine.Error{Message: ErrConnectionLost.Error()})
			if !b.exited {
				b.exited = true
				b.emit(engine.Exited{Code: -1})
			}
		case <-b.jobs.ready():
			for _, job := range b.jobs.drain() {
				if b.ctx.Err() != nil {
					return
				}
				job()
			}
		}
	}
}

func (b *Backend) emit(ev engine.Event) {
	select {
	case b.events <- ev:
	case <-b.ctx.Done():
	}
}

// onEvent runs on the client's read goroutine and hands adapter events to
// the worker so that they are ordered with command results.
func (b *Backend) onEvent(msg dap.Message) {
	var job func()
	switch m := msg.(type) {
	case *dap.StoppedEvent:
		body := m.Body
		job = func() { b.handleStopped(body) }
	case *dap.ContinuedEvent:
		threadID := m.Body.ThreadId
		job = func() {
			b.frameID = 0
			b.emit(engine.Running{ThreadID: threadID})
		}
	case *dap.ExitedEvent:
		code := m.Body.ExitCode
		job = func() { b.handleExited(code) }
	case *dap.TerminatedEvent:
		job = func() { b.handleExited(0) }
	case *dap.BreakpointEvent:
		body := m.Body
		job = func() { b.handleBreakpointEvent(body) }
	case *dap.OutputEvent:
		if m.Body.Category == "stderr" || m.Body.Category == "important" {
			b.logger.Debug("adapter output", zap.String("category", m.Body.Category), zap.String("output", m.Body.Output))
		}
		return
	default:
		return
	}
	b.jobs.push(job)
}

func (b *Backend) handleExited(code int) {
	b.frameID = 0
	if b.exited {
		return
	}
	b.exited = true
	b.emit(engine.Exited{Code: code})
}

func (b *Backend) handleStopped(body dap.StoppedEventBody) {
	b.threadID = body.ThreadId
	b.frameID = 0
	ev := engine.Stopped{Reason: body.Reason, ThreadID: body.ThreadId}

	frames, err := b.client.StackTrace(b.ctx, body.ThreadId, 0, 1)
	if err != nil {
		b.logger.Warn("stack trace after stop failed", zap.Int("thread", body.ThreadId), zap.Error(err))
	} else if len(frames) > 0 {
		top := frames[0]
		b.frameID = top.Id
		ev.HasFrame = true
		ev.Frame = types.Frame{
			Function: top.Name,
			Line:     top.Line,
			Address:  top.InstructionPointerReference,
		}
		if top.Source != nil {
			ev.Frame.FileName, ev.Frame.FileFullName = splitSource(*top.Source)
		}
	}
	b.emit(ev)
}

// splitSource returns the base name and, when the adapter gave an absolute
// path, the full name of a DAP source.
func splitSource(src dap.Source) (name, full string) {
	name = src.Name
	if src.Path != "" {
		if name == "" {
			name = filepath.Base(src.Path)
		}
		if filepath.IsAbs(src.Path) {
			full = src.Path
		}
	}
	return name, full
}

// sourceFor builds the DAP source for a breakpoint path as given by the
// caller, which may be a bare file name.
func sourceFor(path string) dap.Source {
	return dap.Source{Name: filepath.Base(path), Path: path}
}

func (b *Backend) setBreakpoint(file string, line int) {
	ref := bpRef{path: file, line: line}
	if id, ok := b.ids[ref]; ok {
		b.emit(engine.BreakpointsSet{Breakpoints: map[int]types.Breakpoint{id: b.describe(id, ref, nil)}})
		return
	}

	lines := append(slices.Clone(b.lines[file]), line)
	set, deleted, err := b.sync(file, lines)
	if err != nil {
		b.emit(engine.Error{Message: err.Error(), Command: engine.CommandSetBreakpoint, File: file, Line: line})
		return
	}
	for _, ev := range deleted {
		b.emit(ev)
	}
	if len(set) > 0 {
		b.emit(engine.BreakpointsSet{Breakpoints: set})
	}
}

func (b *Backend) deleteBreakpoint(number int) {
	ref, ok := b.byID[number]
	if !ok {
		b.emit(engine.Error{
			Message: fmt.Sprintf("no breakpoint number %d", number),
			Command: engine.CommandDeleteBreakpoint,
			Number:  number,
		})
		return
	}

	lines := slices.DeleteFunc(slices.Clone(b.lines[ref.path]), func(l int) bool { return l == ref.line })
	set, deleted, err := b.sync(ref.path, lines)
	if err != nil {
		b.emit(engine.Error{Message: err.Error(), Command: engine.CommandDeleteBreakpoint, Number: number})
		return
	}
	for _, ev := range deleted {
		b.emit(ev)
	}
	if len(set) > 0 {
		b.emit(engine.BreakpointsSet{Breakpoints: set})
	}
}

// sync sends the full line list of path and reconciles the answer with the
// known breakpoints. It returns breakpoints that are new or were renumbered,
// and deletion events for lines that went away or changed number.
func (b *Backend) sync(path string, lines []int) (map[int]types.Breakpoint, []engine.Event, error) {
	req := make([]dap.SourceBreakpoint, len(lines))
	for i, l := range lines {
		req[i] = dap.SourceBreakpoint{Line: l}
	}

	got, err := b.client.SetBreakpoints(b.ctx, sourceFor(path), req)
	if err != nil {
		return nil, nil, err
	}

	set := make(map[int]types.Breakpoint)
	var deleted []engine.Event
	kept := make(map[bpRef]bool, len(lines))

	for i, l := range lines {
		ref := bpRef{path: path, line: l}
		kept[ref] = true

		var reported *dap.Breakpoint
		if i < len(got) {
			reported = &got[i]
		}
		id := 0
		if reported != nil {
			id = reported.Id
			if !reported.Verified && reported.Message != "" {
				b.logger.Info("breakpoint not verified",
					zap.String("location", fmt.Sprintf("%s:%d", path, l)),
					zap.String("message", reported.Message))
			}
		}

		old, known := b.ids[ref]
		if id == 0 {
			// Adapters without breakpoint ids keep the number we assigned.
			if known {
				continue
			}
			id = b.allocID()
		}
		if known && old == id {
			continue
		}
		if known {
			delete(b.byID, old)
			deleted = append(deleted, engine.BreakpointDeleted{Breakpoint: b.describe(old, ref, nil), Number: old})
		}
		b.ids[ref] = id
		b.byID[id] = ref
		set[id] = b.describe(id, ref, reported)
	}

	for ref, id := range b.ids {
		if ref.path != path || kept[ref] {
			continue
		}
		delete(b.ids, ref)
		delete(b.byID, id)
		deleted = append(deleted, engine.BreakpointDeleted{Breakpoint: b.describe(id, ref, nil), Number: id})
	}

	if len(lines) == 0 {
		delete(b.lines, path)
	} else {
		b.lines[path] = lines
	}
	return set, deleted, nil
}

// allocID numbers breakpoints for adapters that report none.
func (b *Backend) allocID() int {
	b.nextID++
	return b.nextID
}

func (b *Backend) describe(id int, ref bpRef, reported *dap.Breakpoint) types.Breakpoint {
	bp := types.Breakpoint{Number: id, Line: ref.line}
	bp.FileName, bp.FileFullName = splitSource(sourceFor(ref.path))
	if reported != nil {
		if reported.Line > 0 {
			bp.Line = reported.Line
		}
		if reported.Source != nil && reported.Source.Path != "" {
			bp.FileName, bp.FileFullName = splitSource(*reported.Source)
		}
	}
	return bp
}

func (b *Backend) handleBreakpointEvent(body dap.BreakpointEventBody) {
	reported := body.Breakpoint
	id := reported.Id
	if id == 0 {
		return
	}

	switch body.Reason {
	case "removed":
		ref, ok := b.byID[id]
		if !ok {
			return
		}
		delete(b.byID, id)
		delete(b.ids, ref)
		b.lines[ref.path] = slices.DeleteFunc(b.lines[ref.path], func(l int) bool { return l == ref.line })
		b.emit(engine.BreakpointDeleted{Breakpoint: b.describe(id, ref, nil), Number: id})

	case "new", "changed":
		ref, ok := b.byID[id]
		if !ok {
			if reported.Source == nil || reported.Source.Path == "" || reported.Line <= 0 {
				return
			}
			ref = bpRef{path: reported.Source.Path, line: reported.Line}
			b.ids[ref] = id
			b.byID[id] = ref
			b.lines[ref.path] = append(b.lines[ref.path], ref.line)
		}
		b.emit(engine.BreakpointsSet{Breakpoints: map[int]types.Breakpoint{id: b.describe(id, ref, &reported)}})
	}
}

func (b *Backend) printType(qname string) {
	body, err := b.client.Evaluate(b.ctx, qname, b.frameID, "watch")
	if err != nil {
		b.emit(engine.Error{Message: err.Error()})
		return
	}
	b.emit(engine.VariableType{Name: qname, Type: body.Type})
}

func (b *Backend) printValue(name string) {
	body, err := b.client.Evaluate(b.ctx, name, b.frameID, "watch")
	if err != nil {
		b.emit(engine.Error{Message: err.Error()})
		return
	}

	v := &types.Variable{Name: name, Type: body.Type, Value: body.Result}
	if body.VariablesReference > 0 {
		v.Members = b.members(body.VariablesReference, v.Type, b.opts.VariableDepth)
	}
	b.emit(engine.VariableValue{Name: name, Variable: v})
}

// members fetches up to depth levels of children. Members reached through
// a pointer are named with the dereference prefix so that their qualified
// names read "p->field".
func (b *Backend) members(ref int, parentType string, depth int) []*types.Variable {
	if depth <= 0 {
		return nil
	}
	children, err := b.client.Variables(b.ctx, ref)
	if err != nil {
		b.logger.Warn("fetching members failed", zap.Int("ref", ref), zap.Error(err))
		return nil
	}

	deref := vartree.IsPointerType(parentType)
	out := make([]*types.Variable, 0, len(children))
	for _, c := range children {
		name := c.Name
		if deref && !strings.HasPrefix(name, "*") {
			name = "*" + name
		}
		m := &types.Variable{Name: name, Type: c.Type, Value: c.Value}
		if c.VariablesReference > 0 {
			m.Members = b.members(c.VariablesReference, c.Type, depth-1)
		}
		out = append(out, m)
	}
	return out
}

var _ engine.Engine = (*Backend)(nil)
