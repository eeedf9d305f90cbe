package dap

import (
	"bufio"
	"context"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ctagard/dbgsync/internal/engine"
	"github.com/ctagard/dbgsync/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAdapter answers DAP requests the way a native debugger adapter would.
type fakeAdapter struct {
	r *bufio.Reader
	w io.WriteCloser

	mu       sync.Mutex
	bw       *bufio.Writer
	seq      int
	commands []string

	nextID      int
	renumber    bool
	breakpoints map[string]map[int]int
	lastLines   map[string][]int
	frames      []dap.StackFrame
	evals       map[string]dap.EvaluateResponseBody
	variables   map[int][]dap.Variable
	missing     map[string]bool

	done chan struct{}
}

func newFakeAdapter(r io.Reader, w io.WriteCloser) *fakeAdapter {
	return &fakeAdapter{
		r:           bufio.NewReader(r),
		w:           w,
		bw:          bufio.NewWriter(w),
		nextID:      1,
		breakpoints: make(map[string]map[int]int),
		lastLines:   make(map[string][]int),
		evals:       make(map[string]dap.EvaluateResponseBody),
		variables:   make(map[int][]dap.Variable),
		missing:     make(map[string]bool),
		done:        make(chan struct{}),
	}
}

func (a *fakeAdapter) send(msg dap.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = dap.WriteProtocolMessage(a.bw, msg)
	_ = a.bw.Flush()
}

func (a *fakeAdapter) nextSeq() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return a.seq
}

func (a *fakeAdapter) response(req dap.RequestMessage) dap.Response {
	r := req.GetRequest()
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: a.nextSeq(), Type: "response"},
		Command:         r.Command,
		RequestSeq:      r.Seq,
		Success:         true,
	}
}

func (a *fakeAdapter) event(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: a.nextSeq(), Type: "event"},
		Event:           name,
	}
}

func (a *fakeAdapter) fail(req dap.RequestMessage, format string) {
	resp := a.response(req)
	resp.Success = false
	resp.Message = format
	a.send(&dap.ErrorResponse{Response: resp, Body: dap.ErrorResponseBody{Error: &dap.ErrorMessage{Id: 1, Format: format}}})
}

func (a *fakeAdapter) recorded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.commands...)
}

func (a *fakeAdapter) lines(path string) []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastLines[path]
}

func (a *fakeAdapter) serve() {
	defer close(a.done)
	for {
		msg, err := dap.ReadProtocolMessage(a.r)
		if err != nil {
			return
		}
		req, ok := msg.(dap.RequestMessage)
		if !ok {
			continue
		}
		a.mu.Lock()
		a.commands = append(a.commands, req.GetRequest().Command)
		a.mu.Unlock()

		switch m := msg.(type) {
		case *dap.InitializeRequest:
			a.send(&dap.InitializeResponse{Response: a.response(m)})
			a.send(&dap.InitializedEvent{Event: a.event("initialized")})
		case *dap.LaunchRequest:
			a.send(&dap.LaunchResponse{Response: a.response(m)})
		case *dap.AttachRequest:
			a.send(&dap.AttachResponse{Response: a.response(m)})
		case *dap.ConfigurationDoneRequest:
			a.send(&dap.ConfigurationDoneResponse{Response: a.response(m)})
		case *dap.DisconnectRequest:
			a.send(&dap.DisconnectResponse{Response: a.response(m)})
		case *dap.SetBreakpointsRequest:
			a.setBreakpoints(m)
		case *dap.StackTraceRequest:
			a.send(&dap.StackTraceResponse{
				Response: a.response(m),
				Body:     dap.StackTraceResponseBody{StackFrames: a.frames, TotalFrames: len(a.frames)},
			})
		case *dap.EvaluateRequest:
			body, ok := a.evals[m.Arguments.Expression]
			if !ok {
				a.fail(m, "No symbol \""+m.Arguments.Expression+"\" in current context.")
				continue
			}
			a.send(&dap.EvaluateResponse{Response: a.response(m), Body: body})
		case *dap.VariablesRequest:
			a.send(&dap.VariablesResponse{
				Response: a.response(m),
				Body:     dap.VariablesResponseBody{Variables: a.variables[m.Arguments.VariablesReference]},
			})
		default:
			a.fail(m, "unsupported")
		}
	}
}

func (a *fakeAdapter) setBreakpoints(m *dap.SetBreakpointsRequest) {
	path := m.Arguments.Source.Path
	if a.missing[path] {
		a.fail(m, "No source file named "+path+".")
		return
	}

	a.mu.Lock()
	old := a.breakpoints[path]
	next := make(map[int]int)
	var out []dap.Breakpoint
	var lines []int
	for _, sb := range m.Arguments.Breakpoints {
		id, ok := old[sb.Line]
		if !ok || a.renumber {
			id = a.nextID
			a.nextID++
		}
		next[sb.Line] = id
		lines = append(lines, sb.Line)
		out = append(out, dap.Breakpoint{
			Id:       id,
			Verified: true,
			Line:     sb.Line,
			Source:   &dap.Source{Name: m.Arguments.Source.Name, Path: path},
		})
	}
	a.breakpoints[path] = next
	a.lastLines[path] = lines
	a.mu.Unlock()

	a.send(&dap.SetBreakpointsResponse{
		Response: a.response(m),
		Body:     dap.SetBreakpointsResponseBody{Breakpoints: out},
	})
}

func startBackend(t *testing.T, adapter func(*fakeAdapter)) (*Backend, *fakeAdapter) {
	t.Helper()
	clientR, adapterW := io.Pipe()
	adapterR, clientW := io.Pipe()

	fa := newFakeAdapter(adapterR, adapterW)
	if adapter != nil {
		adapter(fa)
	}
	go fa.serve()

	opts := DefaultOptions()
	opts.RequestTimeout = 2 * time.Second
	b := NewBackend(NewPipeTransport(clientR, clientW), opts)
	t.Cleanup(func() {
		_ = b.Close()
		_ = adapterW.Close()
		_ = adapterR.Close()
		<-fa.done
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Start(ctx, "launch", map[string]any{"program": "/src/a.out"}))
	return b, fa
}

func nextEvent(t *testing.T, b *Backend) engine.Event {
	t.Helper()
	select {
	case ev, ok := <-b.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no event from backend")
		return nil
	}
}

func TestBackendHandshake(t *testing.T) {
	_, fa := startBackend(t, nil)
	assert.Equal(t, []string{"initialize", "launch", "configurationDone"}, fa.recorded())
}

func TestBackendSetAndDeleteBreakpoints(t *testing.T) {
	b, fa := startBackend(t, nil)
	ctx := context.Background()

	require.NoError(t, b.SetBreakpoint(ctx, "/src/main.c", 10))
	ev := nextEvent(t, b)
	set, ok := ev.(engine.BreakpointsSet)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, map[int]types.Breakpoint{
		1: {Number: 1, FileName: "main.c", FileFullName: "/src/main.c", Line: 10},
	}, set.Breakpoints)

	require.NoError(t, b.SetBreakpoint(ctx, "/src/main.c", 20))
	set = nextEvent(t, b).(engine.BreakpointsSet)
	assert.Equal(t, []int{2}, keys(set.Breakpoints), "only the new breakpoint is reported")
	assert.Equal(t, []int{10, 20}, fa.lines("/src/main.c"))

	require.NoError(t, b.DeleteBreakpoint(ctx, 1))
	del, ok := nextEvent(t, b).(engine.BreakpointDeleted)
	require.True(t, ok)
	assert.Equal(t, 1, del.Number)
	assert.Equal(t, 10, del.Breakpoint.Line)
	assert.Equal(t, []int{20}, fa.lines("/src/main.c"))
}

func TestBackendSetSameLineTwice(t *testing.T) {
	b, fa := startBackend(t, nil)
	ctx := context.Background()

	require.NoError(t, b.SetBreakpoint(ctx, "/src/main.c", 10))
	first := nextEvent(t, b).(engine.BreakpointsSet)
	require.NoError(t, b.SetBreakpoint(ctx, "/src/main.c", 10))
	second := nextEvent(t, b).(engine.BreakpointsSet)

	assert.Equal(t, first, second)
	assert.Equal(t, []int{10}, fa.lines("/src/main.c"))
}

func TestBackendRenumberedBreakpoints(t *testing.T) {
	b, _ := startBackend(t, func(fa *fakeAdapter) { fa.renumber = true })
	ctx := context.Background()

	require.NoError(t, b.SetBreakpoint(ctx, "/src/main.c", 10))
	_ = nextEvent(t, b)

	require.NoError(t, b.SetBreakpoint(ctx, "/src/main.c", 20))
	del, ok := nextEvent(t, b).(engine.BreakpointDeleted)
	require.True(t, ok)
	assert.Equal(t, 1, del.Number)

	set := nextEvent(t, b).(engine.BreakpointsSet)
	assert.Equal(t, []int{2, 3}, keys(set.Breakpoints))
	assert.Equal(t, 10, set.Breakpoints[2].Line)
	assert.Equal(t, 20, set.Breakpoints[3].Line)
}

func TestBackendDeleteUnknown(t *testing.T) {
	b, _ := startBackend(t, nil)
	require.NoError(t, b.DeleteBreakpoint(context.Background(), 99))

	ev, ok := nextEvent(t, b).(engine.Error)
	require.True(t, ok)
	assert.Contains(t, ev.Message, "99")
	assert.Equal(t, engine.CommandDeleteBreakpoint, ev.Command)
	assert.Equal(t, 99, ev.Number)
}

func TestBackendSetFailureNamesLocation(t *testing.T) {
	b, _ := startBackend(t, func(fa *fakeAdapter) {
		fa.missing["/src/gone.c"] = true
	})
	require.NoError(t, b.SetBreakpoint(context.Background(), "/src/gone.c", 5))

	ev, ok := nextEvent(t, b).(engine.Error)
	require.True(t, ok)
	assert.Contains(t, ev.Message, "No source file")
	assert.Equal(t, engine.CommandSetBreakpoint, ev.Command)
	assert.Equal(t, "/src/gone.c", ev.File)
	assert.Equal(t, 5, ev.Line)
}

func TestBackendStoppedWithFrame(t *testing.T) {
	b, fa := startBackend(t, func(fa *fakeAdapter) {
		fa.frames = []dap.StackFrame{{
			Id:     1000,
			Name:   "main",
			Line:   10,
			Source: &dap.Source{Name: "main.c", Path: "main.c"},
		}}
	})

	fa.send(&dap.StoppedEvent{
		Event: fa.event("stopped"),
		Body:  dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1},
	})

	ev, ok := nextEvent(t, b).(engine.Stopped)
	require.True(t, ok)
	assert.Equal(t, "breakpoint", ev.Reason)
	assert.Equal(t, 1, ev.ThreadID)
	require.True(t, ev.HasFrame)
	assert.Equal(t, types.Frame{Function: "main", FileName: "main.c", Line: 10}, ev.Frame,
		"relative source paths leave the full name empty")
}

func TestBackendPrintVariable(t *testing.T) {
	b, _ := startBackend(t, func(fa *fakeAdapter) {
		fa.evals["list"] = dap.EvaluateResponseBody{Result: "0x601010", Type: "struct node *", VariablesReference: 7}
		fa.evals["list->next"] = dap.EvaluateResponseBody{Result: "0x0", Type: "struct node *"}
		fa.variables[7] = []dap.Variable{
			{Name: "value", Value: "3", Type: "int"},
			{Name: "next", Value: "0x0", Type: "struct node *"},
		}
	})
	ctx := context.Background()

	require.NoError(t, b.PrintVariableValue(ctx, "list"))
	val, ok := nextEvent(t, b).(engine.VariableValue)
	require.True(t, ok)
	assert.Equal(t, "list", val.Name)
	assert.Equal(t, &types.Variable{
		Name:  "list",
		Type:  "struct node *",
		Value: "0x601010",
		Members: []*types.Variable{
			{Name: "*value", Type: "int", Value: "3"},
			{Name: "*next", Type: "struct node *", Value: "0x0"},
		},
	}, val.Variable)

	require.NoError(t, b.PrintVariableType(ctx, "list->next"))
	typ, ok := nextEvent(t, b).(engine.VariableType)
	require.True(t, ok)
	assert.Equal(t, engine.VariableType{Name: "list->next", Type: "struct node *"}, typ)

	require.NoError(t, b.PrintVariableValue(ctx, "missing"))
	errEv, ok := nextEvent(t, b).(engine.Error)
	require.True(t, ok)
	assert.Contains(t, errEv.Message, "No symbol")
	assert.Empty(t, errEv.Command, "evaluate failures are not breakpoint failures")
}

func TestBackendExitedOnce(t *testing.T) {
	b, fa := startBackend(t, nil)

	fa.send(&dap.ExitedEvent{Event: fa.event("exited"), Body: dap.ExitedEventBody{ExitCode: 3}})
	fa.send(&dap.TerminatedEvent{Event: fa.event("terminated")})
	fa.send(&dap.ContinuedEvent{Event: fa.event("continued"), Body: dap.ContinuedEventBody{ThreadId: 1}})

	assert.Equal(t, engine.Exited{Code: 3}, nextEvent(t, b))
	assert.Equal(t, engine.Running{ThreadID: 1}, nextEvent(t, b), "terminated after exited is folded")
}

func TestBackendAdapterBreakpointEvents(t *testing.T) {
	b, fa := startBackend(t, nil)

	fa.send(&dap.BreakpointEvent{Event: fa.event("breakpoint"), Body: dap.BreakpointEventBody{
		Reason:     "new",
		Breakpoint: dap.Breakpoint{Id: 40, Verified: true, Line: 5, Source: &dap.Source{Path: "/src/util.c"}},
	}})
	set := nextEvent(t, b).(engine.BreakpointsSet)
	assert.Equal(t, types.Breakpoint{Number: 40, FileName: "util.c", FileFullName: "/src/util.c", Line: 5}, set.Breakpoints[40])

	fa.send(&dap.BreakpointEvent{Event: fa.event("breakpoint"), Body: dap.BreakpointEventBody{
		Reason:     "removed",
		Breakpoint: dap.Breakpoint{Id: 40},
	}})
	del := nextEvent(t, b).(engine.BreakpointDeleted)
	assert.Equal(t, 40, del.Number)
}

func TestBackendConnectionLost(t *testing.T) {
	b, fa := startBackend(t, nil)
	_ = fa.w.Close()

	ev, ok := nextEvent(t, b).(engine.Error)
	require.True(t, ok)
	assert.Contains(t, ev.Message, "connection lost")
	assert.Equal(t, engine.Exited{Code: -1}, nextEvent(t, b))

	require.NoError(t, b.PrintVariableValue(context.Background(), "x"))
	ev, ok = nextEvent(t, b).(engine.Error)
	require.True(t, ok)
	assert.Contains(t, ev.Message, "connection lost")
}

func TestBackendClosedRejectsCommands(t *testing.T) {
	b, _ := startBackend(t, nil)
	require.NoError(t, b.Close())

	err := b.SetBreakpoint(context.Background(), "/a.c", 1)
	assert.ErrorIs(t, err, ErrBackendClosed)

	_, open := <-b.Events()
	assert.False(t, open)
}

func keys(m map[int]types.Breakpoint) []int {
	var out []int
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
