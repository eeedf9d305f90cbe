package breakpoints

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/dbgsync/internal/engine/enginetest"
	dbgerrors "github.com/ctagard/dbgsync/internal/errors"
	"github.com/ctagard/dbgsync/internal/pathresolve"
	"github.com/ctagard/dbgsync/pkg/types"
)

type mapResolver map[string]string

func (m mapResolver) Resolve(name string) (string, bool) {
	p, ok := m[name]
	return p, ok
}

func (m mapResolver) SearchDirs() []string { return []string{"/search"} }

type recordingObserver struct {
	mu      sync.Mutex
	placed  []int
	removed []int
}

func (o *recordingObserver) BreakpointPlaced(bp types.Breakpoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.placed = append(o.placed, bp.Number)
}

func (o *recordingObserver) BreakpointRemoved(bp types.Breakpoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, bp.Number)
}

func newRegistry(t *testing.T, res Resolver) (*Registry, *enginetest.Fake, *recordingObserver) {
	t.Helper()
	if res == nil {
		res = mapResolver{}
	}
	eng := enginetest.New()
	t.Cleanup(func() { _ = eng.Close() })
	obs := &recordingObserver{}
	return New(eng, res, WithObserver(obs)), eng, obs
}

func TestRecordBreakpointsRetrievable(t *testing.T) {
	reg, _, obs := newRegistry(t, nil)
	reported := map[int]types.Breakpoint{
		2: {Number: 2, FileName: "a.c", FileFullName: "/src/a.c", Line: 5},
		1: {Number: 1, FileName: "b.c", FileFullName: "/src/b.c", Line: 7},
		4: {Number: 4, FileName: "a.c", FileFullName: "/src/a.c", Line: 9},
	}

	require.NoError(t, reg.RecordBreakpoints(reported))

	for n, want := range reported {
		got, ok := reg.Get(n)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, []int{1, 2, 4}, obs.placed, "placement follows number order")

	n, ok := reg.LookupNumber("/src/a.c", 9)
	require.True(t, ok)
	assert.Equal(t, 4, n)

	_, ok = reg.LookupNumber("/src/a.c", 7)
	assert.False(t, ok)
	_, ok = reg.LookupNumber("a.c", 5)
	assert.False(t, ok, "lookup matches the full name only")
	assert.True(t, reg.IsSetAt("/src/b.c", 7))
}

func TestLookupFirstMatchWins(t *testing.T) {
	reg, _, _ := newRegistry(t, nil)
	require.NoError(t, reg.RecordBreakpoints(map[int]types.Breakpoint{
		7: {Number: 7, FileFullName: "/x.c", Line: 1},
		3: {Number: 3, FileFullName: "/x.c", Line: 1},
	}))

	n, ok := reg.LookupNumber("/x.c", 1)
	require.True(t, ok)
	assert.Equal(t, 3, n)
}

func TestRecordOverwritesByNumber(t *testing.T) {
	reg, _, _ := newRegistry(t, nil)
	require.NoError(t, reg.RecordBreakpoints(map[int]types.Breakpoint{
		1: {Number: 1, FileFullName: "/a.c", Line: 1},
	}))
	require.NoError(t, reg.RecordBreakpoints(map[int]types.Breakpoint{
		1: {Number: 1, FileFullName: "/a.c", Line: 2},
	}))

	bp, ok := reg.Get(1)
	require.True(t, ok)
	assert.Equal(t, 2, bp.Line)
	assert.Equal(t, 1, reg.Len())
}

func TestRecordResolvesMissingPath(t *testing.T) {
	reg, _, _ := newRegistry(t, mapResolver{"main.c": "/proj/src/main.c"})

	err := reg.RecordBreakpoints(map[int]types.Breakpoint{
		1: {Number: 1, FileName: "main.c", Line: 3},
		2: {Number: 2, FileName: "gone.c", Line: 4},
	})

	require.Error(t, err)
	assert.True(t, dbgerrors.HasCode(err, dbgerrors.CodeResolutionFailed))
	assert.Contains(t, err.Error(), "gone.c")

	bp, ok := reg.Get(1)
	require.True(t, ok)
	assert.Equal(t, "/proj/src/main.c", bp.FileFullName)

	bp, ok = reg.Get(2)
	require.True(t, ok, "unresolved breakpoints are kept")
	assert.Empty(t, bp.FileFullName)
}

func TestRecordSkipsMalformed(t *testing.T) {
	reg, _, obs := newRegistry(t, nil)

	err := reg.RecordBreakpoints(map[int]types.Breakpoint{
		1: {Number: 2, FileFullName: "/a.c", Line: 1},
		3: {Number: 3, FileFullName: "/a.c", Line: 0},
		-1: {FileFullName: "/a.c", Line: 1},
		5: {FileFullName: "/b.c", Line: 8},
	})

	require.Error(t, err)
	assert.True(t, dbgerrors.HasCode(err, dbgerrors.CodeMalformedBreakpoint))
	assert.Equal(t, []int{5}, obs.placed)

	bp, ok := reg.Get(5)
	require.True(t, ok)
	assert.Equal(t, 5, bp.Number, "missing numbers are taken from the key")
	assert.Equal(t, 1, reg.Len())
}

func TestDeleteUnknownIsNoop(t *testing.T) {
	reg, eng, obs := newRegistry(t, nil)
	require.NoError(t, reg.RecordBreakpoints(map[int]types.Breakpoint{
		1: {Number: 1, FileFullName: "/a.c", Line: 1},
	}))

	ok, err := reg.DeleteBreakpoint(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, eng.Commands())
	assert.Equal(t, 1, reg.Len())
	assert.Empty(t, obs.removed)
}

func TestDeleteWaitsForConfirmation(t *testing.T) {
	reg, eng, obs := newRegistry(t, nil)
	bp := types.Breakpoint{Number: 1, FileFullName: "/a.c", Line: 1}
	require.NoError(t, reg.RecordBreakpoints(map[int]types.Breakpoint{1: bp}))

	ok, err := reg.DeleteBreakpoint(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"delete 1"}, eng.Strings())

	_, stillThere := reg.Get(1)
	assert.True(t, stillThere, "no removal before confirmation")
	assert.True(t, reg.Pending("/a.c", 1))

	ok, err = reg.DeleteBreakpoint(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, eng.Commands(), 1, "an unconfirmed delete is not sent twice")

	reg.ApplyDeleted(bp, 1)
	_, stillThere = reg.Get(1)
	assert.False(t, stillThere)
	assert.False(t, reg.Pending("/a.c", 1))
	assert.Equal(t, []int{1}, obs.removed)
}

func TestDeleteEngineFailure(t *testing.T) {
	reg, eng, _ := newRegistry(t, nil)
	require.NoError(t, reg.RecordBreakpoints(map[int]types.Breakpoint{
		1: {Number: 1, FileFullName: "/a.c", Line: 1},
	}))

	eng.FailWith(errors.New("broken pipe"))
	ok, err := reg.DeleteBreakpoint(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, dbgerrors.HasCode(err, dbgerrors.CodeEngineCommandFailed))
	assert.False(t, reg.Pending("/a.c", 1), "a failed send leaves nothing in flight")

	eng.FailWith(nil)
	ok, err = reg.DeleteBreakpoint(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApplyDeletedUnknownIgnored(t *testing.T) {
	reg, _, obs := newRegistry(t, nil)
	reg.ApplyDeleted(types.Breakpoint{Number: 9}, 9)
	assert.Empty(t, obs.removed)
	assert.Equal(t, 0, reg.Len())
}

func TestToggleWithoutConfirmationSetsOnce(t *testing.T) {
	reg, eng, _ := newRegistry(t, nil)
	ctx := context.Background()

	res, err := reg.Toggle(ctx, "/src/a.c", 10)
	require.NoError(t, err)
	assert.Equal(t, ToggleSetting, res)

	res, err = reg.Toggle(ctx, "/src/a.c", 10)
	require.NoError(t, err)
	assert.Equal(t, TogglePending, res)
	assert.Equal(t, []string{"set /src/a.c:10"}, eng.Strings())

	require.NoError(t, reg.RecordBreakpoints(map[int]types.Breakpoint{
		1: {Number: 1, FileName: "a.c", FileFullName: "/src/a.c", Line: 10},
	}))
	assert.False(t, reg.Pending("/src/a.c", 10))

	res, err = reg.Toggle(ctx, "/src/a.c", 10)
	require.NoError(t, err)
	assert.Equal(t, ToggleDeleting, res)

	res, err = reg.Toggle(ctx, "/src/a.c", 10)
	require.NoError(t, err)
	assert.Equal(t, TogglePending, res)
	assert.Equal(t, []string{"set /src/a.c:10", "delete 1"}, eng.Strings())

	reg.ApplyDeleted(types.Breakpoint{Number: 1}, 1)
	res, err = reg.Toggle(ctx, "/src/a.c", 10)
	require.NoError(t, err)
	assert.Equal(t, ToggleSetting, res)
}

func TestToggleConfirmedByBaseName(t *testing.T) {
	reg, _, _ := newRegistry(t, nil)
	ctx := context.Background()

	_, err := reg.Toggle(ctx, "/src/a.c", 3)
	require.NoError(t, err)
	require.True(t, reg.Pending("/src/a.c", 3))

	// The backend may only echo the base name; resolution fails here, but the
	// request is still confirmed.
	_ = reg.RecordBreakpoints(map[int]types.Breakpoint{
		1: {Number: 1, FileName: "a.c", Line: 3},
	})
	assert.False(t, reg.Pending("/src/a.c", 3))
}

func TestToggleConfirmationMatchesFullPath(t *testing.T) {
	reg, eng, _ := newRegistry(t, nil)
	ctx := context.Background()

	_, err := reg.Toggle(ctx, "/a/foo.c", 10)
	require.NoError(t, err)
	_, err = reg.Toggle(ctx, "/b/foo.c", 10)
	require.NoError(t, err)

	require.NoError(t, reg.RecordBreakpoints(map[int]types.Breakpoint{
		1: {Number: 1, FileName: "foo.c", FileFullName: "/a/foo.c", Line: 10},
	}))
	assert.False(t, reg.Pending("/a/foo.c", 10))
	assert.True(t, reg.Pending("/b/foo.c", 10), "same base name in another tree is still unconfirmed")

	res, err := reg.Toggle(ctx, "/b/foo.c", 10)
	require.NoError(t, err)
	assert.Equal(t, TogglePending, res)
	assert.Equal(t, []string{"set /a/foo.c:10", "set /b/foo.c:10"}, eng.Strings())
}

func TestBareNameRequestConfirmedByFullPath(t *testing.T) {
	reg, _, _ := newRegistry(t, nil)

	_, err := reg.Toggle(context.Background(), "util.c", 4)
	require.NoError(t, err)

	require.NoError(t, reg.RecordBreakpoints(map[int]types.Breakpoint{
		2: {Number: 2, FileName: "util.c", FileFullName: "/proj/lib/util.c", Line: 4},
	}))
	assert.False(t, reg.Pending("util.c", 4))
}

func TestToggleConcurrentSetsOnce(t *testing.T) {
	reg, eng, _ := newRegistry(t, nil)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = reg.Toggle(context.Background(), "/a.c", 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"set /a.c:1"}, eng.Strings())
}

func TestToggleEngineFailure(t *testing.T) {
	reg, eng, _ := newRegistry(t, nil)
	eng.FailWith(errors.New("closed"))

	res, err := reg.Toggle(context.Background(), "/a.c", 1)
	require.Error(t, err)
	assert.Empty(t, res)
	assert.False(t, reg.Pending("/a.c", 1))
}

func TestFailedRequestsClearOnlyTheirMarker(t *testing.T) {
	reg, eng, _ := newRegistry(t, nil)
	ctx := context.Background()
	require.NoError(t, reg.RecordBreakpoints(map[int]types.Breakpoint{
		1: {Number: 1, FileFullName: "/a.c", Line: 1},
	}))

	_, err := reg.Toggle(ctx, "/a.c", 1)
	require.NoError(t, err)
	_, err = reg.Toggle(ctx, "/b.c", 2)
	require.NoError(t, err)
	_, err = reg.Toggle(ctx, "/c.c", 3)
	require.NoError(t, err)

	reg.ApplySetFailed("/b.c", 2)
	assert.False(t, reg.Pending("/b.c", 2))
	assert.True(t, reg.Pending("/c.c", 3))
	assert.True(t, reg.Pending("/a.c", 1))

	reg.ApplyDeleteFailed(1)
	assert.False(t, reg.Pending("/a.c", 1))
	assert.Equal(t, 1, reg.Len(), "entries are left unchanged")

	eng.Reset()
	res, err := reg.Toggle(ctx, "/b.c", 2)
	require.NoError(t, err)
	assert.Equal(t, ToggleSetting, res)
	res, err = reg.Toggle(ctx, "/c.c", 3)
	require.NoError(t, err)
	assert.Equal(t, TogglePending, res)
	assert.Equal(t, []string{"set /b.c:2"}, eng.Strings())
}

func TestUnrelatedFailureKeepsPendingSet(t *testing.T) {
	reg, eng, _ := newRegistry(t, nil)
	ctx := context.Background()

	_, err := reg.Toggle(ctx, "/src/a.c", 10)
	require.NoError(t, err)

	reg.ApplySetFailed("/src/a.c", 11)
	reg.ApplyDeleteFailed(7)

	res, err := reg.Toggle(ctx, "/src/a.c", 10)
	require.NoError(t, err)
	assert.Equal(t, TogglePending, res)
	assert.Equal(t, []string{"set /src/a.c:10"}, eng.Strings())
}

func TestSavedAndRestore(t *testing.T) {
	reg, eng, _ := newRegistry(t, nil)
	err := reg.RecordBreakpoints(map[int]types.Breakpoint{
		2: {Number: 2, FileName: "b.c", Line: 4},
		1: {Number: 1, FileName: "a.c", FileFullName: "/src/a.c", Line: 3},
	})
	require.True(t, dbgerrors.HasCode(err, dbgerrors.CodeResolutionFailed))

	saved := reg.Saved()
	assert.Equal(t, []types.SavedBreakpoint{
		{FileName: "a.c", FileFullName: "/src/a.c", Line: 3},
		{FileName: "b.c", Line: 4},
	}, saved)

	fresh, freshEng, _ := newRegistry(t, nil)
	err = fresh.Restore(context.Background(), append(saved, types.SavedBreakpoint{Line: 1}))
	require.Error(t, err)
	assert.True(t, dbgerrors.HasCode(err, dbgerrors.CodeInvalidParameter))
	assert.Equal(t, []string{"set /src/a.c:3", "set b.c:4"}, freshEng.Strings())

	require.NoError(t, fresh.Restore(context.Background(), saved))
	assert.Len(t, freshEng.Commands(), 2, "pending locations are not requested again")

	require.NoError(t, reg.Restore(context.Background(), saved[:1]))
	assert.Empty(t, eng.Commands(), "recorded locations are not requested again")
}

func TestNewPanicsOnNilDependencies(t *testing.T) {
	assert.Panics(t, func() { New(nil, mapResolver{}) })
	assert.Panics(t, func() { New(enginetest.New(), nil) })
}

func TestEndToEndResolution(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "proj", "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	main := filepath.Join(src, "main.c")
	require.NoError(t, os.WriteFile(main, []byte("int main(void) { return 0; }\n"), 0o644))

	resolver := pathresolve.New(pathresolve.OS(), []string{src})
	reg, _, _ := newRegistry(t, resolver)

	require.NoError(t, reg.RecordBreakpoints(map[int]types.Breakpoint{
		3: {Number: 3, FileName: "main.c", Line: 10},
	}))

	n, ok := reg.LookupNumber(main, 10)
	require.True(t, ok)
	assert.Equal(t, 3, n)
}
