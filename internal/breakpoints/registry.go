// Package breakpoints keeps the client-side view of the breakpoints a
// debugger backend holds.
//
// The registry never changes its entries on its own initiative: a set or
// delete request is only sent to the backend, and the entry appears or
// disappears when the backend confirms it with RecordBreakpoints or
// ApplyDeleted.
package breakpoints

import (
	"context"
	"path/filepath"
	"slices"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	dbgerrors "github.com/ctagard/dbgsync/internal/errors"
	"github.com/ctagard/dbgsync/pkg/types"
)

// Commander is the part of the debugger engine the registry drives.
type Commander interface {
	SetBreakpoint(ctx context.Context, file string, line int) error
	DeleteBreakpoint(ctx context.Context, number int) error
}

// Resolver finds a source file by bare name.
type Resolver interface {
	Resolve(fileName string) (string, bool)
	SearchDirs() []string
}

// Observer is told about confirmed changes, typically to place or remove a
// breakpoint marker in an editor.
type Observer interface {
	BreakpointPlaced(bp types.Breakpoint)
	BreakpointRemoved(bp types.Breakpoint)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) BreakpointPlaced(types.Breakpoint)  {}
func (NopObserver) BreakpointRemoved(types.Breakpoint) {}

// ToggleResult tells what Toggle asked the backend to do.
type ToggleResult string

const (
	// ToggleSetting means a set request was sent.
	ToggleSetting ToggleResult = "setting"
	// ToggleDeleting means a delete request was sent.
	ToggleDeleting ToggleResult = "deleting"
	// TogglePending means a request for the location is still unconfirmed
	// and nothing was sent.
	TogglePending ToggleResult = "pending"
)

type location struct {
	path string
	line int
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithObserver sets the observer notified of confirmed changes.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// Registry maps breakpoint numbers to breakpoints. All methods are safe for
// concurrent use; mutations are serialized behind one mutex and observers
// are called outside of it.
type Registry struct {
	cmd      Commander
	resolver Resolver
	observer Observer
	logger   *zap.Logger

	mu            sync.Mutex
	entries       map[int]types.Breakpoint
	pendingSet    map[location]struct{}
	pendingDelete map[int]struct{}
}

// New creates an empty registry. cmd and resolver are required.
func New(cmd Commander, resolver Resolver, opts ...Option) *Registry {
	if cmd == nil {
		panic("breakpoints: nil Commander")
	}
	if resolver == nil {
		panic("breakpoints: nil Resolver")
	}
	r := &Registry{
		cmd:           cmd,
		resolver:      resolver,
		observer:      NopObserver{},
		logger:        zap.NewNop(),
		entries:       make(map[int]types.Breakpoint),
		pendingSet:    make(map[location]struct{}),
		pendingDelete: make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordBreakpoints stores the breakpoints the backend reported as set.
// Entries lacking a full file name are resolved against the search
// directories; an entry that cannot be resolved is still stored and the
// failure is part of the returned error. Malformed entries are skipped and
// reported the same way. The returned error never means the call was
// abandoned.
func (r *Registry) RecordBreakpoints(reported map[int]types.Breakpoint) error {
	keys := make([]int, 0, len(reported))
	for k := range reported {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var (
		errs      error
		placed    []types.Breakpoint
		confirmed []types.Breakpoint
	)
	for _, key := range keys {
		bp := reported[key]
		if bp.Number == 0 {
			bp.Number = key
		}
		if reason := malformed(key, bp); reason != "" {
			r.logger.Error("ignoring malformed breakpoint",
				zap.Int("key", key),
				zap.String("reason", reason))
			errs = multierr.Append(errs, dbgerrors.MalformedBreakpoint(key, reason))
			continue
		}

		confirmed = append(confirmed, bp)

		if bp.FileFullName == "" && bp.FileName != "" {
			if path, ok := r.resolver.Resolve(bp.FileName); ok {
				bp.FileFullName = path
			} else {
				dirs := r.resolver.SearchDirs()
				r.logger.Warn("could not resolve breakpoint file",
					zap.Int("number", bp.Number),
					zap.String("file", bp.FileName),
					zap.Strings("dirs", dirs))
				errs = multierr.Append(errs, dbgerrors.ResolutionFailed(bp.FileName, dirs).
					WithDetails("number", bp.Number))
			}
		}
		placed = append(placed, bp)
	}

	r.mu.Lock()
	for i, bp := range placed {
		r.entries[bp.Number] = bp
		r.clearPendingSetLocked(confirmed[i])
	}
	r.mu.Unlock()

	for _, bp := range placed {
		r.logger.Debug("breakpoint recorded",
			zap.Int("number", bp.Number),
			zap.String("location", bp.Location()))
		r.observer.BreakpointPlaced(bp)
	}
	return errs
}

func malformed(key int, bp types.Breakpoint) string {
	switch {
	case key <= 0:
		return "non-positive breakpoint number"
	case bp.Number != key:
		return "number does not match its key"
	case bp.Line <= 0:
		return "non-positive line"
	}
	return ""
}

// clearPendingSetLocked drops the set requests bp confirms, bp being the
// breakpoint as the backend reported it. A request made with a full path is
// only matched by the same full path, or by the base name when the backend
// gave no full path. A request made with a bare name matches any
// confirmation of that base name.
func (r *Registry) clearPendingSetLocked(bp types.Breakpoint) {
	for loc := range r.pendingSet {
		if loc.line == bp.Line && confirms(loc.path, bp) {
			delete(r.pendingSet, loc)
		}
	}
}

func confirms(requested string, bp types.Breakpoint) bool {
	if !filepath.IsAbs(requested) {
		name := bp.FileName
		if name == "" {
			name = filepath.Base(bp.FileFullName)
		}
		return requested == name || filepath.Base(requested) == name
	}
	if bp.FileFullName != "" {
		return requested == bp.FileFullName
	}
	return bp.FileName != "" && filepath.Base(requested) == bp.FileName
}

// LookupNumber returns the number of the breakpoint at (filePath, line),
// scanning in ascending number order. The first match wins.
func (r *Registry) LookupNumber(filePath string, line int) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(filePath, line)
}

func (r *Registry) lookupLocked(filePath string, line int) (int, bool) {
	for _, n := range r.sortedNumbersLocked() {
		bp := r.entries[n]
		if bp.FileFullName == filePath && bp.Line == line {
			return n, true
		}
	}
	return 0, false
}

func (r *Registry) sortedNumbersLocked() []int {
	nums := make([]int, 0, len(r.entries))
	for n := range r.entries {
		nums = append(nums, n)
	}
	slices.Sort(nums)
	return nums
}

// IsSetAt reports whether a breakpoint is recorded at (filePath, line).
func (r *Registry) IsSetAt(filePath string, line int) bool {
	_, ok := r.LookupNumber(filePath, line)
	return ok
}

// DeleteBreakpoint asks the backend to delete breakpoint number. It returns
// false without side effects when the number is unknown. The entry stays
// until ApplyDeleted confirms the deletion; a repeated call while the
// deletion is unconfirmed returns true without sending again.
func (r *Registry) DeleteBreakpoint(ctx context.Context, number int) (bool, error) {
	r.mu.Lock()
	if _, ok := r.entries[number]; !ok {
		r.mu.Unlock()
		r.logger.Info("delete of unknown breakpoint ignored", zap.Int("number", number))
		return false, nil
	}
	if _, ok := r.pendingDelete[number]; ok {
		r.mu.Unlock()
		return true, nil
	}
	r.pendingDelete[number] = struct{}{}
	r.mu.Unlock()

	if err := r.cmd.DeleteBreakpoint(ctx, number); err != nil {
		r.mu.Lock()
		delete(r.pendingDelete, number)
		r.mu.Unlock()
		return false, dbgerrors.EngineCommandFailed("delete breakpoint", err)
	}
	return true, nil
}

// Toggle deletes the breakpoint at (filePath, line) if one is recorded and
// sets one otherwise. While an earlier set or delete for the location is
// unconfirmed nothing is sent and TogglePending is returned.
func (r *Registry) Toggle(ctx context.Context, filePath string, line int) (ToggleResult, error) {
	loc := location{path: filePath, line: line}

	r.mu.Lock()
	if _, ok := r.pendingSet[loc]; ok {
		r.mu.Unlock()
		return TogglePending, nil
	}
	number, isSet := r.lookupLocked(filePath, line)
	if isSet {
		if _, ok := r.pendingDelete[number]; ok {
			r.mu.Unlock()
			return TogglePending, nil
		}
		r.pendingDelete[number] = struct{}{}
	} else {
		r.pendingSet[loc] = struct{}{}
	}
	r.mu.Unlock()

	if isSet {
		if err := r.cmd.DeleteBreakpoint(ctx, number); err != nil {
			r.mu.Lock()
			delete(r.pendingDelete, number)
			r.mu.Unlock()
			return "", dbgerrors.EngineCommandFailed("delete breakpoint", err)
		}
		return ToggleDeleting, nil
	}

	if err := r.cmd.SetBreakpoint(ctx, filePath, line); err != nil {
		r.mu.Lock()
		delete(r.pendingSet, loc)
		r.mu.Unlock()
		return "", dbgerrors.EngineCommandFailed("set breakpoint", err)
	}
	return ToggleSetting, nil
}

// ApplyDeleted removes the breakpoint the backend confirmed as deleted.
// Unknown numbers are ignored.
func (r *Registry) ApplyDeleted(bp types.Breakpoint, number int) {
	r.mu.Lock()
	entry, ok := r.entries[number]
	delete(r.pendingDelete, number)
	if ok {
		delete(r.entries, number)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("deletion confirmed for unknown breakpoint",
			zap.Int("number", number),
			zap.String("location", bp.Location()))
		return
	}
	r.logger.Debug("breakpoint deleted", zap.Int("number", number))
	r.observer.BreakpointRemoved(entry)
}

// ApplySetFailed forgets the unconfirmed set request for (filePath, line),
// spelled as it was passed to Toggle or Restore. Recorded breakpoints are
// left unchanged.
func (r *Registry) ApplySetFailed(filePath string, line int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pendingSet, location{path: filePath, line: line})
}

// ApplyDeleteFailed forgets the unconfirmed delete request for number. The
// breakpoint stays recorded.
func (r *Registry) ApplyDeleteFailed(number int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pendingDelete, number)
}

// Pending reports whether a request for (filePath, line) awaits confirmation.
func (r *Registry) Pending(filePath string, line int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pendingSet[location{path: filePath, line: line}]; ok {
		return true
	}
	if n, ok := r.lookupLocked(filePath, line); ok {
		_, pending := r.pendingDelete[n]
		return pending
	}
	return false
}

// Get returns the breakpoint with the given number.
func (r *Registry) Get(number int) (types.Breakpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bp, ok := r.entries[number]
	return bp, ok
}

// Breakpoints returns the recorded breakpoints ordered by number.
func (r *Registry) Breakpoints() []types.Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Breakpoint, 0, len(r.entries))
	for _, n := range r.sortedNumbersLocked() {
		out = append(out, r.entries[n])
	}
	return out
}

// Len returns the number of recorded breakpoints.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Saved exports the recorded breakpoints for session storage.
func (r *Registry) Saved() []types.SavedBreakpoint {
	bps := r.Breakpoints()
	out := make([]types.SavedBreakpoint, 0, len(bps))
	for _, bp := range bps {
		out = append(out, types.SavedBreakpoint{
			FileName:     bp.FileName,
			FileFullName: bp.FileFullName,
			Line:         bp.Line,
		})
	}
	return out
}

// Restore asks the backend to set every saved breakpoint that is not
// already recorded or requested. The full file name is used when known.
func (r *Registry) Restore(ctx context.Context, saved []types.SavedBreakpoint) error {
	var errs error
	for _, s := range saved {
		path := s.FileFullName
		if path == "" {
			path = s.FileName
		}
		if path == "" || s.Line <= 0 {
			errs = multierr.Append(errs, dbgerrors.InvalidParameter("breakpoint", s, "a file name and a positive line"))
			continue
		}

		loc := location{path: path, line: s.Line}
		r.mu.Lock()
		_, pending := r.pendingSet[loc]
		_, isSet := r.lookupLocked(path, s.Line)
		if pending || isSet {
			r.mu.Unlock()
			continue
		}
		r.pendingSet[loc] = struct{}{}
		r.mu.Unlock()

		if err := r.cmd.SetBreakpoint(ctx, path, s.Line); err != nil {
			r.mu.Lock()
			delete(r.pendingSet, loc)
			r.mu.Unlock()
			errs = multierr.Append(errs, dbgerrors.EngineCommandFailed("set breakpoint", err))
		}
	}
	return errs
}
