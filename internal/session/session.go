// Package session ties a debugger engine to the synchronization core.
//
// A Session owns the breakpoint registry, the source path resolver and the
// variable tree of one debuggee, and applies the engine's events to them on
// a single goroutine (Run). The Manager creates, tracks and expires sessions.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ctagard/dbgsync/internal/breakpoints"
	"github.com/ctagard/dbgsync/internal/engine"
	dbgerrors "github.com/ctagard/dbgsync/internal/errors"
	"github.com/ctagard/dbgsync/internal/pathresolve"
	"github.com/ctagard/dbgsync/internal/vartree"
	"github.com/ctagard/dbgsync/pkg/types"
)

// maxNotices bounds the notices kept for a client that never drains them.
const maxNotices = 256

// NoticeLevel grades a notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-visible message produced while applying engine events.
type Notice struct {
	Time    time.Time           `json:"time"`
	Level   NoticeLevel         `json:"level"`
	Code    dbgerrors.ErrorCode `json:"code,omitempty"`
	Message string              `json:"message"`
}

// Settings configures the sessions a Manager opens.
type Settings struct {
	SourceDirs        []string
	ShowBackendErrors bool
	WatchSourceDirs   bool
	CacheResolutions  bool
	Schema            vartree.Schema
	FS                pathresolve.FS
	Logger            *zap.Logger
}

// Session is one debuggee driven through an engine.
type Session struct {
	ID        string
	Address   string
	Program   string
	CreatedAt time.Time

	eng      engine.Engine
	registry *breakpoints.Registry
	resolver *pathresolve.Resolver
	logger   *zap.Logger

	showBackendErrors bool

	mu         sync.RWMutex
	status     types.SessionStatus
	tree       *vartree.Tree
	frame      types.Frame
	hasFrame   bool
	seenFrame  bool
	newFrame   bool
	lastActive time.Time

	noticeMu sync.Mutex
	notices  []Notice

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New wires a session around eng. Call Start to begin consuming events.
func New(id string, eng engine.Engine, s Settings) *Session {
	if eng == nil {
		panic("session: nil Engine")
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session", id))
	fsys := s.FS
	if fsys == nil {
		fsys = pathresolve.OS()
	}
	schema := s.Schema
	if schema.Columns == nil {
		schema = vartree.DefaultSchema()
	}

	now := time.Now()
	sess := &Session{
		ID:                id,
		CreatedAt:         now,
		eng:               eng,
		logger:            logger,
		showBackendErrors: s.ShowBackendErrors,
		status:            types.SessionStatusInitializing,
		tree:              vartree.New(schema),
		lastActive:        now,
		done:              make(chan struct{}),
	}
	sess.resolver = pathresolve.New(fsys, s.SourceDirs,
		pathresolve.WithCache(s.CacheResolutions),
		pathresolve.WithLogger(logger))
	sess.registry = breakpoints.New(eng, sess.resolver,
		breakpoints.WithLogger(logger),
		breakpoints.WithObserver(sess))
	return sess
}

// Start begins consuming engine events, and watching the source
// directories when watch is set. It returns immediately.
func (s *Session) Start(ctx context.Context, watch bool) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.mu.Lock()
	if s.status == types.SessionStatusInitializing {
		s.status = types.SessionStatusRunning
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(s.ctx)
	}()

	if watch {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.resolver.Watch(s.ctx); err != nil {
				s.logger.Warn("source directory watch stopped", zap.Error(err))
			}
		}()
	}
}

// Run applies engine events until the event channel closes or ctx is done.
// It must be the only consumer of the engine's events.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	events := s.eng.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Dispatch(ctx, ev)
		}
	}
}

// Done is closed once Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Dispatch applies one engine event.
func (s *Session) Dispatch(ctx context.Context, ev engine.Event) {
	switch e := ev.(type) {
	case engine.BreakpointsSet:
		err := s.registry.RecordBreakpoints(e.Breakpoints)
		for _, one := range multierr.Errors(err) {
			s.noticeError(NoticeWarning, one)
		}

	case engine.BreakpointDeleted:
		s.registry.ApplyDeleted(e.Breakpoint, e.Number)

	case engine.Stopped:
		s.handleStopped(e)

	case engine.VariableValue:
		s.mu.Lock()
		_, err := s.tree.Upsert(ctx, e.Variable, s.newFrame, s.eng)
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("type requests failed", zap.String("variable", e.Name), zap.Error(err))
		}

	case engine.VariableType:
		s.mu.Lock()
		id, ok := s.tree.LocateQName(vartree.Root, e.Name)
		if ok {
			s.tree.SetType(id, e.Type)
		}
		s.mu.Unlock()
		if !ok {
			s.logger.Debug("type for unknown variable", zap.String("qname", e.Name))
		}

	case engine.Error:
		switch e.Command {
		case engine.CommandSetBreakpoint:
			s.registry.ApplySetFailed(e.File, e.Line)
		case engine.CommandDeleteBreakpoint:
			s.registry.ApplyDeleteFailed(e.Number)
		}
		s.logger.Warn("backend error",
			zap.String("message", e.Message),
			zap.String("command", string(e.Command)))
		if s.showBackendErrors {
			s.noticeError(NoticeError, dbgerrors.BackendError(e.Message))
		}

	case engine.Running:
		s.mu.Lock()
		s.status = types.SessionStatusRunning
		s.hasFrame = false
		s.mu.Unlock()

	case engine.Exited:
		s.mu.Lock()
		s.status = types.SessionStatusTerminated
		s.hasFrame = false
		s.mu.Unlock()
		s.notice(NoticeInfo, "", fmt.Sprintf("Program exited with code %d", e.Code))

	default:
		s.logger.Debug("ignoring engine event", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

func (s *Session) handleStopped(e engine.Stopped) {
	frame := e.Frame
	if e.HasFrame && frame.FileFullName == "" && frame.FileName != "" {
		if full, ok := s.resolver.Resolve(frame.FileName); ok {
			frame.FileFullName = full
		} else {
			s.notice(NoticeError, dbgerrors.CodeResolutionFailed,
				fmt.Sprintf("Did not find file %s", frame.FileName))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = types.SessionStatusStopped
	if !e.HasFrame {
		s.hasFrame = false
		return
	}
	s.newFrame = !s.seenFrame || frame.Function != s.frame.Function
	s.frame = frame
	s.hasFrame = true
	s.seenFrame = true
}

// BreakpointPlaced implements breakpoints.Observer.
func (s *Session) BreakpointPlaced(bp types.Breakpoint) {
	s.notice(NoticeInfo, "", fmt.Sprintf("Breakpoint %d set at %s", bp.Number, bp.Location()))
}

// BreakpointRemoved implements breakpoints.Observer.
func (s *Session) BreakpointRemoved(bp types.Breakpoint) {
	s.notice(NoticeInfo, "", fmt.Sprintf("Breakpoint %d at %s deleted", bp.Number, bp.Location()))
}

func (s *Session) noticeError(level NoticeLevel, err error) {
	de := dbgerrors.FromError(err)
	s.notice(level, de.Code, de.Message)
}

func (s *Session) notice(level NoticeLevel, code dbgerrors.ErrorCode, msg string) {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()
	s.notices = append(s.notices, Notice{Time: time.Now(), Level: level, Code: code, Message: msg})
	if over := len(s.notices) - maxNotices; over > 0 {
		s.notices = append([]Notice(nil), s.notices[over:]...)
	}
}

// Notices returns the pending notices, oldest first, and forgets them.
func (s *Session) Notices() []Notice {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()
	out := s.notices
	s.notices = nil
	return out
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns when a client last used the session.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Status returns the debuggee status.
func (s *Session) Status() types.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Where returns the frame the debuggee last stopped in.
func (s *Session) Where() (types.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.hasFrame
}

// Info returns a summary of the session.
func (s *Session) Info() types.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.SessionInfo{
		SessionID:   s.ID,
		Status:      s.status,
		Address:     s.Address,
		Program:     s.Program,
		Breakpoints: s.registry.Len(),
	}
}

// Resolve finds fileName in the session's source directories.
func (s *Session) Resolve(fileName string) (string, bool) {
	return s.resolver.Resolve(fileName)
}

// SearchDirs returns the session's source directories.
func (s *Session) SearchDirs() []string {
	return s.resolver.SearchDirs()
}

// SetSearchDirs replaces the session's source directories.
func (s *Session) SetSearchDirs(dirs []string) {
	s.resolver.SetSearchDirs(dirs)
}

// breakpointPath returns the path breakpoints at file are recorded under:
// the resolved path for a bare name that resolves, file otherwise.
func (s *Session) breakpointPath(file string) string {
	if filepath.IsAbs(file) {
		return filepath.Clean(file)
	}
	if full, ok := s.resolver.Resolve(file); ok {
		return full
	}
	return file
}

// ToggleBreakpoint sets or deletes the breakpoint at file:line.
func (s *Session) ToggleBreakpoint(ctx context.Context, file string, line int) (breakpoints.ToggleResult, error) {
	s.touch()
	return s.registry.Toggle(ctx, s.breakpointPath(file), line)
}

// DeleteBreakpoint asks for breakpoint number to be deleted. It reports
// false for a number the session does not know.
func (s *Session) DeleteBreakpoint(ctx context.Context, number int) (bool, error) {
	s.touch()
	return s.registry.DeleteBreakpoint(ctx, number)
}

// Breakpoints returns the confirmed breakpoints ordered by number.
func (s *Session) Breakpoints() []types.Breakpoint {
	s.touch()
	return s.registry.Breakpoints()
}

// LookupBreakpoint returns the number of the breakpoint at file:line.
func (s *Session) LookupBreakpoint(file string, line int) (int, bool) {
	s.touch()
	return s.registry.LookupNumber(s.breakpointPath(file), line)
}

// BreakpointPending reports whether a request for file:line is unconfirmed.
func (s *Session) BreakpointPending(file string, line int) bool {
	return s.registry.Pending(s.breakpointPath(file), line)
}

// SavedBreakpoints exports the confirmed breakpoints.
func (s *Session) SavedBreakpoints() []types.SavedBreakpoint {
	return s.registry.Saved()
}

// RestoreBreakpoints asks for each saved breakpoint to be set again.
func (s *Session) RestoreBreakpoints(ctx context.Context, saved []types.SavedBreakpoint) error {
	s.touch()
	normalized := make([]types.SavedBreakpoint, len(saved))
	for i, sb := range saved {
		switch {
		case sb.FileFullName != "":
			sb.FileFullName = s.breakpointPath(sb.FileFullName)
		case sb.FileName != "":
			if path := s.breakpointPath(sb.FileName); filepath.IsAbs(path) {
				sb.FileFullName = path
			}
		}
		normalized[i] = sb
	}
	return s.registry.Restore(ctx, normalized)
}

// PrintVariable asks the engine for the value of a variable. The tree is
// updated once the value arrives.
func (s *Session) PrintVariable(ctx context.Context, name string) error {
	s.touch()
	if err := s.eng.PrintVariableValue(ctx, name); err != nil {
		return dbgerrors.EngineCommandFailed("print variable", err)
	}
	return nil
}

// VariableTree returns a copy of the subtree addressed by qname, or of the
// whole tree when qname is empty.
func (s *Session) VariableTree(qname string) (vartree.Snapshot, error) {
	s.touch()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if qname == "" {
		return s.tree.Snapshot(vartree.Root), nil
	}
	id, ok := s.tree.LocateQName(vartree.Root, qname)
	if !ok {
		return vartree.Snapshot{}, dbgerrors.VariableNotFound(qname)
	}
	return s.tree.Snapshot(id), nil
}

// LocateVariable returns the node path of the variable addressed by qname.
func (s *Session) LocateVariable(qname string) ([]string, bool) {
	s.touch()
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tree.LocateQName(vartree.Root, qname)
	if !ok {
		return nil, false
	}
	return s.tree.Path(id), true
}

// Close stops event processing and releases the engine. It is safe to call
// more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.eng.Close()
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()

		s.mu.Lock()
		s.status = types.SessionStatusTerminated
		s.mu.Unlock()
	})
	return s.closeErr
}
