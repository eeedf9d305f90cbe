package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ctagard/dbgsync/internal/engine"
	dbgerrors "github.com/ctagard/dbgsync/internal/errors"
	"github.com/ctagard/dbgsync/pkg/types"
)

// Connector opens an engine for a debug adapter at address. request is
// "launch" or "attach" and args are the adapter-specific arguments.
type Connector func(ctx context.Context, address, request string, args map[string]any) (engine.Engine, error)

// OpenParams describes a session to open.
type OpenParams struct {
	Address string
	Request string
	Args    map[string]any
	Program string
	// SourceDirs overrides the configured source directories when non-nil.
	SourceDirs []string
	// Breakpoints are restored once the engine is connected.
	Breakpoints []types.SavedBreakpoint
}

// Manager manages multiple debug sessions
type Manager struct {
	connect  Connector
	settings Settings
	logger   *zap.Logger

	sessions map[string]*Session
	mu       sync.RWMutex

	maxSessions    int
	sessionTimeout time.Duration
	cleanupEvery   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCleanupInterval sets how often idle sessions are looked for.
func WithCleanupInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.cleanupEvery = d }
}

// NewManager creates a session manager. A zero sessionTimeout disables
// idle expiry.
func NewManager(connect Connector, settings Settings, maxSessions int, sessionTimeout time.Duration, opts ...ManagerOption) *Manager {
	if connect == nil {
		panic("session: nil Connector")
	}
	if settings.Logger == nil {
		settings.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		connect:        connect,
		settings:       settings,
		logger:         settings.Logger,
		sessions:       make(map[string]*Session),
		maxSessions:    maxSessions,
		sessionTimeout: sessionTimeout,
		cleanupEvery:   time.Minute,
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.sessionTimeout > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}
	return m
}

// cleanupLoop periodically closes sessions idle for longer than the timeout
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActive()) > m.sessionTimeout {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.logger.Info("closing idle session", zap.String("session", s.ID))
		if err := s.Close(); err != nil {
			m.logger.Warn("failed to close idle session", zap.String("session", s.ID), zap.Error(err))
		}
	}
}

// Open connects an engine and starts a session around it.
func (m *Manager) Open(ctx context.Context, p OpenParams) (*Session, error) {
	m.mu.RLock()
	full := m.maxSessions > 0 && len(m.sessions) >= m.maxSessions
	m.mu.RUnlock()
	if full {
		return nil, dbgerrors.SessionLimitReached(m.maxSessions)
	}

	eng, err := m.connect(ctx, p.Address, p.Request, p.Args)
	if err != nil {
		return nil, err
	}

	settings := m.settings
	if p.SourceDirs != nil {
		settings.SourceDirs = p.SourceDirs
	}
	s := New(uuid.New().String(), eng, settings)
	s.Address = p.Address
	s.Program = p.Program

	m.mu.Lock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, multierr.Append(dbgerrors.SessionLimitReached(m.maxSessions), eng.Close())
	}
	s.Start(m.ctx, settings.WatchSourceDirs)
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session opened",
		zap.String("session", s.ID),
		zap.String("address", p.Address),
		zap.String("request", p.Request))

	if len(p.Breakpoints) > 0 {
		if err := s.RestoreBreakpoints(ctx, p.Breakpoints); err != nil {
			m.logger.Warn("some breakpoints were not restored", zap.String("session", s.ID), zap.Error(err))
			for _, one := range multierr.Errors(err) {
				s.noticeError(NoticeWarning, one)
			}
		}
	}
	return s, nil
}

// Get retrieves a session by ID
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, dbgerrors.SessionNotFound(id)
	}
	return s, nil
}

// List returns all active sessions ordered by creation time
func (m *Manager) List() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return sessions
}

// CloseSession closes a session and forgets it.
func (m *Manager) CloseSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return dbgerrors.SessionNotFound(id)
	}
	m.logger.Info("session closed", zap.String("session", id))
	return s.Close()
}

// Close shuts down the manager and all sessions
func (m *Manager) Close() error {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var err error
	for _, s := range sessions {
		err = multierr.Append(err, s.Close())
	}
	return err
}
