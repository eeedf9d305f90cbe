// Package mcp provides the Model Context Protocol (MCP) server implementation.
//
// This package exposes the breakpoint, source lookup and variable state of
// debug sessions through MCP tools:
//
// Session Management (always available):
//   - session_open: Connect to a running debug adapter
//   - session_close: Close a session
//   - session_list: List active sessions
//   - session_where: Show where the debuggee stopped
//   - session_notices: Drain the messages produced by backend events
//
// Inspection (always available):
//   - breakpoint_list / breakpoint_lookup: Query confirmed breakpoints
//   - source_resolve: Find a source file in the search directories
//   - variable_print: Ask the debugger for a variable's value
//   - variable_tree / variable_locate: Query the variable tree
//   - qname_split: Split a qualified variable name
//
// Control (full mode only):
//   - breakpoint_toggle: Set or delete the breakpoint at a location
//   - breakpoint_delete: Delete a breakpoint by number
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ctagard/dbgsync/internal/config"
	"github.com/ctagard/dbgsync/internal/dap"
	"github.com/ctagard/dbgsync/internal/engine"
	"github.com/ctagard/dbgsync/internal/pathresolve"
	"github.com/ctagard/dbgsync/internal/session"
	"github.com/ctagard/dbgsync/internal/vartree"
	"github.com/ctagard/dbgsync/internal/version"
)

// Server wraps the MCP server with the session manager
type Server struct {
	mcpServer      *server.MCPServer
	sessionManager *session.Manager
	config         *config.Config
	logger         *zap.Logger

	// sourceDirs are the expanded configured search directories
	sourceDirs []string
	connect    session.Connector
	fs         pathresolve.FS
}

// Option configures a Server.
type Option func(*Server)

// WithConnector replaces the DAP connector used by session_open.
func WithConnector(c session.Connector) Option {
	return func(s *Server) { s.connect = c }
}

// WithFS replaces the filesystem used for source lookups.
func WithFS(fsys pathresolve.FS) Option {
	return func(s *Server) { s.fs = fsys }
}

// NewServer creates a new dbgsync MCP server
func NewServer(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dirs, err := cfg.ResolvedSourceDirs()
	if err != nil {
		return nil, err
	}

	mcpServer := server.NewMCPServer(
		version.Name,
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		config:     cfg,
		logger:     logger,
		sourceDirs: dirs,
		fs:         pathresolve.OS(),
	}
	s.connect = dapConnector(cfg, logger)
	for _, opt := range opts {
		opt(s)
	}

	settings := session.Settings{
		SourceDirs:        dirs,
		ShowBackendErrors: cfg.ShowBackendErrors,
		WatchSourceDirs:   cfg.WatchSourceDirs,
		CacheResolutions:  cfg.CacheResolutions,
		Schema:            vartree.DefaultSchema(),
		FS:                s.fs,
		Logger:            logger,
	}
	s.sessionManager = session.NewManager(s.connect, settings, cfg.MaxSessions, cfg.SessionTimeout.Std())

	s.registerTools()

	return s, nil
}

// dapConnector connects sessions to debug adapters over TCP.
func dapConnector(cfg *config.Config, logger *zap.Logger) session.Connector {
	return func(ctx context.Context, address, request string, args map[string]any) (engine.Engine, error) {
		opts := dap.Options{
			RequestTimeout: cfg.Engine.RequestTimeout.Std(),
			VariableDepth:  cfg.Engine.VariableDepth,
			Logger:         logger.With(zap.String("adapter", address)),
		}
		b, err := dap.Connect(ctx, address, cfg.Engine.DialTimeout.Std(), request, args, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Close shuts down the server
func (s *Server) Close() error {
	return s.sessionManager.Close()
}

// GetSessionManager returns the session manager
func (s *Server) GetSessionManager() *session.Manager {
	return s.sessionManager
}

// GetConfig returns the server configuration
func (s *Server) GetConfig() *config.Config {
	return s.config
}

// SourceDirs returns the expanded configured search directories.
func (s *Server) SourceDirs() []string {
	return append([]string(nil), s.sourceDirs...)
}
