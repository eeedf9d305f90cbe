package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ctagard/dbgsync/internal/config"
	"github.com/ctagard/dbgsync/internal/logging"
	"github.com/ctagard/dbgsync/internal/mcp"
	"github.com/ctagard/dbgsync/internal/version"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (JSON or YAML)")
	mode := flag.String("mode", "", "Capability mode: 'readonly' or 'full'")
	sourceDirs := flag.String("source-dirs", "", "Colon-separated source directories, replacing the configured ones")
	workspace := flag.String("workspace", "", "Workspace folder used for ${workspaceFolder} and relative source directories")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error")
	showVersion := flag.Bool("version", false, "Show version and exit")
	help := flag.Bool("help", false, "Show help and exit")

	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Command line overrides
	if *mode != "" {
		cfg.Mode = config.CapabilityMode(*mode)
	}
	if *sourceDirs != "" {
		cfg.SourceDirs = []string{*sourceDirs}
	}
	if *workspace != "" {
		cfg.WorkspaceFolder = *workspace
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// stdout carries MCP traffic, so logs go to stderr
	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	server, err := mcp.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))
		if err := server.Close(); err != nil {
			logger.Warn("errors while closing sessions", zap.Error(err))
		}
		_ = logger.Sync()
		os.Exit(0)
	}()

	logger.Info("dbgsync server starting",
		zap.String("version", version.Version),
		zap.String("mode", string(cfg.Mode)),
		zap.Strings("sourceDirs", server.SourceDirs()))
	if err := server.ServeStdio(); err != nil {
		_ = server.Close()
		logger.Fatal("server error", zap.Error(err))
	}
	if err := server.Close(); err != nil {
		logger.Warn("errors while closing sessions", zap.Error(err))
	}
}

func printHelp() {
	fmt.Println(`dbgsync: debugger state synchronization MCP server

Keeps breakpoints, source locations and variable trees of debug sessions in
sync with a Debug Adapter Protocol (DAP) backend and exposes them to MCP
clients. The debug adapter must already be listening; dbgsync connects to it.

USAGE:
    dbgsync [OPTIONS]

OPTIONS:
    -config <path>        Path to configuration file (JSON, or YAML by .yaml/.yml extension)
    -mode <mode>          Capability mode: 'readonly' or 'full' (default: full)
    -source-dirs <dirs>   Colon-separated source directories
    -workspace <dir>      Workspace folder for ${workspaceFolder}
    -log-level <level>    debug, info, warn or error (default: info)
    -version              Show version and exit
    -help                 Show this help message

CONFIGURATION:
    sourceDirs:
      - ${workspaceFolder}/src
      - /usr/include:/usr/local/include
    workspaceFolder: /home/me/project
    showBackendErrors: true
    watchSourceDirs: false
    cacheResolutions: true
    maxSessions: 10
    sessionTimeout: 30m
    engine:
      dialTimeout: 5s
      requestTimeout: 10s
      variableDepth: 2
    logging:
      level: info
      encoding: json

TOOLS:
    Session Management:
        session_open          Connect to a listening debug adapter
        session_close         Close a session, returning its breakpoints
        session_list          List active sessions
        session_where         Show where the debuggee stopped
        session_notices       Drain session messages

    Inspection:
        breakpoint_list       List confirmed breakpoints
        breakpoint_lookup     Find the breakpoint at a location
        source_resolve        Find a source file by bare name
        variable_print        Request a variable's value
        variable_tree         Show tracked variables
        variable_locate       Find a variable by qualified name
        qname_split           Split a qualified name

    Control (full mode only):
        breakpoint_toggle     Set or delete the breakpoint at a location
        breakpoint_delete     Delete a breakpoint by number`)
}
