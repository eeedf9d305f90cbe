package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the session, breakpoint, source and variable tools
func (s *Server) registerTools() {
	// Session Management (both modes)
	s.registerSessionOpen()
	s.registerSessionClose()
	s.registerSessionList()
	s.registerSessionWhere()
	s.registerSessionNotices()

	// Inspection (both modes)
	s.registerBreakpointList()
	s.registerBreakpointLookup()
	s.registerSourceResolve()
	s.registerVariablePrint()
	s.registerVariableTree()
	s.registerVariableLocate()
	s.registerQNameSplit()

	// Control (full mode only)
	if s.config.CanUseControlTools() {
		s.registerBreakpointToggle()
		s.registerBreakpointDelete()
	}
}

func sessionIDParam() mcp.ToolOption {
	return mcp.WithString("sessionId",
		mcp.Required(),
		mcp.Description("The session ID returned by session_open"),
	)
}

func locationParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("location",
			mcp.Description("Source location as 'path:line', e.g. 'src/main.c:42'. Alternative to file and line."),
		),
		mcp.WithString("file",
			mcp.Description("Source file: an absolute path, or a bare name looked up in the source directories"),
		),
		mcp.WithNumber("line",
			mcp.Description("1-based line number in file"),
		),
	}
}

// Session Management Tools

func (s *Server) registerSessionOpen() {
	tool := mcp.NewTool("session_open",
		mcp.WithDescription("Connect to a debug adapter that is already listening (e.g. 'dlv dap --listen', 'lldb-dap', 'gdb -i dap') and start tracking its breakpoints and variables. Returns the sessionId needed by all other tools."),
		mcp.WithString("address",
			mcp.Required(),
			mcp.Description("host:port of the debug adapter, e.g. '127.0.0.1:4711'"),
		),
		mcp.WithString("request",
			mcp.Description("'launch' or 'attach' (default: attach)"),
		),
		mcp.WithString("args",
			mcp.Description("JSON object of adapter-specific launch/attach arguments. Example: {\"program\": \"./a.out\", \"stopOnEntry\": true}"),
		),
		mcp.WithString("program",
			mcp.Description("Program being debugged, for display only"),
		),
		mcp.WithString("sourceDirs",
			mcp.Description("Colon-separated source directories overriding the configured ones. ${workspaceFolder} and ${env:NAME} are expanded."),
		),
		mcp.WithString("breakpoints",
			mcp.Description("JSON array of saved breakpoints to restore. Example: [{\"fileName\": \"main.c\", \"line\": 10}]"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleSessionOpen)
}

func (s *Server) registerSessionClose() {
	tool := mcp.NewTool("session_close",
		mcp.WithDescription("Close a debug session and disconnect from its adapter. Returns the session's breakpoints in saved form so they can be restored later."),
		sessionIDParam(),
	)
	s.mcpServer.AddTool(tool, s.handleSessionClose)
}

func (s *Server) registerSessionList() {
	tool := mcp.NewTool("session_list",
		mcp.WithDescription("List all active debug sessions"),
	)
	s.mcpServer.AddTool(tool, s.handleSessionList)
}

func (s *Server) registerSessionWhere() {
	tool := mcp.NewTool("session_where",
		mcp.WithDescription("Show the session status and the frame the debuggee last stopped in, with the source file resolved to a full path when possible"),
		sessionIDParam(),
	)
	s.mcpServer.AddTool(tool, s.handleSessionWhere)
}

func (s *Server) registerSessionNotices() {
	tool := mcp.NewTool("session_notices",
		mcp.WithDescription("Return and clear the messages produced while applying debugger events: confirmed breakpoints, unresolved source files, backend errors, program exit"),
		sessionIDParam(),
	)
	s.mcpServer.AddTool(tool, s.handleSessionNotices)
}

// Inspection Tools

func (s *Server) registerBreakpointList() {
	tool := mcp.NewTool("breakpoint_list",
		mcp.WithDescription("List the breakpoints the debugger has confirmed, ordered by number"),
		sessionIDParam(),
	)
	s.mcpServer.AddTool(tool, s.handleBreakpointList)
}

func (s *Server) registerBreakpointLookup() {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Find the number of the breakpoint at a source location, and whether a request for it is still awaiting confirmation"),
		sessionIDParam(),
	}
	opts = append(opts, locationParams()...)
	s.mcpServer.AddTool(mcp.NewTool("breakpoint_lookup", opts...), s.handleBreakpointLookup)
}

func (s *Server) registerSourceResolve() {
	tool := mcp.NewTool("source_resolve",
		mcp.WithDescription("Find a source file by bare name in the source directories. The first directory containing it wins."),
		mcp.WithString("fileName",
			mcp.Required(),
			mcp.Description("Bare file name, e.g. 'main.c'"),
		),
		mcp.WithString("sessionId",
			mcp.Description("Search the session's directories instead of the configured ones"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleSourceResolve)
}

func (s *Server) registerVariablePrint() {
	tool := mcp.NewTool("variable_print",
		mcp.WithDescription("Ask the debugger for the value of a variable in the current frame. The value arrives asynchronously; read it with variable_tree."),
		sessionIDParam(),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Variable or expression name, e.g. 'list'"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVariablePrint)
}

func (s *Server) registerVariableTree() {
	tool := mcp.NewTool("variable_tree",
		mcp.WithDescription("Return the tracked variables as a tree with values, types and change highlights"),
		sessionIDParam(),
		mcp.WithString("qname",
			mcp.Description("Qualified name of the subtree to return, e.g. 'list->next.val'. Omit for all variables."),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVariableTree)
}

func (s *Server) registerVariableLocate() {
	tool := mcp.NewTool("variable_locate",
		mcp.WithDescription("Find the node addressed by a qualified name in the variable tree"),
		sessionIDParam(),
		mcp.WithString("qname",
			mcp.Required(),
			mcp.Description("Qualified name, e.g. 'a.b->c'"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleVariableLocate)
}

func (s *Server) registerQNameSplit() {
	tool := mcp.NewTool("qname_split",
		mcp.WithDescription("Split a qualified variable name into its elements. An element reached through '->' is prefixed with '*'."),
		mcp.WithString("qname",
			mcp.Required(),
			mcp.Description("Qualified name, e.g. 'a.b->c'"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleQNameSplit)
}

// Control Tools

func (s *Server) registerBreakpointToggle() {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Set a breakpoint at a source location, or delete the one already there. The change takes effect once the debugger confirms it; check breakpoint_list or session_notices."),
		sessionIDParam(),
	}
	opts = append(opts, locationParams()...)
	s.mcpServer.AddTool(mcp.NewTool("breakpoint_toggle", opts...), s.handleBreakpointToggle)
}

func (s *Server) registerBreakpointDelete() {
	tool := mcp.NewTool("breakpoint_delete",
		mcp.WithDescription("Delete a breakpoint by number. The breakpoint stays listed until the debugger confirms the deletion."),
		sessionIDParam(),
		mcp.WithNumber("number",
			mcp.Required(),
			mcp.Description("Breakpoint number from breakpoint_list"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleBreakpointDelete)
}
