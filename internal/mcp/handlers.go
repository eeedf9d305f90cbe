package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctagard/dbgsync/internal/errors"
	"github.com/ctagard/dbgsync/internal/pathresolve"
	"github.com/ctagard/dbgsync/internal/qname"
	"github.com/ctagard/dbgsync/internal/session"
	"github.com/ctagard/dbgsync/internal/sourcedirs"
	"github.com/ctagard/dbgsync/pkg/types"
)

// Session Management Handlers

func (s *Server) handleSessionOpen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address, err := request.RequireString("address")
	if err != nil || address == "" {
		return mcp.NewToolResultError(errors.MissingParameter("address",
			"Specify host:port of a debug adapter that is already listening, e.g. start 'dlv dap --listen=127.0.0.1:4711' and pass '127.0.0.1:4711'.").Error()), nil
	}

	req := "attach"
	if r, err := request.RequireString("request"); err == nil && r != "" {
		req = r
	}
	if req != "launch" && req != "attach" {
		return mcp.NewToolResultError(errors.InvalidParameter("request", req, "'launch' or 'attach'").Error()), nil
	}

	params := session.OpenParams{
		Address: address,
		Request: req,
		Args:    map[string]any{},
	}
	if program, err := request.RequireString("program"); err == nil {
		params.Program = program
	}

	if argsJSON, err := request.RequireString("args"); err == nil && argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &params.Args); err != nil {
			return mcp.NewToolResultError(errors.InvalidParameter("args", argsJSON, `a JSON object, e.g. {"program": "./a.out"}`).WithCause(err).Error()), nil
		}
	}
	if params.Program == "" {
		params.Program, _ = params.Args["program"].(string)
	}

	if dirs, err := request.RequireString("sourceDirs"); err == nil && dirs != "" {
		expanded, err := sourcedirs.Expand([]string{dirs}, &sourcedirs.Context{WorkspaceFolder: s.config.WorkspaceFolder})
		if err != nil {
			return mcp.NewToolResultError(errors.InvalidParameter("sourceDirs", dirs, "colon-separated directories; supported variables are ${workspaceFolder}, ${userHome}, ${cwd} and ${env:NAME}").WithCause(err).Error()), nil
		}
		params.SourceDirs = expanded
	}

	if bpsJSON, err := request.RequireString("breakpoints"); err == nil && bpsJSON != "" {
		if err := json.Unmarshal([]byte(bpsJSON), &params.Breakpoints); err != nil {
			return mcp.NewToolResultError(errors.InvalidParameter("breakpoints", bpsJSON, `a JSON array, e.g. [{"fileName": "main.c", "line": 10}]`).WithCause(err).Error()), nil
		}
	}

	sess, err := s.sessionManager.Open(ctx, params)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]interface{}{
		"sessionId":  sess.ID,
		"status":     "connected",
		"address":    address,
		"request":    req,
		"sourceDirs": sess.SearchDirs(),
	})
}

func (s *Server) handleSessionClose(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	saved := sess.SavedBreakpoints()
	if err := s.sessionManager.CloseSession(sess.ID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]interface{}{
		"sessionId":   sess.ID,
		"status":      "closed",
		"breakpoints": saved,
	})
}

func (s *Server) handleSessionList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.sessionManager.List()

	result := make([]types.SessionInfo, len(sessions))
	for i, sess := range sessions {
		result[i] = sess.Info()
	}

	return jsonResult(map[string]interface{}{
		"sessions": result,
	})
}

func (s *Server) handleSessionWhere(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := map[string]interface{}{
		"sessionId": sess.ID,
		"status":    sess.Status(),
	}
	if frame, ok := sess.Where(); ok {
		result["frame"] = frame
	}
	return jsonResult(result)
}

func (s *Server) handleSessionNotices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	notices := sess.Notices()
	if notices == nil {
		notices = []session.Notice{}
	}
	return jsonResult(map[string]interface{}{
		"notices": notices,
	})
}

// Inspection Handlers

func (s *Server) handleBreakpointList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]interface{}{
		"breakpoints": sess.Breakpoints(),
	})
}

func (s *Server) handleBreakpointLookup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	file, line, err := locationFromRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := map[string]interface{}{
		"location": sourcedirs.FormatLocation(file, line),
		"pending":  sess.BreakpointPending(file, line),
	}
	if n, ok := sess.LookupBreakpoint(file, line); ok {
		result["found"] = true
		result["number"] = n
	} else {
		result["found"] = false
	}
	return jsonResult(result)
}

func (s *Server) handleSourceResolve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fileName, err := request.RequireString("fileName")
	if err != nil || fileName == "" {
		return mcp.NewToolResultError(errors.MissingParameter("fileName", "Provide a bare source file name such as 'main.c'.").Error()), nil
	}

	var (
		dirs []string
		full string
		ok   bool
	)
	if id, err := request.RequireString("sessionId"); err == nil && id != "" {
		sess, err := s.sessionManager.Get(id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		dirs = sess.SearchDirs()
		full, ok = sess.Resolve(fileName)
	} else {
		dirs = s.SourceDirs()
		full, ok = pathresolve.ResolveIn(s.fs, fileName, dirs)
	}

	if !ok {
		return mcp.NewToolResultError(errors.ResolutionFailed(fileName, dirs).Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"fileName": fileName,
		"fullName": full,
	})
}

func (s *Server) handleVariablePrint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := request.RequireString("name")
	if err != nil || name == "" {
		return mcp.NewToolResultError(errors.MissingParameter("name", "Provide the name of a variable visible in the current frame.").Error()), nil
	}

	if err := sess.PrintVariable(ctx, name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"name":   name,
		"status": "requested",
	})
}

func (s *Server) handleVariableTree(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	q, _ := request.RequireString("qname")
	tree, err := sess.VariableTree(q)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(tree)
}

func (s *Server) handleVariableLocate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	q, err := request.RequireString("qname")
	if err != nil || q == "" {
		return mcp.NewToolResultError(errors.MissingParameter("qname", "Provide a qualified name such as 'a.b->c'.").Error()), nil
	}

	path, ok := sess.LocateVariable(q)
	result := map[string]interface{}{
		"qname": q,
		"found": ok,
	}
	if ok {
		result["path"] = path
	}
	return jsonResult(result)
}

func (s *Server) handleQNameSplit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := request.RequireString("qname")
	if err != nil {
		return mcp.NewToolResultError(errors.MissingParameter("qname", "Provide a qualified name such as 'a.b->c'.").Error()), nil
	}

	elems, err := qname.Split(q)
	if err != nil {
		return mcp.NewToolResultError(errors.ParseFailed(q, err).Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"qname":    q,
		"elements": elems,
	})
}

// Control Handlers

func (s *Server) handleBreakpointToggle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	file, line, err := locationFromRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := sess.ToggleBreakpoint(ctx, file, line)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"location": sourcedirs.FormatLocation(file, line),
		"action":   res,
	})
}

func (s *Server) handleBreakpointDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.getSession(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	number, err := request.RequireFloat("number")
	if err != nil {
		return mcp.NewToolResultError(errors.MissingParameter("number", "Provide a breakpoint number from breakpoint_list.").Error()), nil
	}

	sent, err := sess.DeleteBreakpoint(ctx, int(number))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !sent {
		return mcp.NewToolResultError(errors.UnknownBreakpoint(int(number)).Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"number": int(number),
		"status": "deleting",
	})
}

// Helper functions

func (s *Server) getSession(request mcp.CallToolRequest) (*session.Session, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return nil, errors.MissingParameter("sessionId", "Provide the sessionId returned from session_open. Use session_list to see active sessions.")
	}
	return s.sessionManager.Get(sessionID)
}

// locationFromRequest reads either "location" ("path:line") or "file" and
// "line".
func locationFromRequest(request mcp.CallToolRequest) (string, int, error) {
	if loc, err := request.RequireString("location"); err == nil && loc != "" {
		path, line, ok := sourcedirs.ParseLocation(loc)
		if !ok || path == "" || line <= 0 {
			return "", 0, errors.InvalidParameter("location", loc, "'path:line' with a positive line, e.g. 'main.c:42'")
		}
		return path, line, nil
	}

	file, err := request.RequireString("file")
	if err != nil || file == "" {
		return "", 0, errors.MissingParameter("location", "Provide either location ('path:line') or file and line.")
	}
	line, err := request.RequireFloat("line")
	if err != nil {
		return "", 0, errors.MissingParameter("line", "Provide the 1-based line number in file.")
	}
	if line <= 0 || line != float64(int(line)) {
		return "", 0, errors.InvalidParameter("line", line, "a positive integer")
	}
	return file, int(line), nil
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
