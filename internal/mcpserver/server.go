// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes organizer tools for LLM integration via stdio transport.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ordo/internal/apperr"
	"github.com/starford/ordo/internal/organizer"
)

const ruleFormatURI = "ordo://rule-format"

// Server wraps the MCP server with organizer tools.
type Server struct {
	mcp *server.MCPServer
	svc *organizer.Service
}

// New creates a new MCP server with all organizer tools registered.
func New(svc *organizer.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Ordo",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("plan",
		mcp.WithDescription("Dry-run the configured rules over the organizer root. "+
			"Returns every planned move and hard link; nothing on disk changes."),
	), s.plan)

	s.mcp.AddTool(mcp.NewTool("organize",
		mcp.WithDescription("Apply the configured rules to the organizer root. "+
			"Every change is journaled and can be reverted with undo_session."),
	), s.organize)

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List journaled sessions, oldest first, with per-status counts."),
	), s.listSessions)

	s.mcp.AddTool(mcp.NewTool("show_session",
		mcp.WithDescription("Show every journal record of one session."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Session id as returned by list_sessions")),
	), s.showSession)

	s.mcp.AddTool(mcp.NewTool("undo_session",
		mcp.WithDescription("Revert a session, newest change first. Reverting twice is harmless."),
		mcp.WithString("id", mcp.Description("Session id; empty for the latest session")),
	), s.undoSession)

	s.mcp.AddTool(mcp.NewTool("get_rule_format",
		mcp.WithDescription("Returns the rule file format. "+
			"Call this before proposing rules so that they compile."),
	), s.getRuleFormat)

	// Resource: rule format contract.
	s.mcp.AddResource(
		mcp.NewResource(ruleFormatURI, "Rule Format",
			mcp.WithResourceDescription("How organizer rules, targets and conflict policies are written."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRuleFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) plan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := s.svc.Plan(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var buf bytes.Buffer
	if err := rep.WriteText(&buf); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(buf.String()), nil
}

func (s *Server) organize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := s.svc.Organize(ctx)
	var buf bytes.Buffer
	if rep != nil {
		_ = rep.WriteText(&buf)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run aborted: %v\n\n%s", err, buf.String())), nil
	}
	return mcp.NewToolResultText(buf.String()), nil
}

func (s *Server) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.svc.Sessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(sessions) == 0 {
		return mcp.NewToolResultText("no sessions"), nil
	}
	return jsonResult(sessions)
}

func (s *Server) showSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.Session(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(detail)
}

func (s *Server) undoSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := ""
	if v, err := req.RequireString("id"); err == nil {
		id = v
	}
	res, err := s.svc.Undo(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError("no such session"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("session %s: reverted %d, already reverted %d, skipped %d",
		res.SessionID, res.Reverted, res.AlreadyReverted, res.Skipped)), nil
}

func (s *Server) getRuleFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RuleFormatContract), nil
}

func (s *Server) readRuleFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ruleFormatURI,
			MIMEType: "text/markdown",
			Text:     RuleFormatContract,
		},
	}, nil
}
