package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerTools() {
	// meridian_status — point-in-time engine view.
	s.mcpServer.AddTool(
		mcplib.NewTool("meridian_status",
			mcplib.WithDescription("Get the engine state, total yield, cycle count, and derived rates"),
		),
		s.handleStatusTool,
	)

	// meridian_pause — suspend cycle execution.
	s.mcpServer.AddTool(
		mcplib.NewTool("meridian_pause",
			mcplib.WithDescription("Pause the engine. The cycle loop idles until resumed; in-flight cycles finish first."),
		),
		s.handlePause,
	)

	// meridian_resume — resume cycle execution.
	s.mcpServer.AddTool(
		mcplib.NewTool("meridian_resume",
			mcplib.WithDescription("Resume a paused engine"),
		),
		s.handleResume,
	)

	// meridian_recent_activity — bounded activity feed.
	s.mcpServer.AddTool(
		mcplib.NewTool("meridian_recent_activity",
			mcplib.WithDescription("List recent engine activity events, newest first"),
			mcplib.WithNumber("limit", mcplib.Description("Maximum events to return")),
		),
		s.handleRecentActivity,
	)

	// meridian_recent_cycles — cycle history window.
	s.mcpServer.AddTool(
		mcplib.NewTool("meridian_recent_cycles",
			mcplib.WithDescription("List recent cycle records with duration, opportunities, yield, and phase errors"),
			mcplib.WithNumber("limit", mcplib.Description("Maximum cycles to return")),
		),
		s.handleRecentCycles,
	)
}

func (s *Server) handleStatusTool(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	resultData, err := json.MarshalIndent(s.statusView(ctx), "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal status: %v", err)), nil
	}
	return textResult(string(resultData)), nil
}

func (s *Server) handlePause(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	s.engine.Pause(ctx)
	resultData, _ := json.Marshal(map[string]any{
		"state": s.engine.State(),
	})
	return textResult(string(resultData)), nil
}

func (s *Server) handleResume(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	s.engine.Resume(ctx)
	resultData, _ := json.Marshal(map[string]any{
		"state": s.engine.State(),
	})
	return textResult(string(resultData)), nil
}

func (s *Server) handleRecentActivity(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := clampLimit(request.GetInt("limit", 20))
	events := s.engine.Store().RecentActivity(limit)

	resultData, err := json.MarshalIndent(map[string]any{
		"events": events,
		"count":  len(events),
	}, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal activity: %v", err)), nil
	}
	return textResult(string(resultData)), nil
}

func (s *Server) handleRecentCycles(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := clampLimit(request.GetInt("limit", 20))
	cycles := s.engine.Store().RecentCycles(limit)

	resultData, err := json.MarshalIndent(map[string]any{
		"cycles": cycles,
		"count":  len(cycles),
	}, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal cycles: %v", err)), nil
	}
	return textResult(string(resultData)), nil
}

func clampLimit(n int) int {
	if n < 1 {
		return 20
	}
	if n > 100 {
		return 100
	}
	return n
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
