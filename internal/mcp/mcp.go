// Package mcp implements the Model Context Protocol server for Meridian.
//
// The MCP server exposes the same control surface as the HTTP API through
// MCP resources and tools, allowing MCP-compatible agents to observe and
// steer the revenue engine.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/meridianlabs/meridian/internal/engine"
	"github.com/meridianlabs/meridian/internal/model"
)

// Server wraps the MCP server with Meridian's engine layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    *engine.Engine
	logger    *slog.Logger
	version   string
}

// New creates and configures a new MCP server with all resources and tools.
func New(eng *engine.Engine, version string, logger *slog.Logger) *Server {
	s := &Server{
		engine:  eng,
		logger:  logger,
		version: version,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"meridian",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// meridian://status — engine state and aggregate snapshot.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"meridian://status",
			"Engine Status",
			mcplib.WithResourceDescription("Engine state, aggregate yield, and derived rates"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatusResource,
	)

	// meridian://activity/recent — the bounded activity feed.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"meridian://activity/recent",
			"Recent Activity",
			mcplib.WithResourceDescription("Recent engine activity events, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleActivityResource,
	)
}

func (s *Server) handleStatusResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(s.statusView(ctx), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal status: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "meridian://status",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleActivityResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	events := s.engine.Store().RecentActivity(20)
	data, err := json.MarshalIndent(map[string]any{
		"events": events,
		"count":  len(events),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal activity: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "meridian://activity/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) statusView(ctx context.Context) model.StatusPayload {
	return model.StatusPayload{
		State:         s.engine.State(),
		Version:       s.version,
		Snapshot:      s.engine.Store().Snapshot(),
		Opportunities: len(s.engine.CachedOpportunities()),
		TrendsCached:  !s.engine.CachedTrends().SampledAt.IsZero(),
		Subsystems:    s.engine.SubsystemStatuses(ctx),
	}
}
