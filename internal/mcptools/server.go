// Package mcptools exposes the memory subsystem to MCP-speaking agent
// runtimes over stdio: search, remember, forget, and context building
// as callable tools.
package mcptools

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ruochenliao/ai-training-course-sub000/internal/fusion"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/registry"
)

// Server wraps the MCP stdio server around the fusion adapter and
// store registry.
type Server struct {
	registry *registry.Registry
	fusion   *fusion.Adapter
	logger   *slog.Logger
	mcp      *mcpserver.MCPServer
}

// NewServer creates the MCP server and registers every tool.
func NewServer(reg *registry.Registry, adapter *fusion.Adapter, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry: reg,
		fusion:   adapter,
		logger:   logger,
		mcp:      mcpserver.NewMCPServer("memoryd", version),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("memory_search",
		mcp.WithDescription("Search conversation history, private memory, and public knowledge; results are merged and ranked by weighted relevance."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
		mcp.WithString("user_id", mcp.Description("User whose memory to search; empty searches public knowledge only")),
		mcp.WithString("session_id", mcp.Description("Session for conversation-history scope")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 6)")),
	), s.handleSearch)

	s.mcp.AddTool(mcp.NewTool("memory_remember",
		mcp.WithDescription("Store a fact in a user's private memory, or in public knowledge when no user is given."),
		mcp.WithString("content", mcp.Required(), mcp.Description("The fact to remember")),
		mcp.WithString("user_id", mcp.Description("Owner of this fact; empty stores public knowledge")),
	), s.handleRemember)

	s.mcp.AddTool(mcp.NewTool("memory_forget",
		mcp.WithDescription("Clear a user's private memory, or the whole public collection when no user is given."),
		mcp.WithString("user_id", mcp.Description("Owner whose memory to clear")),
	), s.handleForget)

	s.mcp.AddTool(mcp.NewTool("memory_context",
		mcp.WithDescription("Build the fused context block for a query, ready for prompt injection."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The user's question")),
		mcp.WithString("user_id", mcp.Description("User whose memory is in scope")),
		mcp.WithString("session_id", mcp.Description("Session for conversation-history scope")),
	), s.handleContext)
}

// ServeStdio blocks serving MCP over stdin/stdout until EOF.
func (s *Server) ServeStdio() error {
	s.logger.Info("mcp: serving over stdio")
	return mcpserver.ServeStdio(s.mcp)
}
