package mcptools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ruochenliao/ai-training-course-sub000/internal/fusion"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory"
)

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	scope := fusion.Scope{
		UserID:    req.GetString("user_id", ""),
		SessionID: req.GetString("session_id", ""),
	}
	limit := req.GetInt("limit", 0)

	fc, err := s.fusion.Query(ctx, scope, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if fc.Empty() {
		return mcp.NewToolResultText("No results found."), nil
	}

	var sb strings.Builder
	for _, item := range fc.Items {
		fmt.Fprintf(&sb, "- [%s, score %.3f] %s\n", item.Source, item.FinalScore, item.Content)
	}
	if len(fc.Degraded) > 0 {
		parts := make([]string, len(fc.Degraded))
		for i, k := range fc.Degraded {
			parts[i] = string(k)
		}
		fmt.Fprintf(&sb, "\n(degraded sources: %s)\n", strings.Join(parts, ", "))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleRemember(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: content"), nil
	}

	store, err := s.resolveStore(req.GetString("user_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("store unavailable: %v", err)), nil
	}

	id, err := store.Add(ctx, content, map[string]string{"origin": "mcp"})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store memory: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Remembered (id: %s)", id)), nil
}

func (s *Server) handleForget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store, err := s.resolveStore(req.GetString("user_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("store unavailable: %v", err)), nil
	}

	cleared, err := store.Clear(ctx, memory.ClearOptions{})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to clear memory: %v", err)), nil
	}
	if !cleared {
		return mcp.NewToolResultText("Nothing to forget."), nil
	}
	return mcp.NewToolResultText("Memory cleared."), nil
}

func (s *Server) handleContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	scope := fusion.Scope{
		UserID:    req.GetString("user_id", ""),
		SessionID: req.GetString("session_id", ""),
	}

	fc, err := s.fusion.Query(ctx, scope, query, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("context build failed: %v", err)), nil
	}
	block := s.fusion.RenderContext(fc)
	if block == "" {
		return mcp.NewToolResultText("No relevant context."), nil
	}
	return mcp.NewToolResultText(block), nil
}

func (s *Server) resolveStore(userID string) (memory.Store, error) {
	if userID == "" {
		return s.registry.Public()
	}
	return s.registry.Private(userID)
}
