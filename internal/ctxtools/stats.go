package ctxtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/ctxengine/internal/engine"
	"github.com/HendryAvila/ctxengine/internal/memory"
)

// StatsTool handles the ctx_stats MCP tool.
type StatsTool struct {
	engine *engine.Engine
}

// NewStatsTool creates a StatsTool.
func NewStatsTool(e *engine.Engine) *StatsTool {
	return &StatsTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_stats",
		mcp.WithDescription("Show record counts for the current project, by type, and embedding coverage."),
	)
}

// Handle processes the ctx_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.engine.Store().Stats(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(FormatStats(t.engine, stats)), nil
}

// FormatStats renders stats as markdown. It is shared with the CLI.
func FormatStats(e *engine.Engine, stats *memory.Stats) string {
	var sb strings.Builder
	sb.WriteString("## Project Context\n\n")
	fmt.Fprintf(&sb, "- **Project**: %s\n", stats.ProjectID)
	fmt.Fprintf(&sb, "- **Root**: %s\n", e.Project().Root)
	fmt.Fprintf(&sb, "- **Records**: %d\n", stats.Total)
	for _, typ := range memory.TypeNames() {
		if n := stats.ByType[typ]; n > 0 {
			fmt.Fprintf(&sb, "  - %s: %d\n", typ, n)
		}
	}
	if stats.EmbeddingModel != "" {
		fmt.Fprintf(&sb, "- **Embeddings**: %d/%d with %s\n", stats.Embedded, stats.Total, stats.EmbeddingModel)
	} else {
		sb.WriteString("- **Embeddings**: disabled\n")
	}
	return sb.String()
}
