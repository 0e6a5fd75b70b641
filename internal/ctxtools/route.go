package ctxtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/ctxengine/internal/engine"
	"github.com/HendryAvila/ctxengine/internal/memory"
	"github.com/HendryAvila/ctxengine/internal/router"
)

// RouteTool handles the ctx_route MCP tool.
type RouteTool struct {
	engine *engine.Engine
}

// NewRouteTool creates a RouteTool.
func NewRouteTool(e *engine.Engine) *RouteTool {
	return &RouteTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_route.
func (t *RouteTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_route",
		mcp.WithDescription(
			"Get the records most relevant to a task, ranked by keyword overlap, recency, type, tags, "+
				"the file being edited and (when available) semantic similarity. "+
				"Call this at the start of a task instead of listing everything.",
		),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("What you are about to do, in plain words"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max records (default: 5, max: 50)"),
		),
		mcp.WithNumber("max_tokens",
			mcp.Description("Stop adding records once this estimated token budget would be exceeded"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags to boost"),
		),
		mcp.WithString("type",
			mcp.Description("Only records of this type"),
			mcp.Enum(memory.TypeNames()...),
		),
		mcp.WithString("current_file",
			mcp.Description("Path of the file being worked on; boosts records about it"),
		),
		mcp.WithBoolean("explain",
			mcp.Description("Include score and signal breakdown per record (default: true)"),
		),
	)
}

// Handle processes the ctx_route tool call.
func (t *RouteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task := req.GetString("task", "")
	typ, err := typeArg(req, "type")
	if err != nil {
		return toolError(err), nil
	}
	scored, err := t.engine.Route(ctx, task, router.Options{
		Limit:       intArg(req, "limit", 0),
		MaxTokens:   intArg(req, "max_tokens", 0),
		Tags:        stringsArg(req, "tags"),
		Type:        typ,
		CurrentFile: req.GetString("current_file", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	if len(scored) == 0 {
		return mcp.NewToolResultText("No relevant records for this task."), nil
	}

	explain := boolArg(req, "explain", true)
	var b strings.Builder
	fmt.Fprintf(&b, "## Relevant context (%d records)\n\n", len(scored))
	for i := range scored {
		c := &scored[i]
		if explain {
			fmt.Fprintf(&b, "score %.3f | %s\n", c.Score, c.Explanation)
		}
		writeRecord(&b, i+1, &c.Record, 0)
	}
	b.WriteString(memory.TokenFooter(memory.EstimateTokens(b.String())))
	return mcp.NewToolResultText(b.String()), nil
}
