package ctxtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/ctxengine/internal/engine"
	"github.com/HendryAvila/ctxengine/internal/guard"
)

// GuardTool handles the ctx_guard MCP tool.
type GuardTool struct {
	engine *engine.Engine
}

// NewGuardTool creates a GuardTool.
func NewGuardTool(e *engine.Engine) *GuardTool {
	return &GuardTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_guard.
func (t *GuardTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_guard",
		mcp.WithDescription(
			"Detect and redact sensitive data (keys, tokens, credentials, card numbers, emails, IPs, phone numbers) "+
				"before text is stored or shared. Reports how many matches each filter found.",
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Text to check"),
		),
		mcp.WithString("filters",
			mcp.Description("Comma-separated filter names (default: all). One of: "+strings.Join(guard.AvailableFilters(), ", ")),
		),
		mcp.WithString("mode",
			mcp.Description("redact replaces matches, block empties the content on any match, warn only reports (default: redact)"),
			mcp.Enum(string(guard.ModeRedact), string(guard.ModeBlock), string(guard.ModeWarn)),
		),
		mcp.WithString("replacement",
			mcp.Description("Redaction marker (default: [REDACTED])"),
		),
		mcp.WithBoolean("strict",
			mcp.Description("Fail on unknown filter names instead of ignoring them"),
		),
	)
}

// Handle processes the ctx_guard tool call.
func (t *GuardTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := req.GetString("content", "")
	res, err := t.engine.Guard(ctx, content, guard.Options{
		Filters:     stringsArg(req, "filters"),
		Mode:        guard.Mode(req.GetString("mode", "")),
		Replacement: req.GetString("replacement", ""),
		Strict:      boolArg(req, "strict", false),
	})
	if err != nil {
		return toolError(err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s\n", res.Mode)
	if len(res.Findings) == 0 {
		b.WriteString("Findings: none\n")
	} else {
		parts := make([]string, len(res.Findings))
		for i, f := range res.Findings {
			parts[i] = fmt.Sprintf("%s=%d", f.Filter, f.Count)
		}
		fmt.Fprintf(&b, "Findings: %s (total %d)\n", strings.Join(parts, ", "), res.Total())
	}
	if len(res.Ignored) > 0 {
		fmt.Fprintf(&b, "Ignored unknown filters: %s\n", strings.Join(res.Ignored, ", "))
	}
	if res.Blocked {
		b.WriteString("Content blocked.\n")
		return mcp.NewToolResultText(b.String()), nil
	}
	b.WriteString("---\n")
	b.WriteString(res.Content)
	return mcp.NewToolResultText(b.String()), nil
}
