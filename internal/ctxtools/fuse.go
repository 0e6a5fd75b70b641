package ctxtools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/engine"
	"github.com/HendryAvila/ctxengine/internal/fusion"
	"github.com/HendryAvila/ctxengine/internal/guard"
	"github.com/HendryAvila/ctxengine/internal/memory"
)

// FuseTool handles the ctx_fuse MCP tool.
type FuseTool struct {
	engine *engine.Engine
}

// NewFuseTool creates a FuseTool.
func NewFuseTool(e *engine.Engine) *FuseTool {
	return &FuseTool{engine: e}
}

var sourceSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"type": map[string]any{
			"type": "string",
			"enum": []string{
				string(fusion.SourceMemory), string(fusion.SourceFile),
				string(fusion.SourceText), string(fusion.SourceURL),
			},
		},
		"label":       map[string]any{"type": "string"},
		"query":       map[string]any{"type": "string", "description": "memory: route records for this task"},
		"record_type": map[string]any{"type": "string", "enum": memory.TypeNames()},
		"tags":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"path":        map[string]any{"type": "string", "description": "file: relative to the project root"},
		"url":         map[string]any{"type": "string"},
		"text":        map[string]any{"type": "string"},
		"priority":    map[string]any{"type": "number", "description": "higher first"},
		"max_tokens":  map[string]any{"type": "number"},
		"limit":       map[string]any{"type": "number"},
	},
	"required": []string{"type"},
}

// Definition returns the MCP tool definition for ctx_fuse.
func (t *FuseTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_fuse",
		mcp.WithDescription(
			"Merge several sources (stored records, project files, inline text, URLs) into one context block "+
				"that fits a token budget. Duplicates are removed, external content is guarded, "+
				"and every source is reported with what it contributed.",
		),
		mcp.WithArray("sources",
			mcp.Required(),
			mcp.Description("Sources to merge, in declaration order"),
			mcp.Items(sourceSchema),
		),
		mcp.WithNumber("max_tokens",
			mcp.Description("Token budget of the output (default from configuration)"),
		),
		mcp.WithString("dedupe",
			mcp.Description("Duplicate removal (default: exact)"),
			mcp.Enum(string(fusion.DedupeNone), string(fusion.DedupeExact), string(fusion.DedupeSemantic)),
		),
		mcp.WithString("format",
			mcp.Description("plain joins paragraphs, markdown groups them under headers, structured returns JSON"),
			mcp.Enum(string(fusion.FormatPlain), string(fusion.FormatMarkdown), string(fusion.FormatStructured)),
		),
		mcp.WithString("guard_filters",
			mcp.Description("Comma-separated guard filters for external sources (default from configuration)"),
		),
		mcp.WithString("guard_mode",
			mcp.Description("Guard mode for external sources"),
			mcp.Enum(string(guard.ModeRedact), string(guard.ModeBlock), string(guard.ModeWarn)),
		),
		mcp.WithBoolean("skip_guard",
			mcp.Description("Do not guard external sources"),
		),
	)
}

// sourcesArg decodes the sources argument through its JSON form.
func sourcesArg(req mcp.CallToolRequest) ([]fusion.Source, error) {
	raw, ok := req.GetArguments()["sources"]
	if !ok || raw == nil {
		return nil, nil
	}
	if s, ok := raw.(string); ok {
		raw = json.RawMessage(s)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, ctxerr.Validation("ctxtools.fuse", "'sources' must be an array of objects")
	}
	var sources []fusion.Source
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, ctxerr.Validation("ctxtools.fuse", "'sources' must be an array of objects")
	}
	return sources, nil
}

// Handle processes the ctx_fuse tool call.
func (t *FuseTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sources, err := sourcesArg(req)
	if err != nil {
		return toolError(err), nil
	}

	out, err := t.engine.Fuse(ctx, sources, fusion.Options{
		MaxTokens:    intArg(req, "max_tokens", 0),
		Dedupe:       fusion.Dedupe(req.GetString("dedupe", "")),
		Format:       fusion.Format(req.GetString("format", "")),
		GuardFilters: stringsArg(req, "guard_filters"),
		GuardMode:    guard.Mode(req.GetString("guard_mode", "")),
		SkipGuard:    boolArg(req, "skip_guard", false),
	})
	if err != nil {
		return toolError(err), nil
	}

	if out.Format == fusion.FormatStructured {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return toolError(ctxerr.E("ctxtools.fuse", ctxerr.KindInternal, "encoding output failed", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
	return mcp.NewToolResultText(FormatFusion(out)), nil
}

// FormatFusion renders fused content followed by a per-source report. It
// is shared with the CLI.
func FormatFusion(out *fusion.Output) string {
	var b strings.Builder
	b.WriteString(out.Content)
	b.WriteString("\n\n---\nSources:\n")
	spans := 0
	omitted := 0
	for _, a := range out.Sources {
		spans += a.Spans
		omitted += a.Omitted
		fmt.Fprintf(&b, "%d. [%s] %s (%s)", a.Index+1, a.Status, a.Label, a.Type)
		switch a.Status {
		case fusion.StatusFailed:
			fmt.Fprintf(&b, ": %s: %s", a.ErrorKind, a.Error)
		case fusion.StatusOK:
			fmt.Fprintf(&b, ": %d spans, ~%d tokens", a.Spans, a.Tokens)
			if a.Deduped > 0 {
				fmt.Fprintf(&b, ", %d duplicates", a.Deduped)
			}
			if a.Truncated {
				b.WriteString(", truncated")
			}
		}
		if n := guard.Total(a.Guard); n > 0 {
			fmt.Fprintf(&b, ", %d guarded", n)
		}
		b.WriteString("\n")
	}
	for _, w := range out.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	if out.Truncated {
		b.WriteString(strings.TrimPrefix(memory.BudgetFooter(out.TotalTokens, out.MaxTokens, spans, spans+omitted), "\n"))
	} else {
		b.WriteString(strings.TrimPrefix(memory.TokenFooter(out.TotalTokens), "\n"))
	}
	return b.String()
}
