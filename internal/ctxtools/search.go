package ctxtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/ctxengine/internal/engine"
	"github.com/HendryAvila/ctxengine/internal/memory"
)

// previewBytes bounds record content in list-style responses.
const previewBytes = 300

// SearchTool handles the ctx_search MCP tool.
type SearchTool struct {
	engine *engine.Engine
}

// NewSearchTool creates a SearchTool.
func NewSearchTool(e *engine.Engine) *SearchTool {
	return &SearchTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_search.
func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_search",
		mcp.WithDescription(
			"Search this project's records. Keyword search by default (every word must match, stemmed). "+
				"Set semantic=true to rank by meaning instead; that needs an embedding provider.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query: keywords or a natural-language description"),
		),
		mcp.WithString("type",
			mcp.Description("Only records of this type"),
			mcp.Enum(memory.TypeNames()...),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags; records must carry all of them (keyword search only)"),
		),
		mcp.WithBoolean("semantic",
			mcp.Description("Rank by embedding similarity (default: false)"),
		),
		mcp.WithNumber("min_score",
			mcp.Description("Minimum cosine similarity for semantic search (default: 0)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default and cap come from the store configuration)"),
		),
	)
}

// Handle processes the ctx_search tool call.
func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return missing("query"), nil
	}
	typ, err := typeArg(req, "type")
	if err != nil {
		return toolError(err), nil
	}
	limit := intArg(req, "limit", 0)

	var b strings.Builder
	if boolArg(req, "semantic", false) {
		results, err := t.engine.Store().SearchSemantic(ctx, query, memory.SemanticOptions{
			Type:     typ,
			Limit:    limit,
			MinScore: req.GetFloat("min_score", 0),
		})
		if err != nil {
			return toolError(err), nil
		}
		if len(results) == 0 {
			return mcp.NewToolResultText("No records found matching your query."), nil
		}
		fmt.Fprintf(&b, "Found %d records (semantic):\n\n", len(results))
		for i := range results {
			fmt.Fprintf(&b, "score %.3f\n", results[i].Score)
			writeRecord(&b, i+1, &results[i].Record, previewBytes)
		}
	} else {
		results, err := t.engine.Store().Search(ctx, query, memory.SearchOptions{
			Type:  typ,
			Tags:  stringsArg(req, "tags"),
			Limit: limit,
		})
		if err != nil {
			return toolError(err), nil
		}
		if len(results) == 0 {
			return mcp.NewToolResultText("No records found matching your query."), nil
		}
		fmt.Fprintf(&b, "Found %d records:\n\n", len(results))
		for i := range results {
			writeRecord(&b, i+1, &results[i].Record, previewBytes)
		}
	}

	b.WriteString(memory.TokenFooter(memory.EstimateTokens(b.String())))
	return mcp.NewToolResultText(b.String()), nil
}

// ─── ListTool ───────────────────────────────────────────────────────────────

// ListTool handles the ctx_list MCP tool.
type ListTool struct {
	engine *engine.Engine
}

// NewListTool creates a ListTool.
func NewListTool(e *engine.Engine) *ListTool {
	return &ListTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_list.
func (t *ListTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_list",
		mcp.WithDescription("List this project's records, most recently updated first."),
		mcp.WithString("type",
			mcp.Description("Only records of this type"),
			mcp.Enum(memory.TypeNames()...),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags; records must carry all of them"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Skip this many records, for paging"),
		),
	)
}

// Handle processes the ctx_list tool call.
func (t *ListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := typeArg(req, "type")
	if err != nil {
		return toolError(err), nil
	}
	offset := max(intArg(req, "offset", 0), 0)
	opts := memory.ListOptions{
		Type:   typ,
		Tags:   stringsArg(req, "tags"),
		Limit:  intArg(req, "limit", 0),
		Offset: offset,
	}
	recs, err := t.engine.Store().List(ctx, opts)
	if err != nil {
		return toolError(err), nil
	}
	if len(recs) == 0 {
		return mcp.NewToolResultText("No records."), nil
	}
	total, err := t.engine.Store().Count(ctx, opts)
	if err != nil {
		return toolError(err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d records:\n\n", len(recs))
	for i := range recs {
		writeRecord(&b, offset+i+1, &recs[i], previewBytes)
	}
	shown := offset + len(recs)
	b.WriteString(memory.NavigationHint(shown, total, fmt.Sprintf("Use offset=%d for the next page.", shown)))
	b.WriteString(memory.TokenFooter(memory.EstimateTokens(b.String())))
	return mcp.NewToolResultText(b.String()), nil
}
