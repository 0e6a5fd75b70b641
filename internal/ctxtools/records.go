package ctxtools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/ctxengine/internal/engine"
	"github.com/HendryAvila/ctxengine/internal/memory"
)

// ─── AddTool ────────────────────────────────────────────────────────────────

// AddTool handles the ctx_add MCP tool.
type AddTool struct {
	engine *engine.Engine
}

// NewAddTool creates an AddTool.
func NewAddTool(e *engine.Engine) *AddTool {
	return &AddTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_add.
func (t *AddTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_add",
		mcp.WithDescription(
			"Store a piece of project context: a fact, decision, code pattern, config detail or note. "+
				"Call this after learning something a future session would need.",
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The context to remember, self-contained"),
		),
		mcp.WithString("type",
			mcp.Description("Record type (default: note)"),
			mcp.Enum(memory.TypeNames()...),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags (e.g. 'auth,db'). Matched case-insensitively."),
		),
		mcp.WithString("source",
			mcp.Description("Where this came from, e.g. a file path"),
		),
		mcp.WithObject("metadata",
			mcp.Description("Free-form JSON object stored with the record"),
		),
	)
}

// Handle processes the ctx_add tool call.
func (t *AddTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := req.GetString("content", "")
	if strings.TrimSpace(content) == "" {
		return missing("content"), nil
	}
	typ, err := typeArg(req, "type")
	if err != nil {
		return toolError(err), nil
	}
	if typ == "" {
		typ = memory.TypeNote
	}
	meta, err := metadataArg(req, "metadata")
	if err != nil {
		return toolError(err), nil
	}

	id, err := t.engine.Store().Add(ctx, memory.NewRecord{
		Type:     typ,
		Content:  content,
		Tags:     stringsArg(req, "tags"),
		Source:   req.GetString("source", ""),
		Metadata: meta,
	})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Stored %s record\nID: %s", typ, id)), nil
}

// ─── GetTool ────────────────────────────────────────────────────────────────

// GetTool handles the ctx_get MCP tool.
type GetTool struct {
	engine *engine.Engine
}

// NewGetTool creates a GetTool.
func NewGetTool(e *engine.Engine) *GetTool {
	return &GetTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_get.
func (t *GetTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_get",
		mcp.WithDescription("Fetch one record by ID with its full content and metadata."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Record ID"),
		),
	)
}

// Handle processes the ctx_get tool call.
func (t *GetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return missing("id"), nil
	}
	r, err := t.engine.Store().Get(ctx, id)
	if err != nil {
		return toolError(err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s (%s)\n\n%s\n\n", r.ID, r.Type, r.Content)
	fmt.Fprintf(&b, "- **Tags**: %s\n", formatTags(r.Tags))
	if r.Source != "" {
		fmt.Fprintf(&b, "- **Source**: %s\n", r.Source)
	}
	if len(r.Metadata) > 0 {
		meta, _ := json.Marshal(r.Metadata)
		fmt.Fprintf(&b, "- **Metadata**: %s\n", meta)
	}
	if r.EmbeddingModel != "" {
		fmt.Fprintf(&b, "- **Embedding**: %s\n", r.EmbeddingModel)
	}
	fmt.Fprintf(&b, "- **Created**: %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- **Updated**: %s\n", r.UpdatedAt.Format("2006-01-02 15:04:05"))
	return mcp.NewToolResultText(b.String()), nil
}

// ─── UpdateTool ─────────────────────────────────────────────────────────────

// UpdateTool handles the ctx_update MCP tool.
type UpdateTool struct {
	engine *engine.Engine
}

// NewUpdateTool creates an UpdateTool.
func NewUpdateTool(e *engine.Engine) *UpdateTool {
	return &UpdateTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_update.
func (t *UpdateTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_update",
		mcp.WithDescription("Update a record by ID. Only provided fields are changed; tags replace the old tags."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Record ID to update"),
		),
		mcp.WithString("content",
			mcp.Description("New content"),
		),
		mcp.WithString("type",
			mcp.Description("New record type"),
			mcp.Enum(memory.TypeNames()...),
		),
		mcp.WithString("tags",
			mcp.Description("New comma-separated tags"),
		),
		mcp.WithString("source",
			mcp.Description("New source"),
		),
		mcp.WithObject("metadata",
			mcp.Description("New metadata object"),
		),
	)
}

// Handle processes the ctx_update tool call.
func (t *UpdateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return missing("id"), nil
	}

	var patch memory.RecordPatch
	args := req.GetArguments()
	if _, ok := args["content"]; ok {
		c := req.GetString("content", "")
		patch.Content = &c
	}
	if _, ok := args["type"]; ok {
		typ, err := typeArg(req, "type")
		if err != nil {
			return toolError(err), nil
		}
		if typ != "" {
			patch.Type = &typ
		}
	}
	if _, ok := args["tags"]; ok {
		patch.Tags = stringsArg(req, "tags")
		if patch.Tags == nil {
			patch.Tags = []string{}
		}
	}
	if _, ok := args["source"]; ok {
		s := req.GetString("source", "")
		patch.Source = &s
	}
	meta, err := metadataArg(req, "metadata")
	if err != nil {
		return toolError(err), nil
	}
	patch.Metadata = meta

	if patch.Content == nil && patch.Type == nil && patch.Tags == nil && patch.Source == nil && patch.Metadata == nil {
		return mcp.NewToolResultError("[validation] nothing to update: provide content, type, tags, source or metadata"), nil
	}

	ok, err := t.engine.Store().Update(ctx, id, patch)
	if err != nil {
		return toolError(err), nil
	}
	if !ok {
		return mcp.NewToolResultText(fmt.Sprintf("No record %s in this project; nothing updated.", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Record %s updated", id)), nil
}

// ─── DeleteTool ─────────────────────────────────────────────────────────────

// DeleteTool handles the ctx_delete MCP tool.
type DeleteTool struct {
	engine *engine.Engine
}

// NewDeleteTool creates a DeleteTool.
func NewDeleteTool(e *engine.Engine) *DeleteTool {
	return &DeleteTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_delete.
func (t *DeleteTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_delete",
		mcp.WithDescription("Permanently delete a record by ID."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Record ID to delete"),
		),
	)
}

// Handle processes the ctx_delete tool call.
func (t *DeleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return missing("id"), nil
	}
	ok, err := t.engine.Store().Delete(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	if !ok {
		return mcp.NewToolResultText(fmt.Sprintf("No record %s in this project; nothing deleted.", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Record %s deleted", id)), nil
}

// ─── ClearTool ──────────────────────────────────────────────────────────────

// ClearTool handles the ctx_clear MCP tool.
type ClearTool struct {
	engine *engine.Engine
}

// NewClearTool creates a ClearTool.
func NewClearTool(e *engine.Engine) *ClearTool {
	return &ClearTool{engine: e}
}

// Definition returns the MCP tool definition for ctx_clear.
func (t *ClearTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_clear",
		mcp.WithDescription(
			"Delete every record of the current project. Other projects are untouched. "+
				"Requires confirm=true.",
		),
		mcp.WithBoolean("confirm",
			mcp.Required(),
			mcp.Description("Must be true"),
		),
	)
}

// Handle processes the ctx_clear tool call.
func (t *ClearTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !boolArg(req, "confirm", false) {
		return mcp.NewToolResultError("[validation] set confirm=true to clear every record of this project"), nil
	}
	n, err := t.engine.Store().Clear(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Cleared %d records from project %s", n, t.engine.Project().ID)), nil
}
