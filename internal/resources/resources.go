// Package resources implements MCP resource handlers for the context engine.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (ctxengine://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/engine"
	"github.com/HendryAvila/ctxengine/internal/memory"
	"github.com/HendryAvila/ctxengine/internal/project"
)

// StatsURI addresses the project statistics resource.
const StatsURI = "ctxengine://project/stats"

// Handler manages resource endpoints.
type Handler struct {
	engine *engine.Engine
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e}
}

// StatsResource returns the MCP resource definition for project statistics.
func (h *Handler) StatsResource() mcp.Resource {
	return mcp.NewResource(
		StatsURI,
		"Project Context Statistics",
		mcp.WithResourceDescription("Project identity, record counts by type and embedding coverage"),
		mcp.WithMIMEType("application/json"),
	)
}

// statsDoc is the JSON body of the stats resource.
type statsDoc struct {
	Project project.Identity `json:"project"`
	*memory.Stats
}

// HandleStats returns the current project statistics as JSON.
func (h *Handler) HandleStats(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	stats, err := h.engine.Store().Stats(ctx)
	if err != nil {
		kind, msg := ctxerr.Public(err)
		return errorResource(req.Params.URI, fmt.Sprintf("[%s] %s", kind, msg)), nil
	}

	data, err := json.MarshalIndent(statsDoc{Project: h.engine.Project(), Stats: stats}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling stats: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
