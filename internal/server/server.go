// Package server wires the MCP components around an engine and creates the
// server instance.
//
// This is the composition root: it creates the tools, prompts and resources
// and injects the engine they share. No business logic lives here, only
// wiring.
package server

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/ctxengine/internal/ctxtools"
	"github.com/HendryAvila/ctxengine/internal/engine"
	"github.com/HendryAvila/ctxengine/internal/prompts"
	"github.com/HendryAvila/ctxengine/internal/resources"
)

// Name is the MCP server name.
const Name = "ctxengine"

// Version is set at build time via ldflags.
var Version = "dev"

// Tool is what every ctxtools handler provides.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// New creates the MCP server with every tool, prompt and resource
// registered against e. The caller owns e and closes it after the server
// stops.
func New(e *engine.Engine) *server.MCPServer {
	s := server.NewMCPServer(
		Name,
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	for _, t := range Tools(e) {
		s.AddTool(t.Definition(), t.Handle)
	}

	// --- Register prompts ---

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(e)
	s.AddResource(resourceHandler.StatsResource(), resourceHandler.HandleStats)

	return s
}

// Tools returns every tool handler in registration order.
func Tools(e *engine.Engine) []Tool {
	return []Tool{
		// --- Records ---
		ctxtools.NewAddTool(e),
		ctxtools.NewGetTool(e),
		ctxtools.NewUpdateTool(e),
		ctxtools.NewDeleteTool(e),
		ctxtools.NewClearTool(e),

		// --- Query & retrieval ---
		ctxtools.NewSearchTool(e),
		ctxtools.NewListTool(e),
		ctxtools.NewStatsTool(e),
		ctxtools.NewRouteTool(e),

		// --- Guard & fusion ---
		ctxtools.NewGuardTool(e),
		ctxtools.NewFuseTool(e),
	}
}

// serverInstructions returns the system instructions that tell the AI
// how to use the context engine.
func serverInstructions() string {
	return `You have access to ctxengine, a local context engine for this project.

It stores small pieces of project knowledge (facts, decisions, code patterns,
config details, notes), ranks them against the task at hand, and merges
them with files, text and URLs into one context block that fits a token
budget. Records are scoped to the current project automatically.

## At the start of a task
Call ctx_route with a plain description of the task. Pass current_file when
you are editing a specific file. Read the returned records before writing
code; they hold decisions made in earlier sessions.

## While working
Call ctx_add when you learn something a future session would need:
- decision: a choice and its reason ("Use JWT for auth because...")
- code_pattern: a convention the codebase follows
- config: ports, env vars, build flags
- fact: how something works
- note: anything else
Keep each record self-contained. Tag it with the area it concerns.

Before storing or sharing text that may contain credentials, keys or
personal data, run it through ctx_guard.

## Building a context block
ctx_fuse merges sources into one block under max_tokens. Use a memory source
with a query to pull routed records, file sources for project files, text
sources for inline notes and url sources for remote documents. Duplicates
are removed and external content is redacted. Every source is reported, so
check for failed sources.

## Errors
Tool errors start with a kind in brackets: [validation], [not_found],
[capability_unavailable], [provider_timeout], [source_unavailable],
[storage_failure]. Fix validation errors and retry; capability_unavailable
means semantic features need an embedding provider, so fall back to
keyword search.`
}
