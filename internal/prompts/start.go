// Package prompts implements MCP prompt handlers for the context engine.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the ctx-start MCP prompt.
// It has the AI load relevant project context before starting a task.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("ctx-start",
		mcp.WithPromptDescription(
			"Start a task with the right project context. "+
				"Loads the records relevant to the task and explains how to keep them current.",
		),
		mcp.WithArgument("task",
			mcp.ArgumentDescription("What you are about to work on"),
		),
		mcp.WithArgument("current_file",
			mcp.ArgumentDescription("File you are editing, if any"),
		),
	)
}

// Handle processes the ctx-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	task := ""
	file := ""
	if args := req.Params.Arguments; args != nil {
		task = strings.TrimSpace(args["task"])
		file = strings.TrimSpace(args["current_file"])
	}

	var b strings.Builder
	if task == "" {
		b.WriteString("I'm about to start a task. Ask me what it is, then:\n\n")
		b.WriteString("1. Run `ctx_route` with the task description")
	} else {
		fmt.Fprintf(&b, "I'm about to work on: %s\n\nPlease:\n\n", task)
		fmt.Fprintf(&b, "1. Run `ctx_route` with task=%q", task)
	}
	if file != "" {
		fmt.Fprintf(&b, " and current_file=%q", file)
	}
	b.WriteString("\n" +
		"2. Summarize the decisions, patterns and config the records describe before proposing changes\n" +
		"3. If nothing relevant comes back, run `ctx_stats` and `ctx_list` to see what is stored\n" +
		"4. As we work, store new decisions and conventions with `ctx_add` (one self-contained record each, tagged by area)\n" +
		"5. Run anything that may contain credentials through `ctx_guard` before storing it\n")

	desc := "Start task with project context"
	if task != "" {
		desc = fmt.Sprintf("Start task: %s", task)
	}
	return &mcp.GetPromptResult{
		Description: desc,
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(b.String()),
			},
		},
	}, nil
}
