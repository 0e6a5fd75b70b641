// Package ctxtools provides the MCP tool handlers of the context engine.
//
// Each tool follows the same pattern:
// - A struct holding the *engine.Engine, injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// Failures are reported as tool errors of the form "[kind] message" so the
// assistant can branch on the kind. Internal causes are never included.
package ctxtools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/memory"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// stringsArg accepts either a JSON array of strings or a comma-separated
// string. Blank entries are dropped.
func stringsArg(req mcp.CallToolRequest, key string) []string {
	var raw []string
	switch v := req.GetArguments()[key].(type) {
	case string:
		raw = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = v
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// typeArg parses an optional record type argument.
func typeArg(req mcp.CallToolRequest, key string) (memory.RecordType, error) {
	s := req.GetString(key, "")
	if s == "" {
		return "", nil
	}
	return memory.ParseType(s)
}

// metadataArg accepts a JSON object, or a string holding one.
func metadataArg(req mcp.CallToolRequest, key string) (map[string]any, error) {
	switch v := req.GetArguments()[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, ctxerr.Validation("ctxtools.metadata", "'%s' must be a JSON object", key)
		}
		return m, nil
	default:
		return nil, ctxerr.Validation("ctxtools.metadata", "'%s' must be a JSON object", key)
	}
}

// toolError renders err as "[kind] message".
func toolError(err error) *mcp.CallToolResult {
	kind, msg := ctxerr.Public(err)
	return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", kind, msg))
}

// missing reports a required argument as a validation error.
func missing(name string) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("[%s] '%s' is required", ctxerr.KindValidation, name))
}

func formatTags(tags []string) string {
	if len(tags) == 0 {
		return "-"
	}
	return strings.Join(tags, ", ")
}

// writeRecord writes one record as a short block.
func writeRecord(b *strings.Builder, n int, r *memory.Record, preview int) {
	content := r.Content
	if preview > 0 {
		content = memory.Truncate(content, preview)
	}
	fmt.Fprintf(b, "[%d] %s (%s)\n    %s\n    tags: %s", n, r.ID, r.Type, content, formatTags(r.Tags))
	if r.Source != "" {
		fmt.Fprintf(b, " | source: %s", r.Source)
	}
	fmt.Fprintf(b, " | updated: %s\n\n", r.UpdatedAt.Format("2006-01-02 15:04"))
}
