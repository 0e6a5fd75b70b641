package fusion

import (
	"strings"

	"github.com/HendryAvila/ctxengine/internal/memory"
)

func typeHeader(t SourceType) string {
	switch t {
	case SourceMemory:
		return "## Project memory"
	case SourceFile:
		return "## Files"
	case SourceURL:
		return "## Remote resources"
	default:
		return "## Notes"
	}
}

func sourceHeader(label string) string {
	return "### " + label
}

// render fills Content, Sections and TotalTokens. Every block is joined by
// a blank line.
func render(kept []keptSource, format Format, out *Output) {
	var blocks []string
	switch format {
	case FormatMarkdown:
		// Group by source type in order of first appearance.
		var order []SourceType
		groups := map[SourceType][]keptSource{}
		for _, k := range kept {
			t := k.r.src.Type
			if _, ok := groups[t]; !ok {
				order = append(order, t)
			}
			groups[t] = append(groups[t], k)
		}
		for _, t := range order {
			blocks = append(blocks, typeHeader(t))
			for _, k := range groups[t] {
				blocks = append(blocks, sourceHeader(k.r.attr.Label))
				blocks = append(blocks, k.spans...)
			}
		}
	default:
		for _, k := range kept {
			blocks = append(blocks, k.spans...)
		}
	}

	if format == FormatStructured {
		out.Sections = make([]Section, 0, len(kept))
		for _, k := range kept {
			out.Sections = append(out.Sections, Section{
				Index:   k.r.attr.Index,
				Type:    k.r.src.Type,
				Label:   k.r.attr.Label,
				Content: strings.Join(k.spans, "\n\n"),
			})
		}
	}

	out.Content = strings.Join(blocks, "\n\n")
	out.TotalTokens = memory.EstimateTokens(out.Content)
}
