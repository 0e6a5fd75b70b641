package fusion

import (
	"context"
	"log/slog"
	"strings"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/embedding"
	"github.com/HendryAvila/ctxengine/internal/memory"
)

// sepTokens is the charge for the blank line joining two rendered blocks.
var sepTokens = memory.EstimateTokens("\n\n")

// headerTokens is what a source is charged once for its markdown headers,
// whatever the format, so every format accepts the same spans and the
// rendered estimate never exceeds the budget.
func headerTokens(r *resolved) int {
	return memory.EstimateTokens(typeHeader(r.src.Type)) + sepTokens +
		memory.EstimateTokens(sourceHeader(r.attr.Label)) + sepTokens
}

// keptSource is a source with the spans that made it into the output.
type keptSource struct {
	r     *resolved
	spans []string
}

// accumulate walks sources in priority order, de-duplicating spans and
// charging them against the global and per-source budgets. A span that
// does not fit is cut when at least MinCutTokens remain, otherwise omitted
// along with the rest of its source.
func (f *Fuser) accumulate(ctx context.Context, ordered []*resolved, opts Options, out *Output) []keptSource {
	d := newDeduper(ctx, opts, f.cfg.Provider, f.logger)
	used := 0
	var kept []keptSource

	for _, r := range ordered {
		if r.attr.Status != StatusOK {
			continue
		}
		var spans []string
		srcUsed := 0
		for i, sp := range r.spans {
			dup, vec := d.check(sp.text)
			if dup {
				r.attr.Deduped++
				continue
			}

			overhead := 0
			if len(spans) == 0 {
				overhead = headerTokens(r)
			}
			room := opts.MaxTokens - used - overhead
			if r.src.MaxTokens > 0 {
				room = min(room, r.src.MaxTokens-srcUsed)
			}
			cost := memory.EstimateTokens(sp.text) + sepTokens

			text := sp.text
			if cost > room {
				out.Truncated = true
				r.attr.Truncated = true
				r.attr.Omitted += len(r.spans) - i
				if room-sepTokens < MinCutTokens {
					break
				}
				text = strings.TrimSpace(memory.TruncateTokens(sp.text, room-sepTokens))
				if text == "" {
					break
				}
				r.attr.Omitted--
				cost = memory.EstimateTokens(text) + sepTokens
			}

			spans = append(spans, text)
			used += cost + overhead
			srcUsed += cost
			r.attr.Spans++
			r.attr.Tokens += memory.EstimateTokens(text)
			if sp.recordID != "" {
				r.attr.RecordIDs = append(r.attr.RecordIDs, sp.recordID)
			}
			d.add(sp.text, vec)

			if text != sp.text {
				break
			}
		}
		if len(spans) > 0 {
			kept = append(kept, keptSource{r: r, spans: spans})
		}
	}
	if d.failures > 0 {
		out.Warnings = append(out.Warnings,
			"semantic dedupe could not embed some spans; they were compared exactly")
	}
	return kept
}

// deduper tracks included spans. Exact matching compares trimmed text;
// semantic matching additionally drops spans whose cosine similarity to an
// included span exceeds the threshold.
type deduper struct {
	ctx       context.Context
	mode      Dedupe
	threshold float64
	provider  embedding.Provider
	logger    *slog.Logger

	seen     map[string]bool
	vecs     [][]float32
	failures int
}

func newDeduper(ctx context.Context, opts Options, p embedding.Provider, logger *slog.Logger) *deduper {
	return &deduper{
		ctx:       ctx,
		mode:      opts.Dedupe,
		threshold: opts.SemanticThreshold,
		provider:  p,
		logger:    logger,
		seen:      make(map[string]bool),
	}
}

// check reports whether text duplicates an included span. In semantic mode
// it also returns the embedding to pass to add.
func (d *deduper) check(text string) (bool, []float32) {
	if d.mode == DedupeNone {
		return false, nil
	}
	if d.seen[strings.TrimSpace(text)] {
		return true, nil
	}
	if d.mode != DedupeSemantic {
		return false, nil
	}
	vec, err := d.provider.Embed(d.ctx, text)
	if err != nil {
		d.failures++
		d.logger.Warn("dedupe embedding failed", "kind", ctxerr.KindOf(ctxerr.Provider("fusion.dedupe", err)))
		return false, nil
	}
	for _, v := range d.vecs {
		if embedding.CosineSimilarity(vec, v) > d.threshold {
			return true, nil
		}
	}
	return false, vec
}

func (d *deduper) add(text string, vec []float32) {
	if d.mode == DedupeNone {
		return
	}
	d.seen[strings.TrimSpace(text)] = true
	if vec != nil {
		d.vecs = append(d.vecs, vec)
	}
}
