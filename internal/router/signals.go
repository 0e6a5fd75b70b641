package router

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/HendryAvila/ctxengine/internal/embedding"
	"github.com/HendryAvila/ctxengine/internal/memory"
)

// Signal names, as they appear in ScoredCandidate.Signals.
const (
	SignalSemantic = "semantic"
	SignalKeywords = "keywords"
	SignalRecency  = "recency"
	SignalType     = "type"
	SignalTags     = "tags"
	SignalFile     = "file"
)

// Weights are the relative weights of the ranking signals. Only their
// ratios matter: active weights are renormalized to sum to 1.
type Weights struct {
	Semantic float64
	Keywords float64
	Recency  float64
	Type     float64
	Tags     float64
	File     float64
}

// DefaultWeights gives semantic similarity the dominant share.
func DefaultWeights() Weights {
	return Weights{
		Semantic: 0.40,
		Keywords: 0.20,
		Recency:  0.15,
		Type:     0.10,
		Tags:     0.10,
		File:     0.05,
	}
}

// TypePriority ranks record types by long-term relevance.
var TypePriority = map[memory.RecordType]float64{
	memory.TypeDecision:    1.0,
	memory.TypeCodePattern: 0.8,
	memory.TypeConfig:      0.7,
	memory.TypeFact:        0.6,
	memory.TypeNote:        0.4,
}

// query is the per-call input shared by every signal.
type query struct {
	keywords []string
	tags     []string
	file     string
	taskVec  []float32
	now      time.Time
	halfLife time.Duration
}

// signal is one named [0,1] ranking function. active reports whether it
// applies to a candidate; inactive signals drop out of the weighted sum.
type signal struct {
	name   string
	weight func(Weights) float64
	active func(q *query, r *memory.Record) bool
	score  func(q *query, r *memory.Record) float64
}

var signals = []signal{
	{
		name:   SignalSemantic,
		weight: func(w Weights) float64 { return w.Semantic },
		// Vectors of another length come from a different configuration of
		// the same model name and are not comparable.
		active: func(q *query, r *memory.Record) bool {
			return q.taskVec != nil && len(r.Embedding) == len(q.taskVec)
		},
		score: semanticScore,
	},
	{
		name:   SignalKeywords,
		weight: func(w Weights) float64 { return w.Keywords },
		active: func(q *query, _ *memory.Record) bool { return len(q.keywords) > 0 },
		score:  keywordScore,
	},
	{
		name:   SignalRecency,
		weight: func(w Weights) float64 { return w.Recency },
		active: func(*query, *memory.Record) bool { return true },
		score:  recencyScore,
	},
	{
		name:   SignalType,
		weight: func(w Weights) float64 { return w.Type },
		active: func(*query, *memory.Record) bool { return true },
		score:  func(_ *query, r *memory.Record) float64 { return TypePriority[r.Type] },
	},
	{
		name:   SignalTags,
		weight: func(w Weights) float64 { return w.Tags },
		active: func(q *query, _ *memory.Record) bool { return len(q.tags) > 0 },
		score:  tagScore,
	},
	{
		name:   SignalFile,
		weight: func(w Weights) float64 { return w.File },
		active: func(q *query, _ *memory.Record) bool { return q.file != "" },
		score:  fileScore,
	},
}

// composite scores r over the active signals, renormalizing their weights.
func composite(w Weights, q *query, r *memory.Record) (float64, map[string]float64) {
	values := make(map[string]float64, len(signals))
	var total, weightSum float64
	for _, s := range signals {
		if !s.active(q, r) {
			continue
		}
		wt := s.weight(w)
		v := clamp01(s.score(q, r))
		values[s.name] = v
		total += wt * v
		weightSum += wt
	}
	if weightSum == 0 {
		return 0, values
	}
	return total / weightSum, values
}

func semanticScore(q *query, r *memory.Record) float64 {
	return embedding.CosineSimilarity(q.taskVec, r.Embedding)
}

// keywordScore is the fraction of keywords literally present in content.
func keywordScore(q *query, r *memory.Record) float64 {
	return float64(keywordHits(q.keywords, r.Content)) / float64(len(q.keywords))
}

func keywordHits(keywords []string, content string) int {
	lower := strings.ToLower(content)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return hits
}

// recencyScore halves every halfLife since the last update.
func recencyScore(q *query, r *memory.Record) float64 {
	age := q.now.Sub(r.UpdatedAt)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Hours()/q.halfLife.Hours())
}

// tagScore is the fraction of requested tags present on the record.
func tagScore(q *query, r *memory.Record) float64 {
	return float64(len(matchedTags(q.tags, r.Tags))) / float64(len(q.tags))
}

// matchedTags returns the tags of have that are wanted, ignoring case, in
// the record's own spelling.
func matchedTags(want, have []string) []string {
	set := make(map[string]string, len(have))
	for _, t := range have {
		set[strings.ToLower(t)] = t
	}
	var out []string
	for _, t := range want {
		if stored, ok := set[strings.ToLower(t)]; ok {
			out = append(out, stored)
		}
	}
	return out
}

// fileScore is 1 when the source or a tag names the current file, 0.5 when
// they only name its directory.
func fileScore(q *query, r *memory.Record) float64 {
	path := filepath.ToSlash(q.file)
	base := filepath.Base(path)
	dir := filepath.ToSlash(filepath.Dir(path))
	source := filepath.ToSlash(r.Source)

	if source != "" && (source == path || strings.Contains(source, path) || strings.HasSuffix(path, "/"+source)) {
		return 1
	}
	for _, t := range r.Tags {
		if strings.EqualFold(t, path) || strings.EqualFold(t, base) {
			return 1
		}
	}
	if dir == "." || dir == "/" {
		return 0
	}
	if source != "" && strings.Contains(source, dir) {
		return 0.5
	}
	for _, t := range r.Tags {
		if strings.EqualFold(t, dir) || strings.EqualFold(t, filepath.Base(dir)) {
			return 0.5
		}
	}
	return 0
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// explain renders the contributing signals, e.g.
// "keywords 2/2; recency 0.97; type decision; tags: db".
func explain(q *query, r *memory.Record, values map[string]float64) string {
	var parts []string
	if v, ok := values[SignalSemantic]; ok {
		parts = append(parts, fmt.Sprintf("semantic %.2f", v))
	}
	if _, ok := values[SignalKeywords]; ok {
		parts = append(parts, fmt.Sprintf("keywords %d/%d", keywordHits(q.keywords, r.Content), len(q.keywords)))
	}
	parts = append(parts, fmt.Sprintf("recency %.2f", values[SignalRecency]))
	parts = append(parts, "type "+string(r.Type))
	if _, ok := values[SignalTags]; ok {
		if m := matchedTags(q.tags, r.Tags); len(m) > 0 {
			parts = append(parts, "tags: "+strings.Join(m, ", "))
		}
	}
	if v := values[SignalFile]; v > 0 {
		if v == 1 {
			parts = append(parts, "file match")
		} else {
			parts = append(parts, "directory match")
		}
	}
	return strings.Join(parts, "; ")
}
