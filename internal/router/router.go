// Package router ranks stored records against a free-text task.
//
// Candidates come from a lexical OR-search over the task's keywords,
// over-fetched so re-ranking has room to work. Each candidate is scored as
// a weighted mean of independent [0,1] signals (semantic similarity,
// keyword density, recency, type priority, tag overlap, current file);
// signals that do not apply drop out and the remaining weights are
// renormalized.
package router

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/embedding"
	"github.com/HendryAvila/ctxengine/internal/logging"
	"github.com/HendryAvila/ctxengine/internal/memory"
)

// Limits on the number of routed records.
const (
	DefaultLimit = 5
	MaxLimit     = 50
	// OverFetch multiplies the limit for the candidate search.
	OverFetch = 3
)

// DefaultHalfLife is the recency half-life.
const DefaultHalfLife = 7 * 24 * time.Hour

// Store is the part of the record store the router reads.
type Store interface {
	Search(ctx context.Context, query string, opts memory.SearchOptions) ([]memory.SearchResult, error)
	List(ctx context.Context, opts memory.ListOptions) ([]memory.Record, error)
	Provider() embedding.Provider
}

// Config tunes a Router.
type Config struct {
	Weights      Weights
	HalfLife     time.Duration
	DefaultLimit int
	Logger       *slog.Logger
	// Now is the reference time for recency. Defaults to time.Now.
	Now func() time.Time
}

// Options are per-call routing options.
type Options struct {
	// Limit caps the result (default 5, max 50).
	Limit int
	// MaxTokens, when positive, stops accumulating records once the next
	// one would exceed this estimated token budget.
	MaxTokens int
	// Tags boosts records carrying these tags.
	Tags []string
	// Type restricts candidates to one record type.
	Type memory.RecordType
	// CurrentFile boosts records whose source or tags reference this path.
	CurrentFile string
}

// ScoredCandidate is a routed record with its composite score.
type ScoredCandidate struct {
	Record      memory.Record      `json:"record"`
	Score       float64            `json:"score"`
	Signals     map[string]float64 `json:"signals"`
	Explanation string             `json:"explanation"`
}

// Router ranks records from a Store.
type Router struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

// New returns a Router over store. Zero config fields take defaults.
func New(store Store, cfg Config) *Router {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = DefaultHalfLife
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Router{store: store, cfg: cfg, logger: logging.OrDefault(cfg.Logger)}
}

// Route returns the routed records in rank order.
func (r *Router) Route(ctx context.Context, task string, opts Options) ([]memory.Record, error) {
	scored, err := r.RouteWithScores(ctx, task, opts)
	if err != nil {
		return nil, err
	}
	out := make([]memory.Record, len(scored))
	for i, c := range scored {
		out[i] = c.Record
	}
	return out, nil
}

// RouteWithScores returns the routed records with scores and explanations.
// An empty task ranks recent records by recency and type; a task whose
// keywords match nothing returns an empty slice.
func (r *Router) RouteWithScores(ctx context.Context, task string, opts Options) ([]ScoredCandidate, error) {
	const op = "router.Route"
	if opts.Type != "" && !opts.Type.Valid() {
		return nil, ctxerr.Validation(op, "unknown record type %q", opts.Type)
	}
	if opts.MaxTokens < 0 {
		return nil, ctxerr.Validation(op, "max tokens must not be negative")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = r.cfg.DefaultLimit
	}
	limit = min(limit, MaxLimit)

	q := &query{
		keywords: ExtractKeywords(task),
		tags:     memory.NormalizeTags(opts.Tags),
		file:     strings.TrimSpace(opts.CurrentFile),
		now:      r.cfg.Now(),
		halfLife: r.cfg.HalfLife,
	}

	candidates, err := r.candidates(ctx, q, opts.Type, limit*OverFetch)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []ScoredCandidate{}, nil
	}

	q.taskVec = r.embedTask(ctx, task)

	scored := make([]ScoredCandidate, 0, len(candidates))
	for i := range candidates {
		rec := &candidates[i]
		score, values := composite(r.cfg.Weights, q, rec)
		scored = append(scored, ScoredCandidate{
			Record:      *rec,
			Score:       score,
			Signals:     values,
			Explanation: explain(q, rec, values),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.UpdatedAt.Equal(b.Record.UpdatedAt) {
			return a.Record.UpdatedAt.After(b.Record.UpdatedAt)
		}
		return a.Record.ID < b.Record.ID
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	if opts.MaxTokens > 0 {
		scored = applyBudget(scored, opts.MaxTokens)
	}

	r.logger.Debug("routed task",
		"keywords", len(q.keywords),
		"candidates", len(candidates),
		"returned", len(scored),
		"semantic", q.taskVec != nil,
	)
	return scored, nil
}

// candidates fetches the records to rank: a MatchAny search over the
// keywords, or the most recent records when there are none.
func (r *Router) candidates(ctx context.Context, q *query, typ memory.RecordType, n int) ([]memory.Record, error) {
	if len(q.keywords) == 0 {
		return r.store.List(ctx, memory.ListOptions{Type: typ, Limit: n})
	}
	results, err := r.store.Search(ctx, strings.Join(q.keywords, " "), memory.SearchOptions{
		Type:     typ,
		Limit:    n,
		MatchAny: true,
	})
	if err != nil {
		return nil, err
	}
	recs := make([]memory.Record, len(results))
	for i, res := range results {
		recs[i] = res.Record
	}
	return recs, nil
}

// embedTask returns the task vector, or nil when semantic ranking is off or
// the provider fails. A failure only degrades ranking.
func (r *Router) embedTask(ctx context.Context, task string) []float32 {
	p := r.store.Provider()
	if strings.TrimSpace(task) == "" || !embedding.Available(ctx, p) {
		return nil
	}
	vec, err := p.Embed(ctx, task)
	if err != nil {
		r.logger.Warn("task embedding failed, ranking without semantic signal",
			"kind", ctxerr.KindOf(ctxerr.Provider("router.Route", err)))
		return nil
	}
	return vec
}

// applyBudget keeps leading candidates while their summed token estimate
// stays within budget.
func applyBudget(scored []ScoredCandidate, budget int) []ScoredCandidate {
	used := 0
	for i, c := range scored {
		cost := memory.EstimateTokens(c.Record.Content)
		if used+cost > budget {
			return scored[:i]
		}
		used += cost
	}
	return scored
}
