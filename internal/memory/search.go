package memory

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/embedding"
)

// ─── Search (FTS5) ───────────────────────────────────────────────────────────

// Search performs porter-stemmed full-text search over content, tags and
// source, best bm25 rank first. An empty or whitespace-only query returns
// no results.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	const op = "memory.Search"
	ftsQuery := sanitizeFTS(query, opts.MatchAny)
	if ftsQuery == "" {
		return []SearchResult{}, nil
	}

	sqlStr := `
		SELECT ` + recordColumns + `, records_fts.rank
		FROM records_fts
		JOIN records r ON r.seq = records_fts.rowid
		` + vectorJoin + `
		WHERE records_fts MATCH ? AND r.project = ?
	`
	args := []any{s.activeModel(ctx), ftsQuery, s.project}
	sqlStr, args = appendFilters(sqlStr, args, opts.Type, opts.Tags)

	sqlStr += " ORDER BY records_fts.rank, r.seq LIMIT ? OFFSET ?"
	args = append(args, s.clampLimit(opts.Limit), max(opts.Offset, 0))

	rows, err := s.queryItHook(ctx, s.db, sqlStr, args...)
	if err != nil {
		return nil, ctxerr.Storage(op, err)
	}
	defer func() { _ = rows.Close() }()

	results := []SearchResult{}
	for rows.Next() {
		var rank float64
		r, err := scanRecord(rows, &rank)
		if err != nil {
			return nil, ctxerr.Storage(op, err)
		}
		results = append(results, SearchResult{Record: r, Rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, ctxerr.Storage(op, err)
	}
	return results, nil
}

// SearchSemantic ranks this project's embedded records by cosine
// similarity to query. It fails with CapabilityUnavailable when no
// embedding provider is available and never falls back to lexical search.
func (s *Store) SearchSemantic(ctx context.Context, query string, opts SemanticOptions) ([]SemanticResult, error) {
	const op = "memory.SearchSemantic"
	p := s.cfg.Provider
	if !embedding.Available(ctx, p) {
		return nil, ctxerr.CapabilityUnavailable(op, "semantic search")
	}
	if strings.TrimSpace(query) == "" {
		return []SemanticResult{}, nil
	}

	qvec, err := p.Embed(ctx, query)
	if err != nil {
		return nil, ctxerr.Provider(op, err)
	}

	sqlStr := `
		SELECT ` + recordColumns + `
		FROM records r
		JOIN record_vectors v ON v.record_id = r.id AND v.model = ?
		WHERE r.project = ?
	`
	args := []any{p.Model(), s.project}
	sqlStr, args = appendFilters(sqlStr, args, opts.Type, nil)

	recs, err := s.queryRecords(ctx, sqlStr, args...)
	if err != nil {
		return nil, ctxerr.Storage(op, err)
	}

	results := []SemanticResult{}
	for _, r := range recs {
		score := embedding.CosineSimilarity(qvec, r.Embedding)
		if score < opts.MinScore {
			continue
		}
		results = append(results, SemanticResult{Record: r, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
			return results[i].UpdatedAt.After(results[j].UpdatedAt)
		}
		return results[i].ID < results[j].ID
	})

	if limit := s.clampLimit(opts.Limit); len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ─── List / Stats ────────────────────────────────────────────────────────────

// List returns this project's records, most recently updated first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	const op = "memory.List"
	sqlStr := `
		SELECT ` + recordColumns + `
		FROM records r
		` + vectorJoin + `
		WHERE r.project = ?
	`
	args := []any{s.activeModel(ctx), s.project}
	sqlStr, args = appendFilters(sqlStr, args, opts.Type, opts.Tags)

	sqlStr += " ORDER BY r.updated_at DESC, r.seq DESC LIMIT ? OFFSET ?"
	args = append(args, s.clampLimit(opts.Limit), max(opts.Offset, 0))

	recs, err := s.queryRecords(ctx, sqlStr, args...)
	if err != nil {
		return nil, ctxerr.Storage(op, err)
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// Count returns how many records List would page through for opts,
// ignoring Limit and Offset.
func (s *Store) Count(ctx context.Context, opts ListOptions) (int, error) {
	const op = "memory.Count"
	sqlStr, args := appendFilters(`SELECT COUNT(*) FROM records r WHERE r.project = ?`,
		[]any{s.project}, opts.Type, opts.Tags)

	rows, err := s.queryItHook(ctx, s.db, sqlStr, args...)
	if err != nil {
		return 0, ctxerr.Storage(op, err)
	}
	defer func() { _ = rows.Close() }()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, ctxerr.Storage(op, err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, ctxerr.Storage(op, err)
	}
	return n, nil
}

// Stats returns total and per-type counts for this project.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	const op = "memory.Stats"
	stats := &Stats{ProjectID: s.project, ByType: map[string]int{}}

	rows, err := s.queryItHook(ctx, s.db,
		`SELECT type, COUNT(*) FROM records WHERE project = ? GROUP BY type`, s.project)
	if err != nil {
		return nil, ctxerr.Storage(op, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, ctxerr.Storage(op, err)
		}
		stats.ByType[typ] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, ctxerr.Storage(op, err)
	}

	if model := s.activeModel(ctx); model != "" {
		stats.EmbeddingModel = model
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM records r JOIN record_vectors v ON v.record_id = r.id
			 WHERE r.project = ? AND v.model = ?`,
			s.project, model,
		).Scan(&stats.Embedded); err != nil {
			return nil, ctxerr.Storage(op, err)
		}
	}
	return stats, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func appendFilters(sqlStr string, args []any, typ RecordType, tags []string) (string, []any) {
	if typ != "" {
		sqlStr += " AND r.type = ?"
		args = append(args, string(typ))
	}
	for _, tag := range normalizeTags(tags) {
		sqlStr += " AND EXISTS (SELECT 1 FROM json_each(r.tags) WHERE json_each.value = ? COLLATE NOCASE)"
		args = append(args, tag)
	}
	return sqlStr, args
}

// sanitizeFTS quotes each word for a safe FTS5 query. Words without any
// letter or digit are dropped.
// "fix auth bug" → `"fix" "auth" "bug"`, or `"fix" OR "auth" OR "bug"`
// when matchAny is set.
func sanitizeFTS(query string, matchAny bool) string {
	var terms []string
	for _, w := range strings.Fields(query) {
		if !strings.ContainsFunc(w, isWordRune) {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	sep := " "
	if matchAny {
		sep = " OR "
	}
	return strings.Join(terms, sep)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
