package memory

import (
	"context"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/embedding"
)

// activeModel is the model whose vectors reads may return, "" when no
// provider is attached.
func (s *Store) activeModel(context.Context) string {
	if s.cfg.Provider == nil {
		return ""
	}
	return s.cfg.Provider.Model()
}

// embedBestEffort embeds content when a provider is available. Failures are
// logged by kind only and yield a nil vector.
func (s *Store) embedBestEffort(ctx context.Context, op, id, content string) ([]float32, string) {
	p := s.cfg.Provider
	if !embedding.Available(ctx, p) {
		return nil, ""
	}
	vec, err := p.Embed(ctx, content)
	if err != nil {
		s.logger.Warn("embedding failed, storing record without vector",
			"op", op, "id", id, "kind", ctxerr.KindOf(ctxerr.Provider(op, err)))
		return nil, ""
	}
	if len(vec) == 0 {
		return nil, ""
	}
	return vec, p.Model()
}

func (s *shared) putVector(ctx context.Context, db execer, id, model string, vec []float32) error {
	_, err := s.execHook(ctx, db,
		`INSERT OR REPLACE INTO record_vectors (record_id, model, dims, vector) VALUES (?, ?, ?, ?)`,
		id, model, len(vec), embedding.EncodeVector(vec),
	)
	return err
}

// Reindex recomputes the embedding of every record in this project with the
// active provider and returns how many were embedded. Vectors of other
// models are replaced. It stops at the first provider failure.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	const op = "memory.Reindex"
	p := s.cfg.Provider
	if !embedding.Available(ctx, p) {
		return 0, ctxerr.CapabilityUnavailable(op, "embedding provider")
	}

	rows, err := s.queryItHook(ctx, s.db,
		`SELECT id, content FROM records WHERE project = ? ORDER BY seq`, s.project)
	if err != nil {
		return 0, ctxerr.Storage(op, err)
	}
	type pending struct{ id, content string }
	var todo []pending
	for rows.Next() {
		var item pending
		if err := rows.Scan(&item.id, &item.content); err != nil {
			_ = rows.Close()
			return 0, ctxerr.Storage(op, err)
		}
		todo = append(todo, item)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return 0, ctxerr.Storage(op, err)
	}

	n := 0
	for _, item := range todo {
		vec, err := p.Embed(ctx, item.content)
		if err != nil {
			return n, ctxerr.Provider(op, err)
		}
		if err := s.storeVector(ctx, item.id, p.Model(), vec); err != nil {
			return n, ctxerr.Storage(op, err)
		}
		n++
	}
	s.logger.Info("reindexed records", "project", s.project, "count", n, "model", p.Model())
	return n, nil
}

// storeVector writes one vector if the record still exists.
func (s *Store) storeVector(ctx context.Context, id, model string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE id = ? AND project = ?`, id, s.project,
	).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return nil
	}
	return s.putVector(ctx, s.db, id, model, vec)
}
