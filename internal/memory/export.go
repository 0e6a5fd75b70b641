package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
)

// ExportVersion tags the export format.
const ExportVersion = "1"

// ExportData is the serializable dump of one project's records.
type ExportData struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	ProjectID  string    `json:"project_id"`
	Records    []Record  `json:"records"`
}

// ImportOptions tune Import.
type ImportOptions struct {
	// PreserveIDs keeps exported ids that are free in this database, for
	// restoring a backup. Otherwise every imported record gets a new id.
	PreserveIDs bool
}

// ImportResult holds counts of imported records.
type ImportResult struct {
	Imported int `json:"imported"`
	// Reassigned counts records whose id was already taken and got a new
	// one. Only PreserveIDs imports reassign.
	Reassigned int `json:"reassigned"`
}

// Export dumps every record of this project, oldest first, including
// vectors of the active model.
func (s *Store) Export(ctx context.Context) (*ExportData, error) {
	const op = "memory.Export"
	recs, err := s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM records r `+vectorJoin+` WHERE r.project = ? ORDER BY r.seq`,
		s.activeModel(ctx), s.project,
	)
	if err != nil {
		return nil, ctxerr.Storage(op, err)
	}
	if recs == nil {
		recs = []Record{}
	}
	return &ExportData{
		Version:    ExportVersion,
		ExportedAt: s.now().UTC(),
		ProjectID:  s.project,
		Records:    recs,
	}, nil
}

// Import loads exported records into this project in one transaction.
// Records get fresh ids unless opts.PreserveIDs is set; timestamps are kept
// when present. Any invalid record aborts the import.
func (s *Store) Import(ctx context.Context, data *ExportData, opts ImportOptions) (*ImportResult, error) {
	const op = "memory.Import"
	if data == nil {
		return nil, ctxerr.Validation(op, "no data to import")
	}
	for i, r := range data.Records {
		if err := validateContent(op, r.Content); err != nil {
			return nil, ctxerr.Validation(op, "record %d: content must not be empty", i)
		}
		if !r.Type.Valid() {
			return nil, ctxerr.Validation(op, "record %d: unknown record type %q", i, r.Type)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return nil, ctxerr.Storage(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	result := &ImportResult{}
	now := s.now()
	for _, r := range data.Records {
		tagsJSON, metaJSON, err := encodeFields(op, normalizeTags(r.Tags), r.Metadata)
		if err != nil {
			return nil, err
		}
		created, updated := r.CreatedAt, r.UpdatedAt
		if created.IsZero() {
			created = now
		}
		if updated.IsZero() {
			updated = created
		}

		id := r.ID
		if !opts.PreserveIDs || id == "" {
			id = uuid.New().String()
		}
		insert := func(id string) error {
			_, err := s.execHook(ctx, tx,
				`INSERT INTO records (id, project, type, content, tags, source, metadata, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, s.project, string(r.Type), r.Content, tagsJSON, r.Source, metaJSON,
				formatTime(created), formatTime(updated),
			)
			return err
		}
		err = insert(id)
		if opts.PreserveIDs && isUniqueViolation(err) {
			id = uuid.New().String()
			result.Reassigned++
			err = insert(id)
		}
		if err != nil {
			return nil, ctxerr.Storage(op, err)
		}

		if len(r.Embedding) > 0 && r.EmbeddingModel != "" {
			if err := s.putVector(ctx, tx, id, r.EmbeddingModel, r.Embedding); err != nil {
				return nil, ctxerr.Storage(op, err)
			}
		}
		result.Imported++
	}

	if err := s.commitHook(tx); err != nil {
		return nil, ctxerr.Storage(op, err)
	}
	return result, nil
}
