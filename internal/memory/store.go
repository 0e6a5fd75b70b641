// Package memory implements the project-scoped record store.
//
// Records live in SQLite with an FTS5 index over content, tags and source.
// Optional embeddings are kept in a side table tagged with the model that
// produced them; only vectors of the active provider's model are ever read.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.nhat.io/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	_ "modernc.org/sqlite"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/embedding"
	"github.com/HendryAvila/ctxengine/internal/logging"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// tracedDriver registers the sqlite driver with otelsql once. Query
// arguments carry record content and are never attached to spans.
var tracedDriver = sync.OnceValues(func() (string, error) {
	return otelsql.Register("sqlite",
		otelsql.TraceQueryWithoutArgs(),
		otelsql.TraceRowsClose(),
		otelsql.TraceRowsAffected(),
		otelsql.WithSystem(semconv.DBSystemSqlite),
	)
})

// DBFilename is the database file inside the data directory.
const DBFilename = "context.db"

// ─── Types ───────────────────────────────────────────────────────────────────

// RecordType is the closed set of record kinds.
type RecordType string

// Record types.
const (
	TypeFact        RecordType = "fact"
	TypeDecision    RecordType = "decision"
	TypeCodePattern RecordType = "code_pattern"
	TypeConfig      RecordType = "config"
	TypeNote        RecordType = "note"
)

// RecordTypes returns every valid type, for tool enums and validation.
func RecordTypes() []RecordType {
	return []RecordType{TypeFact, TypeDecision, TypeCodePattern, TypeConfig, TypeNote}
}

// TypeNames returns RecordTypes as strings.
func TypeNames() []string {
	types := RecordTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// Valid reports whether t is one of RecordTypes.
func (t RecordType) Valid() bool {
	for _, v := range RecordTypes() {
		if t == v {
			return true
		}
	}
	return false
}

// ParseType normalizes a user-supplied type name. "code-pattern" and
// "configuration" are accepted as aliases.
func ParseType(s string) (RecordType, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	if v == "configuration" {
		v = string(TypeConfig)
	}
	t := RecordType(v)
	if !t.Valid() {
		return "", ctxerr.Validation("memory.ParseType", "unknown record type %q (want one of %s)",
			s, strings.Join(TypeNames(), ", "))
	}
	return t, nil
}

// Record is one stored unit of project context.
type Record struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Type      RecordType     `json:"type"`
	Content   string         `json:"content"`
	Tags      []string       `json:"tags,omitempty"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	// Embedding is set only when a vector of the active model exists.
	Embedding      []float32 `json:"embedding,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewRecord holds the caller-supplied fields of a record.
type NewRecord struct {
	Type     RecordType     `json:"type"`
	Content  string         `json:"content"`
	Tags     []string       `json:"tags,omitempty"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RecordPatch holds partial update fields. Nil fields are left unchanged;
// a non-nil empty Tags or Metadata clears the field.
type RecordPatch struct {
	Type     *RecordType    `json:"type,omitempty"`
	Content  *string        `json:"content,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Source   *string        `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchResult embeds a Record with its FTS5 rank (lower is better).
type SearchResult struct {
	Record
	Rank float64 `json:"rank"`
}

// SemanticResult pairs a Record with its cosine similarity to the query.
type SemanticResult struct {
	Record
	Score float64 `json:"score"`
}

// SearchOptions filters lexical search.
type SearchOptions struct {
	Type   RecordType `json:"type,omitempty"`
	Tags   []string   `json:"tags,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
	// MatchAny ORs the query terms. The default requires every term.
	MatchAny bool `json:"match_any,omitempty"`
}

// SemanticOptions filters semantic search.
type SemanticOptions struct {
	Type     RecordType `json:"type,omitempty"`
	Limit    int        `json:"limit,omitempty"`
	MinScore float64    `json:"min_score,omitempty"`
}

// ListOptions filters List.
type ListOptions struct {
	Type   RecordType `json:"type,omitempty"`
	Tags   []string   `json:"tags,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// Stats holds per-project counts.
type Stats struct {
	ProjectID      string         `json:"project_id"`
	Total          int            `json:"total"`
	ByType         map[string]int `json:"by_type"`
	Embedded       int            `json:"embedded"`
	EmbeddingModel string         `json:"embedding_model,omitempty"`
}

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds store configuration.
type Config struct {
	DataDir   string
	ProjectID string
	// DefaultLimit applies when a caller passes no limit; MaxLimit caps
	// every result set.
	DefaultLimit int
	MaxLimit     int
	// Provider enables embeddings. Nil disables semantic search.
	Provider embedding.Provider
	Logger   *slog.Logger
	// Now stamps CreatedAt and UpdatedAt. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default configuration for the store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:      filepath.Join(home, ".ctxengine"),
		DefaultLimit: 20,
		MaxLimit:     100,
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the record store bound to one project. Views created with
// WithProject share the database and the writer lock.
type Store struct {
	*shared
	project string
}

type shared struct {
	db     *sql.DB
	cfg    Config
	hooks  storeHooks
	logger *slog.Logger
	now    func() time.Time
	// mu serializes writers; readers rely on WAL snapshots.
	mu sync.Mutex
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type sqlRowScanner struct {
	rows *sql.Rows
}

func (r sqlRowScanner) Next() bool             { return r.rows.Next() }
func (r sqlRowScanner) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqlRowScanner) Err() error             { return r.rows.Err() }
func (r sqlRowScanner) Close() error           { return r.rows.Close() }

type storeHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	queryIt func(ctx context.Context, db queryer, query string, args ...any) (rowScanner, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func (s *shared) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *shared) queryItHook(ctx context.Context, db queryer, query string, args ...any) (rowScanner, error) {
	if s.hooks.queryIt != nil {
		return s.hooks.queryIt(ctx, db, query, args...)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRowScanner{rows: rows}, nil
}

func (s *shared) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *shared) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// New opens (creating if needed) the database under cfg.DataDir and runs
// migrations. Every pooled connection gets WAL, a 5s busy timeout,
// synchronous=NORMAL and foreign keys.
func New(cfg Config) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, ctxerr.Validation("memory.New", "project id is required")
	}
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = max(def.MaxLimit, cfg.DefaultLimit)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	dsn := "file:" + filepath.Join(cfg.DataDir, DBFilename) +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_txlock=immediate"
	driver, err := tracedDriver()
	if err != nil {
		return nil, fmt.Errorf("memory: register driver: %w", err)
	}
	db, err := openDB(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	sh := &shared{
		db:     db,
		cfg:    cfg,
		logger: logging.OrDefault(cfg.Logger),
		now:    now,
	}
	if err := sh.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}

	return &Store{shared: sh, project: cfg.ProjectID}, nil
}

// Close closes the underlying database. Every view of the store is closed
// with it.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithProject returns a view bound to another project identity.
func (s *Store) WithProject(projectID string) *Store {
	return &Store{shared: s.shared, project: projectID}
}

// ProjectID returns the identity this view is bound to.
func (s *Store) ProjectID() string {
	return s.project
}

// Provider returns the attached embedding provider, possibly nil.
func (s *Store) Provider() embedding.Provider {
	return s.cfg.Provider
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *shared) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS records (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT    NOT NULL UNIQUE,
			project    TEXT    NOT NULL,
			type       TEXT    NOT NULL,
			content    TEXT    NOT NULL,
			tags       TEXT    NOT NULL DEFAULT '[]',
			source     TEXT    NOT NULL DEFAULT '',
			metadata   TEXT,
			created_at TEXT    NOT NULL,
			updated_at TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_records_project ON records(project, updated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_records_type    ON records(project, type);

		CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
			content,
			tags,
			source,
			content='records',
			content_rowid='seq',
			tokenize='porter unicode61'
		);

		CREATE TABLE IF NOT EXISTS record_vectors (
			record_id TEXT    PRIMARY KEY,
			model     TEXT    NOT NULL,
			dims      INTEGER NOT NULL,
			vector    BLOB    NOT NULL,
			FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_vectors_model ON record_vectors(model);

		CREATE TRIGGER IF NOT EXISTS records_fts_insert AFTER INSERT ON records BEGIN
			INSERT INTO records_fts(rowid, content, tags, source)
			VALUES (new.seq, new.content, new.tags, new.source);
		END;

		CREATE TRIGGER IF NOT EXISTS records_fts_delete AFTER DELETE ON records BEGIN
			INSERT INTO records_fts(records_fts, rowid, content, tags, source)
			VALUES ('delete', old.seq, old.content, old.tags, old.source);
		END;

		CREATE TRIGGER IF NOT EXISTS records_fts_update AFTER UPDATE ON records BEGIN
			INSERT INTO records_fts(records_fts, rowid, content, tags, source)
			VALUES ('delete', old.seq, old.content, old.tags, old.source);
			INSERT INTO records_fts(rowid, content, tags, source)
			VALUES (new.seq, new.content, new.tags, new.source);
		END;
	`
	_, err := s.execHook(ctx, s.db, schema)
	return err
}

// ─── Records ─────────────────────────────────────────────────────────────────

const recordColumns = `r.id, r.project, r.type, r.content, r.tags, r.source, r.metadata,
		r.created_at, r.updated_at, v.model, v.vector`

// vectorJoin attaches vectors of the active model only.
const vectorJoin = `LEFT JOIN record_vectors v ON v.record_id = r.id AND v.model = ?`

// Add validates and stores a new record, returning its id. When an
// embedding provider is available the record is embedded first; an
// embedding failure is logged and the record is stored without a vector.
func (s *Store) Add(ctx context.Context, r NewRecord) (string, error) {
	const op = "memory.Add"
	if err := validateContent(op, r.Content); err != nil {
		return "", err
	}
	if !r.Type.Valid() {
		return "", ctxerr.Validation(op, "unknown record type %q", r.Type)
	}

	tagsJSON, metaJSON, err := encodeFields(op, normalizeTags(r.Tags), r.Metadata)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	vec, model := s.embedBestEffort(ctx, op, id, r.Content)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return "", ctxerr.Storage(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := formatTime(s.now())
	if _, err := s.execHook(ctx, tx,
		`INSERT INTO records (id, project, type, content, tags, source, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, s.project, string(r.Type), r.Content, tagsJSON, r.Source, metaJSON, ts, ts,
	); err != nil {
		return "", ctxerr.Storage(op, err)
	}
	if vec != nil {
		if err := s.putVector(ctx, tx, id, model, vec); err != nil {
			return "", ctxerr.Storage(op, err)
		}
	}
	if err := s.commitHook(tx); err != nil {
		return "", ctxerr.Storage(op, err)
	}
	return id, nil
}

// Get returns the record with id. Records of other projects are NotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	const op = "memory.Get"
	recs, err := s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM records r `+vectorJoin+` WHERE r.id = ? AND r.project = ?`,
		s.activeModel(ctx), id, s.project,
	)
	if err != nil {
		return nil, ctxerr.Storage(op, err)
	}
	if len(recs) == 0 {
		return nil, ctxerr.NotFound(op, id)
	}
	return &recs[0], nil
}

// Update applies patch to the record with id and re-stamps UpdatedAt. It
// returns false, without error, when no such record exists in this
// project. The project of a record never changes. A changed content is
// re-embedded.
//
// The patch is merged into the row as read inside the write transaction, so
// fields the patch leaves unset keep whatever a concurrent writer stored.
func (s *Store) Update(ctx context.Context, id string, patch RecordPatch) (bool, error) {
	const op = "memory.Update"
	if patch.Content != nil {
		if err := validateContent(op, *patch.Content); err != nil {
			return false, err
		}
	}
	if patch.Type != nil && !patch.Type.Valid() {
		return false, ctxerr.Validation(op, "unknown record type %q", *patch.Type)
	}
	if patch.Metadata != nil {
		if _, _, err := encodeFields(op, nil, patch.Metadata); err != nil {
			return false, err
		}
	}

	cur, err := s.Get(ctx, id)
	if ctxerr.Is(err, ctxerr.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// Embedding happens outside the writer lock; the vector is only stored
	// if the content it was computed from is what ends up in the row.
	var (
		vec   []float32
		model string
	)
	if patch.Content != nil && *patch.Content != cur.Content {
		vec, model = s.embedBestEffort(ctx, op, id, *patch.Content)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return false, ctxerr.Storage(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	recs, err := s.queryRecordsOn(ctx, tx,
		`SELECT `+recordColumns+` FROM records r `+vectorJoin+` WHERE r.id = ? AND r.project = ?`,
		s.activeModel(ctx), id, s.project,
	)
	if err != nil {
		return false, ctxerr.Storage(op, err)
	}
	if len(recs) == 0 {
		return false, nil
	}
	latest := recs[0]

	next := latest
	if patch.Type != nil {
		next.Type = *patch.Type
	}
	if patch.Content != nil {
		next.Content = *patch.Content
	}
	if patch.Tags != nil {
		next.Tags = normalizeTags(patch.Tags)
	}
	if patch.Source != nil {
		next.Source = *patch.Source
	}
	if patch.Metadata != nil {
		next.Metadata = patch.Metadata
	}
	contentChanged := next.Content != latest.Content

	tagsJSON, metaJSON, err := encodeFields(op, next.Tags, next.Metadata)
	if err != nil {
		return false, err
	}

	if _, err := s.execHook(ctx, tx,
		`UPDATE records
		 SET type = ?, content = ?, tags = ?, source = ?, metadata = ?, updated_at = ?
		 WHERE id = ? AND project = ?`,
		string(next.Type), next.Content, tagsJSON, next.Source, metaJSON, formatTime(s.now()),
		id, s.project,
	); err != nil {
		return false, ctxerr.Storage(op, err)
	}

	if contentChanged {
		// Vectors of every model describe the old content.
		if _, err := s.execHook(ctx, tx, `DELETE FROM record_vectors WHERE record_id = ?`, id); err != nil {
			return false, ctxerr.Storage(op, err)
		}
		if vec != nil {
			if err := s.putVector(ctx, tx, id, model, vec); err != nil {
				return false, ctxerr.Storage(op, err)
			}
		}
	}

	if err := s.commitHook(tx); err != nil {
		return false, ctxerr.Storage(op, err)
	}
	return true, nil
}

// Delete removes the record with id. It returns false when no such record
// exists in this project.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	const op = "memory.Delete"
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.execHook(ctx, s.db, `DELETE FROM records WHERE id = ? AND project = ?`, id, s.project)
	if err != nil {
		return false, ctxerr.Storage(op, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Clear removes every record of this project and returns how many were
// removed. Other projects are untouched.
func (s *Store) Clear(ctx context.Context) (int, error) {
	const op = "memory.Clear"
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.execHook(ctx, s.db, `DELETE FROM records WHERE project = ?`, s.project)
	if err != nil {
		return 0, ctxerr.Storage(op, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (s *shared) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	return s.queryRecordsOn(ctx, s.db, query, args...)
}

// queryRecordsOn runs a recordColumns query on db or an open transaction.
func (s *shared) queryRecordsOn(ctx context.Context, db queryer, query string, args ...any) ([]Record, error) {
	rows, err := s.queryItHook(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// scanRecord reads the recordColumns projection plus any trailing dest.
func scanRecord(rows rowScanner, extra ...any) (Record, error) {
	var (
		r                Record
		typ              string
		tagsJSON         string
		metaJSON         sql.NullString
		created, updated string
		vecModel         sql.NullString
		vecBlob          []byte
	)
	dest := append([]any{
		&r.ID, &r.ProjectID, &typ, &r.Content, &tagsJSON, &r.Source, &metaJSON,
		&created, &updated, &vecModel, &vecBlob,
	}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return Record{}, err
	}

	r.Type = RecordType(typ)
	if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
		return Record{}, fmt.Errorf("decode tags of %s: %w", r.ID, err)
	}
	if len(r.Tags) == 0 {
		r.Tags = nil
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &r.Metadata); err != nil {
			return Record{}, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
		}
	}
	var err error
	if r.CreatedAt, err = parseTime(created); err != nil {
		return Record{}, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return Record{}, err
	}
	if vecModel.Valid && len(vecBlob) > 0 {
		vec, err := embedding.DecodeVector(vecBlob)
		if err != nil {
			return Record{}, fmt.Errorf("decode vector of %s: %w", r.ID, err)
		}
		r.Embedding = vec
		r.EmbeddingModel = vecModel.String
	}
	return r, nil
}

func validateContent(op, content string) error {
	if strings.TrimSpace(content) == "" {
		return ctxerr.Validation(op, "content must not be empty")
	}
	return nil
}

func encodeFields(op string, tags []string, meta map[string]any) (string, any, error) {
	if tags == nil {
		tags = []string{}
	}
	tb, err := json.Marshal(tags)
	if err != nil {
		return "", nil, ctxerr.Validation(op, "tags are not encodable")
	}
	if len(meta) == 0 {
		return string(tb), nil, nil
	}
	mb, err := json.Marshal(meta)
	if err != nil {
		return "", nil, ctxerr.Validation(op, "metadata is not JSON-encodable")
	}
	return string(tb), string(mb), nil
}

// normalizeTags trims, drops empties, de-duplicates and sorts. Case is kept;
// duplicates are found case-insensitively and the first spelling wins.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		v := strings.TrimSpace(t)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// NormalizeTags exposes the tag normalization applied on write.
func NormalizeTags(tags []string) []string {
	return normalizeTags(tags)
}

// timeLayout is fixed-width so text order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// isUniqueViolation checks if an error is a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	return limit
}
