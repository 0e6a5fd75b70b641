package memory_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/embedding"
	"github.com/HendryAvila/ctxengine/internal/logging"
	"github.com/HendryAvila/ctxengine/internal/memory"
)

// fakeClock is a manually advanced clock shared by a store under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(t *testing.T, project string) memory.Config {
	t.Helper()
	return memory.Config{
		DataDir:      t.TempDir(),
		ProjectID:    project,
		DefaultLimit: 20,
		MaxLimit:     100,
		Logger:       logging.Discard(),
	}
}

// newTestStore creates a Store backed by a temp directory for isolation.
func newTestStore(t *testing.T, project string) *memory.Store {
	t.Helper()
	return openStore(t, testConfig(t, project))
}

func openStore(t *testing.T, cfg memory.Config) *memory.Store {
	t.Helper()
	s, err := memory.New(cfg)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addRecord(t *testing.T, s *memory.Store, typ, content string, tags ...string) string {
	t.Helper()
	id, err := s.Add(context.Background(), memory.NewRecord{
		Type:    memory.RecordType(typ),
		Content: content,
		Tags:    tags,
	})
	if err != nil {
		t.Fatalf("Add(%q): %v", content, err)
	}
	return id
}

func searchOpts(limit int) memory.SearchOptions {
	return memory.SearchOptions{Limit: limit}
}

type failingProvider struct{}

func (failingProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model server down")
}
func (failingProvider) Model() string                    { return "failing" }
func (failingProvider) Dimensions() int                  { return 0 }
func (failingProvider) IsAvailable(context.Context) bool { return true }

// ─── New / Initialization ───────────────────────────────────────────────────

func TestNew_CreatesDBFile(t *testing.T) {
	cfg := testConfig(t, "proj")
	openStore(t, cfg)

	if _, err := os.Stat(filepath.Join(cfg.DataDir, memory.DBFilename)); err != nil {
		t.Fatalf("database file not created: %v", err)
	}
}

func TestNew_RequiresProject(t *testing.T) {
	cfg := testConfig(t, "")
	if _, err := memory.New(cfg); !errors.Is(err, ctxerr.ErrValidation) {
		t.Fatalf("New without project: got %v, want validation error", err)
	}
}

func TestNew_IdempotentReopen(t *testing.T) {
	cfg := testConfig(t, "proj")

	s1, err := memory.New(cfg)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	id := addRecord(t, s1, "fact", "Service listens on port 8080")
	s1.Close()

	s2 := openStore(t, cfg)
	r, err := s2.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if r.Content != "Service listens on port 8080" {
		t.Errorf("Content = %q after reopen", r.Content)
	}
}

// ─── Add / Get ──────────────────────────────────────────────────────────────

func TestAddGet_RoundTrip(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()

	in := memory.NewRecord{
		Type:     memory.TypeDecision,
		Content:  "Use PostgreSQL for the orders service",
		Tags:     []string{"db", "orders"},
		Source:   "docs/adr/0003.md",
		Metadata: map[string]any{"author": "team-a"},
	}
	id, err := s.Add(ctx, in)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id == "" {
		t.Fatal("Add returned empty id")
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != id || got.ProjectID != "proj" {
		t.Errorf("ID/ProjectID = %q/%q", got.ID, got.ProjectID)
	}
	if got.Type != in.Type || got.Content != in.Content || got.Source != in.Source {
		t.Errorf("got %+v, want fields of %+v", got, in)
	}
	if !reflect.DeepEqual(got.Tags, in.Tags) {
		t.Errorf("Tags = %v, want %v", got.Tags, in.Tags)
	}
	if !reflect.DeepEqual(got.Metadata, in.Metadata) {
		t.Errorf("Metadata = %v, want %v", got.Metadata, in.Metadata)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not populated")
	}
	if got.Embedding != nil {
		t.Error("embedding set without a provider")
	}
}

func TestAdd_Validation(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()

	tests := []struct {
		name string
		rec  memory.NewRecord
	}{
		{"empty content", memory.NewRecord{Type: memory.TypeNote, Content: ""}},
		{"blank content", memory.NewRecord{Type: memory.TypeNote, Content: "  \n\t"}},
		{"unknown type", memory.NewRecord{Type: "rumor", Content: "x"}},
		{"missing type", memory.NewRecord{Content: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Add(ctx, tt.rec)
			if !errors.Is(err, ctxerr.ErrValidation) {
				t.Fatalf("got %v, want validation error", err)
			}
		})
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("invalid records were stored: total = %d", stats.Total)
	}
}

func TestAdd_TagsNormalized(t *testing.T) {
	s := newTestStore(t, "proj")
	id := addRecord(t, s, "note", "tagged", " DB ", "orm", "DB", "OAuth2", "")

	got, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := []string{"DB", "OAuth2", "orm"}
	if !reflect.DeepEqual(got.Tags, want) {
		t.Errorf("Tags = %v, want %v", got.Tags, want)
	}
}

func TestAdd_UniqueIDs(t *testing.T) {
	s := newTestStore(t, "proj")
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := addRecord(t, s, "note", fmt.Sprintf("note %d", i))
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t, "proj")
	_, err := s.Get(context.Background(), "does-not-exist")
	if !errors.Is(err, ctxerr.ErrNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestGet_OtherProjectNotFound(t *testing.T) {
	s := newTestStore(t, "proj-a")
	id := addRecord(t, s, "fact", "belongs to a")

	other := s.WithProject("proj-b")
	if _, err := other.Get(context.Background(), id); !errors.Is(err, ctxerr.ErrNotFound) {
		t.Fatalf("cross-project Get: got %v, want not found", err)
	}
}

// ─── Update / Delete ────────────────────────────────────────────────────────

func TestUpdate_Partial(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig(t, "proj")
	cfg.Now = clock.Now
	s := openStore(t, cfg)
	ctx := context.Background()

	id := addRecord(t, s, "note", "old content", "keep")
	before, _ := s.Get(ctx, id)

	clock.Advance(time.Minute)
	content := "new content"
	ok, err := s.Update(ctx, id, memory.RecordPatch{Content: &content})
	if err != nil || !ok {
		t.Fatalf("Update = %v, %v", ok, err)
	}

	after, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Content != "new content" {
		t.Errorf("Content = %q", after.Content)
	}
	if after.Type != memory.TypeNote || !reflect.DeepEqual(after.Tags, []string{"keep"}) {
		t.Errorf("untouched fields changed: %+v", after)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("UpdatedAt not re-stamped: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
	if !after.CreatedAt.Equal(before.CreatedAt) {
		t.Errorf("CreatedAt changed")
	}
	if after.ProjectID != "proj" {
		t.Errorf("ProjectID = %q", after.ProjectID)
	}
}

func TestUpdate_TypeTagsSourceMetadata(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()
	id := addRecord(t, s, "note", "content", "a")

	typ := memory.TypeDecision
	src := "review"
	ok, err := s.Update(ctx, id, memory.RecordPatch{
		Type:     &typ,
		Tags:     []string{},
		Source:   &src,
		Metadata: map[string]any{"k": "v"},
	})
	if err != nil || !ok {
		t.Fatalf("Update = %v, %v", ok, err)
	}
	got, _ := s.Get(ctx, id)
	if got.Type != memory.TypeDecision || got.Source != "review" || len(got.Tags) != 0 {
		t.Errorf("got %+v", got)
	}
	if got.Metadata["k"] != "v" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
}

func TestUpdate_UnknownIDReturnsFalse(t *testing.T) {
	s := newTestStore(t, "proj")
	content := "x"
	ok, err := s.Update(context.Background(), "missing", memory.RecordPatch{Content: &content})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if ok {
		t.Fatal("Update of unknown id returned true")
	}
}

func TestUpdate_OtherProjectUntouched(t *testing.T) {
	s := newTestStore(t, "proj-a")
	ctx := context.Background()
	id := addRecord(t, s, "fact", "original")

	content := "hijacked"
	ok, err := s.WithProject("proj-b").Update(ctx, id, memory.RecordPatch{Content: &content})
	if err != nil || ok {
		t.Fatalf("cross-project Update = %v, %v", ok, err)
	}
	got, _ := s.Get(ctx, id)
	if got.Content != "original" {
		t.Errorf("Content = %q", got.Content)
	}
}

func TestUpdate_Validation(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()
	id := addRecord(t, s, "fact", "valid")

	empty := ""
	if _, err := s.Update(ctx, id, memory.RecordPatch{Content: &empty}); !errors.Is(err, ctxerr.ErrValidation) {
		t.Errorf("empty content: got %v", err)
	}
	bad := memory.RecordType("rumor")
	if _, err := s.Update(ctx, id, memory.RecordPatch{Type: &bad}); !errors.Is(err, ctxerr.ErrValidation) {
		t.Errorf("bad type: got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()
	id := addRecord(t, s, "fact", "to delete")

	ok, err := s.Delete(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, ctxerr.ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}

	ok, err = s.Delete(ctx, id)
	if err != nil || ok {
		t.Fatalf("second Delete = %v, %v; want false, nil", ok, err)
	}
	ok, err = s.Delete(ctx, "never-existed")
	if err != nil || ok {
		t.Fatalf("Delete unknown = %v, %v; want false, nil", ok, err)
	}
}

// ─── Search ─────────────────────────────────────────────────────────────────

func TestSearch_Basic(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()
	want := addRecord(t, s, "decision", "Use JWT tokens for API authentication")
	addRecord(t, s, "note", "Dashboard uses atomic design")

	results, err := s.Search(ctx, "JWT authentication", searchOpts(10))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != want {
		t.Fatalf("got %+v, want only %s", results, want)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	s := newTestStore(t, "proj")
	addRecord(t, s, "note", "something")

	for _, q := range []string{"", "   ", "\t\n", "!!! ---"} {
		results, err := s.Search(context.Background(), q, searchOpts(10))
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		if results == nil || len(results) != 0 {
			t.Errorf("Search(%q) = %v, want empty non-nil slice", q, results)
		}
	}
}

func TestSearch_MatchAny(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()
	addRecord(t, s, "note", "redis cache eviction")
	addRecord(t, s, "note", "postgres connection pool")

	all, _ := s.Search(ctx, "redis postgres", searchOpts(10))
	if len(all) != 0 {
		t.Errorf("AND search got %d, want 0", len(all))
	}
	anyRes, _ := s.Search(ctx, "redis postgres", memory.SearchOptions{MatchAny: true})
	if len(anyRes) != 2 {
		t.Errorf("OR search got %d, want 2", len(anyRes))
	}
}

func TestSearch_Filters(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()
	dec := addRecord(t, s, "decision", "cache invalidation policy", "cache", "backend")
	addRecord(t, s, "note", "cache warmup script", "cache")

	byType, _ := s.Search(ctx, "cache", memory.SearchOptions{Type: memory.TypeDecision})
	if len(byType) != 1 || byType[0].ID != dec {
		t.Errorf("type filter got %+v", byType)
	}
	byTags, _ := s.Search(ctx, "cache", memory.SearchOptions{Tags: []string{"Backend", "cache"}})
	if len(byTags) != 1 || byTags[0].ID != dec {
		t.Errorf("tag filter got %+v", byTags)
	}
}

func TestSearch_MatchesTagsAndSource(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()
	id, err := s.Add(ctx, memory.NewRecord{
		Type: memory.TypeConfig, Content: "timeouts are 30s", Tags: []string{"gateway"}, Source: "deploy/values.yaml",
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range []string{"gateway", "values"} {
		res, _ := s.Search(ctx, q, searchOpts(5))
		if len(res) != 1 || res[0].ID != id {
			t.Errorf("Search(%q) = %+v", q, res)
		}
	}
}

func TestSearch_ProjectIsolation(t *testing.T) {
	s := newTestStore(t, "proj-a")
	ctx := context.Background()
	addRecord(t, s, "fact", "kafka topic naming")
	b := s.WithProject("proj-b")
	addRecord(t, b, "fact", "kafka retention")

	res, _ := s.Search(ctx, "kafka", searchOpts(10))
	if len(res) != 1 || res[0].ProjectID != "proj-a" {
		t.Errorf("proj-a search leaked: %+v", res)
	}
	list, _ := b.List(ctx, memory.ListOptions{})
	for _, r := range list {
		if r.ProjectID != "proj-b" {
			t.Errorf("proj-b list leaked %+v", r)
		}
	}
}

func TestSearch_LimitCapped(t *testing.T) {
	cfg := testConfig(t, "proj")
	cfg.DefaultLimit = 3
	cfg.MaxLimit = 5
	s := openStore(t, cfg)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		addRecord(t, s, "note", fmt.Sprintf("deployment step %d", i))
	}

	def, _ := s.Search(ctx, "deployment", searchOpts(0))
	if len(def) != 3 {
		t.Errorf("default limit: got %d, want 3", len(def))
	}
	capped, _ := s.Search(ctx, "deployment", searchOpts(1000))
	if len(capped) != 5 {
		t.Errorf("capped limit: got %d, want 5", len(capped))
	}
	list, _ := s.List(ctx, memory.ListOptions{Limit: 1000})
	if len(list) != 5 {
		t.Errorf("list capped: got %d, want 5", len(list))
	}
}

func TestSearch_SpecialCharactersSanitized(t *testing.T) {
	s := newTestStore(t, "proj")
	addRecord(t, s, "note", "hello world")

	for _, q := range []string{`"hello`, `hello*`, `hello OR`, `(world`, `a:b`, `NEAR(hello world)`} {
		if _, err := s.Search(context.Background(), q, searchOpts(5)); err != nil {
			t.Errorf("Search(%q) error: %v", q, err)
		}
	}
}

func TestSanitizeFTS(t *testing.T) {
	tests := []struct {
		in   string
		any  bool
		want string
	}{
		{"fix auth bug", false, `"fix" "auth" "bug"`},
		{"fix auth", true, `"fix" OR "auth"`},
		{`say "hi"`, false, `"say" """hi"""`},
		{"-- ** hello", false, `"hello"`},
		{"", false, ""},
	}
	for _, tt := range tests {
		if got := memory.SanitizeFTS(tt.in, tt.any); got != tt.want {
			t.Errorf("sanitizeFTS(%q, %v) = %s, want %s", tt.in, tt.any, got, tt.want)
		}
	}
}

// ─── List / Clear / Stats ───────────────────────────────────────────────────

func TestList_MostRecentFirst(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig(t, "proj")
	cfg.Now = clock.Now
	s := openStore(t, cfg)
	ctx := context.Background()

	first := addRecord(t, s, "note", "first")
	clock.Advance(time.Second)
	second := addRecord(t, s, "decision", "second")
	clock.Advance(time.Second)
	third := addRecord(t, s, "note", "third")

	list, err := s.List(ctx, memory.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 || list[0].ID != third || list[1].ID != second || list[2].ID != first {
		t.Fatalf("order = %v", ids(list))
	}

	// Updating moves a record to the front.
	clock.Advance(time.Second)
	c := "first, revised"
	if _, err := s.Update(ctx, first, memory.RecordPatch{Content: &c}); err != nil {
		t.Fatal(err)
	}
	list, _ = s.List(ctx, memory.ListOptions{})
	if list[0].ID != first {
		t.Errorf("updated record not first: %v", ids(list))
	}

	notes, _ := s.List(ctx, memory.ListOptions{Type: memory.TypeNote})
	if len(notes) != 2 {
		t.Errorf("type filter got %d", len(notes))
	}
	page, _ := s.List(ctx, memory.ListOptions{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != third {
		t.Errorf("offset page = %v", ids(page))
	}
}

func ids(recs []memory.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestClear_ScopedToProject(t *testing.T) {
	s := newTestStore(t, "proj-a")
	ctx := context.Background()
	addRecord(t, s, "note", "a1")
	addRecord(t, s, "note", "a2")
	b := s.WithProject("proj-b")
	keep := addRecord(t, b, "note", "b1")

	n, err := s.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 2 {
		t.Errorf("Clear removed %d, want 2", n)
	}
	if _, err := b.Get(ctx, keep); err != nil {
		t.Errorf("other project's record gone: %v", err)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()
	addRecord(t, s, "decision", "d1")
	addRecord(t, s, "decision", "d2")
	addRecord(t, s, "note", "n1")
	addRecord(t, s.WithProject("other"), "fact", "f1")

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 || stats.ByType["decision"] != 2 || stats.ByType["note"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if _, ok := stats.ByType["fact"]; ok {
		t.Error("stats counted another project")
	}
	if stats.EmbeddingModel != "" || stats.Embedded != 0 {
		t.Errorf("embedding stats without provider: %+v", stats)
	}
}

// ─── Embeddings ─────────────────────────────────────────────────────────────

func TestAdd_WithProviderStoresVector(t *testing.T) {
	cfg := testConfig(t, "proj")
	cfg.Provider = embedding.NewHash(64)
	s := openStore(t, cfg)
	ctx := context.Background()

	id := addRecord(t, s, "fact", "database connection pool size is 10")
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Embedding) != 64 || got.EmbeddingModel != "hash-64" {
		t.Fatalf("embedding = %d values, model %q", len(got.Embedding), got.EmbeddingModel)
	}

	stats, _ := s.Stats(ctx)
	if stats.Embedded != 1 || stats.EmbeddingModel != "hash-64" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAdd_EmbeddingFailureStillStores(t *testing.T) {
	cfg := testConfig(t, "proj")
	cfg.Provider = failingProvider{}
	s := openStore(t, cfg)

	id := addRecord(t, s, "fact", "stored anyway")
	got, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Embedding != nil {
		t.Error("unexpected embedding")
	}
}

func TestSearchSemantic(t *testing.T) {
	cfg := testConfig(t, "proj")
	cfg.Provider = embedding.NewHash(256)
	s := openStore(t, cfg)
	ctx := context.Background()

	near := addRecord(t, s, "fact", "database connection pool settings for postgres")
	addRecord(t, s, "note", "button colors on the landing page")

	res, err := s.SearchSemantic(ctx, "postgres connection pool", memory.SemanticOptions{Limit: 5})
	if err != nil {
		t.Fatalf("SearchSemantic: %v", err)
	}
	if len(res) == 0 || res[0].ID != near {
		t.Fatalf("best match = %+v, want %s", res, near)
	}

	strict, _ := s.SearchSemantic(ctx, "postgres connection pool", memory.SemanticOptions{MinScore: 0.99})
	if len(strict) != 0 {
		t.Errorf("MinScore not applied: %+v", strict)
	}
}

func TestSearchSemantic_NoProvider(t *testing.T) {
	s := newTestStore(t, "proj")
	_, err := s.SearchSemantic(context.Background(), "anything", memory.SemanticOptions{})
	if !errors.Is(err, ctxerr.ErrCapabilityUnavailable) {
		t.Fatalf("got %v, want capability unavailable", err)
	}
}

func TestVectors_OtherModelIgnoredUntilReindex(t *testing.T) {
	cfg := testConfig(t, "proj")
	cfg.Provider = embedding.NewHash(64)
	s1, err := memory.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	id := addRecord(t, s1, "fact", "vectors from the first model")
	s1.Close()

	cfg.Provider = embedding.NewHash(32)
	s2 := openStore(t, cfg)
	ctx := context.Background()

	got, _ := s2.Get(ctx, id)
	if got.Embedding != nil {
		t.Fatalf("vector of another model was loaded (%s)", got.EmbeddingModel)
	}
	res, _ := s2.SearchSemantic(ctx, "vectors first model", memory.SemanticOptions{})
	if len(res) != 0 {
		t.Fatalf("semantic search compared across models: %+v", res)
	}

	n, err := s2.Reindex(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Reindex = %d, %v", n, err)
	}
	got, _ = s2.Get(ctx, id)
	if len(got.Embedding) != 32 || got.EmbeddingModel != "hash-32" {
		t.Errorf("after reindex: %d values, model %q", len(got.Embedding), got.EmbeddingModel)
	}
}

func TestReindex_NoProvider(t *testing.T) {
	s := newTestStore(t, "proj")
	if _, err := s.Reindex(context.Background()); !errors.Is(err, ctxerr.ErrCapabilityUnavailable) {
		t.Fatalf("got %v", err)
	}
}

func TestUpdate_ReembedsChangedContent(t *testing.T) {
	cfg := testConfig(t, "proj")
	cfg.Provider = embedding.NewHash(64)
	s := openStore(t, cfg)
	ctx := context.Background()

	id := addRecord(t, s, "fact", "alpha beta gamma")
	before, _ := s.Get(ctx, id)

	c := "completely different words here"
	if _, err := s.Update(ctx, id, memory.RecordPatch{Content: &c}); err != nil {
		t.Fatal(err)
	}
	after, _ := s.Get(ctx, id)
	if reflect.DeepEqual(before.Embedding, after.Embedding) {
		t.Error("embedding not recomputed after content change")
	}
}

func TestDelete_RemovesVector(t *testing.T) {
	cfg := testConfig(t, "proj")
	cfg.Provider = embedding.NewHash(16)
	s := openStore(t, cfg)
	ctx := context.Background()

	id := addRecord(t, s, "fact", "with vector")
	if _, err := s.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM record_vectors").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("record_vectors has %d rows after delete", n)
	}
}

// ─── Failures / Concurrency ─────────────────────────────────────────────────

func TestAdd_StorageFailureSurfaced(t *testing.T) {
	s := newTestStore(t, "proj")
	s.FailExecContaining("INSERT INTO records")

	_, err := s.Add(context.Background(), memory.NewRecord{Type: memory.TypeNote, Content: "x"})
	if !errors.Is(err, ctxerr.ErrStorageFailure) {
		t.Fatalf("got %v, want storage failure", err)
	}
	_, msg := ctxerr.Public(err)
	if msg != string(ctxerr.KindStorageFailure) {
		t.Errorf("public message leaks detail: %q", msg)
	}
}

func TestReads_StorageFailureSurfaced(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()
	id := addRecord(t, s, "note", "readable note", "ops")
	s.FailQueryContaining("FROM records")

	if _, err := s.Get(ctx, id); !errors.Is(err, ctxerr.ErrStorageFailure) {
		t.Errorf("Get: got %v", err)
	}
	if _, err := s.List(ctx, memory.ListOptions{}); !errors.Is(err, ctxerr.ErrStorageFailure) {
		t.Errorf("List: got %v", err)
	}
	if _, err := s.Count(ctx, memory.ListOptions{}); !errors.Is(err, ctxerr.ErrStorageFailure) {
		t.Errorf("Count: got %v", err)
	}
	if _, err := s.Search(ctx, "readable", memory.SearchOptions{}); !errors.Is(err, ctxerr.ErrStorageFailure) {
		t.Errorf("Search: got %v", err)
	}
	if _, err := s.Stats(ctx); !errors.Is(err, ctxerr.ErrStorageFailure) {
		t.Errorf("Stats: got %v", err)
	}
}

func TestAdd_BeginFailureSurfaced(t *testing.T) {
	s := newTestStore(t, "proj")
	s.FailBegin()

	_, err := s.Add(context.Background(), memory.NewRecord{Type: memory.TypeNote, Content: "x"})
	if !errors.Is(err, ctxerr.ErrStorageFailure) {
		t.Fatalf("got %v, want storage failure", err)
	}
}

func TestUpdate_CommitFailureLeavesRecord(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()
	id := addRecord(t, s, "note", "before commit")
	s.FailCommit()

	c := "after commit"
	ok, err := s.Update(ctx, id, memory.RecordPatch{Content: &c})
	if ok || !errors.Is(err, ctxerr.ErrStorageFailure) {
		t.Fatalf("Update = %v, %v; want storage failure", ok, err)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "before commit" {
		t.Errorf("Content = %q after failed commit", got.Content)
	}
}

func TestNew_OpenFailure(t *testing.T) {
	restore := memory.SwapOpenDB(func(string, string) (*sql.DB, error) {
		return nil, errors.New("disk unavailable")
	})
	defer restore()

	if _, err := memory.New(testConfig(t, "proj")); err == nil {
		t.Fatal("New succeeded with a failing opener")
	}
}

func TestCount_MatchesFilters(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()
	addRecord(t, s, "decision", "count me", "API")
	addRecord(t, s, "note", "count me too", "api")
	addRecord(t, s, "note", "not tagged")
	addRecord(t, s.WithProject("other"), "note", "elsewhere", "api")

	for _, tt := range []struct {
		opts memory.ListOptions
		want int
	}{
		{memory.ListOptions{}, 3},
		{memory.ListOptions{Type: memory.TypeNote}, 2},
		{memory.ListOptions{Tags: []string{"api"}}, 2},
		{memory.ListOptions{Type: memory.TypeDecision, Tags: []string{"Api"}}, 1},
	} {
		n, err := s.Count(ctx, tt.opts)
		if err != nil {
			t.Fatalf("Count(%+v): %v", tt.opts, err)
		}
		if n != tt.want {
			t.Errorf("Count(%+v) = %d, want %d", tt.opts, n, tt.want)
		}
	}
}

func TestConcurrentAdds(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Add(ctx, memory.NewRecord{Type: memory.TypeNote, Content: fmt.Sprintf("concurrent %d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Add: %v", err)
		}
	}

	stats, _ := s.Stats(ctx)
	if stats.Total != 20 {
		t.Errorf("Total = %d, want 20", stats.Total)
	}
}

// gatedProvider blocks Embed on one text until release is closed.
type gatedProvider struct {
	*embedding.Hash
	text    string
	entered chan struct{}
	release chan struct{}
}

func (p *gatedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == p.text {
		close(p.entered)
		<-p.release
	}
	return p.Hash.Embed(ctx, text)
}

func TestUpdate_ConcurrentPatchesBothKept(t *testing.T) {
	hash := embedding.NewHash(32)
	gp := &gatedProvider{
		Hash:    hash,
		text:    "new content",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	cfg := testConfig(t, "proj")
	cfg.Provider = gp
	s := openStore(t, cfg)
	ctx := context.Background()

	id := addRecord(t, s, "note", "old content")

	contentDone := make(chan error, 1)
	go func() {
		c := "new content"
		ok, err := s.Update(ctx, id, memory.RecordPatch{Content: &c})
		if err == nil && !ok {
			err = errors.New("content update returned false")
		}
		contentDone <- err
	}()

	<-gp.entered
	ok, err := s.Update(ctx, id, memory.RecordPatch{Tags: []string{"security"}})
	if err != nil || !ok {
		t.Fatalf("tags Update = %v, %v", ok, err)
	}
	close(gp.release)
	if err := <-contentDone; err != nil {
		t.Fatalf("content Update: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "new content" {
		t.Errorf("Content = %q", got.Content)
	}
	if !reflect.DeepEqual(got.Tags, []string{"security"}) {
		t.Errorf("Tags = %v, want [security]", got.Tags)
	}
	want, _ := hash.Embed(ctx, "new content")
	if !reflect.DeepEqual(got.Embedding, want) {
		t.Error("stored vector does not describe the stored content")
	}
}

func TestUpdate_ConcurrentContentWritesKeepMatchingVector(t *testing.T) {
	hash := embedding.NewHash(32)
	gp := &gatedProvider{
		Hash:    hash,
		text:    "slow rewrite",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	cfg := testConfig(t, "proj")
	cfg.Provider = gp
	s := openStore(t, cfg)
	ctx := context.Background()

	id := addRecord(t, s, "note", "original")

	slowDone := make(chan error, 1)
	go func() {
		c := "slow rewrite"
		_, err := s.Update(ctx, id, memory.RecordPatch{Content: &c})
		slowDone <- err
	}()

	<-gp.entered
	fast := "fast rewrite"
	if _, err := s.Update(ctx, id, memory.RecordPatch{Content: &fast}); err != nil {
		t.Fatalf("fast Update: %v", err)
	}
	close(gp.release)
	if err := <-slowDone; err != nil {
		t.Fatalf("slow Update: %v", err)
	}

	got, _ := s.Get(ctx, id)
	want, _ := hash.Embed(ctx, got.Content)
	if !reflect.DeepEqual(got.Embedding, want) {
		t.Errorf("vector does not match content %q", got.Content)
	}
}

// ─── Export / Import ────────────────────────────────────────────────────────

func TestExportImport_RoundTrip(t *testing.T) {
	src := newTestStore(t, "proj")
	ctx := context.Background()
	addRecord(t, src, "decision", "exported decision", "x")
	addRecord(t, src, "note", "exported note")

	data, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(data.Records) != 2 || data.ProjectID != "proj" {
		t.Fatalf("export = %+v", data)
	}

	dst := newTestStore(t, "proj")
	res, err := dst.Import(ctx, data, memory.ImportOptions{PreserveIDs: true})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Imported != 2 || res.Reassigned != 0 {
		t.Errorf("result = %+v", res)
	}
	got, err := dst.Get(ctx, data.Records[0].ID)
	if err != nil {
		t.Fatalf("imported id not kept: %v", err)
	}
	if !got.CreatedAt.Equal(data.Records[0].CreatedAt) {
		t.Errorf("CreatedAt not preserved")
	}

	// Importing again into the same store reassigns the taken ids.
	res, err = dst.Import(ctx, data, memory.ImportOptions{PreserveIDs: true})
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if res.Reassigned != 2 {
		t.Errorf("Reassigned = %d, want 2", res.Reassigned)
	}
	stats, _ := dst.Stats(ctx)
	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
}

func TestImport_FreshIDsByDefault(t *testing.T) {
	s := newTestStore(t, "proj")
	ctx := context.Background()
	id := addRecord(t, s, "note", "short lived")
	data, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	res, err := s.Import(ctx, data, memory.ImportOptions{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Imported != 1 || res.Reassigned != 0 {
		t.Errorf("result = %+v", res)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, ctxerr.ErrNotFound) {
		t.Errorf("deleted id was reused: %v", err)
	}
	recs, _ := s.List(ctx, memory.ListOptions{})
	if len(recs) != 1 || recs[0].Content != "short lived" || recs[0].ID == id {
		t.Errorf("imported records = %+v", recs)
	}
}

func TestImport_RejectsInvalid(t *testing.T) {
	s := newTestStore(t, "proj")
	data := &memory.ExportData{Records: []memory.Record{
		{Type: memory.TypeNote, Content: "fine"},
		{Type: "bogus", Content: "bad"},
	}}
	if _, err := s.Import(context.Background(), data, memory.ImportOptions{}); !errors.Is(err, ctxerr.ErrValidation) {
		t.Fatalf("got %v", err)
	}
	stats, _ := s.Stats(context.Background())
	if stats.Total != 0 {
		t.Errorf("partial import: total = %d", stats.Total)
	}
}

// ─── Types / Tokens ─────────────────────────────────────────────────────────

func TestParseType(t *testing.T) {
	tests := map[string]memory.RecordType{
		"decision":      memory.TypeDecision,
		" Fact ":        memory.TypeFact,
		"code-pattern":  memory.TypeCodePattern,
		"configuration": memory.TypeConfig,
	}
	for in, want := range tests {
		got, err := memory.ParseType(in)
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := memory.ParseType("rumor"); !errors.Is(err, ctxerr.ErrValidation) {
		t.Errorf("ParseType(rumor) error = %v", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"abcdefgh", 2},
	}
	for _, tt := range tests {
		if got := memory.EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTruncateTokens(t *testing.T) {
	text := "héllo wörld, this is long enough to cut"
	for budget := 0; budget < 12; budget++ {
		got := memory.TruncateTokens(text, budget)
		if memory.EstimateTokens(got) > budget {
			t.Errorf("TruncateTokens(_, %d) = %q exceeds budget", budget, got)
		}
	}
	if memory.TruncateTokens("short", 10) != "short" {
		t.Error("short text was cut")
	}
}

func TestTruncate(t *testing.T) {
	if got := memory.Truncate("hello world", 5); got != "hello..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := memory.Truncate("hi", 5); got != "hi" {
		t.Errorf("Truncate = %q", got)
	}
}
