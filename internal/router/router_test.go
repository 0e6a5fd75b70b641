package router_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/embedding"
	"github.com/HendryAvila/ctxengine/internal/logging"
	"github.com/HendryAvila/ctxengine/internal/memory"
	"github.com/HendryAvila/ctxengine/internal/router"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store  *memory.Store
	router *router.Router
	clock  *clock
}

func newFixture(t *testing.T, provider embedding.Provider) *fixture {
	t.Helper()
	c := newClock()
	s, err := memory.New(memory.Config{
		DataDir:      t.TempDir(),
		ProjectID:    "proj",
		DefaultLimit: 20,
		MaxLimit:     100,
		Provider:     provider,
		Logger:       logging.Discard(),
		Now:          c.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r := router.New(s, router.Config{Logger: logging.Discard(), Now: c.Now})
	return &fixture{store: s, router: r, clock: c}
}

func (f *fixture) add(t *testing.T, typ memory.RecordType, content, source string, tags ...string) string {
	t.Helper()
	id, err := f.store.Add(context.Background(), memory.NewRecord{
		Type:    typ,
		Content: content,
		Source:  source,
		Tags:    tags,
	})
	require.NoError(t, err)
	return id
}

func recordIDs(recs []memory.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestRoute_AuthenticationScenario(t *testing.T) {
	f := newFixture(t, nil)
	decision := f.add(t, memory.TypeDecision, "Use JWT for authentication across services", "")
	note := f.add(t, memory.TypeNote, "Authentication flow was discussed in standup", "")
	fact := f.add(t, memory.TypeFact, "The authentication service listens on port 8443", "")
	f.add(t, memory.TypeDecision, "Postgres is the primary database", "")

	recs, err := f.router.Route(context.Background(), "implementing authentication", router.Options{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	got := recordIDs(recs)
	assert.Equal(t, decision, got[0])
	assert.Equal(t, fact, got[1])
	assert.NotContains(t, got, note)
}

func TestRoute_ExactMatchRanksFirst(t *testing.T) {
	f := newFixture(t, nil)
	partial := f.add(t, memory.TypeNote, "database indexes are rebuilt nightly", "")
	exact := f.add(t, memory.TypeNote, "database migration strategy uses goose", "")

	scored, err := f.router.RouteWithScores(context.Background(), "database migration", router.Options{})
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, exact, scored[0].Record.ID)
	assert.Equal(t, partial, scored[1].Record.ID)
	assert.Equal(t, 1.0, scored[0].Signals[router.SignalKeywords])
	assert.Equal(t, 0.5, scored[1].Signals[router.SignalKeywords])
}

func TestRoute_NewerRanksHigherAllElseEqual(t *testing.T) {
	f := newFixture(t, nil)
	older := f.add(t, memory.TypeFact, "cache entries expire after ten minutes", "")
	f.clock.Advance(3 * 24 * time.Hour)
	newer := f.add(t, memory.TypeFact, "cache entries expire after one hour", "")

	scored, err := f.router.RouteWithScores(context.Background(), "cache expiry", router.Options{})
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, newer, scored[0].Record.ID)
	assert.Equal(t, older, scored[1].Record.ID)
	assert.Greater(t, scored[0].Signals[router.SignalRecency], scored[1].Signals[router.SignalRecency])
	assert.Greater(t, scored[0].Score, scored[1].Score)
}

func TestRoute_RecencyHalvesEveryHalfLife(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, memory.TypeFact, "retries use exponential backoff", "")
	f.clock.Advance(router.DefaultHalfLife)

	scored, err := f.router.RouteWithScores(context.Background(), "backoff", router.Options{})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.InDelta(t, 0.5, scored[0].Signals[router.SignalRecency], 1e-9)
}

func TestRoute_EmptyTaskFallsBackToRecencyAndType(t *testing.T) {
	f := newFixture(t, nil)
	decision := f.add(t, memory.TypeDecision, "Adopt hexagonal architecture", "")
	f.clock.Advance(time.Hour)
	note := f.add(t, memory.TypeNote, "Lunch order goes out at noon", "")

	scored, err := f.router.RouteWithScores(context.Background(), "   ", router.Options{})
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, decision, scored[0].Record.ID)
	assert.Equal(t, note, scored[1].Record.ID)
	assert.NotContains(t, scored[0].Signals, router.SignalKeywords)
}

func TestRoute_NoKeywordMatchReturnsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, memory.TypeFact, "The frontend uses React", "")

	recs, err := f.router.Route(context.Background(), "kubernetes deployment", router.Options{})
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestRoute_EmptyStore(t *testing.T) {
	f := newFixture(t, nil)
	recs, err := f.router.Route(context.Background(), "anything useful", router.Options{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRoute_InactiveSignalsRenormalized(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, memory.TypeDecision, "Logging goes through slog", "")

	scored, err := f.router.RouteWithScores(context.Background(), "slog", router.Options{})
	require.NoError(t, err)
	require.Len(t, scored, 1)

	// keywords, recency and type all score 1 for a fresh decision, and only
	// those three are active.
	assert.InDelta(t, 1.0, scored[0].Score, 1e-9)
	assert.Len(t, scored[0].Signals, 3)
	assert.NotContains(t, scored[0].Signals, router.SignalSemantic)
	assert.NotContains(t, scored[0].Signals, router.SignalTags)
	assert.NotContains(t, scored[0].Signals, router.SignalFile)
}

func TestRoute_ScoresStayInUnitInterval(t *testing.T) {
	f := newFixture(t, embedding.NewHash(64))
	for i, content := range []string{
		"token refresh happens in middleware",
		"refresh the token cache on deploy",
		"unrelated token bucket rate limiter",
	} {
		f.add(t, memory.RecordTypes()[i], content, "", "auth")
		f.clock.Advance(36 * time.Hour)
	}

	scored, err := f.router.RouteWithScores(context.Background(), "token refresh", router.Options{
		Tags:        []string{"auth", "security"},
		CurrentFile: "internal/auth/refresh.go",
	})
	require.NoError(t, err)
	require.NotEmpty(t, scored)
	for _, c := range scored {
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
		for name, v := range c.Signals {
			assert.GreaterOrEqual(t, v, 0.0, name)
			assert.LessOrEqual(t, v, 1.0, name)
		}
	}
}

func TestRoute_TagBoost(t *testing.T) {
	f := newFixture(t, nil)
	plain := f.add(t, memory.TypeNote, "connection pool sized to twenty", "")
	tagged := f.add(t, memory.TypeNote, "connection pool timeout is five seconds", "", "db")

	scored, err := f.router.RouteWithScores(context.Background(), "connection pool", router.Options{Tags: []string{"DB"}})
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, tagged, scored[0].Record.ID)
	assert.Equal(t, plain, scored[1].Record.ID)
	assert.Equal(t, 1.0, scored[0].Signals[router.SignalTags])
	assert.Contains(t, scored[0].Explanation, "tags: db")
}

func TestRoute_CurrentFileSignal(t *testing.T) {
	f := newFixture(t, nil)
	other := f.add(t, memory.TypeNote, "token validation checks expiry", "")
	match := f.add(t, memory.TypeNote, "token validation checks audience", "internal/auth/jwt.go")
	dir := f.add(t, memory.TypeNote, "token validation checks issuer", "internal/auth/")

	scored, err := f.router.RouteWithScores(context.Background(), "token validation", router.Options{
		CurrentFile: "internal/auth/jwt.go",
	})
	require.NoError(t, err)
	require.Len(t, scored, 3)

	byID := map[string]router.ScoredCandidate{}
	for _, c := range scored {
		byID[c.Record.ID] = c
	}
	assert.Equal(t, 1.0, byID[match].Signals[router.SignalFile])
	assert.Equal(t, 0.5, byID[dir].Signals[router.SignalFile])
	assert.Equal(t, 0.0, byID[other].Signals[router.SignalFile])
	assert.Equal(t, match, scored[0].Record.ID)
	assert.Contains(t, byID[match].Explanation, "file match")
	assert.Contains(t, byID[dir].Explanation, "directory match")
}

func TestRoute_FileTagMatchesBaseName(t *testing.T) {
	f := newFixture(t, nil)
	id := f.add(t, memory.TypeCodePattern, "handlers return typed errors", "", "server.go")

	scored, err := f.router.RouteWithScores(context.Background(), "typed errors", router.Options{
		CurrentFile: "cmd/api/server.go",
	})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, id, scored[0].Record.ID)
	assert.Equal(t, 1.0, scored[0].Signals[router.SignalFile])
}

func TestRoute_Explanation(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, memory.TypeDecision, "Use sqlc for database access", "", "db")

	scored, err := f.router.RouteWithScores(context.Background(), "database access layer", router.Options{Tags: []string{"db"}})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "keywords 2/3; recency 1.00; type decision; tags: db", scored[0].Explanation)
}

func TestRoute_SemanticSignalWithProvider(t *testing.T) {
	f := newFixture(t, embedding.NewHash(128))
	f.add(t, memory.TypeFact, "graceful shutdown drains open connections", "")

	scored, err := f.router.RouteWithScores(context.Background(), "graceful shutdown", router.Options{})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Contains(t, scored[0].Signals, router.SignalSemantic)
	assert.Greater(t, scored[0].Signals[router.SignalSemantic], 0.0)
	assert.True(t, strings.HasPrefix(scored[0].Explanation, "semantic "))
}

func TestRoute_LimitAndCap(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 8; i++ {
		f.add(t, memory.TypeNote, "queue worker handles retries", "")
	}

	recs, err := f.router.Route(context.Background(), "queue worker", router.Options{})
	require.NoError(t, err)
	assert.Len(t, recs, router.DefaultLimit)

	recs, err = f.router.Route(context.Background(), "queue worker", router.Options{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	recs, err = f.router.Route(context.Background(), "queue worker", router.Options{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, recs, 8)
}

func TestRoute_MaxTokensBudget(t *testing.T) {
	f := newFixture(t, nil)
	// 100 bytes each, so 25 estimated tokens each.
	content := "budget " + strings.Repeat("x", 93)
	for i := 0; i < 3; i++ {
		f.add(t, memory.TypeNote, content, "")
	}

	recs, err := f.router.Route(context.Background(), "budget", router.Options{MaxTokens: 60})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	total := 0
	for _, r := range recs {
		total += memory.EstimateTokens(r.Content)
	}
	assert.LessOrEqual(t, total, 60)

	recs, err = f.router.Route(context.Background(), "budget", router.Options{MaxTokens: 10})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRoute_TypeFilter(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, memory.TypeNote, "retry policy is three attempts", "")
	decision := f.add(t, memory.TypeDecision, "retry policy lives in the client", "")

	recs, err := f.router.Route(context.Background(), "retry policy", router.Options{Type: memory.TypeDecision})
	require.NoError(t, err)
	assert.Equal(t, []string{decision}, recordIDs(recs))
}

func TestRoute_Validation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.router.Route(context.Background(), "x", router.Options{Type: "opinion"})
	assert.True(t, ctxerr.Is(err, ctxerr.KindValidation))

	_, err = f.router.Route(context.Background(), "x", router.Options{MaxTokens: -1})
	assert.True(t, ctxerr.Is(err, ctxerr.KindValidation))
}

func TestRoute_Idempotent(t *testing.T) {
	f := newFixture(t, embedding.NewHash(64))
	f.add(t, memory.TypeDecision, "feature flags are read from env", "", "config")
	f.add(t, memory.TypeConfig, "feature flags default to off", "")
	f.add(t, memory.TypeNote, "flags dashboard lives in grafana", "")

	opts := router.Options{Tags: []string{"config"}, Limit: 3}
	first, err := f.router.RouteWithScores(context.Background(), "feature flags", opts)
	require.NoError(t, err)
	second, err := f.router.RouteWithScores(context.Background(), "feature flags", opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRoute_ProviderFailureDegrades(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, memory.TypeFact, "schema migrations run at startup", "")

	r := router.New(failingStore{f.store}, router.Config{Logger: logging.Discard(), Now: f.clock.Now})
	scored, err := r.RouteWithScores(context.Background(), "schema migrations", router.Options{})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.NotContains(t, scored[0].Signals, router.SignalSemantic)
}

// failingStore reports a provider whose every call fails.
type failingStore struct{ *memory.Store }

func (failingStore) Provider() embedding.Provider { return brokenProvider{} }

type brokenProvider struct{}

func (brokenProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, context.DeadlineExceeded
}
func (brokenProvider) Model() string                    { return "broken" }
func (brokenProvider) Dimensions() int                  { return 0 }
func (brokenProvider) IsAvailable(context.Context) bool { return true }

func TestRoute_MismatchedDimensionsSkipSemantic(t *testing.T) {
	f := newFixture(t, embedding.NewHash(128))
	f.add(t, memory.TypeFact, "retry budget caps outbound calls", "")

	r := router.New(resizedStore{f.store}, router.Config{Logger: logging.Discard(), Now: f.clock.Now})
	scored, err := r.RouteWithScores(context.Background(), "retry budget", router.Options{})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.NotContains(t, scored[0].Signals, router.SignalSemantic)
	assert.Greater(t, scored[0].Score, 0.5)
}

// resizedStore embeds tasks with fewer dimensions than the stored vectors.
type resizedStore struct{ *memory.Store }

func (resizedStore) Provider() embedding.Provider { return embedding.NewHash(64) }

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"implementing authentication", []string{"implementing", "authentication"}},
		{"How should we handle the DB?", []string{"handle"}},
		{"JWT, jwt; (jwt) tokens!", []string{"jwt", "tokens"}},
		{"a an of to", nil},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, router.ExtractKeywords(tt.in), tt.in)
	}
}
