// Package fusion merges several declared sources (stored records, files,
// inline text, remote resources) into one attributed output bounded by a
// token budget.
//
// Sources are resolved concurrently, guarded when they come from outside
// the record store, ordered by priority, de-duplicated and accumulated
// until the budget is spent. A source that fails to resolve contributes
// nothing and is reported in the attribution; only a storage failure
// aborts the whole fusion.
package fusion

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/embedding"
	"github.com/HendryAvila/ctxengine/internal/guard"
	"github.com/HendryAvila/ctxengine/internal/logging"
	"github.com/HendryAvila/ctxengine/internal/memory"
	"github.com/HendryAvila/ctxengine/internal/router"
)

// Defaults.
const (
	DefaultMaxTokens         = 4000
	DefaultSourceTimeout     = 10 * time.Second
	DefaultSemanticThreshold = 0.92
	// DefaultMaxBytes bounds what is read from a file or URL.
	DefaultMaxBytes = 1 << 20
	// MinCutTokens is the smallest remainder worth cutting a span into.
	MinCutTokens = 8
)

// SourceType is the kind of a Source.
type SourceType string

// Source types.
const (
	SourceMemory SourceType = "memory"
	SourceFile   SourceType = "file"
	SourceText   SourceType = "text"
	SourceURL    SourceType = "url"
)

// Dedupe selects the de-duplication strategy.
type Dedupe string

// Dedupe strategies.
const (
	DedupeNone     Dedupe = "none"
	DedupeExact    Dedupe = "exact"
	DedupeSemantic Dedupe = "semantic"
)

// Format selects how the output is rendered.
type Format string

// Formats.
const (
	FormatPlain      Format = "plain"
	FormatMarkdown   Format = "markdown"
	FormatStructured Format = "structured"
)

// Source declares one input to Fuse.
type Source struct {
	Type  SourceType `json:"type"`
	Label string     `json:"label,omitempty"`
	// Query routes a memory source through the router. Without it the most
	// recent records are used.
	Query      string            `json:"query,omitempty"`
	RecordType memory.RecordType `json:"record_type,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Path       string            `json:"path,omitempty"`
	URL        string            `json:"url,omitempty"`
	Text       string            `json:"text,omitempty"`
	// Priority orders sources, higher first. Ties keep declaration order.
	Priority int `json:"priority,omitempty"`
	// MaxTokens is an optional budget for this source alone.
	MaxTokens int `json:"max_tokens,omitempty"`
	// Limit caps the records of a memory source.
	Limit int `json:"limit,omitempty"`
}

// Options configure one Fuse call. Zero values take defaults.
type Options struct {
	MaxTokens         int
	Dedupe            Dedupe
	Format            Format
	GuardFilters      []string
	GuardMode         guard.Mode
	SkipGuard         bool
	SourceTimeout     time.Duration
	SemanticThreshold float64
}

// Status is the resolution outcome of a source.
type Status string

// Statuses.
const (
	StatusOK      Status = "ok"
	StatusEmpty   Status = "empty"
	StatusFailed  Status = "failed"
	StatusBlocked Status = "blocked"
)

// Attribution reports what one source contributed. Sources[i] of an Output
// always describes the i-th declared source.
type Attribution struct {
	Index     int             `json:"index"`
	Type      SourceType      `json:"type"`
	Label     string          `json:"label"`
	Status    Status          `json:"status"`
	ErrorKind ctxerr.Kind     `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
	Spans     int             `json:"spans"`
	Tokens    int             `json:"tokens"`
	Deduped   int             `json:"deduped,omitempty"`
	Omitted   int             `json:"omitted,omitempty"`
	Truncated bool            `json:"truncated,omitempty"`
	RecordIDs []string        `json:"record_ids,omitempty"`
	Guard     []guard.Finding `json:"guard,omitempty"`
}

// Section is the content of one source in structured output.
type Section struct {
	Index   int        `json:"index"`
	Type    SourceType `json:"type"`
	Label   string     `json:"label"`
	Content string     `json:"content"`
}

// Output is the result of Fuse.
type Output struct {
	Content        string        `json:"content"`
	Format         Format        `json:"format"`
	Sections       []Section     `json:"sections,omitempty"`
	Sources        []Attribution `json:"sources"`
	TotalTokens    int           `json:"total_tokens"`
	MaxTokens      int           `json:"max_tokens"`
	Truncated      bool          `json:"truncated"`
	DedupeStrategy Dedupe        `json:"dedupe_strategy"`
	Warnings       []string      `json:"warnings,omitempty"`
}

// Router is the routing dependency of memory sources.
type Router interface {
	Route(ctx context.Context, task string, opts router.Options) ([]memory.Record, error)
}

// Lister lists recent records for memory sources without a query.
type Lister interface {
	List(ctx context.Context, opts memory.ListOptions) ([]memory.Record, error)
}

// Config wires a Fuser. Router and Store may be nil when no memory source
// is used.
type Config struct {
	Router   Router
	Store    Lister
	Provider embedding.Provider
	// HTTPClient fetches url sources. Defaults to an otelhttp-instrumented
	// client.
	HTTPClient *http.Client
	// BaseDir resolves relative file paths.
	BaseDir  string
	MaxBytes int64
	// Parallel bounds concurrent source resolution.
	Parallel int
	Logger   *slog.Logger
}

// Fuser merges sources.
type Fuser struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New returns a Fuser.
func New(cfg Config) *Fuser {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 4
	}
	return &Fuser{cfg: cfg, client: client, logger: logging.OrDefault(cfg.Logger)}
}

// Fuse resolves, guards, orders, de-duplicates, budgets and renders
// sources. Malformed sources or options are a validation error; a failing
// source is reported in its attribution.
func (f *Fuser) Fuse(ctx context.Context, sources []Source, opts Options) (*Output, error) {
	const op = "fusion.Fuse"
	out := &Output{Sources: make([]Attribution, len(sources))}

	opts, err := f.normalize(ctx, op, opts, out)
	if err != nil {
		return nil, err
	}
	for i := range sources {
		if err := validateSource(op, i, &sources[i]); err != nil {
			return nil, err
		}
	}

	all, err := f.resolveAll(ctx, sources, opts)
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		out.Warnings = append(out.Warnings, r.warnings...)
	}

	ordered := make([]*resolved, len(all))
	copy(ordered, all)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].src.Priority > ordered[j].src.Priority
	})

	kept := f.accumulate(ctx, ordered, opts, out)
	render(kept, opts.Format, out)

	for i, r := range all {
		out.Sources[i] = r.attr
	}

	f.logger.Debug("fused sources",
		"sources", len(sources),
		"tokens", out.TotalTokens,
		"truncated", out.Truncated,
		"dedupe", out.DedupeStrategy,
		"format", out.Format,
	)
	return out, nil
}

func (f *Fuser) normalize(ctx context.Context, op string, opts Options, out *Output) (Options, error) {
	if opts.MaxTokens < 0 {
		return opts, ctxerr.Validation(op, "max tokens must not be negative")
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = DefaultMaxTokens
	}

	switch opts.Dedupe {
	case "":
		opts.Dedupe = DedupeExact
	case DedupeNone, DedupeExact, DedupeSemantic:
	default:
		return opts, ctxerr.Validation(op, "unknown dedupe strategy %q (want none, exact or semantic)", opts.Dedupe)
	}

	switch opts.Format {
	case "":
		opts.Format = FormatPlain
	case FormatPlain, FormatMarkdown, FormatStructured:
	default:
		return opts, ctxerr.Validation(op, "unknown format %q (want plain, markdown or structured)", opts.Format)
	}

	mode, err := guard.ParseMode(string(opts.GuardMode))
	if err != nil {
		return opts, ctxerr.Validation(op, "unknown guard mode %q (want redact, block or warn)", opts.GuardMode)
	}
	opts.GuardMode = mode

	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = DefaultSourceTimeout
	}
	if opts.SemanticThreshold == 0 {
		opts.SemanticThreshold = DefaultSemanticThreshold
	}
	if opts.SemanticThreshold < 0 || opts.SemanticThreshold > 1 {
		return opts, ctxerr.Validation(op, "semantic threshold must be in (0, 1]")
	}

	if opts.Dedupe == DedupeSemantic && !embedding.Available(ctx, f.cfg.Provider) {
		opts.Dedupe = DedupeExact
		out.Warnings = append(out.Warnings,
			"semantic dedupe needs an embedding provider; used exact dedupe instead")
	}
	out.DedupeStrategy = opts.Dedupe
	out.Format = opts.Format
	out.MaxTokens = opts.MaxTokens
	return opts, nil
}
