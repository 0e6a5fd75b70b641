// Package engine composes the record store, router, guard and fuser for one
// project and instruments them with OpenTelemetry.
//
// No exporter is configured here: spans and metrics go to the global
// providers, which are no-ops unless the host installs real ones.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/HendryAvila/ctxengine/internal/config"
	"github.com/HendryAvila/ctxengine/internal/embedding"
	"github.com/HendryAvila/ctxengine/internal/fusion"
	"github.com/HendryAvila/ctxengine/internal/guard"
	"github.com/HendryAvila/ctxengine/internal/logging"
	"github.com/HendryAvila/ctxengine/internal/memory"
	"github.com/HendryAvila/ctxengine/internal/project"
	"github.com/HendryAvila/ctxengine/internal/router"
)

// Options configure Open. Only Config is usually set; the rest exist for
// hosts and tests.
type Options struct {
	// Config defaults to config.Default().
	Config *config.Config
	// Dir is the working directory the project is derived from. Defaults
	// to the process working directory.
	Dir string
	// ProjectID skips project resolution.
	ProjectID string
	Resolver  *project.Resolver
	// Provider replaces the provider built from Config.Embedding.
	Provider       embedding.Provider
	HTTPClient     *http.Client
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Now            func() time.Time
}

// Engine is the context engine bound to one project.
type Engine struct {
	cfg      *config.Config
	project  project.Identity
	store    *memory.Store
	provider embedding.Provider
	router   *router.Router
	fuser    *fusion.Fuser
	logger   *slog.Logger
	tel      *telemetry
	closer   io.Closer
}

// Open resolves the project, opens its store and wires the pipeline.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := logging.OrDefault(opts.Logger)

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := opts.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	tel, err := newTelemetry(tp.Tracer(instrumentationName), mp.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("engine: telemetry: %w", err)
	}

	ident, err := resolveProject(opts)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve project: %w", err)
	}

	raw := opts.Provider
	if raw == nil {
		raw, err = embedding.New(ctx, embedding.Options{
			Provider:   cfg.Embedding.Provider,
			Model:      cfg.Embedding.Model,
			APIKey:     cfg.Embedding.APIKey,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: embedding provider: %w", err)
		}
	}
	provider := traceProvider(raw, tel.tracer)

	store, err := memory.New(memory.Config{
		DataDir:      cfg.DataDir,
		ProjectID:    ident.ID,
		DefaultLimit: cfg.Store.DefaultLimit,
		MaxLimit:     cfg.Store.MaxLimit,
		Provider:     provider,
		Logger:       logger.With("component", "memory"),
		Now:          opts.Now,
	})
	if err != nil {
		closeProvider(raw)
		return nil, err
	}

	rt := router.New(store, router.Config{
		Weights:      router.Weights(cfg.Router.Weights),
		HalfLife:     cfg.Router.HalfLife,
		DefaultLimit: cfg.Router.DefaultLimit,
		Logger:       logger.With("component", "router"),
		Now:          opts.Now,
	})

	fz := fusion.New(fusion.Config{
		Router:     rt,
		Store:      store,
		Provider:   provider,
		HTTPClient: opts.HTTPClient,
		BaseDir:    ident.Root,
		Logger:     logger.With("component", "fusion"),
	})

	e := &Engine{
		cfg:      cfg,
		project:  ident,
		store:    store,
		provider: provider,
		router:   rt,
		fuser:    fz,
		logger:   logger,
		tel:      tel,
	}
	if c, ok := raw.(io.Closer); ok {
		e.closer = c
	}

	logger.Debug("engine opened",
		"project", ident.ID,
		"marker", ident.Marker,
		"embedding", providerName(provider),
	)
	return e, nil
}

func resolveProject(opts Options) (project.Identity, error) {
	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return project.Identity{}, err
		}
		dir = wd
	}
	if opts.ProjectID != "" {
		return project.Identity{ID: opts.ProjectID, Root: dir}, nil
	}
	if opts.Resolver != nil {
		return opts.Resolver.Resolve(dir)
	}
	return project.Resolve(dir)
}

func providerName(p embedding.Provider) string {
	if p == nil {
		return "none"
	}
	return p.Model()
}

func closeProvider(p embedding.Provider) {
	if c, ok := p.(io.Closer); ok {
		_ = c.Close()
	}
}

// Close closes the store and any provider client.
func (e *Engine) Close() error {
	err := e.store.Close()
	if e.closer != nil {
		if cerr := e.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Project returns the project identity the engine is bound to.
func (e *Engine) Project() project.Identity { return e.project }

// Store returns the project's record store.
func (e *Engine) Store() *memory.Store { return e.store }

// Provider returns the embedding provider, nil when disabled.
func (e *Engine) Provider() embedding.Provider { return e.provider }

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() *config.Config { return e.cfg }

// Route ranks stored records against task.
func (e *Engine) Route(ctx context.Context, task string, opts router.Options) (_ []router.ScoredCandidate, err error) {
	start := time.Now()
	ctx, span := e.tel.tracer.Start(ctx, "ctxengine.route", trace.WithAttributes(
		attribute.Int("route.limit", opts.Limit),
		attribute.Int("route.max_tokens", opts.MaxTokens),
		attribute.Bool("route.has_file", opts.CurrentFile != ""),
		attribute.Int("route.tags", len(opts.Tags)),
	))
	defer func() {
		e.tel.routeDone(ctx, start, err)
		endSpan(span, err)
	}()

	scored, err := e.router.RouteWithScores(ctx, task, opts)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("route.returned", len(scored)))
	return scored, nil
}

// Fuse merges sources. Zero options fall back to the fusion section of the
// configuration.
func (e *Engine) Fuse(ctx context.Context, sources []fusion.Source, opts fusion.Options) (_ *fusion.Output, err error) {
	fc := e.cfg.Fusion
	if opts.MaxTokens == 0 {
		opts.MaxTokens = fc.MaxTokens
	}
	if opts.SourceTimeout == 0 {
		opts.SourceTimeout = fc.SourceTimeout
	}
	if opts.GuardFilters == nil {
		opts.GuardFilters = fc.GuardFilters
	}
	if opts.GuardMode == "" {
		opts.GuardMode = guard.Mode(fc.GuardMode)
	}

	ctx, span := e.tel.tracer.Start(ctx, "ctxengine.fuse", trace.WithAttributes(
		attribute.Int("fuse.sources", len(sources)),
		attribute.Int("fuse.max_tokens", opts.MaxTokens),
		attribute.String("fuse.format", string(opts.Format)),
	))
	defer func() { endSpan(span, err) }()

	out, err := e.fuser.Fuse(ctx, sources, opts)
	if err != nil {
		return nil, err
	}
	for _, a := range out.Sources {
		e.tel.countFindings(ctx, "fusion", a.Guard)
	}
	e.tel.fuseTokens.Record(ctx, int64(out.TotalTokens))
	span.SetAttributes(
		attribute.Int("fuse.tokens", out.TotalTokens),
		attribute.Bool("fuse.truncated", out.Truncated),
		attribute.String("fuse.dedupe", string(out.DedupeStrategy)),
	)
	return out, nil
}

// Guard filters content and records findings by category.
func (e *Engine) Guard(ctx context.Context, content string, opts guard.Options) (*guard.Result, error) {
	res, err := guard.Filter(content, opts)
	if err != nil {
		return nil, err
	}
	e.tel.countFindings(ctx, "guard", res.Findings)
	if len(res.Findings) > 0 {
		attrs := make([]any, 0, 2*len(res.Findings)+2)
		attrs = append(attrs, "mode", res.Mode)
		for _, f := range res.Findings {
			attrs = append(attrs, f.Filter, f.Count)
		}
		e.logger.Info("guard findings", attrs...)
	}
	return res, nil
}

// Reindex recomputes embeddings for the project with the active provider.
func (e *Engine) Reindex(ctx context.Context) (_ int, err error) {
	ctx, span := e.tel.tracer.Start(ctx, "ctxengine.reindex")
	defer func() { endSpan(span, err) }()

	n, err := e.store.Reindex(ctx)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("reindex.records", n))
	return n, nil
}
