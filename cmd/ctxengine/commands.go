package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/ctxtools"
	"github.com/HendryAvila/ctxengine/internal/fusion"
	"github.com/HendryAvila/ctxengine/internal/guard"
	"github.com/HendryAvila/ctxengine/internal/memory"
	"github.com/HendryAvila/ctxengine/internal/project"
	"github.com/HendryAvila/ctxengine/internal/router"
	"github.com/HendryAvila/ctxengine/internal/server"
)

// readArg returns s, or all of stdin when s is empty or "-".
func (g *Globals) readArg(s string) (string, error) {
	if s != "" && s != "-" {
		return s, nil
	}
	data, err := io.ReadAll(g.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func parseType(s string) (memory.RecordType, error) {
	if s == "" {
		return "", nil
	}
	return memory.ParseType(s)
}

func parseMetadata(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, ctxerr.Validation("cli.metadata", "--metadata must be a JSON object")
	}
	return m, nil
}

func printRecords(g *Globals, recs []memory.Record) {
	for i := range recs {
		r := &recs[i]
		g.printf("%s  %-12s  %s\n", r.ID, r.Type, memory.Truncate(strings.Join(strings.Fields(r.Content), " "), 100))
	}
}

// ─── serve ──────────────────────────────────────────────────────────────────

// ServeCmd runs the MCP server on stdin/stdout until interrupted.
type ServeCmd struct{}

func (c *ServeCmd) Run(g *Globals, ctx context.Context) error {
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	logger := g.logger(e.Config())
	logger.Info("serving MCP over stdio", "project", e.Project().ID, "root", e.Project().Root, "version", server.Version)

	stdio := mcpserver.NewStdioServer(server.New(e))
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	if err := stdio.Listen(ctx, g.Stdin, g.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serving stdio: %w", err)
	}
	return nil
}

// ─── records ────────────────────────────────────────────────────────────────

// AddCmd stores a record.
type AddCmd struct {
	Content  string   `arg:"" optional:"" help:"Record content; '-' or nothing reads stdin."`
	Type     string   `short:"t" default:"note" help:"fact, decision, code_pattern, config or note."`
	Tags     []string `help:"Comma-separated tags."`
	Source   string   `help:"Where the content came from, e.g. a file path."`
	Metadata string   `help:"JSON object stored with the record."`
}

func (c *AddCmd) Run(g *Globals, ctx context.Context) error {
	content, err := g.readArg(c.Content)
	if err != nil {
		return err
	}
	typ, err := parseType(c.Type)
	if err != nil {
		return err
	}
	meta, err := parseMetadata(c.Metadata)
	if err != nil {
		return err
	}

	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	id, err := e.Store().Add(ctx, memory.NewRecord{
		Type:     typ,
		Content:  content,
		Tags:     c.Tags,
		Source:   c.Source,
		Metadata: meta,
	})
	if err != nil {
		return err
	}
	g.printf("%s\n", id)
	return nil
}

// GetCmd prints one record.
type GetCmd struct {
	ID string `arg:"" help:"Record ID."`
}

func (c *GetCmd) Run(g *Globals, ctx context.Context) error {
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	r, err := e.Store().Get(ctx, c.ID)
	if err != nil {
		return err
	}
	g.printf("id:       %s\n", r.ID)
	g.printf("type:     %s\n", r.Type)
	g.printf("tags:     %s\n", strings.Join(r.Tags, ", "))
	if r.Source != "" {
		g.printf("source:   %s\n", r.Source)
	}
	if len(r.Metadata) > 0 {
		meta, _ := json.Marshal(r.Metadata)
		g.printf("metadata: %s\n", meta)
	}
	g.printf("created:  %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"))
	g.printf("updated:  %s\n\n", r.UpdatedAt.Format("2006-01-02 15:04:05"))
	g.printf("%s\n", r.Content)
	return nil
}

// UpdateCmd changes the given fields of a record.
type UpdateCmd struct {
	ID       string   `arg:"" help:"Record ID."`
	Content  string   `help:"New content."`
	Type     string   `short:"t" help:"New type."`
	Tags     []string `help:"New comma-separated tags, replacing the old ones."`
	Source   string   `help:"New source."`
	Metadata string   `help:"New JSON metadata object."`
}

func (c *UpdateCmd) Run(g *Globals, ctx context.Context) error {
	var patch memory.RecordPatch
	if c.Content != "" {
		patch.Content = &c.Content
	}
	if c.Type != "" {
		typ, err := parseType(c.Type)
		if err != nil {
			return err
		}
		patch.Type = &typ
	}
	patch.Tags = c.Tags
	if c.Source != "" {
		patch.Source = &c.Source
	}
	meta, err := parseMetadata(c.Metadata)
	if err != nil {
		return err
	}
	patch.Metadata = meta
	if patch.Content == nil && patch.Type == nil && patch.Tags == nil && patch.Source == nil && patch.Metadata == nil {
		return ctxerr.Validation("cli.update", "nothing to update: pass --content, --type, --tags, --source or --metadata")
	}

	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	ok, err := e.Store().Update(ctx, c.ID, patch)
	if err != nil {
		return err
	}
	if !ok {
		return ctxerr.NotFound("cli.update", c.ID)
	}
	g.printf("updated %s\n", c.ID)
	return nil
}

// DeleteCmd removes a record.
type DeleteCmd struct {
	ID string `arg:"" help:"Record ID."`
}

func (c *DeleteCmd) Run(g *Globals, ctx context.Context) error {
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	ok, err := e.Store().Delete(ctx, c.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ctxerr.NotFound("cli.delete", c.ID)
	}
	g.printf("deleted %s\n", c.ID)
	return nil
}

// ClearCmd removes every record of the project.
type ClearCmd struct {
	Yes bool `short:"y" help:"Confirm deleting every record of this project."`
}

func (c *ClearCmd) Run(g *Globals, ctx context.Context) error {
	if !c.Yes {
		return ctxerr.Validation("cli.clear", "pass --yes to delete every record of this project")
	}
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := e.Store().Clear(ctx)
	if err != nil {
		return err
	}
	g.printf("cleared %d records from %s\n", n, e.Project().ID)
	return nil
}

// ─── query ──────────────────────────────────────────────────────────────────

// SearchCmd searches records.
type SearchCmd struct {
	Query    string   `arg:"" help:"Search query."`
	Type     string   `short:"t" help:"Only records of this type."`
	Tags     []string `help:"Records must carry all of these tags (keyword search only)."`
	Semantic bool     `short:"s" help:"Rank by embedding similarity."`
	MinScore float64  `help:"Minimum similarity for semantic search."`
	Limit    int      `short:"n" help:"Max results."`
}

func (c *SearchCmd) Run(g *Globals, ctx context.Context) error {
	typ, err := parseType(c.Type)
	if err != nil {
		return err
	}
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if c.Semantic {
		results, err := e.Store().SearchSemantic(ctx, c.Query, memory.SemanticOptions{
			Type: typ, Limit: c.Limit, MinScore: c.MinScore,
		})
		if err != nil {
			return err
		}
		for _, r := range results {
			g.printf("%.3f  %s  %-12s  %s\n", r.Score, r.ID, r.Type, memory.Truncate(strings.Join(strings.Fields(r.Content), " "), 90))
		}
		return nil
	}

	results, err := e.Store().Search(ctx, c.Query, memory.SearchOptions{Type: typ, Tags: c.Tags, Limit: c.Limit})
	if err != nil {
		return err
	}
	recs := make([]memory.Record, len(results))
	for i, r := range results {
		recs[i] = r.Record
	}
	printRecords(g, recs)
	return nil
}

// ListCmd lists recent records.
type ListCmd struct {
	Type   string   `short:"t" help:"Only records of this type."`
	Tags   []string `help:"Records must carry all of these tags."`
	Limit  int      `short:"n" help:"Max results."`
	Offset int      `help:"Skip this many records."`
}

func (c *ListCmd) Run(g *Globals, ctx context.Context) error {
	typ, err := parseType(c.Type)
	if err != nil {
		return err
	}
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	recs, err := e.Store().List(ctx, memory.ListOptions{Type: typ, Tags: c.Tags, Limit: c.Limit, Offset: c.Offset})
	if err != nil {
		return err
	}
	printRecords(g, recs)
	return nil
}

// StatsCmd prints record counts.
type StatsCmd struct{}

func (c *StatsCmd) Run(g *Globals, ctx context.Context) error {
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	stats, err := e.Store().Stats(ctx)
	if err != nil {
		return err
	}
	g.printf("%s", ctxtools.FormatStats(e, stats))
	return nil
}

// RouteCmd ranks records against a task.
type RouteCmd struct {
	Task      string   `arg:"" optional:"" help:"Task description. Empty ranks by recency and type only."`
	Limit     int      `short:"n" help:"Max records (default 5, max 50)."`
	MaxTokens int      `help:"Estimated token budget of the returned records."`
	Tags      []string `help:"Tags to boost."`
	Type      string   `short:"t" help:"Only records of this type."`
	File      string   `short:"f" help:"File being worked on."`
	Explain   bool     `short:"x" help:"Show score breakdown."`
}

func (c *RouteCmd) Run(g *Globals, ctx context.Context) error {
	typ, err := parseType(c.Type)
	if err != nil {
		return err
	}
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	scored, err := e.Route(ctx, c.Task, router.Options{
		Limit:       c.Limit,
		MaxTokens:   c.MaxTokens,
		Tags:        c.Tags,
		Type:        typ,
		CurrentFile: c.File,
	})
	if err != nil {
		return err
	}
	for _, s := range scored {
		g.printf("%.3f  %s  %-12s  %s\n", s.Score, s.Record.ID, s.Record.Type,
			memory.Truncate(strings.Join(strings.Fields(s.Record.Content), " "), 90))
		if c.Explain {
			g.printf("       %s\n", s.Explanation)
		}
	}
	return nil
}

// ─── guard & fuse ───────────────────────────────────────────────────────────

// GuardCmd filters text and prints the result. Findings go to stderr so
// the output can be piped.
type GuardCmd struct {
	Content     string   `arg:"" optional:"" help:"Text to check; '-' or nothing reads stdin."`
	Filters     []string `help:"Filters to apply (default all)."`
	Mode        string   `short:"m" enum:"redact,block,warn" default:"redact" help:"redact, block or warn."`
	Replacement string   `help:"Redaction marker."`
	Strict      bool     `help:"Fail on unknown filter names."`
	List        bool     `help:"List filter names and exit."`
}

func (c *GuardCmd) Run(g *Globals, ctx context.Context) error {
	if c.List {
		for _, name := range guard.AvailableFilters() {
			g.printf("%s\n", name)
		}
		return nil
	}
	content, err := g.readArg(c.Content)
	if err != nil {
		return err
	}
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.Guard(ctx, content, guard.Options{
		Filters:     c.Filters,
		Mode:        guard.Mode(c.Mode),
		Replacement: c.Replacement,
		Strict:      c.Strict,
	})
	if err != nil {
		return err
	}
	for _, f := range res.Findings {
		fmt.Fprintf(g.Stderr, "%s: %d\n", f.Filter, f.Count)
	}
	for _, name := range res.Ignored {
		fmt.Fprintf(g.Stderr, "ignored unknown filter %q\n", name)
	}
	if !res.Blocked {
		g.printf("%s\n", res.Content)
	}
	return nil
}

// FuseCmd merges sources. Sources given as flags are declared in the order
// memory, file, text, url; --sources takes a JSON array for full control.
type FuseCmd struct {
	Memory       []string `help:"Memory source routed by this query (repeatable)." sep:"none"`
	Recent       bool     `help:"Add a memory source of the most recent records."`
	File         []string `help:"File source, relative to the project root (repeatable)." sep:"none"`
	Text         []string `help:"Inline text source (repeatable)." sep:"none"`
	URL          []string `name:"url" help:"Remote source (repeatable)." sep:"none"`
	Sources      string   `help:"JSON file with an array of sources; '-' reads stdin."`
	MaxTokens    int      `help:"Token budget (default from configuration)."`
	Dedupe       string   `help:"none, exact or semantic (default exact)."`
	Format       string   `help:"plain, markdown or structured (JSON)."`
	GuardFilters []string `help:"Guard filters for external sources."`
	GuardMode    string   `help:"Guard mode for external sources: redact, block or warn."`
	SkipGuard    bool     `help:"Do not guard external sources."`
}

func (c *FuseCmd) sources(g *Globals) ([]fusion.Source, error) {
	var out []fusion.Source
	if c.Sources != "" {
		var data []byte
		var err error
		if c.Sources == "-" {
			data, err = io.ReadAll(g.Stdin)
		} else {
			data, err = os.ReadFile(c.Sources)
		}
		if err != nil {
			return nil, fmt.Errorf("reading sources: %w", err)
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, ctxerr.Validation("cli.fuse", "--sources must hold a JSON array of sources")
		}
	}
	for _, q := range c.Memory {
		out = append(out, fusion.Source{Type: fusion.SourceMemory, Query: q})
	}
	if c.Recent {
		out = append(out, fusion.Source{Type: fusion.SourceMemory})
	}
	for _, p := range c.File {
		out = append(out, fusion.Source{Type: fusion.SourceFile, Path: p})
	}
	for _, t := range c.Text {
		out = append(out, fusion.Source{Type: fusion.SourceText, Text: t})
	}
	for _, u := range c.URL {
		out = append(out, fusion.Source{Type: fusion.SourceURL, URL: u})
	}
	return out, nil
}

func (c *FuseCmd) Run(g *Globals, ctx context.Context) error {
	sources, err := c.sources(g)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return ctxerr.Validation("cli.fuse", "no sources: pass --memory, --recent, --file, --text, --url or --sources")
	}
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	out, err := e.Fuse(ctx, sources, fusion.Options{
		MaxTokens:    c.MaxTokens,
		Dedupe:       fusion.Dedupe(c.Dedupe),
		Format:       fusion.Format(c.Format),
		GuardFilters: c.GuardFilters,
		GuardMode:    guard.Mode(c.GuardMode),
		SkipGuard:    c.SkipGuard,
	})
	if err != nil {
		return err
	}
	if out.Format == fusion.FormatStructured {
		enc := json.NewEncoder(g.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	g.printf("%s\n", ctxtools.FormatFusion(out))
	return nil
}

// ─── project & maintenance ──────────────────────────────────────────────────

// ProjectCmd prints the identity the current directory resolves to.
type ProjectCmd struct{}

func (c *ProjectCmd) Run(g *Globals) error {
	ident, err := project.Resolve(g.Dir)
	if err != nil {
		return err
	}
	marker := ident.Marker
	if marker == "" {
		marker = "(none)"
	}
	g.printf("id:     %s\n", ident.ID)
	g.printf("root:   %s\n", ident.Root)
	g.printf("marker: %s\n", marker)
	return nil
}

// ReindexCmd recomputes embeddings.
type ReindexCmd struct{}

func (c *ReindexCmd) Run(g *Globals, ctx context.Context) error {
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := e.Reindex(ctx)
	if err != nil {
		return err
	}
	g.printf("reindexed %d records with %s\n", n, e.Provider().Model())
	return nil
}

// ExportCmd writes the project's records as JSON.
type ExportCmd struct {
	Output string `short:"o" help:"Output file (default stdout)."`
}

func (c *ExportCmd) Run(g *Globals, ctx context.Context) error {
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	data, err := e.Store().Export(ctx)
	if err != nil {
		return err
	}
	w := g.Stdout
	if c.Output != "" && c.Output != "-" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", c.Output, err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// ImportCmd loads exported records into the current project.
type ImportCmd struct {
	File        string `arg:"" help:"Export file; '-' reads stdin."`
	PreserveIDs bool   `name:"preserve-ids" help:"Keep exported ids that are free, for restoring a backup."`
}

func (c *ImportCmd) Run(g *Globals, ctx context.Context) error {
	var (
		raw []byte
		err error
	)
	if c.File == "-" {
		raw, err = io.ReadAll(g.Stdin)
	} else {
		raw, err = os.ReadFile(c.File)
	}
	if err != nil {
		return fmt.Errorf("reading export: %w", err)
	}
	var data memory.ExportData
	if err := json.Unmarshal(raw, &data); err != nil {
		return ctxerr.Validation("cli.import", "not an export file")
	}

	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.Store().Import(ctx, &data, memory.ImportOptions{PreserveIDs: c.PreserveIDs})
	if err != nil {
		return err
	}
	if c.PreserveIDs {
		g.printf("imported %d records (%d reassigned ids)\n", res.Imported, res.Reassigned)
		return nil
	}
	g.printf("imported %d records\n", res.Imported)
	return nil
}
