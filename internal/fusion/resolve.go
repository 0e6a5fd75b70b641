package fusion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/guard"
	"github.com/HendryAvila/ctxengine/internal/memory"
	"github.com/HendryAvila/ctxengine/internal/router"
)

// span is one unit of dedupe and budgeting: a record for memory sources,
// a paragraph otherwise.
type span struct {
	text     string
	recordID string
}

type resolved struct {
	src      *Source
	attr     Attribution
	spans    []span
	warnings []string
}

func validateSource(op string, i int, s *Source) error {
	if s.MaxTokens < 0 || s.Limit < 0 {
		return ctxerr.Validation(op, "source %d: max tokens and limit must not be negative", i)
	}
	switch s.Type {
	case SourceMemory, SourceText:
	case SourceFile:
		if strings.TrimSpace(s.Path) == "" {
			return ctxerr.Validation(op, "source %d: file source needs a path", i)
		}
	case SourceURL:
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ctxerr.Validation(op, "source %d: url source needs an absolute http(s) url", i)
		}
	default:
		return ctxerr.Validation(op, "source %d: unknown source type %q (want memory, file, text or url)", i, s.Type)
	}
	if s.RecordType != "" && !s.RecordType.Valid() {
		return ctxerr.Validation(op, "source %d: unknown record type %q", i, s.RecordType)
	}
	return nil
}

// labelOf returns a one-line label. URL credentials are masked.
func labelOf(i int, s *Source) string {
	label := s.Label
	if label == "" {
		switch s.Type {
		case SourceMemory:
			label = "memory"
			if s.Query != "" {
				label = "memory: " + s.Query
			}
		case SourceFile:
			label = s.Path
		case SourceURL:
			if u, err := url.Parse(s.URL); err == nil {
				label = u.Redacted()
			}
		default:
			label = fmt.Sprintf("text %d", i+1)
		}
	}
	return strings.Join(strings.Fields(label), " ")
}

// resolveAll resolves every source with bounded parallelism. Only a
// storage failure is returned as an error.
func (f *Fuser) resolveAll(ctx context.Context, sources []Source, opts Options) ([]*resolved, error) {
	out := make([]*resolved, len(sources))
	var g errgroup.Group
	g.SetLimit(f.cfg.Parallel)
	for i := range sources {
		g.Go(func() error {
			r, err := f.resolve(ctx, i, &sources[i], opts)
			out[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Fuser) resolve(ctx context.Context, i int, src *Source, opts Options) (*resolved, error) {
	r := &resolved{
		src: src,
		attr: Attribution{
			Index:  i,
			Type:   src.Type,
			Label:  labelOf(i, src),
			Status: StatusOK,
		},
	}

	sctx, cancel := context.WithTimeout(ctx, opts.SourceTimeout)
	defer cancel()

	if src.Type == SourceMemory {
		recs, err := f.memory(sctx, src)
		if err != nil {
			if ctxerr.Is(err, ctxerr.KindStorageFailure) {
				return nil, err
			}
			f.fail(r, err)
			return r, nil
		}
		for _, rec := range recs {
			r.spans = append(r.spans, span{text: rec.Content, recordID: rec.ID})
		}
		if len(r.spans) == 0 {
			r.attr.Status = StatusEmpty
		}
		return r, nil
	}

	text, clipped, err := f.external(sctx, src)
	if err != nil {
		f.fail(r, err)
		return r, nil
	}
	if clipped {
		r.warnings = append(r.warnings, fmt.Sprintf(
			"source %d: content exceeds %d bytes, only the first %d were used", i, f.cfg.MaxBytes, f.cfg.MaxBytes))
	}

	if !opts.SkipGuard {
		res, err := guard.Filter(text, guard.Options{Filters: opts.GuardFilters, Mode: opts.GuardMode})
		if err != nil {
			return nil, err
		}
		r.attr.Guard = res.Findings
		if res.Blocked {
			r.attr.Status = StatusBlocked
			f.logger.Info("source blocked by guard", "index", i, "type", src.Type, "findings", guard.Total(res.Findings))
			return r, nil
		}
		text = res.Content
	}

	for _, p := range splitParagraphs(text) {
		r.spans = append(r.spans, span{text: p})
	}
	if len(r.spans) == 0 {
		r.attr.Status = StatusEmpty
	}
	return r, nil
}

func (f *Fuser) fail(r *resolved, err error) {
	kind, msg := ctxerr.Public(err)
	r.attr.Status = StatusFailed
	r.attr.ErrorKind = kind
	r.attr.Error = msg
	f.logger.Warn("source unavailable, skipping", "index", r.attr.Index, "type", r.attr.Type, "kind", kind)
}

func (f *Fuser) memory(ctx context.Context, src *Source) ([]memory.Record, error) {
	const op = "fusion.memory"
	if src.Query != "" {
		if f.cfg.Router == nil {
			return nil, ctxerr.CapabilityUnavailable(op, "routing")
		}
		return f.cfg.Router.Route(ctx, src.Query, router.Options{
			Limit: src.Limit,
			Type:  src.RecordType,
			Tags:  src.Tags,
		})
	}
	if f.cfg.Store == nil {
		return nil, ctxerr.CapabilityUnavailable(op, "record store")
	}
	return f.cfg.Store.List(ctx, memory.ListOptions{
		Type:  src.RecordType,
		Tags:  src.Tags,
		Limit: src.Limit,
	})
}

// external returns the raw text of a non-memory source and whether it was
// clipped to MaxBytes.
func (f *Fuser) external(ctx context.Context, src *Source) (string, bool, error) {
	switch src.Type {
	case SourceFile:
		return f.readFile(ctx, src.Path)
	case SourceURL:
		return f.fetch(ctx, src.URL)
	default:
		return src.Text, false, nil
	}
}

func (f *Fuser) readFile(ctx context.Context, path string) (string, bool, error) {
	const op = "fusion.readFile"
	if f.cfg.BaseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(f.cfg.BaseDir, path)
	}
	file, err := os.Open(path)
	if err != nil {
		return "", false, ctxerr.E(op, ctxerr.KindSourceUnavailable, "file could not be opened", err)
	}
	defer file.Close()
	return readBounded(ctx, op, file, f.cfg.MaxBytes)
}

func (f *Fuser) fetch(ctx context.Context, rawURL string) (string, bool, error) {
	const op = "fusion.fetch"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", false, ctxerr.Validation(op, "invalid url")
	}
	req.Header.Set("Accept", "text/plain, text/markdown;q=0.9, */*;q=0.5")

	rsp, err := f.client.Do(req)
	if err != nil {
		return "", false, ctxerr.Provider(op, err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode >= 400 {
		return "", false, ctxerr.E(op, ctxerr.KindSourceUnavailable, fmt.Sprintf("http status %d", rsp.StatusCode), nil)
	}
	return readBounded(ctx, op, rsp.Body, f.cfg.MaxBytes)
}

// readBounded reads at most limit bytes, checking ctx between reads.
func readBounded(ctx context.Context, op string, r io.Reader, limit int64) (string, bool, error) {
	data, err := io.ReadAll(io.LimitReader(ctxReader{ctx: ctx, r: r}, limit+1))
	if err != nil {
		return "", false, ctxerr.Provider(op, err)
	}
	clipped := int64(len(data)) > limit
	if clipped {
		data = data[:limit]
	}
	return strings.ToValidUTF8(string(data), ""), clipped, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// splitParagraphs splits text on blank lines, trimming each paragraph and
// dropping empty ones.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range blankLine.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
