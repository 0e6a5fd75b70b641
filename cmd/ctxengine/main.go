// ctxengine: a local context engine for AI coding assistants.
//
// It stores project knowledge in SQLite, ranks it against a task, guards
// sensitive data and fuses several sources into one token-bounded block.
//
// Usage:
//
//	ctxengine serve                       # Start MCP server (stdio transport)
//	ctxengine add "Use JWT for auth" -t decision --tags auth
//	ctxengine route "implement login"
//	ctxengine fuse --memory "login" --file README.md --max-tokens 2000
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/HendryAvila/ctxengine/internal/config"
	"github.com/HendryAvila/ctxengine/internal/ctxerr"
	"github.com/HendryAvila/ctxengine/internal/engine"
	"github.com/HendryAvila/ctxengine/internal/logging"
	"github.com/HendryAvila/ctxengine/internal/server"
)

// Globals are flags shared by every command.
type Globals struct {
	Config    string `help:"Config file (default ~/.ctxengine/config.yaml)." type:"path" env:"CTXENGINE_CONFIG"`
	Dir       string `help:"Directory the project is derived from." type:"path" default:"."`
	DataDir   string `help:"Override the data directory." type:"path"`
	Embedding string `help:"Override the embedding provider (none, hash, openai, google)."`
	LogLevel  string `help:"Override the log level (debug, info, warn, error)."`

	Stdout io.Writer `kong:"-"`
	Stderr io.Writer `kong:"-"`
	Stdin  io.Reader `kong:"-"`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Print version and exit."`

	Serve   ServeCmd   `cmd:"" help:"Start the MCP server (stdio transport)."`
	Add     AddCmd     `cmd:"" help:"Store a record."`
	Get     GetCmd     `cmd:"" help:"Show a record."`
	Update  UpdateCmd  `cmd:"" help:"Update a record."`
	Delete  DeleteCmd  `cmd:"" help:"Delete a record."`
	Clear   ClearCmd   `cmd:"" help:"Delete every record of the project."`
	Search  SearchCmd  `cmd:"" help:"Search records by keyword or meaning."`
	List    ListCmd    `cmd:"" help:"List records, most recent first."`
	Stats   StatsCmd   `cmd:"" help:"Show record counts."`
	Route   RouteCmd   `cmd:"" help:"Rank records against a task."`
	Guard   GuardCmd   `cmd:"" help:"Detect and redact sensitive data."`
	Fuse    FuseCmd    `cmd:"" help:"Merge sources into one token-bounded block."`
	Project ProjectCmd `cmd:"" help:"Print the project identity and root."`
	Reindex ReindexCmd `cmd:"" help:"Recompute embeddings with the active provider."`
	Export  ExportCmd  `cmd:"" help:"Write the project's records as JSON."`
	Import  ImportCmd  `cmd:"" help:"Load records exported as JSON."`
}

func main() {
	var cli CLI
	cli.Stdout = os.Stdout
	cli.Stderr = os.Stderr
	cli.Stdin = os.Stdin
	kctx := kong.Parse(&cli,
		kong.Name("ctxengine"),
		kong.Description("Local context engine: store, route, guard and fuse project context."),
		kong.UsageOnError(),
		kong.Vars{"version": "ctxengine " + server.Version},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	kctx.BindTo(ctx, (*context.Context)(nil))

	err := kctx.Run(&cli.Globals)
	stop()
	kctx.FatalIfErrorf(publicError(err))
}

// publicError renders engine errors as "[kind] message", dropping internal
// causes.
func publicError(err error) error {
	var ce *ctxerr.Error
	if err == nil || !errors.As(err, &ce) {
		return err
	}
	kind, msg := ctxerr.Public(err)
	return fmt.Errorf("[%s] %s", kind, msg)
}

// load reads the configuration and applies flag overrides.
func (g *Globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.DataDir != "" {
		cfg.DataDir = g.DataDir
	}
	if g.Embedding != "" {
		cfg.Embedding.Provider = g.Embedding
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *Globals) logger(cfg *config.Config) *slog.Logger {
	return logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: g.Stderr})
}

// open loads the configuration and opens the engine for g.Dir.
func (g *Globals) open(ctx context.Context) (*engine.Engine, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	return engine.Open(ctx, engine.Options{
		Config: cfg,
		Dir:    g.Dir,
		Logger: g.logger(cfg),
	})
}

func (g *Globals) printf(format string, args ...any) {
	fmt.Fprintf(g.Stdout, format, args...)
}
