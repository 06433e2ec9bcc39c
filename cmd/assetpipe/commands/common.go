package commands

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/assetpipe/internal/config"
)

// Global is shared state handed to every command.
type Global struct {
	Context context.Context
	Out     io.Writer
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"assetpipe.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`
	Src     string           `name:"src" help:"Override src_dir"`
	Dist    string           `name:"dist" help:"Override dist_dir"`
	Port    int              `name:"port" help:"Override server.port"`

	Run      RunCmd      `cmd:"" default:"withargs" help:"Run tasks (default: build, serve and watch)"`
	Tasks    TasksCmd    `cmd:"" help:"List registered tasks"`
	Manifest ManifestCmd `cmd:"" help:"Print the asset manifest of the last build"`
	History  HistoryCmd  `cmd:"" help:"Show recent build events"`
	Init     InitCmd     `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// LoadConfig loads the configuration file and applies flag overrides.
func (c *CLI) LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.Src != "" {
		cfg.SrcDir = c.Src
	}
	if c.Dist != "" {
		cfg.DistDir = c.Dist
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *Global) ctx() context.Context {
	if g == nil || g.Context == nil {
		return context.Background()
	}
	return g.Context
}

func (g *Global) out() io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}
