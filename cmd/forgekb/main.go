// Command forgekb runs the Forge knowledge-base and agent service.
//
// Usage:
//
//	forgekb serve --config config.yaml
//	forgekb version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/forge-ai/forge-kb/config"
	"github.com/forge-ai/forge-kb/server"
	"github.com/forge-ai/forge-kb/store"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Start the HTTP API server."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"config.yaml"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("forgekb version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP API server.
type ServeCmd struct {
	Host string `help:"Listen host, overrides config."`
	Port int    `help:"Listen port, overrides config."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer st.Close()

	if err := st.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return server.New(cfg, st).ListenAndServe(ctx)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("forgekb"),
		kong.Description("Knowledge-base, retrieval and agent orchestration service."),
		kong.UsageOnError(),
	)

	setupLogging(cli.LogLevel)

	if err := kctx.Run(cli); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}
