// Package main provides the propscout binary entry point.
// PropScout assembles zoning, land-use, title and violation data for an NYC
// tax lot from public datasets and the PropertyScout API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/propscout/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "propscout"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	jsonOut    bool

	logger *slog.Logger
	cfg    *config.Config
}

func rootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "NYC property enrichment",
		Long: `PropScout builds a property report for an NYC address or BBL.

A report combines:
- PLUTO lot, building and zoning data
- ACRIS deeds, mortgages and liens
- HPD, DOB and ECB violations and DOB permits
- PropertyScout insights when an API key is configured

Every upstream response is cached and counted against the monthly budget.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			g.logger = newLogger(g.logLevel)
			slog.SetDefault(g.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "Print JSON instead of text")

	cmd.AddCommand(
		enrichCmd(g),
		bblCmd(g),
		autocompleteCmd(g),
		rezoningsCmd(g),
		titleReportCmd(g),
		propertyScoutCmd(g),
		usageCmd(g),
		cacheCmd(g),
		apiKeyCmd(g),
		serveCmd(g),
		initCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelWarn
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadConfig reads --config when given, otherwise the layered defaults.
func (g *globals) loadConfig() (*config.Config, error) {
	if g.cfg != nil {
		return g.cfg, nil
	}
	loader := config.NewLoader(g.logger)
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = loader.LoadPath(g.configPath)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	g.cfg = cfg
	return cfg, nil
}

// watchPath is the file serve reloads on change.
func (g *globals) watchPath() string {
	if g.configPath != "" {
		return g.configPath
	}
	return config.NewLoader(g.logger).ConfigPath()
}

// withApp builds the App, runs fn and closes the App.
func (g *globals) withApp(ctx context.Context, fn func(context.Context, *App) error) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, g.logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}
