// Command imagebuild builds responsive image variants for a static site.
//
// Usage:
//
//	imagebuild [--config images.yaml] [--source src/images] [--output _site/images] ...
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	imagebuilder "github.com/Skryldev/image-builder"
	"github.com/Skryldev/image-builder/config"
	"github.com/Skryldev/image-builder/hooks"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := parseConfig(args, stderr)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}

	b, err := imagebuilder.New(cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	b.SetLogger(logger)

	report, err := b.Run(ctx)
	if cfg.MetricsFile != "" {
		if werr := b.Metrics().WriteTextfile(cfg.MetricsFile); werr != nil {
			logger.Warn("metrics.write_failed", "path", cfg.MetricsFile, "error", werr)
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, report.Summary())
	return nil
}

// parseConfig loads the optional config file, then applies flags that were
// set explicitly on top of it.
func parseConfig(args []string, stderr io.Writer) (config.Config, error) {
	fs := pflag.NewFlagSet("imagebuild", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	def := config.Default()
	configPath := fs.StringP("config", "c", "", "YAML or JSONC config file")
	source := fs.String("source", def.SourceDir, "source image tree")
	output := fs.String("output", def.OutputDir, "output tree (wiped every run)")
	cache := fs.String("cache", def.CacheDir, "variant cache directory")
	manifest := fs.String("manifest", def.ManifestPath, "dimension manifest path")
	workers := fs.IntP("workers", "j", def.Workers, "files processed in parallel (0 = all CPUs)")
	backend := fs.String("backend", string(def.Backend), "codec backend: vips or native")
	logLevel := fs.String("log-level", def.LogLevel, "debug, info, warn or error")
	logFormat := fs.String("log-format", def.LogFormat, "text or json")
	metricsFile := fs.String("metrics-file", "", "write Prometheus metrics to this textfile")
	verify := fs.Bool("verify", def.Verify, "probe every emitted variant after the build")
	noOptimize := fs.Bool("no-optimize", false, "skip the secondary PNG optimizer")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if fs.NArg() > 0 {
		return config.Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := def
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			return config.Config{}, err
		}
	}

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("source", func() { cfg.SourceDir = *source })
	set("output", func() { cfg.OutputDir = *output })
	set("cache", func() { cfg.CacheDir = *cache })
	set("manifest", func() { cfg.ManifestPath = *manifest })
	set("workers", func() { cfg.Workers = *workers })
	set("backend", func() { cfg.Backend = config.Backend(*backend) })
	set("log-level", func() { cfg.LogLevel = *logLevel })
	set("log-format", func() { cfg.LogFormat = *logFormat })
	set("metrics-file", func() { cfg.MetricsFile = *metricsFile })
	set("verify", func() { cfg.Verify = *verify })
	set("no-optimize", func() { cfg.Optimizer.Enabled = !*noOptimize })
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) (*hooks.SlogLogger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	return hooks.NewSlogLogger(slog.New(handler)).With("run", uuid.NewString()), nil
}
