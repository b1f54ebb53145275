// Package oxipng runs the oxipng lossless PNG optimizer as an external
// process.
package oxipng

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Skryldev/image-builder/core"
	apperrors "github.com/Skryldev/image-builder/errors"
)

// Optimizer rewrites PNG files in place with `oxipng -o <level> --strip all`.
type Optimizer struct {
	Binary  string        // name or path; resolved through PATH
	Level   string        // "0".."6" or "max"
	Timeout time.Duration // 0 = no limit
}

var _ core.Optimizer = (*Optimizer)(nil)

// New returns an Optimizer.
func New(binary, level string, timeout time.Duration) *Optimizer {
	if binary == "" {
		binary = "oxipng"
	}
	if level == "" {
		level = "3"
	}
	return &Optimizer{Binary: binary, Level: level, Timeout: timeout}
}

// Name identifies the tool and effort level for cache keys.
func (o *Optimizer) Name() string { return "oxipng:" + o.Level }

// Args returns the command line arguments for path.
func (o *Optimizer) Args(path string) []string {
	return []string{"-o", o.Level, "--strip", "all", path}
}

// Optimize runs the optimizer on path. Every failure, including a missing
// binary or a timeout, is returned as an optimize-category error.
func (o *Optimizer) Optimize(ctx context.Context, path string) error {
	binaryPath, err := exec.LookPath(o.Binary)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryOptimize, "oxipng.lookup",
			fmt.Errorf("%s: %w", o.Binary, apperrors.ErrOptimizerUnavailable))
	}

	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	args := o.Args(path)
	var stderr bytes.Buffer
	command := exec.CommandContext(ctx, binaryPath, args...)
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", o.Timeout, ctx.Err())
		}
		return apperrors.Wrap(apperrors.CategoryOptimize, "oxipng.run", formatError(o.Binary, args, &stderr, err))
	}
	return nil
}

// formatError prefers the tool's stderr over the generic exec error.
func formatError(binary string, args []string, stderr *bytes.Buffer, err error) error {
	commandString := binary + " " + strings.Join(args, " ")
	if text := strings.TrimSpace(stderr.String()); text != "" {
		return fmt.Errorf("%s: %s: %w", commandString, text, err)
	}
	return fmt.Errorf("%s: %w", commandString, err)
}

// Noop is used when the secondary pass is disabled.
type Noop struct{}

func (Noop) Name() string                           { return "" }
func (Noop) Optimize(context.Context, string) error { return nil }
