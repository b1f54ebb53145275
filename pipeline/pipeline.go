// Package pipeline runs the transcoding stages of one variant and reports
// them to hooks.
package pipeline

import (
	"context"
	"time"

	"github.com/Skryldev/image-builder/core"
	apperrors "github.com/Skryldev/image-builder/errors"
)

// Pipeline executes a sequence of Steps with hook support. Steps work on a
// single VariantData in place.
type Pipeline struct {
	steps []core.Step
	hooks []core.Hook
}

// New returns an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// Use appends a step to the pipeline.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer.
func (p *Pipeline) AddHook(h ...core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h...)
	return p
}

// Steps returns the names of the configured steps in order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Run executes the pipeline on data. It returns the final VariantData and
// per-step timings. The first failing step stops the run.
func (p *Pipeline) Run(ctx context.Context, data *core.VariantData) (*core.VariantData, map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.steps))
	current := data

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return current, timings, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}

		result, elapsed, err := p.runStep(ctx, step, current)
		timings[step.Name()] += elapsed
		if err != nil {
			return current, timings, err
		}
		current = result
	}
	return current, timings, nil
}

func (p *Pipeline) runStep(ctx context.Context, step core.Step, data *core.VariantData) (*core.VariantData, time.Duration, error) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, step.Name(), data)
	}

	start := time.Now()
	result, err := step.Execute(ctx, data)
	elapsed := time.Since(start)
	if result == nil {
		result = data
	}

	for _, h := range p.hooks {
		h.AfterStep(ctx, step.Name(), result, elapsed, err)
	}
	return result, elapsed, err
}
