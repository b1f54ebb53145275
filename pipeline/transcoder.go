package pipeline

import (
	"context"
	"fmt"

	"github.com/Skryldev/image-builder/core"
	apperrors "github.com/Skryldev/image-builder/errors"
)

// Transcoder turns one planned variant into artifact bytes by running a
// stage chain built for that variant.
type Transcoder struct {
	registry  core.Registry
	optimizer core.Optimizer
	tempDir   string
	hooks     []core.Hook
	logger    core.Logger
}

var _ core.Transcoder = (*Transcoder)(nil)

// NewTranscoder returns a Transcoder. optimizer may be nil when no artifact
// is planned with Optimize.
func NewTranscoder(registry core.Registry, optimizer core.Optimizer, tempDir string) *Transcoder {
	return &Transcoder{
		registry:  registry,
		optimizer: optimizer,
		tempDir:   tempDir,
		logger:    core.NopLogger{},
	}
}

// AddHook registers an observer for every stage.
func (t *Transcoder) AddHook(h core.Hook) { t.hooks = append(t.hooks, h) }

// SetLogger replaces the logger used for optimizer warnings.
func (t *Transcoder) SetLogger(l core.Logger) { t.logger = l }

// SetOptimizer replaces the secondary optimizer.
func (t *Transcoder) SetOptimizer(o core.Optimizer) { t.optimizer = o }

// Steps builds the stage chain of v: an optional resize, then for every
// artifact an encode (or passthrough) and, when planned, an optimize.
func (t *Transcoder) Steps(v core.Variant) []core.Step {
	var steps []core.Step
	if v.NeedsDecode() {
		steps = append(steps, &ResizeStep{Width: v.Width})
	}
	for _, a := range v.Artifacts {
		if a.Passthrough {
			steps = append(steps, &PassthroughStep{Artifact: a})
			continue
		}
		steps = append(steps, &EncodeStep{Registry: t.registry, Artifact: a})
		if a.Optimize && t.optimizer != nil {
			steps = append(steps, &OptimizeStep{
				Optimizer: t.optimizer,
				Artifact:  a,
				TempDir:   t.tempDir,
				Logger:    t.logger,
			})
		}
	}
	return steps
}

// Transcode produces every artifact of v. img is the shared decode of src
// and is never closed here; resized copies are.
func (t *Transcoder) Transcode(ctx context.Context, src *core.SourceImage, img core.Image, v core.Variant) (*core.VariantData, error) {
	if len(v.Artifacts) == 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "transcode", fmt.Errorf("%s: variant has no artifacts", src.RelPath))
	}
	if v.NeedsDecode() && img == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, "transcode", apperrors.ErrEmptyInput)
	}

	data := &core.VariantData{
		Source:    src,
		Variant:   v,
		Image:     img,
		Artifacts: make(map[core.ArtifactRole][]byte, len(v.Artifacts)),
	}
	defer data.Release()

	p := New().Use(t.Steps(v)...).AddHook(t.hooks...)
	if _, _, err := p.Run(ctx, data); err != nil {
		return nil, err
	}

	for _, a := range v.Artifacts {
		if len(data.Artifacts[a.Role]) == 0 {
			return nil, apperrors.New(apperrors.CategoryPipeline, "transcode",
				fmt.Errorf("%s: no bytes produced", a.RelPath))
		}
	}
	data.Image = nil
	return data, nil
}
