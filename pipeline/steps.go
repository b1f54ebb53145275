package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/Skryldev/image-builder/core"
	apperrors "github.com/Skryldev/image-builder/errors"
)

// ── Resize ────────────────────────────────────────────────────────────────────

// ResizeStep scales the shared decode to Width. Width 0 keeps the original
// size and the decode is used as is. The resized copy is released after
// encoding.
type ResizeStep struct {
	Width int
}

func (s *ResizeStep) Name() string { return "resize" }

func (s *ResizeStep) Execute(ctx context.Context, data *core.VariantData) (*core.VariantData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if data.Image == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	if s.Width == 0 {
		return data, nil
	}

	resized, err := data.Image.Resize(s.Width)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	data.Image = resized
	data.Temporaries = append(data.Temporaries, resized)
	return data, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the current image into one artifact using the
// registry.
type EncodeStep struct {
	Registry core.Registry
	Artifact core.ArtifactSpec
}

func (s *EncodeStep) Name() string { return "encode." + string(s.Artifact.Role) }

func (s *EncodeStep) Execute(ctx context.Context, data *core.VariantData) (*core.VariantData, error) {
	if data.Image == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(), apperrors.ErrEmptyInput)
	}
	enc, ok := s.Registry.EncoderFor(s.Artifact.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, s.Artifact.Format))
	}

	encoded, err := enc.Encode(ctx, data.Image, s.Artifact.Format, s.Artifact.Options)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, s.Name()+" "+s.Artifact.RelPath, err)
	}
	if len(encoded) == 0 {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(), apperrors.ErrEmptyInput)
	}
	data.Artifacts[s.Artifact.Role] = encoded
	return data, nil
}

// ── Optimize ──────────────────────────────────────────────────────────────────

// OptimizeStep runs the secondary lossless pass on an encoded artifact.
// Optimizer failures are logged and recorded as warnings and the
// first-pass bytes are kept. Temp file I/O failures are fatal.
type OptimizeStep struct {
	Optimizer core.Optimizer
	Artifact  core.ArtifactSpec
	TempDir   string // "" = os.TempDir()
	Logger    core.Logger
}

func (s *OptimizeStep) Name() string { return "optimize" }

func (s *OptimizeStep) Execute(ctx context.Context, data *core.VariantData) (*core.VariantData, error) {
	encoded, ok := data.Artifacts[s.Artifact.Role]
	if !ok {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("no %s artifact to optimize", s.Artifact.Role))
	}

	tmp, err := os.CreateTemp(s.TempDir, "imagebuild-*"+path.Ext(s.Artifact.RelPath))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "optimize.tempfile", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "optimize.tempfile", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "optimize.tempfile", err)
	}

	if err := s.Optimizer.Optimize(ctx, tmpName); err != nil {
		warning := apperrors.Wrap(apperrors.CategoryOptimize, s.Artifact.RelPath, err)
		s.logger().Warn("optimizer skipped", "file", s.Artifact.RelPath, "error", err)
		data.Warnings = append(data.Warnings, warning)
		return data, nil
	}

	optimized, err := os.ReadFile(tmpName)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "optimize.readback", err)
	}
	if len(optimized) == 0 {
		data.Warnings = append(data.Warnings, apperrors.New(apperrors.CategoryOptimize, s.Artifact.RelPath, apperrors.ErrEmptyInput))
		s.logger().Warn("optimizer produced an empty file, keeping first pass", "file", s.Artifact.RelPath)
		return data, nil
	}
	data.Artifacts[s.Artifact.Role] = optimized
	return data, nil
}

func (s *OptimizeStep) logger() core.Logger {
	if s.Logger == nil {
		return core.NopLogger{}
	}
	return s.Logger
}

// ── Passthrough ───────────────────────────────────────────────────────────────

// PassthroughStep copies the source bytes unchanged.
type PassthroughStep struct {
	Artifact core.ArtifactSpec
}

func (s *PassthroughStep) Name() string { return "passthrough" }

func (s *PassthroughStep) Execute(_ context.Context, data *core.VariantData) (*core.VariantData, error) {
	if len(data.Source.Data) == 0 {
		return nil, apperrors.New(apperrors.CategorySource, s.Name(), apperrors.ErrEmptyInput)
	}
	data.Artifacts[s.Artifact.Role] = data.Source.Data
	return data, nil
}
