package imagebuilder

import (
	"github.com/Skryldev/image-builder/cachekey"
	"github.com/Skryldev/image-builder/core"
)

// rebuild wires a fresh driver from the current components. The hasher is
// rebuilt with it so the optimizer identity in every key stays current.
func (b *Builder) rebuild() {
	b.inner = core.New(b.cfg, core.Components{
		Registry:   b.reg,
		Planner:    b.planner,
		Hasher:     cachekey.NewHasher(b.cfg.CacheVersion, b.optimizer.Name()),
		Store:      b.store,
		Transcoder: b.transcoder,
	})
	b.inner.SetLogger(b.logger)
	b.inner.SetMetrics(b.metrics)
}

// Inner returns the underlying core.Processor for advanced use.
// Prefer the Builder API for normal usage.
func (b *Builder) Inner() *core.Processor { return b.inner }

// Registry exposes the codec registry.
func (b *Builder) Registry() core.Registry { return b.reg }
