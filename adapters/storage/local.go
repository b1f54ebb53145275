// Package storage provides the content-addressed artifact cache.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Skryldev/image-builder/core"
	apperrors "github.com/Skryldev/image-builder/errors"
	"github.com/Skryldev/image-builder/utils"
)

// Local stores artifacts on the local filesystem as
// <root>/<key>/<relative output path>. Entries are written once and never
// removed; deleting the whole root forces a full rebuild.
type Local struct {
	rootDir     string
	permissions os.FileMode
}

var _ core.CacheStore = (*Local)(nil)

// NewLocal creates a Local cache rooted at dir.
func NewLocal(dir string, perm os.FileMode) (*Local, error) {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "local.new", fmt.Errorf("mkdir %s: %w", dir, err))
	}
	return &Local{rootDir: dir, permissions: perm}, nil
}

// Root returns the cache directory.
func (l *Local) Root() string { return l.rootDir }

func (l *Local) absPath(key core.CacheKey, relPath string) (string, error) {
	k := string(key)
	if k == "" || strings.ContainsAny(k, `/\`) || k == "." || k == ".." {
		return "", fmt.Errorf("invalid cache key %q", k)
	}
	rel := filepath.Clean(filepath.FromSlash(relPath))
	if rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid artifact path %q", relPath)
	}
	return filepath.Join(l.rootDir, k, rel), nil
}

// HasAll stats every artifact concurrently and reports true only when all
// of them exist. A partial entry is a miss.
func (l *Local) HasAll(ctx context.Context, key core.CacheKey, relPaths ...string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryCache, "local.has", err)
	}
	if len(relPaths) == 0 {
		return false, nil
	}

	found := make([]bool, len(relPaths))
	errs := make([]error, len(relPaths))
	var wg sync.WaitGroup
	for i, rel := range relPaths {
		wg.Add(1)
		go func(i int, rel string) {
			defer wg.Done()
			found[i], errs[i] = l.exists(key, rel)
		}(i, rel)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryCache, "local.has", err)
	}
	for _, ok := range found {
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (l *Local) exists(key core.CacheKey, relPath string) (bool, error) {
	path, err := l.absPath(key, relPath)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err == nil {
		return info.Mode().IsRegular(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Get returns the cached bytes of one artifact, or an error wrapping
// ErrCacheMiss.
func (l *Local) Get(ctx context.Context, key core.CacheKey, relPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "local.get", err)
	}
	path, err := l.absPath(key, relPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "local.get", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.Wrap(apperrors.CategoryCache, "local.get", fmt.Errorf("%s/%s: %w", key, relPath, apperrors.ErrCacheMiss))
		}
		return nil, apperrors.Wrap(apperrors.CategoryCache, "local.get.read", err)
	}
	return data, nil
}

// Put writes one artifact. The bytes land in a temp file in the target
// directory and are renamed into place, so readers never see a partial
// file and racing producers of the same key each leave a complete copy.
func (l *Local) Put(ctx context.Context, key core.CacheKey, relPath string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.put", err)
	}
	path, err := l.absPath(key, relPath)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.put", err)
	}
	if err := utils.WriteFileAtomic(path, data, l.permissions); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.put.write", err)
	}
	return nil
}

// CopyTo copies a cached artifact to dst, creating parent directories.
func (l *Local) CopyTo(ctx context.Context, key core.CacheKey, relPath, dst string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.copy", err)
	}
	path, err := l.absPath(key, relPath)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.copy", err)
	}

	src, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperrors.Wrap(apperrors.CategoryCache, "local.copy", fmt.Errorf("%s/%s: %w", key, relPath, apperrors.ErrCacheMiss))
		}
		return apperrors.Wrap(apperrors.CategoryCache, "local.copy.open", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryOutput, "local.copy.mkdir", err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, l.permissions)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryOutput, "local.copy.create", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return apperrors.Wrap(apperrors.CategoryOutput, "local.copy.write", err)
	}
	if err := out.Close(); err != nil {
		return apperrors.Wrap(apperrors.CategoryOutput, "local.copy.close", err)
	}
	return nil
}
