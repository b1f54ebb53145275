package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	apperrors "github.com/Skryldev/image-builder/errors"
	"github.com/Skryldev/image-builder/utils"
)

// Marshal renders the manifest as 2-space indented JSON with sorted keys.
func (m Manifest) Marshal() ([]byte, error) {
	if m == nil {
		m = Manifest{}
	}
	return json.MarshalIndent(m, "", "  ")
}

// WriteManifest replaces the manifest file atomically. The previous
// contents are never merged.
func WriteManifest(path string, m Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryManifest, "manifest.encode", err)
	}
	if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.CategoryManifest, "manifest.write", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryManifest, "manifest.read", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryManifest, "manifest.decode", err)
	}
	return m, nil
}

// verify probes every emitted file and compares its dimensions with the
// expected ones. All mismatches are reported together.
func verify(expected []expectation) error {
	var errs []error
	for _, e := range expected {
		data, err := os.ReadFile(e.path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		w, h, _, err := utils.Probe(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.path, err))
			continue
		}
		if w != e.width || h != e.height {
			errs = append(errs, fmt.Errorf("%s: got %dx%d, want %dx%d", e.path, w, h, e.width, e.height))
		}
	}
	if len(errs) > 0 {
		return apperrors.Wrap(apperrors.CategoryOutput, "verify", errors.Join(errs...))
	}
	return nil
}
