// Package cachekey derives content-addressed cache keys from source bytes
// and a canonical description of every transformation parameter.
package cachekey

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/Skryldev/image-builder/core"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, shortest integer forms, no indefinite lengths. The same Settings
// always serialize to the same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cachekey: CBOR encoder initialization failed: " + err.Error())
	}
}

// domainKey separates cache-key digests from any other BLAKE3 use of the
// same bytes. ASCII "imagebuild.cachekey", zero-padded to 32 bytes.
var domainKey = [32]byte{
	'i', 'm', 'a', 'g', 'e', 'b', 'u', 'i', 'l', 'd', '.', 'c', 'a', 'c', 'h', 'e',
	'k', 'e', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Artifact is the hashed description of one output file.
type Artifact struct {
	Role        core.ArtifactRole  `cbor:"role"`
	Format      core.Format        `cbor:"format"`
	Passthrough bool               `cbor:"passthrough,omitempty"`
	Options     core.EncodeOptions `cbor:"options"`
	// Optimizer is the optimizer identity when the secondary pass runs.
	Optimizer string `cbor:"optimizer,omitempty"`
}

// Settings is the TransformSettings value: everything that affects the
// bytes of one variant. Two Settings are equal iff Canonical() is
// byte-identical.
type Settings struct {
	CacheVersion string     `cbor:"cache_version"`
	SourceFormat string     `cbor:"source_format"` // lowercased extension, e.g. ".png"
	Width        int        `cbor:"width,omitempty"`
	Artifacts    []Artifact `cbor:"artifacts"`
}

// Canonical returns the deterministic serialization of s.
func (s Settings) Canonical() ([]byte, error) {
	return encMode.Marshal(s)
}

// Key computes the cache key over data ‖ canonical(settings). Both parts
// are length-prefixed so no (data, settings) pair can alias another.
func Key(data []byte, settings Settings) (core.CacheKey, error) {
	canonical, err := settings.Canonical()
	if err != nil {
		return "", fmt.Errorf("cachekey: encoding settings: %w", err)
	}

	hasher, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		return "", fmt.Errorf("cachekey: BLAKE3 keyed hash initialization: %w", err)
	}
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	hasher.Write(length[:])
	hasher.Write(data)
	binary.BigEndian.PutUint64(length[:], uint64(len(canonical)))
	hasher.Write(length[:])
	hasher.Write(canonical)

	return core.CacheKey(hex.EncodeToString(hasher.Sum(nil))), nil
}

// Hasher builds Settings for planned variants and keys them.
type Hasher struct {
	version   string
	optimizer string
}

var _ core.Hasher = (*Hasher)(nil)

// NewHasher returns a Hasher. optimizer is the Optimizer.Name() of the
// secondary PNG pass, or "" when it is disabled.
func NewHasher(version, optimizer string) *Hasher {
	return &Hasher{version: version, optimizer: optimizer}
}

// SettingsFor assembles the Settings of one variant.
func (h *Hasher) SettingsFor(src *core.SourceImage, v core.Variant) Settings {
	s := Settings{
		CacheVersion: h.version,
		SourceFormat: strings.ToLower(src.Ext),
		Width:        v.Width,
		Artifacts:    make([]Artifact, 0, len(v.Artifacts)),
	}
	for _, a := range v.Artifacts {
		art := Artifact{
			Role:        a.Role,
			Format:      a.Format,
			Passthrough: a.Passthrough,
			Options:     a.Options,
		}
		if a.Optimize {
			art.Optimizer = h.optimizer
		}
		s.Artifacts = append(s.Artifacts, art)
	}
	return s
}

// Key implements core.Hasher.
func (h *Hasher) Key(src *core.SourceImage, v core.Variant) (core.CacheKey, error) {
	return Key(src.Data, h.SettingsFor(src, v))
}
