package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Backend selects the codec implementation.
type Backend string

const (
	BackendVips   Backend = "vips"
	BackendNative Backend = "native"
)

// OptimizerLevelEnv overrides Optimizer.Level for one-off builds,
// e.g. OXIPNG_LEVEL=4.
const OptimizerLevelEnv = "OXIPNG_LEVEL"

// Config is the top-level configuration struct. Default() reproduces the
// build constants; a config file only needs the fields it changes.
type Config struct {
	// Directories.
	SourceDir    string `yaml:"source_dir" json:"source_dir"`
	OutputDir    string `yaml:"output_dir" json:"output_dir"` // wiped every run
	CacheDir     string `yaml:"cache_dir" json:"cache_dir"`
	ManifestPath string `yaml:"manifest_path" json:"manifest_path"`
	TempDir      string `yaml:"temp_dir" json:"temp_dir"` // "" = os.TempDir()

	// Worker pool. Files are processed by this many goroutines; 1 keeps
	// the build strictly sequential.
	Workers int     `yaml:"workers" json:"workers"`
	Backend Backend `yaml:"backend" json:"backend"`

	// CacheVersion is hashed into every cache key. Bump it when transcoding
	// logic changes in a way the encode options do not capture.
	CacheVersion string `yaml:"cache_version" json:"cache_version"`

	// Variant policy.
	Widths        []int    `yaml:"widths" json:"widths"`
	NoWebP        []string `yaml:"no_webp" json:"no_webp"`               // base names
	NonResponsive []string `yaml:"non_responsive" json:"non_responsive"` // base names

	// Encoders.
	WebP WebPConfig `yaml:"webp" json:"webp"`
	PNG  PNGConfig  `yaml:"png" json:"png"`
	JPEG JPEGConfig `yaml:"jpeg" json:"jpeg"`

	Optimizer OptimizerConfig `yaml:"optimizer" json:"optimizer"`
	Vips      VipsConfig      `yaml:"vips" json:"vips"`

	// Post-build checks and reporting.
	Verify      bool   `yaml:"verify" json:"verify"`
	MetricsFile string `yaml:"metrics_file" json:"metrics_file"`

	// Logging.
	LogLevel  string `yaml:"log_level" json:"log_level"`   // "debug", "info", "warn", "error"
	LogFormat string `yaml:"log_format" json:"log_format"` // "text", "json"
}

// WebPConfig controls WebP siblings.
type WebPConfig struct {
	Quality int `yaml:"quality" json:"quality"` // lossy siblings of JPEG sources
	Effort  int `yaml:"effort" json:"effort"`   // 0-6
}

// PNGConfig controls the first-pass PNG encoder.
type PNGConfig struct {
	CompressionLevel  int  `yaml:"compression_level" json:"compression_level"` // 0-9
	AdaptiveFiltering bool `yaml:"adaptive_filtering" json:"adaptive_filtering"`
}

// JPEGConfig controls JPEG re-encoding.
type JPEGConfig struct {
	Quality        int  `yaml:"quality" json:"quality"`
	OptimizeCoding bool `yaml:"optimize_coding" json:"optimize_coding"`
}

// OptimizerConfig configures the secondary lossless PNG pass.
type OptimizerConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Binary  string `yaml:"binary" json:"binary"`
	Level   string `yaml:"level" json:"level"`     // "0".."6" or "max"
	Timeout string `yaml:"timeout" json:"timeout"` // Go duration; "" = none
}

// VipsConfig tunes libvips.
type VipsConfig struct {
	ConcurrencyLevel int  `yaml:"concurrency_level" json:"concurrency_level"` // 0 = NumCPU
	MaxCacheSize     int  `yaml:"max_cache_size" json:"max_cache_size"`
	ReportLeaks      bool `yaml:"report_leaks" json:"report_leaks"`
}

// Default returns the stock build configuration.
func Default() Config {
	return Config{
		SourceDir:     filepath.Join("src", "images"),
		OutputDir:     filepath.Join("_site", "images"),
		CacheDir:      filepath.Join(".cache", "images"),
		ManifestPath:  filepath.Join("src", "_data", "imageMeta.json"),
		Workers:       1,
		Backend:       BackendVips,
		CacheVersion:  "v2",
		Widths:        []int{800, 1400, 2000},
		NoWebP:        []string{"me-share.jpg", "tock-icon.png"},
		NonResponsive: []string{"me-share.jpg", "tock-icon.png"},
		WebP: WebPConfig{
			Quality: 80,
			Effort:  6,
		},
		PNG: PNGConfig{
			CompressionLevel:  9,
			AdaptiveFiltering: true,
		},
		JPEG: JPEGConfig{
			Quality:        100,
			OptimizeCoding: true,
		},
		Optimizer: OptimizerConfig{
			Enabled: true,
			Binary:  "oxipng",
			Level:   "3",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadFile reads a YAML (.yaml, .yml) or JSON-with-comments (.json, .jsonc)
// file and merges it over Default().
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if level, ok := lookup(OptimizerLevelEnv); ok && level != "" {
		c.Optimizer.Level = level
	}
}

// OptimizerTimeout parses Optimizer.Timeout; zero means no timeout.
func (c Config) OptimizerTimeout() (time.Duration, error) {
	if c.Optimizer.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Optimizer.Timeout)
	if err != nil {
		return 0, fmt.Errorf("config: optimizer.timeout: %w", err)
	}
	return d, nil
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.SourceDir == "" || c.OutputDir == "" || c.CacheDir == "" || c.ManifestPath == "" {
		return errors.New("config: source, output, cache and manifest paths are required")
	}
	if err := validateDirs(c); err != nil {
		return err
	}
	if c.Workers < 0 {
		return errors.New("config: Workers must not be negative")
	}
	if c.Backend != BackendVips && c.Backend != BackendNative {
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.CacheVersion == "" {
		return errors.New("config: CacheVersion must not be empty")
	}
	if len(c.Widths) == 0 {
		return errors.New("config: at least one responsive width is required")
	}
	seen := make(map[int]bool, len(c.Widths))
	for _, w := range c.Widths {
		if w <= 0 {
			return fmt.Errorf("config: width %d must be positive", w)
		}
		if seen[w] {
			return fmt.Errorf("config: duplicate width %d", w)
		}
		seen[w] = true
	}
	if c.WebP.Quality < 1 || c.WebP.Quality > 100 {
		return errors.New("config: WebP.Quality must be between 1 and 100")
	}
	if c.WebP.Effort < 0 || c.WebP.Effort > 6 {
		return errors.New("config: WebP.Effort must be between 0 and 6")
	}
	if c.PNG.CompressionLevel < 0 || c.PNG.CompressionLevel > 9 {
		return errors.New("config: PNG.CompressionLevel must be between 0 and 9")
	}
	if c.JPEG.Quality < 1 || c.JPEG.Quality > 100 {
		return errors.New("config: JPEG.Quality must be between 1 and 100")
	}
	if c.Optimizer.Enabled {
		if c.Optimizer.Binary == "" {
			return errors.New("config: Optimizer.Binary is required when the optimizer is enabled")
		}
		if !validOptimizerLevel(c.Optimizer.Level) {
			return fmt.Errorf("config: optimizer level %q must be 0-6 or \"max\"", c.Optimizer.Level)
		}
	}
	if _, err := c.OptimizerTimeout(); err != nil {
		return err
	}
	return nil
}

func validOptimizerLevel(level string) bool {
	if level == "max" {
		return true
	}
	n, err := strconv.Atoi(level)
	return err == nil && n >= 0 && n <= 6
}

// validateDirs refuses layouts where wiping the output tree would destroy
// the sources or the cache.
func validateDirs(c Config) error {
	output, err := filepath.Abs(c.OutputDir)
	if err != nil {
		return fmt.Errorf("config: output dir: %w", err)
	}
	if output == filepath.Dir(output) {
		return fmt.Errorf("config: refusing to use filesystem root %s as output dir", output)
	}
	for name, dir := range map[string]string{"source": c.SourceDir, "cache": c.CacheDir} {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("config: %s dir: %w", name, err)
		}
		if within(abs, output) {
			return fmt.Errorf("config: %s dir %s lies inside output dir %s, which is wiped every run", name, abs, output)
		}
		if within(output, abs) && name == "source" {
			return fmt.Errorf("config: output dir %s lies inside source dir %s", output, abs)
		}
	}
	return nil
}

// within reports whether path equals dir or is nested below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
