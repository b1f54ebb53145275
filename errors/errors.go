package errors

import (
	"errors"
	"fmt"
)

// Category classifies failures so the driver can tell the one non-fatal
// kind (optimize) apart from everything that aborts a build.
type Category string

const (
	CategorySource   Category = "source"
	CategoryDecode   Category = "decode"
	CategoryEncode   Category = "encode"
	CategoryOptimize Category = "optimize"
	CategoryCache    Category = "cache"
	CategoryOutput   Category = "output"
	CategoryManifest Category = "manifest"
	CategoryConfig   Category = "config"
	CategoryPipeline Category = "pipeline"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category Category
	Op       string // operation name
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Wrap wraps an existing error with context. It returns nil for a nil err.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat    = errors.New("unsupported image format")
	ErrInvalidDimensions    = errors.New("invalid dimensions")
	ErrEmptyInput           = errors.New("empty input")
	ErrCacheMiss            = errors.New("cache miss")
	ErrOptimizerUnavailable = errors.New("optimizer unavailable")
)
