package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(CategoryCache, "cache.put", nil))
}

func TestIsCategory(t *testing.T) {
	err := Wrap(CategoryOptimize, "oxipng", ErrOptimizerUnavailable)
	wrapped := fmt.Errorf("variant hero-800w.png: %w", err)

	assert.True(t, IsCategory(wrapped, CategoryOptimize))
	assert.False(t, IsCategory(wrapped, CategoryEncode))
	assert.False(t, IsCategory(errors.New("plain"), CategoryOptimize))
	assert.ErrorIs(t, wrapped, ErrOptimizerUnavailable)
}

func TestErrorString(t *testing.T) {
	err := New(CategoryDecode, "png.decode", ErrEmptyInput)
	assert.Equal(t, "[decode] png.decode: empty input", err.Error())
}
