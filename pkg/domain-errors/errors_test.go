package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	base := errors.New("boom")

	t.Run("direct code", func(t *testing.T) {
		err := New(CodeNotFound, "node not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeConflict))
	})

	t.Run("wrapped by fmt", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(CodeInvalidTransition, "bad"))
		assert.True(t, HasCode(err, CodeInvalidTransition))
	})

	t.Run("nested coded errors", func(t *testing.T) {
		inner := Wrap(base, CodeConflict, "version changed")
		outer := Wrap(inner, CodeInternal, "save failed")
		assert.True(t, HasCode(outer, CodeConflict))
		assert.True(t, HasCode(outer, CodeInternal))
		assert.ErrorIs(t, outer, base)
	})

	t.Run("plain error", func(t *testing.T) {
		assert.False(t, HasCode(base, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(base))
	})
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(New(CodeInvalidRegion, "x")))
	assert.True(t, IsValidation(New(CodeMissingEndpoint, "x")))
	assert.False(t, IsValidation(New(CodeNotFound, "x")))
}

func TestWithDetail(t *testing.T) {
	err := New(CodeConstitutionalBlock, "blocked").WithDetail("separation", "SEP-2")
	assert.Equal(t, "SEP-2", err.Details["separation"])
	assert.Equal(t, "blocked", err.Error())
}
