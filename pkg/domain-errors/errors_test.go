package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct code", func(t *testing.T) {
		err := New(CodeProofInvalid, "bad proof")
		assert.True(t, HasCode(err, CodeProofInvalid))
		assert.False(t, HasCode(err, CodeUnauthorized))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("submit: %w", New(CodeUnauthorized, "no proof"))
		assert.True(t, HasCode(err, CodeUnauthorized))
	})

	t.Run("matches nested coded errors", func(t *testing.T) {
		inner := New(CodeDuplicate, "taken")
		outer := Wrap(inner, CodeConflict, "register")
		assert.True(t, HasCode(outer, CodeConflict))
		assert.True(t, HasCode(outer, CodeDuplicate))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeOf(New(CodeNotFound, "missing")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, CodeInternal, "persist record")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "persist record")
}
