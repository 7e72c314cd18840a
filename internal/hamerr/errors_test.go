package hamerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("save: %w", New(KindInsufficientSpace, "storage.save", "%d bytes free", 12))

	assert.True(t, errors.Is(err, ErrInsufficientSpace))
	assert.False(t, errors.Is(err, ErrIntegrity))
	assert.Equal(t, KindInsufficientSpace, KindOf(err))
	assert.Contains(t, err.Error(), "12 bytes free")
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindSerialization, "decode", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrSerialization)
	assert.Nil(t, Wrap(KindSerialization, "decode", nil))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("recall", "mem_000001")))
}
