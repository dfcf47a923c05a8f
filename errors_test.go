package mimicidx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineErrorIsMatchesOnKind(t *testing.T) {
	err := errIndexMissing("chartevents")
	assert.True(t, errors.Is(err, &EngineError{Kind: KindIndexMissing}))
	assert.False(t, errors.Is(err, &EngineError{Kind: KindCorruptIndex}))
}

func TestEngineErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := errIO("chartevents", cause)
	assert.ErrorIs(t, err, cause)
}

func TestEngineErrorMessageIncludesDataset(t *testing.T) {
	err := errCorruptIndex("chartevents", 42, "99")
	assert.Contains(t, err.Error(), "chartevents")
	assert.Contains(t, err.Error(), "42")
}
