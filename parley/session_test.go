package parley

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslationModeOneShot(t *testing.T) {
	t.Parallel()
	s := NewSessionModeTracker()

	assert.False(t, s.IsTranslationTurn(t.Name()))

	s.EnterTranslationMode(t.Name())
	assert.True(t, s.IsTranslationTurn(t.Name()))

	// non-destructive read
	assert.True(t, s.IsTranslationTurn(t.Name()))

	s.ConsumeTranslationTurn(t.Name())
	assert.False(t, s.IsTranslationTurn(t.Name()))
}

func TestEnterTranslationModeIdempotent(t *testing.T) {
	t.Parallel()
	s := NewSessionModeTracker()

	s.EnterTranslationMode(t.Name())
	s.EnterTranslationMode(t.Name())
	assert.True(t, s.IsTranslationTurn(t.Name()))

	s.ConsumeTranslationTurn(t.Name())
	assert.False(t, s.IsTranslationTurn(t.Name()))
}

func TestConsumeUnknownUser(t *testing.T) {
	t.Parallel()
	s := NewSessionModeTracker()
	s.ConsumeTranslationTurn(t.Name())
	assert.False(t, s.IsTranslationTurn(t.Name()))
}

func TestTranslationModePerUser(t *testing.T) {
	t.Parallel()
	s := NewSessionModeTracker()

	s.EnterTranslationMode("user-a")
	assert.True(t, s.IsTranslationTurn("user-a"))
	assert.False(t, s.IsTranslationTurn("user-b"))

	s.ConsumeTranslationTurn("user-a")
	assert.False(t, s.IsTranslationTurn("user-a"))
}
