package parley

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequiresSecrets(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingTelegramToken))
	assert.True(t, errors.Is(err, ErrMissingOpenAIKey))

	cfg.Telegram.Token = "telegram-token"
	err = cfg.Validate()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMissingTelegramToken))
	assert.True(t, errors.Is(err, ErrMissingOpenAIKey))

	cfg.OpenAI.APIKey = "openai-key"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Telegram.Token = "t"
	cfg.OpenAI.APIKey = "k"

	cfg.DailyLimit = 0
	assert.Error(t, cfg.Validate())
	cfg.DailyLimit = DefaultDailyLimit

	cfg.LedgerPath = ""
	assert.Error(t, cfg.Validate())
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	assert.Equal(t, DefaultDailyLimit, cfg.DailyLimit)
	assert.Equal(t, DefaultLedgerPath, cfg.LedgerPath)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel.Level())
	assert.Equal(t, DefaultTelegramTypingInterval, cfg.Telegram.TypingInterval)
	assert.Equal(t, DefaultOpenAIModel, cfg.OpenAI.Model)
	assert.Equal(t, DefaultTranslateSource, cfg.Translate.Source)
	assert.Equal(t, DefaultTranslateTarget, cfg.Translate.Target)
	assert.Empty(t, cfg.API.Listen, "status api is off by default")
}
