//nolint:lll // struct tags can't be split
package parley

import (
	"errors"
	"log/slog"
	"time"
)

const (
	EnvvarSetEnvPrefix = "PARLEY_ENV_PREFIX"
	DefaultEnvPrefix   = "PARLEY"

	// DefaultDailyLimit is the maximum number of messages a user can
	// send within their rolling 24-hour window.
	DefaultDailyLimit = 50

	DefaultLedgerPath      = "user_counters.json"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultOpenAIModel                = "gpt-4o-mini"
	DefaultOpenAIRequestTimeout       = 90 * time.Second
	DefaultOpenAIMaxRequestsPerSecond = 1
	DefaultOpenAILogLevel             = slog.LevelInfo

	DefaultTelegramPollTimeout    = 30 * time.Second
	DefaultTelegramTypingInterval = 2 * time.Second
	DefaultTelegramLogLevel       = slog.LevelInfo

	DefaultAPIListen            = ""
	DefaultAPIReadTimeout       = 5 * time.Second
	DefaultAPIReadHeaderTimeout = 5 * time.Second
	DefaultAPIWriteTimeout      = 10 * time.Second
	DefaultAPIIdleTimeout       = 30 * time.Second
	DefaultAPILogLevel          = slog.LevelInfo

	// DefaultTranslateSource and DefaultTranslateTarget are the two
	// languages the /translate command translates between.
	DefaultTranslateSource = "English"
	DefaultTranslateTarget = "Khmer"
)

var (
	ErrMissingTelegramToken = errors.New("telegram token is required")
	ErrMissingOpenAIKey     = errors.New("openai api key is required")
)

// Config is the top-level configuration for the bot. Values are
// populated from the environment (and an optional .env file) by the
// cmd package.
type Config struct {
	// DailyLimit is the per-user message allowance per rolling
	// 24-hour window
	DailyLimit int `yaml:"daily_limit" mapstructure:"daily_limit" json:"daily_limit"`

	// LedgerPath is the JSON file the quota ledger is persisted to
	LedgerPath string `yaml:"ledger_path" mapstructure:"ledger_path" json:"ledger_path"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout bounds bot initialization (Telegram auth, command
	// menu registration). If it elapses, startup aborts.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time allowed for a graceful shutdown
	// before in-flight replies are abandoned
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Telegram configures the bot's connection to Telegram
	Telegram *TelegramConfig `yaml:"telegram" mapstructure:"telegram" json:"telegram"`

	// OpenAI configures the completion client
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// Translate configures the /translate language pair
	Translate *TranslateConfig `yaml:"translate" mapstructure:"translate" json:"translate"`

	// API configures the read-only status HTTP server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`
}

// TelegramConfig configures the Telegram integration.
type TelegramConfig struct {
	// Token is the bot token from @BotFather
	Token string `yaml:"token" mapstructure:"token" json:"-"`

	// PollTimeout is the long-poll timeout for GetUpdates
	PollTimeout time.Duration `yaml:"poll_timeout" mapstructure:"poll_timeout" json:"poll_timeout"`

	// TypingInterval is the cadence at which the 'typing' chat action
	// is re-sent while a reply is being produced
	TypingInterval time.Duration `yaml:"typing_interval" mapstructure:"typing_interval" json:"typing_interval"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// OpenAIConfig configures the completion client.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key
	APIKey string `yaml:"api_key" mapstructure:"api_key" json:"-"`

	// Model is the chat completion model to use
	Model string `yaml:"model" mapstructure:"model" json:"model"`

	// RequestTimeout bounds a single completion call
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout"`

	// MaxRequestsPerSecond paces completion calls across all users
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// TranslateConfig is the language pair used for translation turns.
type TranslateConfig struct {
	Source string `yaml:"source" mapstructure:"source" json:"source"`
	Target string `yaml:"target" mapstructure:"target" json:"target"`
}

// APIConfig configures the status HTTP server. The server is only
// started when Listen is non-empty.
type APIConfig struct {
	Listen            string         `yaml:"listen" mapstructure:"listen" json:"listen"`
	ReadTimeout       time.Duration  `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration  `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration  `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration  `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
	LogLevel          *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// DefaultConfig returns a Config with all defaults set, and both
// secrets empty.
func DefaultConfig() *Config {
	logLevel := &slog.LevelVar{}
	logLevel.Set(DefaultLogLevel)

	telegramLogLevel := &slog.LevelVar{}
	telegramLogLevel.Set(DefaultTelegramLogLevel)

	openaiLogLevel := &slog.LevelVar{}
	openaiLogLevel.Set(DefaultOpenAILogLevel)

	apiLogLevel := &slog.LevelVar{}
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DailyLimit:      DefaultDailyLimit,
		LedgerPath:      DefaultLedgerPath,
		LogLevel:        logLevel,
		StartupTimeout:  DefaultStartupTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Telegram: &TelegramConfig{
			PollTimeout:    DefaultTelegramPollTimeout,
			TypingInterval: DefaultTelegramTypingInterval,
			LogLevel:       telegramLogLevel,
		},
		OpenAI: &OpenAIConfig{
			Model:                DefaultOpenAIModel,
			RequestTimeout:       DefaultOpenAIRequestTimeout,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
			LogLevel:             openaiLogLevel,
		},
		Translate: &TranslateConfig{
			Source: DefaultTranslateSource,
			Target: DefaultTranslateTarget,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ReadTimeout:       DefaultAPIReadTimeout,
			ReadHeaderTimeout: DefaultAPIReadHeaderTimeout,
			WriteTimeout:      DefaultAPIWriteTimeout,
			IdleTimeout:       DefaultAPIIdleTimeout,
			LogLevel:          apiLogLevel,
		},
	}
}

// Validate checks the config for problems that should stop the
// process at startup, rather than surfacing on first use. Both
// secrets are required.
func (c *Config) Validate() error {
	var errs []error

	if c.Telegram == nil || c.Telegram.Token == "" {
		errs = append(errs, ErrMissingTelegramToken)
	}
	if c.OpenAI == nil || c.OpenAI.APIKey == "" {
		errs = append(errs, ErrMissingOpenAIKey)
	}
	if c.DailyLimit <= 0 {
		errs = append(errs, errors.New("daily_limit must be positive"))
	}
	if c.LedgerPath == "" {
		errs = append(errs, errors.New("ledger_path is required"))
	}
	return errors.Join(errs...)
}
