package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/parleybot/parley/parley"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg     = parley.DefaultConfig()
	envFile string
)

var rootCmd = &cobra.Command{
	Use: "parley [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes string log levels into *slog.LevelVar
// during viper unmarshaling.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

// Execute runs the root command with a context canceled on SIGINT,
// SIGHUP or SIGTERM.
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if envFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(envFile); err != nil {
			log.Fatalf("error loading env file %s: %v", envFile, err)
		}
	}

	viper.SetDefault("daily_limit", parley.DefaultDailyLimit)
	viper.SetDefault("ledger_path", parley.DefaultLedgerPath)
	viper.SetDefault("log_level", parley.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", parley.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", parley.DefaultShutdownTimeout)

	// Telegram config
	viper.SetDefault("telegram.token", "")
	viper.SetDefault("telegram.poll_timeout", parley.DefaultTelegramPollTimeout)
	viper.SetDefault(
		"telegram.typing_interval",
		parley.DefaultTelegramTypingInterval,
	)
	viper.SetDefault(
		"telegram.log_level",
		parley.DefaultTelegramLogLevel.String(),
	)

	// OpenAI config
	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("openai.model", parley.DefaultOpenAIModel)
	viper.SetDefault(
		"openai.request_timeout",
		parley.DefaultOpenAIRequestTimeout,
	)
	viper.SetDefault(
		"openai.max_requests_per_second",
		parley.DefaultOpenAIMaxRequestsPerSecond,
	)
	viper.SetDefault("openai.log_level", parley.DefaultOpenAILogLevel.String())

	// Translation language pair
	viper.SetDefault("translate.source", parley.DefaultTranslateSource)
	viper.SetDefault("translate.target", parley.DefaultTranslateTarget)

	// Status API config
	viper.SetDefault("api.listen", parley.DefaultAPIListen)
	viper.SetDefault("api.read_timeout", parley.DefaultAPIReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		parley.DefaultAPIReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", parley.DefaultAPIWriteTimeout)
	viper.SetDefault("api.idle_timeout", parley.DefaultAPIIdleTimeout)
	viper.SetDefault("api.log_level", parley.DefaultAPILogLevel.String())

	envPrefix := os.Getenv(parley.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = parley.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&envFile,
		"env-file",
		"",
		"Env file to load before reading the environment",
	)
}
