// Package parley implements a Telegram chat bot that relays user
// messages to an AI completion provider, enforcing a per-user rolling
// daily message quota persisted across restarts, with a one-shot
// translation mode and a small static response cache.
package parley

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/parleybot/parley/parley.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// Parley is the main application struct: configuration, the quota
// ledger and its file store, the session mode tracker, the reply
// pipeline, and the Telegram and OpenAI integrations.
type Parley struct {
	config *Config

	logger *slog.Logger

	quota    *QuotaLedger
	sessions *SessionModeTracker
	store    *ledgerStore
	pipeline *Pipeline

	telegram *Telegram
	openai   *OpenAI
	api      *API

	// prevents Run from executing concurrently
	runMu sync.Mutex

	startedAt time.Time
}

// New validates the config, loads the persisted quota ledger, and
// wires up all components. Missing secrets fail here with a clear
// diagnostic, not at first use.
func New(config *Config) (*Parley, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &Parley{
		config: config,
		logger: newLogger("parley", config.LogLevel),
	}

	p.store = newLedgerStore(config.LedgerPath, p.logger)
	records, err := p.store.Load()
	if err != nil {
		return nil, fmt.Errorf("error loading quota ledger: %w", err)
	}
	p.logger.Info(
		"loaded quota ledger",
		"path", config.LedgerPath,
		"users", len(records),
	)

	p.quota = NewQuotaLedger(config.DailyLimit, records, p.store, p.logger)
	p.sessions = NewSessionModeTracker()
	p.openai = newOpenAI(config.OpenAI, nil)
	p.telegram = newTelegram(p, config.Telegram, nil)
	p.pipeline = NewPipeline(
		p.quota,
		p.sessions,
		p.openai,
		p.telegram,
		config.Translate,
		config.Telegram.TypingInterval,
		p.logger,
	)

	if config.API != nil && config.API.Listen != "" {
		p.api = newAPI(p, config.API)
	}

	return p, nil
}

// Run starts the bot and blocks until ctx is canceled or a fatal
// error (such as a duplicate active instance) occurs. On return, any
// in-flight replies have been given ShutdownTimeout to finish, and
// the ledger has been flushed a final time.
func (p *Parley) Run(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.startedAt = time.Now()
	p.logger.InfoContext(
		ctx,
		"starting",
		"version", Version,
		"commit", CommitSHA,
		"built", BuildTime,
		"daily_limit", p.config.DailyLimit,
	)

	connectCtx, connectCancel := context.WithTimeout(
		ctx,
		p.config.StartupTimeout,
	)
	err := p.telegram.connect(connectCtx)
	connectCancel()
	if err != nil {
		return fmt.Errorf("error connecting to telegram: %w", err)
	}

	apiDone := make(chan struct{})
	if p.api != nil {
		go func() {
			defer close(apiDone)
			p.api.Serve(ctx)
		}()
	} else {
		close(apiDone)
	}

	// wg tracks in-flight message handlers spawned by the update loop
	wg := &sync.WaitGroup{}
	pollErr := p.telegram.pollUpdates(ctx, wg)

	p.logger.Info("shutting down, waiting for in-flight replies")
	handlersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(handlersDone)
	}()
	select {
	case <-handlersDone:
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("shutdown timeout elapsed, abandoning in-flight replies")
	}
	<-apiDone

	if flushErr := p.quota.Flush(); flushErr != nil {
		p.logger.Error("error flushing ledger at shutdown", tint.Err(flushErr))
	}

	if pollErr != nil && ctx.Err() == nil {
		return pollErr
	}
	p.logger.Info("stopped", "runtime", time.Since(p.startedAt).String())
	return nil
}
