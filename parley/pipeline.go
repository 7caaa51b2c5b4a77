package parley

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

const (
	limitReachedMessage = "⚠️ You have reached your daily limit of %d messages. Try again tomorrow."
	apologyMessage      = "⚠️ Sorry, I'm busy right now. Try again in a moment \U0001F64F"

	// translatePromptFormat wraps a translation-turn message in the
	// instruction sent to the model: target language, source
	// language, then the user's text.
	translatePromptFormat = "Translate this text to %s and %s: %s"
)

// Notifier is the liveness contract to the messaging platform: a
// repeated "still working" signal, distinct from the actual reply.
type Notifier interface {
	SendTyping(chatID int64)
}

// userLocks hands out one mutex per user ID, so admit-through-commit
// runs one message at a time per user while different users proceed
// in parallel. Locks are never reclaimed; the map grows with the
// (small) user population, same as the ledger.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: map[string]*sync.Mutex{}}
}

func (u *userLocks) get(userID string) *sync.Mutex {
	u.mu.Lock()
	defer u.mu.Unlock()
	lock, ok := u.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		u.locks[userID] = lock
	}
	return lock
}

// Pipeline resolves an inbound message into a reply: quota admission,
// translation-turn handling, cache lookup, the completion call with a
// typing loop alongside it, sanitization, and the quota commit.
type Pipeline struct {
	quota          *QuotaLedger
	sessions       *SessionModeTracker
	completer      Completer
	notifier       Notifier
	translate      *TranslateConfig
	typingInterval time.Duration
	logger         *slog.Logger
	locks          *userLocks
}

func NewPipeline(
	quota *QuotaLedger,
	sessions *SessionModeTracker,
	completer Completer,
	notifier Notifier,
	translate *TranslateConfig,
	typingInterval time.Duration,
	logger *slog.Logger,
) *Pipeline {
	if typingInterval <= 0 {
		typingInterval = DefaultTelegramTypingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		quota:          quota,
		sessions:       sessions,
		completer:      completer,
		notifier:       notifier,
		translate:      translate,
		typingInterval: typingInterval,
		logger:         logger,
		locks:          newUserLocks(),
	}
}

// Resolve produces the reply text for one inbound message. It always
// returns something to send; failures degrade to fixed notices rather
// than propagate.
//
// The user's lock is held for the full admit-through-commit span,
// including the completion call, so a burst of overlapping messages
// from one user is processed strictly in sequence against the quota.
func (p *Pipeline) Resolve(
	ctx context.Context,
	userID string,
	chatID int64,
	text string,
	now time.Time,
) string {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = p.logger
	}
	logger = logger.With("user_id", userID, "chat_id", chatID)
	ctx = WithLogger(ctx, logger)

	lock := p.locks.get(userID)
	lock.Lock()
	defer lock.Unlock()

	if !p.quota.CheckAndAdmit(userID, now) {
		logger.InfoContext(ctx, "daily limit reached", "limit", p.quota.Limit())
		return fmt.Sprintf(limitReachedMessage, p.quota.Limit())
	}

	translationTurn := p.sessions.IsTranslationTurn(userID)

	var reply string
	var served bool
	if !translationTurn {
		reply, served = cachedReply(text)
		if served {
			logger.InfoContext(ctx, "served canned reply")
		}
	}

	if !served {
		prompt := text
		if translationTurn {
			prompt = fmt.Sprintf(
				translatePromptFormat,
				p.translate.Target,
				p.translate.Source,
				text,
			)
		}

		stopTyping := p.typeWhile(ctx, chatID)
		raw, err := p.completer.Complete(ctx, prompt)
		stopTyping()

		// the translation flag is one-shot even when the call
		// failed, so a broken completion doesn't re-prompt forever
		if translationTurn {
			p.sessions.ConsumeTranslationTurn(userID)
		}

		if err != nil {
			logger.ErrorContext(ctx, "completion call failed", tint.Err(err))
			reply = apologyMessage
		} else {
			reply = sanitizeReply(raw)
		}
	}

	// a failed attempt still counts against the daily limit
	if err := p.quota.Commit(userID); err != nil {
		logger.ErrorContext(ctx, "error committing quota", tint.Err(err))
	}
	return reply
}

// typeWhile starts the typing loop for chatID and returns a stop
// function. Stop is synchronous: once it returns, no further typing
// signal will be emitted.
func (p *Pipeline) typeWhile(ctx context.Context, chatID int64) func() {
	typingCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.typingInterval)
		defer ticker.Stop()

		p.notifier.SendTyping(chatID)
		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				p.notifier.SendTyping(chatID)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
