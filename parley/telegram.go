package parley

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/lmittmann/tint"
)

const (
	telegramCommandStart     = "start"
	telegramCommandHelp      = "help"
	telegramCommandTranslate = "translate"

	startMessage = "👋 Hello! I'm your AI assistant. Use the menu button to access my commands."

	translateModePromptFormat = "🌐 Send me the text you want to translate (%s ↔ %s):"

	helpMessageFormat = "ℹ️ Instructions:\n" +
		"- Send any message and I will respond.\n" +
		"- Use the /start command or menu button to see options.\n" +
		"- Use /translate to enter translation mode.\n" +
		"- Daily limit: %d messages per user."
)

// pollRetryDelay is how long the update loop waits before retrying
// after a transient transport error.
var pollRetryDelay = 5 * time.Second

// ErrConflict indicates another active bot instance is already
// long-polling with this token. Fatal: two pollers means duplicate
// replies, so the process exits instead of retrying.
var ErrConflict = errors.New("another bot instance is already receiving updates")

// TelegramBot is the subset of the tgbotapi client the bot uses,
// kept narrow so tests can substitute a fake.
type TelegramBot interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

// BotFactory creates TelegramBot instances (allows mocking).
type BotFactory func(token string) (TelegramBot, error)

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	return w.bot.GetUpdates(config)
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

var defaultBotFactory BotFactory = func(token string) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// Telegram handles the bot's integration with the Telegram API:
// authentication, the command menu, the update loop, command
// handlers, and sending replies and typing signals.
type Telegram struct {
	config  *TelegramConfig
	bot     TelegramBot
	factory BotFactory
	logger  *slog.Logger

	p *Parley
}

func newTelegram(p *Parley, config *TelegramConfig, factory BotFactory) *Telegram {
	if factory == nil {
		factory = defaultBotFactory
	}
	return &Telegram{
		config:  config,
		factory: factory,
		logger:  newLogger("telegram", config.LogLevel),
		p:       p,
	}
}

// connect authenticates with Telegram and registers the command
// menu. Token problems surface here, at startup.
func (t *Telegram) connect(ctx context.Context) error {
	bot, err := t.factory(t.config.Token)
	if err != nil {
		return fmt.Errorf("error creating telegram bot: %w", err)
	}
	t.bot = bot
	t.logger.InfoContext(
		ctx,
		"authorized with telegram",
		"username", bot.GetSelf().UserName,
	)
	return t.registerCommands()
}

// registerCommands sets the bot's persistent menu: the fixed set of
// three commands with human-readable descriptions.
func (t *Telegram) registerCommands() error {
	commands := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{
			Command:     telegramCommandStart,
			Description: "Show the main menu",
		},
		tgbotapi.BotCommand{
			Command:     telegramCommandHelp,
			Description: "Get instructions",
		},
		tgbotapi.BotCommand{
			Command:     telegramCommandTranslate,
			Description: fmt.Sprintf(
				"Translate text (%s ↔ %s)",
				t.p.config.Translate.Source,
				t.p.config.Translate.Target,
			),
		},
	)
	if _, err := t.bot.Request(commands); err != nil {
		return fmt.Errorf("error registering bot commands: %w", err)
	}
	return nil
}

// pollUpdates runs the long-poll loop until ctx is canceled or a
// fatal transport conflict is seen. Transient errors back off and
// retry; a 409 means another instance owns this token and is
// returned as ErrConflict.
func (t *Telegram) pollUpdates(ctx context.Context, wg *sync.WaitGroup) error {
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = int(t.config.PollTimeout / time.Second)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := t.bot.GetUpdates(updateCfg)
		if err != nil {
			if isConflictError(err) {
				t.logger.ErrorContext(
					ctx,
					"another instance is polling with this token, exiting",
					tint.Err(err),
				)
				return fmt.Errorf("%w: %s", ErrConflict, err.Error())
			}
			t.logger.ErrorContext(ctx, "error fetching updates", tint.Err(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= updateCfg.Offset {
				updateCfg.Offset = update.UpdateID + 1
			}
			t.dispatch(ctx, wg, update)
		}
	}
}

// dispatch routes a single update. Commands are handled inline
// (they're cheap); plain text messages get their own goroutine so a
// slow completion for one user never blocks other users' messages.
func (t *Telegram) dispatch(
	ctx context.Context,
	wg *sync.WaitGroup,
	update tgbotapi.Update,
) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	if msg.IsCommand() {
		t.handleCommand(ctx, msg)
		return
	}
	if msg.Text == "" {
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		userID := strconv.FormatInt(msg.From.ID, 10)
		reply := t.p.pipeline.Resolve(
			ctx,
			userID,
			msg.Chat.ID,
			msg.Text,
			time.Now(),
		)
		t.SendText(msg.Chat.ID, reply)
	}()
}

func (t *Telegram) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := strconv.FormatInt(msg.From.ID, 10)
	logger := t.logger.With(
		"user_id", userID,
		"chat_id", msg.Chat.ID,
		"command", msg.Command(),
	)

	switch msg.Command() {
	case telegramCommandStart:
		t.SendText(msg.Chat.ID, startMessage)
	case telegramCommandHelp:
		t.SendText(
			msg.Chat.ID,
			fmt.Sprintf(helpMessageFormat, t.p.quota.Limit()),
		)
	case telegramCommandTranslate:
		// entering translation mode is admission-checked but does
		// not consume quota; the translated message itself will
		if !t.p.quota.CheckAndAdmit(userID, time.Now()) {
			t.SendText(
				msg.Chat.ID,
				fmt.Sprintf(limitReachedMessage, t.p.quota.Limit()),
			)
			return
		}
		t.p.sessions.EnterTranslationMode(userID)
		t.SendText(
			msg.Chat.ID,
			fmt.Sprintf(
				translateModePromptFormat,
				t.p.config.Translate.Source,
				t.p.config.Translate.Target,
			),
		)
	default:
		logger.InfoContext(ctx, "ignoring unknown command")
	}
}

// SendText delivers a reply to the given chat. Send failures are
// logged; there's nobody else to tell.
func (t *Telegram) SendText(chatID int64, text string) {
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		t.logger.Error(
			"error sending message",
			tint.Err(err),
			"chat_id", chatID,
		)
	}
}

// SendTyping emits one 'typing' chat action, the liveness signal
// shown while a reply is being produced.
func (t *Telegram) SendTyping(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := t.bot.Request(action); err != nil {
		t.logger.Warn(
			"error sending typing action",
			tint.Err(err),
			"chat_id", chatID,
		)
	}
}

// isConflictError reports whether err is Telegram's 409 response,
// seen when two instances poll getUpdates with the same token.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 409
	}
	return strings.Contains(err.Error(), "Conflict")
}
