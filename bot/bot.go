package bot

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"nollettan-menu/config"
	"nollettan-menu/services"
)

// Bot answers menu questions in Telegram and forwards save notices to the
// admin chat.
type Bot struct {
	api       *tgbotapi.BotAPI
	engine    *services.Engine
	adminChat int64
	loc       *time.Location
	now       func() time.Time
	log       zerolog.Logger
}

func New(cfg *config.Config, engine *services.Engine, log zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, err
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Bot{
		api:       api,
		engine:    engine,
		adminChat: cfg.Telegram.AdminChatID,
		loc:       loc,
		now:       time.Now,
		log:       log.With().Str("component", "bot").Logger(),
	}, nil
}

func (b *Bot) setBotCommands() error {
	cfg := tgbotapi.SetMyCommandsConfig{
		Commands: []tgbotapi.BotCommand{
			{Command: "start", Description: "Start"},
			{Command: "today", Description: "Dagens lunch"},
			{Command: "week", Description: "Veckans lunch"},
			{Command: "prices", Description: "Meny och priser"},
		},
	}
	_, err := b.api.Request(cfg)
	return err
}

// Start long-polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	if err := b.setBotCommands(); err != nil {
		b.log.Warn().Err(err).Msg("set bot commands")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	b.log.Info().Str("username", b.api.Self.UserName).Msg("bot started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				b.handleCallback(update.CallbackQuery)
				continue
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(update.Message)
		}
	}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch command(msg.Text) {
	case "/start":
		b.handleStart(chatID)
	case "/today":
		b.send(chatID, formatToday(b.engine.Snapshot(), b.now().In(b.loc)))
	case "/week":
		b.send(chatID, formatWeek(b.engine.Snapshot()))
	case "/prices":
		b.send(chatID, formatPrices(b.engine.Snapshot()))
	}
}

// command returns the bare command of text, dropping arguments and a @botname suffix.
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return cmd
}

func (b *Bot) handleStart(chatID int64) {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Dagens lunch", "today"),
			tgbotapi.NewInlineKeyboardButtonData("Veckan", "week"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Meny och priser", "prices"),
		),
	)
	b.sendWithInline(chatID, "Välkommen till Noll Ettan! Vad vill du se?", kb)
}

func (b *Bot) handleCallback(cq *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		b.log.Warn().Err(err).Msg("answer callback")
	}
	if cq.Message == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	m := b.engine.Snapshot()
	switch cq.Data {
	case "today":
		b.send(chatID, formatToday(m, b.now().In(b.loc)))
	case "week":
		b.send(chatID, formatWeek(m))
	case "prices":
		b.send(chatID, formatPrices(m))
	}
}

// Notify sends save and load notices to the admin chat. Progress notices
// are skipped to keep the chat quiet.
func (b *Bot) Notify(_ context.Context, n services.Notice) {
	if b.adminChat == 0 || n.Level == services.NoticeInfo {
		return
	}
	b.send(b.adminChat, formatNotice(n))
}

func (b *Bot) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("send")
	}
}

func (b *Bot) sendWithInline(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("send")
	}
}
