package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/kirillm/delta-bot/internal/config"
	"github.com/kirillm/delta-bot/internal/domain"
	"github.com/kirillm/delta-bot/internal/orchestrator"
)

// Controller то, чем бот управляет и о чём отчитывается
type Controller interface {
	Status() orchestrator.Status
	RequestShutdown()
}

// Bot telegram-интерфейс: аварийные уведомления, отчёты по циклам и
// команды /status, /stop. Все входящие команды проходят авторизацию
// по чату и rate limit.
type Bot struct {
	api    *tgbotapi.BotAPI
	chatID int64
	auth   *Auth
	ctl    Controller
	log    zerolog.Logger
}

// NewBot создаёт бота. Пустой токен — ошибка: вызывающий код сам
// решает, работать ли без уведомлений.
func NewBot(cfg config.TelegramConfig, ctl Controller, log zerolog.Logger) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is not configured")
	}
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Bot{
		api:    api,
		chatID: cfg.ChatID,
		auth:   NewAuth(cfg.ChatID),
		ctl:    ctl,
		log:    log.With().Str("component", "telegram").Logger(),
	}, nil
}

// Run обрабатывает входящие команды до отмены контекста
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.log.Info().Str("username", b.api.Self.UserName).Msg("telegram bot listening")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(update.Message)
		}
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !b.auth.Allowed(chatID) {
		b.log.Warn().Int64("chat_id", chatID).
			Str("command", msg.Command()).Msg("command from unauthorized chat ignored")
		return
	}
	if err := b.auth.CheckRateLimit(chatID); err != nil {
		b.log.Warn().Err(err).Msg("command rate limited")
		return
	}

	var reply string
	switch msg.Command() {
	case "status":
		reply = FormatStatus(b.ctl.Status())
	case "stop":
		b.ctl.RequestShutdown()
		reply = "Shutdown requested: current cycle will finish, no new cycles will start."
	case "help", "start":
		reply = "Commands:\n/status - bot state and last cycle\n/stop - graceful shutdown\n/help - this message"
	default:
		reply = fmt.Sprintf("Unknown command /%s, try /help", msg.Command())
	}

	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, reply)); err != nil {
		b.log.Warn().Err(err).Msg("failed to send reply")
	}
}

// Send отправляет произвольное сообщение в настроенный чат. Подходит
// как notify-callback для safety-монитора.
func (b *Bot) Send(message string) {
	if b.chatID == 0 {
		return
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(b.chatID, message)); err != nil {
		b.log.Warn().Err(err).Msg("failed to send notification")
	}
}

// NotifyCycle отправляет отчёт о завершённом цикле
func (b *Bot) NotifyCycle(result *domain.CycleResult) {
	b.Send(FormatCycle(result))
}
