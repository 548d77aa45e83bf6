package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"

	"sweepstake-bot/internal/ledger"
	"sweepstake-bot/internal/settlement"
)

// Bot connects the command service to Telegram.
type Bot struct {
	Instance       *telego.Bot
	service        *Service
	ledger         *ledger.Ledger
	renderer       Renderer
	announceChatID int64
	logger         *zap.Logger
}

func NewBot(token string, service *Service, led *ledger.Ledger, renderer Renderer, announceChatID int64, logger *zap.Logger) (*Bot, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		Instance:       tgBot,
		service:        service,
		ledger:         led,
		renderer:       renderer,
		announceChatID: announceChatID,
		logger:         logger,
	}, nil
}

// Start polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}
	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("create bot handler: %w", err)
	}

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		if message.From == nil || message.From.IsBot {
			return nil
		}
		in := Incoming{
			ChatID:   message.Chat.ID,
			UserID:   message.From.ID,
			Username: message.From.Username,
			Text:     message.Text,
			Mentions: mentionsFrom(message.Text, message.Entities),
		}
		reply := b.service.Handle(ctx.Context(), in)
		if reply == "" {
			return nil
		}
		_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), reply).
			WithParseMode(telego.ModeHTML).
			WithReplyParameters(&telego.ReplyParameters{MessageID: message.MessageID, AllowSendingWithoutReply: true}).
			WithLinkPreviewOptions(&telego.LinkPreviewOptions{IsDisabled: true}))
		if err != nil {
			b.logger.Warn("failed to send reply", zap.Int64("chat_id", message.Chat.ID), zap.Error(err))
		}
		return nil
	}, th.AnyMessageWithText())

	b.logger.Info("telegram bot started")
	return handler.Start()
}

// Notify announces a settlement event in the configured group chat.
func (b *Bot) Notify(ctx context.Context, n settlement.Notification) error {
	if b.announceChatID == 0 {
		return nil
	}
	ids := make([]int64, 0, len(n.Winners))
	for _, w := range n.Winners {
		ids = append(ids, w.UserID)
	}
	usernames, err := b.ledger.Usernames(ctx, ids)
	if err != nil {
		b.logger.Warn("failed to load winner usernames", zap.Error(err))
		usernames = map[int64]string{}
	}
	text := b.renderer.Notification(n, usernames)
	if text == "" {
		return nil
	}
	_, err = b.Instance.SendMessage(ctx, tu.Message(tu.ID(b.announceChatID), text).
		WithParseMode(telego.ModeHTML).
		WithLinkPreviewOptions(&telego.LinkPreviewOptions{IsDisabled: true}))
	return err
}
