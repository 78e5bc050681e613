// Package bot is the Telegram front end: update polling, per-user
// serialization, chat routing and message rendering.
package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// pollTimeout is the long-polling timeout in seconds.
const pollTimeout = 60

// Bot polls Telegram for updates and hands each one to the handler on its
// user's dispatcher queue.
type Bot struct {
	api        *tgbotapi.BotAPI
	handler    *Handler
	dispatcher *Dispatcher
	log        zerolog.Logger
}

// New creates a new Bot.
func New(api *tgbotapi.BotAPI, handler *Handler, dispatcher *Dispatcher, log zerolog.Logger) *Bot {
	return &Bot{
		api:        api,
		handler:    handler,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "bot").Logger(),
	}
}

// Run polls until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(cfg)

	b.log.Info().Str("username", b.api.Self.UserName).Msg("Bot polling started")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.log.Info().Msg("Bot polling stopped")
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			b.route(u)
		}
	}
}

func (b *Bot) route(u tgbotapi.Update) {
	id := SenderID(u)
	if id == 0 {
		return
	}
	b.dispatcher.Submit(id, func(ctx context.Context) {
		b.handler.Handle(ctx, u)
	})
}
