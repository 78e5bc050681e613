package bot

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/messages"
	"github.com/stemsi/drivertest-bot/internal/service"
)

// Sender is the subset of the Telegram client the bot calls. Send is for
// methods returning a message, Request for everything else.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// Presenter renders bot output as Telegram messages.
type Presenter struct {
	api Sender
	log zerolog.Logger
}

// NewPresenter creates a new Presenter.
func NewPresenter(api Sender, log zerolog.Logger) *Presenter {
	return &Presenter{api: api, log: log.With().Str("component", "presenter").Logger()}
}

// SendText sends plain text.
func (p *Presenter) SendText(ctx context.Context, chatID int64, text string) error {
	return p.send(ctx, tgbotapi.NewMessage(chatID, text))
}

// SendMarkdown sends text with legacy Markdown formatting.
func (p *Presenter) SendMarkdown(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	return p.send(ctx, msg)
}

// SendWithButtons sends text with one row of inline buttons.
func (p *Presenter) SendWithButtons(ctx context.Context, chatID int64, text string, buttons ...Button) error {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	return p.send(ctx, msg)
}

// SendQuestion renders a question with one button per option.
func (p *Presenter) SendQuestion(ctx context.Context, chatID int64, q service.QuestionPrompt) error {
	buttons := make([]Button, 0, len(q.Options))
	for _, o := range q.Options {
		buttons = append(buttons, Button{
			Text: strconv.Itoa(o.Position),
			Data: AnswerCallback(q.Index, o.Position),
		})
	}
	return p.SendWithButtons(ctx, chatID, messages.Question(q.Number, q.Total, q.Text, q.Options), buttons...)
}

// AnswerCallback acknowledges a button press, optionally as a popup alert.
func (p *Presenter) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = alert
	_, err := p.api.Request(cb)
	return err
}

// ClearButtons removes the inline keyboard of a sent message.
func (p *Presenter) ClearButtons(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	_, err := p.api.Request(edit)
	return err
}

func (p *Presenter) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.api.Send(msg); err != nil {
		p.log.Error().Err(err).Int64("chat_id", msg.ChatID).Msg("Failed to send message")
		return err
	}
	return nil
}
