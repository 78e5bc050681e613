package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/messages"
	"github.com/stemsi/drivertest-bot/internal/model"
	"github.com/stemsi/drivertest-bot/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	failChat int64
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	if f.failChat != 0 && msg.ChatID == f.failChat {
		return tgbotapi.Message{}, errors.New("bot was blocked by the user")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) texts(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeSender) lastMessage(t *testing.T, chatID int64) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].ChatID == chatID {
			return f.sent[i]
		}
	}
	t.Fatalf("no message sent to %d", chatID)
	return tgbotapi.MessageConfig{}
}

func (f *fakeSender) callbacks() []tgbotapi.CallbackConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.CallbackConfig
	for _, r := range f.requests {
		if cb, ok := r.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb)
		}
	}
	return out
}

func (f *fakeSender) edits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if _, ok := r.(tgbotapi.EditMessageReplyMarkupConfig); ok {
			n++
		}
	}
	return n
}

func TestParseAnswerCallback(t *testing.T) {
	tests := []struct {
		data   string
		index  int
		option int
		ok     bool
	}{
		{data: AnswerCallback(0, 1), index: 0, option: 1, ok: true},
		{data: "answer:12:4", index: 12, option: 4, ok: true},
		{data: "answer:1", ok: false},
		{data: "answer:x:1", ok: false},
		{data: "answer:-1:1", ok: false},
		{data: "answer:1:0", ok: false},
		{data: CallbackIdentityConfirm, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			index, option, ok := ParseAnswerCallback(tt.data)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.index, index)
				assert.Equal(t, tt.option, option)
			}
		})
	}
}

func TestPresenterSendQuestionBuildsAnswerButtons(t *testing.T) {
	sender := &fakeSender{}
	p := NewPresenter(sender, zerolog.Nop())

	q := model.Question{Text: "Что означает знак?", Options: [model.MaxOptions]string{"Стоп", "", "Уступи", "Главная"}}
	err := p.SendQuestion(context.Background(), 10, service.QuestionPrompt{
		Index: 3, Number: 4, Total: 5, Text: q.Text, Options: q.PresentableOptions(),
	})
	require.NoError(t, err)

	msg := sender.lastMessage(t, 10)
	assert.True(t, strings.HasPrefix(msg.Text, "❓ Вопрос 4/5"))
	assert.Contains(t, msg.Text, "4. Главная")

	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	row := markup.InlineKeyboard[0]
	require.Len(t, row, 3)
	assert.Equal(t, "3", row[1].Text)
	require.NotNil(t, row[1].CallbackData)
	assert.Equal(t, "answer:3:3", *row[1].CallbackData)
}

func TestPresenterMarkdownAndCallbacks(t *testing.T) {
	sender := &fakeSender{}
	p := NewPresenter(sender, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, p.SendMarkdown(ctx, 1, "**bold**"))
	assert.Equal(t, tgbotapi.ModeMarkdown, sender.lastMessage(t, 1).ParseMode)

	require.NoError(t, p.AnswerCallback(ctx, "cb", messages.Get(messages.AnswerExpired), true))
	cbs := sender.callbacks()
	require.Len(t, cbs, 1)
	assert.True(t, cbs[0].ShowAlert)

	require.NoError(t, p.ClearButtons(ctx, 1, 7))
	assert.Equal(t, 1, sender.edits())

	sender.failChat = 2
	assert.Error(t, p.SendText(ctx, 2, "hi"))
}

// ─── Dispatcher ──────────────────────────────────────────────────────

func TestDispatcherRunsUserJobsInOrder(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	var mu sync.Mutex
	got := make(map[int64][]int)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, user := range []int64{1, 2, 3} {
			wg.Add(1)
			i, user := i, user
			d.Submit(user, func(context.Context) {
				defer wg.Done()
				mu.Lock()
				got[user] = append(got[user], i)
				mu.Unlock()
			})
		}
	}
	wg.Wait()

	for _, user := range []int64{1, 2, 3} {
		require.Len(t, got[user], 50)
		for i, v := range got[user] {
			assert.Equal(t, i, v)
		}
	}

	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, 0, d.Active())
}

func TestDispatcherSerializesOneUser(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	var mu sync.Mutex
	running, maxRunning := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		d.Submit(7, func(context.Context) {
			defer wg.Done()
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
		})
	}
	wg.Wait()
	assert.Equal(t, 1, maxRunning)
	require.NoError(t, d.Stop(context.Background()))
}

func TestDispatcherRecoversFromPanic(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	done := make(chan struct{})
	d.Submit(1, func(context.Context) { panic("boom") })
	d.Submit(1, func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job after panic did not run")
	}
	require.NoError(t, d.Stop(context.Background()))
}

func TestDispatcherStopDropsNewWork(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	require.NoError(t, d.Stop(context.Background()))

	ran := make(chan struct{}, 1)
	d.Submit(1, func(context.Context) { ran <- struct{}{} })

	select {
	case <-ran:
		t.Fatal("job ran after stop")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, d.Active())
}

func TestDispatcherStopTimesOutAndCancels(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	started := make(chan struct{})
	cancelled := make(chan struct{})
	d.Submit(1, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Stop(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not cancelled")
	}
}
