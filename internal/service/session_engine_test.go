package service

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/messages"
	"github.com/stemsi/drivertest-bot/internal/model"
	"github.com/stemsi/drivertest-bot/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Fakes ───────────────────────────────────────────────────────────

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func newManualClock(now time.Time) *manualClock {
	return &manualClock{now: now}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires due timers in deadline order,
// including timers armed by the callbacks themselves.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*manualTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		next := due[0]
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()

		next.f()
	}
}

func (c *manualClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeBank struct {
	cfg       model.AdminConfig
	cfgErr    error
	questions []model.Question
	lastTest  *time.Time
}

func (b *fakeBank) ReadAdminConfig(context.Context) (model.AdminConfig, error) {
	return b.cfg, b.cfgErr
}

func (b *fakeBank) ReadQuestions(context.Context) ([]model.Question, error) {
	return b.questions, nil
}

func (b *fakeBank) LastTestTime(context.Context, int64) (*time.Time, error) {
	return b.lastTest, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []model.TestResult
	err     error
}

func (r *fakeRecorder) WriteResult(_ context.Context, res model.TestResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.results = append(r.results, res)
	return nil
}

func (r *fakeRecorder) WriteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

type fakePresenter struct {
	mu      sync.Mutex
	texts   []string
	prompts []QuestionPrompt
}

func (p *fakePresenter) SendText(_ context.Context, _ int64, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	return nil
}

func (p *fakePresenter) SendQuestion(_ context.Context, _ int64, q QuestionPrompt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, q)
	return nil
}

func (p *fakePresenter) sent(text string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.texts {
		if t == text {
			return true
		}
	}
	return false
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.SessionEvent
}

func (p *fakePublisher) Publish(_ context.Context, ev model.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type fakeArchiver struct {
	queued []model.TestResult
}

func (a *fakeArchiver) Enqueue(_ context.Context, r model.TestResult) error {
	a.queued = append(a.queued, r)
	return nil
}

// ─── Harness ─────────────────────────────────────────────────────────

const testUser int64 = 1001

var testStart = time.Date(2025, 5, 12, 9, 0, 0, 0, time.UTC)

type engineHarness struct {
	engine    *SessionEngine
	mr        *miniredis.Miniredis
	sessions  *repository.SessionRepository
	convs     *repository.ConversationRepository
	bank      *fakeBank
	recorder  *fakeRecorder
	presenter *fakePresenter
	events    *fakePublisher
	archiver  *fakeArchiver
	clock     *manualClock
}

func newEngineHarness(t *testing.T, cfg model.AdminConfig, pool []model.Question) *engineHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &engineHarness{
		mr:        mr,
		sessions:  repository.NewSessionRepository(rdb),
		convs:     repository.NewConversationRepository(rdb, 24*time.Hour),
		bank:      &fakeBank{cfg: cfg, questions: pool},
		recorder:  &fakeRecorder{},
		presenter: &fakePresenter{},
		events:    &fakePublisher{},
		archiver:  &fakeArchiver{},
		clock:     newManualClock(testStart),
	}

	h.engine = h.newEngine()
	return h
}

// newEngine builds an engine over the harness stores, as a fresh process would.
func (h *engineHarness) newEngine() *SessionEngine {
	return NewSessionEngine(SessionEngineDeps{
		Sessions:      h.sessions,
		Conversations: h.convs,
		Bank:          h.bank,
		Recorder:      h.recorder,
		Archiver:      h.archiver,
		Events:        h.events,
		Presenter:     h.presenter,
		Clock:         h.clock,
		Dispatch:      func(_ int64, fn func(ctx context.Context)) { fn(context.Background()) },
		Rand:          rand.New(rand.NewPCG(11, 17)),
	}, SessionEngineOptions{
		TTLPadding: 300 * time.Second,
		Pacing:     time.Second,
		Location:   time.UTC,
	}, zerolog.New(io.Discard))
}

// restart drops the running engine's timers and replaces it with a new one.
func (h *engineHarness) restart() {
	h.engine.stopTimers(testUser)
	h.engine = h.newEngine()
}

// begin stores the conversation the identity flow leaves behind.
func (h *engineHarness) begin(t *testing.T, campaign *model.CampaignRef) {
	t.Helper()
	require.NoError(t, h.convs.Save(context.Background(), testUser, &model.Conversation{
		Step:     model.StepPreparing,
		Profile:  model.Profile{TelegramID: testUser, Username: "driver"},
		FullName: "Иванов Иван Иванович",
		Campaign: campaign,
	}))
}

func (h *engineHarness) conversation(t *testing.T) *model.Conversation {
	t.Helper()
	conv, err := h.convs.Get(context.Background(), testUser)
	require.NoError(t, err)
	return conv
}

func (h *engineHarness) currentQuestion(t *testing.T) (int, model.Question) {
	t.Helper()
	conv := h.conversation(t)
	require.NotNil(t, conv)
	q, ok := conv.CurrentQuestion()
	require.True(t, ok)
	return conv.Session.CurrentIndex, q
}

func (h *engineHarness) answer(t *testing.T, correct bool) Verdict {
	t.Helper()
	idx, q := h.currentQuestion(t)
	option := q.CorrectOption
	if !correct {
		option = wrongOption(q)
	}
	verdict, err := h.engine.ResolveAnswer(context.Background(), testUser, idx, option)
	require.NoError(t, err)
	return verdict
}

func (h *engineHarness) assertCleared(t *testing.T) {
	t.Helper()
	exists, err := h.sessions.Exists(context.Background(), testUser)
	require.NoError(t, err)
	assert.False(t, exists, "session key must be deleted")
	assert.Nil(t, h.conversation(t), "conversation must be cleared")
	assert.Zero(t, h.engine.PendingTimers())
}

func wrongOption(q model.Question) int {
	for _, o := range q.PresentableOptions() {
		if o.Position != q.CorrectOption {
			return o.Position
		}
	}
	return 0
}

func questionPool(sizes map[string]int, order []string, critical bool, explanation string) []model.Question {
	var pool []model.Question
	row := 2
	for _, cat := range order {
		for i := 0; i < sizes[cat]; i++ {
			pool = append(pool, model.Question{
				RowIndex:      row,
				Category:      cat,
				Text:          cat + " вопрос",
				Options:       [model.MaxOptions]string{"Да", "Нет", "Не знаю", ""},
				CorrectOption: 1 + row%3,
				Critical:      critical,
				Explanation:   explanation,
			})
			row++
		}
	}
	return pool
}

func standardConfig() model.AdminConfig {
	return model.AdminConfig{NumQuestions: 5, MaxErrors: 3, RetryHours: 0, SecondsPerQuestion: 30}
}

func standardPool() []model.Question {
	return questionPool(map[string]int{"ПДД": 6, "Медицина": 4}, []string{"ПДД", "Медицина"}, false, "")
}

// ─── Tests ───────────────────────────────────────────────────────────

func TestEngineHappyPath(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	assert.True(t, h.presenter.sent(messages.Rules(5, 30, 3)))

	ttl, err := h.sessions.TTL(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 450*time.Second, ttl)

	conv := h.conversation(t)
	require.NotNil(t, conv)
	assert.Equal(t, model.StepAwaitingAnswer, conv.Step)
	assert.Equal(t, map[string]int{"ПДД": 3, "Медицина": 2}, countByCategory(conv.Questions))

	for i := 0; i < 5; i++ {
		assert.Equal(t, VerdictCorrect, h.answer(t, true))
		h.clock.Advance(time.Second)
	}

	require.Len(t, h.presenter.prompts, 5)
	for i, p := range h.presenter.prompts {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, i+1, p.Number)
		assert.Equal(t, 5, p.Total)
		assert.Len(t, p.Options, 3)
	}

	require.Equal(t, 1, h.recorder.WriteCount())
	res := h.recorder.results[0]
	assert.True(t, res.Passed)
	assert.Equal(t, 5, res.CorrectCount)
	assert.Equal(t, model.ResultStatusPassed, res.FinalStatus)
	assert.Equal(t, "driver", res.DisplayName)
	assert.Equal(t, "Иванов Иван Иванович", res.FullName)
	assert.Empty(t, res.Notes)
	assert.Len(t, h.archiver.queued, 1)

	assert.True(t, h.presenter.sent(messages.Finished(true, "", 5, 5)))
	h.assertCleared(t)

	last := h.events.events[len(h.events.events)-1]
	assert.Equal(t, model.SessionEventFinished, last.Type)
	require.NotNil(t, last.Passed)
	assert.True(t, *last.Passed)
}

func TestEngineTTLShrinksAsQuestionsAreAnswered(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	h.answer(t, true)
	h.clock.Advance(time.Second)

	ttl, err := h.sessions.TTL(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 4*30*time.Second+300*time.Second, ttl)

	stored, err := h.sessions.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentIndex)
	assert.Equal(t, 1, stored.CorrectCount)
	require.NotNil(t, stored.QuestionDeadline)
	assert.True(t, testStart.Add(31*time.Second).Equal(*stored.QuestionDeadline))
}

func TestEngineRejectsSecondSession(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	ctx := context.Background()

	existing := &model.Session{TelegramID: testUser, QuestionIDs: []int{2, 3}, RemainingScore: 1}
	require.NoError(t, h.sessions.Save(ctx, existing, time.Hour))
	h.begin(t, nil)

	err := h.engine.Prepare(ctx, testUser)
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.True(t, h.presenter.sent(messages.Get(messages.SessionActive)))
	assert.Empty(t, h.presenter.prompts)

	stored, err := h.sessions.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, existing.QuestionIDs, stored.QuestionIDs)

	conv := h.conversation(t)
	require.NotNil(t, conv)
	assert.Equal(t, model.StepNone, conv.Step)
}

func TestEngineCooldownGate(t *testing.T) {
	cfg := standardConfig()
	cfg.RetryHours = 24

	t.Run("last attempt 10 hours ago", func(t *testing.T) {
		h := newEngineHarness(t, cfg, standardPool())
		last := testStart.Add(-10 * time.Hour)
		h.bank.lastTest = &last
		h.begin(t, nil)

		err := h.engine.Prepare(context.Background(), testUser)
		var cerr *CooldownError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, last.Add(24*time.Hour), cerr.Until)
		assert.True(t, h.presenter.sent(messages.Cooldown(cerr.Until)))
		assert.Nil(t, h.conversation(t))
	})

	t.Run("last attempt 25 hours ago", func(t *testing.T) {
		h := newEngineHarness(t, cfg, standardPool())
		last := testStart.Add(-25 * time.Hour)
		h.bank.lastTest = &last
		h.begin(t, nil)

		require.NoError(t, h.engine.Prepare(context.Background(), testUser))
		assert.Len(t, h.presenter.prompts, 1)
	})
}

func TestEngineConfigurationErrors(t *testing.T) {
	t.Run("missing admin config", func(t *testing.T) {
		h := newEngineHarness(t, standardConfig(), standardPool())
		h.bank.cfgErr = errors.New("required fields are empty")
		h.begin(t, nil)

		err := h.engine.Prepare(context.Background(), testUser)
		var cerr *ConfigurationError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, ReasonConfigMissing, cerr.Reason)
		assert.True(t, h.presenter.sent(messages.Get(messages.ConfigMissing)))
		h.assertCleared(t)
	})

	t.Run("pool smaller than test", func(t *testing.T) {
		cfg := standardConfig()
		cfg.NumQuestions = 20
		h := newEngineHarness(t, cfg, standardPool())
		h.begin(t, nil)

		err := h.engine.Prepare(context.Background(), testUser)
		var cerr *ConfigurationError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, ReasonNotEnoughQuestions, cerr.Reason)
		assert.True(t, h.presenter.sent(messages.Get(messages.NotEnoughQuestions)))
		h.assertCleared(t)
	})

	t.Run("empty bank", func(t *testing.T) {
		h := newEngineHarness(t, standardConfig(), nil)
		h.begin(t, nil)

		err := h.engine.Prepare(context.Background(), testUser)
		var cerr *ConfigurationError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, ReasonNoQuestions, cerr.Reason)
	})
}

func TestEngineCriticalMissEndsTest(t *testing.T) {
	pool := questionPool(map[string]int{"ПДД": 8}, []string{"ПДД"}, true, "")
	h := newEngineHarness(t, standardConfig(), pool)
	h.begin(t, nil)

	require.NoError(t, h.engine.Prepare(context.Background(), testUser))
	assert.Equal(t, VerdictWrong, h.answer(t, false))

	require.Equal(t, 1, h.recorder.WriteCount())
	res := h.recorder.results[0]
	assert.False(t, res.Passed)
	assert.Equal(t, model.NoteCriticalFailed, res.Notes)
	assert.Equal(t, model.ResultStatusFailed, res.FinalStatus)
	assert.True(t, h.presenter.sent(messages.Get(messages.CriticalFailed)))
	assert.Len(t, h.presenter.prompts, 1)
	h.assertCleared(t)
}

func TestEngineScoreExhaustion(t *testing.T) {
	cfg := standardConfig()
	cfg.MaxErrors = 2
	h := newEngineHarness(t, cfg, standardPool())
	h.begin(t, nil)

	require.NoError(t, h.engine.Prepare(context.Background(), testUser))
	assert.Equal(t, VerdictWrong, h.answer(t, false))
	h.clock.Advance(time.Second)
	assert.Equal(t, VerdictWrong, h.answer(t, false))
	h.clock.Advance(time.Second)

	assert.Len(t, h.presenter.prompts, 2, "third question must never be shown")
	require.Equal(t, 1, h.recorder.WriteCount())
	assert.Equal(t, model.NoteScoreExhausted, h.recorder.results[0].Notes)
	assert.True(t, h.presenter.sent(messages.Get(messages.ScoreExhausted)))
	h.assertCleared(t)
}

func TestEngineTrainingModeShowsExplanation(t *testing.T) {
	pool := questionPool(map[string]int{"ПДД": 6}, []string{"ПДД"}, false, "Смотри п. 8.1")
	h := newEngineHarness(t, standardConfig(), pool)
	h.begin(t, &model.CampaignRef{Name: "Весна", Mode: model.CampaignTypeTraining})

	require.NoError(t, h.engine.Prepare(context.Background(), testUser))
	h.answer(t, false)
	assert.True(t, h.presenter.sent(messages.Explanation("Смотри п. 8.1")))
}

func TestEngineTestingModeHidesExplanation(t *testing.T) {
	pool := questionPool(map[string]int{"ПДД": 6}, []string{"ПДД"}, false, "Смотри п. 8.1")
	h := newEngineHarness(t, standardConfig(), pool)
	h.begin(t, &model.CampaignRef{Name: "Весна", Mode: model.CampaignTypeTesting})

	require.NoError(t, h.engine.Prepare(context.Background(), testUser))
	h.answer(t, false)
	assert.False(t, h.presenter.sent(messages.Explanation("Смотри п. 8.1")))
}

func TestEngineCampaignNameTagsResult(t *testing.T) {
	cfg := standardConfig()
	cfg.NumQuestions = 1
	h := newEngineHarness(t, cfg, standardPool())
	h.begin(t, &model.CampaignRef{Name: "Весна", Mode: model.CampaignTypeTesting})

	require.NoError(t, h.engine.Prepare(context.Background(), testUser))
	h.answer(t, true)
	h.clock.Advance(time.Second)

	require.Equal(t, 1, h.recorder.WriteCount())
	assert.Equal(t, "Весна", h.recorder.results[0].CampaignName)
	assert.True(t, h.presenter.sent(messages.Finished(true, "Весна", 1, 1)))
}

func TestEngineTimeoutFinishesTest(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	h.answer(t, true)
	h.clock.Advance(time.Second)

	h.clock.Advance(30*time.Second + timerGrace)

	require.Equal(t, 1, h.recorder.WriteCount())
	res := h.recorder.results[0]
	assert.False(t, res.Passed)
	assert.Equal(t, model.TimeoutNote(2), res.Notes)
	assert.Equal(t, 1, res.CorrectCount)
	assert.True(t, h.presenter.sent(messages.Get(messages.QuestionTimedOut)))
	h.assertCleared(t)
}

func TestEngineAnswerBeforeTimeoutWins(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	conv := h.conversation(t)
	deadline := *conv.Session.QuestionDeadline

	h.clock.Advance(29 * time.Second)
	assert.Equal(t, VerdictCorrect, h.answer(t, true))

	// The timer was cancelled; a late delivery must still be harmless.
	err := h.engine.ResolveTimeout(ctx, testUser, 0, deadline)
	assert.ErrorIs(t, err, ErrStaleEvent)
	assert.Zero(t, h.recorder.WriteCount())

	stored, err := h.sessions.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentIndex)
}

func TestEngineTimeoutBeforeAnswerWins(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	_, q := h.currentQuestion(t)

	h.clock.Advance(30*time.Second + timerGrace)
	require.Equal(t, 1, h.recorder.WriteCount())

	verdict, err := h.engine.ResolveAnswer(ctx, testUser, 0, q.CorrectOption)
	assert.ErrorIs(t, err, ErrStaleEvent)
	assert.Equal(t, VerdictStale, verdict)
	assert.Equal(t, 1, h.recorder.WriteCount())
}

func TestEngineLateAnswerIsTreatedAsTimeout(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	idx, q := h.currentQuestion(t)

	// Past the deadline but before the timer's grace period elapses.
	h.clock.Advance(30*time.Second + 100*time.Millisecond)
	verdict, err := h.engine.ResolveAnswer(ctx, testUser, idx, q.CorrectOption)
	require.NoError(t, err)
	assert.Equal(t, VerdictExpired, verdict)

	require.Equal(t, 1, h.recorder.WriteCount())
	assert.Equal(t, model.TimeoutNote(1), h.recorder.results[0].Notes)
	assert.Equal(t, 0, h.recorder.results[0].CorrectCount)

	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.recorder.WriteCount())
}

func TestEngineStaleAnswerChangesNothing(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	h.answer(t, true)

	// Double tap on the first question while the second is pending.
	verdict, err := h.engine.ResolveAnswer(ctx, testUser, 0, 1)
	assert.ErrorIs(t, err, ErrStaleEvent)
	assert.Equal(t, VerdictStale, verdict)

	stored, err := h.sessions.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentIndex)
	assert.Equal(t, 1, stored.CorrectCount)
	assert.Equal(t, 3, stored.RemainingScore)
}

func TestEngineFinishIsIdempotent(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	attempt := h.conversation(t).Session.AttemptID

	require.NoError(t, h.engine.Finish(ctx, testUser, attempt, model.Outcome{Passed: false, Notes: "manual"}))
	err := h.engine.Finish(ctx, testUser, attempt, model.Outcome{Passed: false, Notes: "manual"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.Equal(t, 1, h.recorder.WriteCount())
	assert.Len(t, h.archiver.queued, 1)
	h.assertCleared(t)
	assert.Zero(t, h.clock.armed())
}

func TestEngineRecorderFailureStillClears(t *testing.T) {
	cfg := standardConfig()
	cfg.NumQuestions = 1
	h := newEngineHarness(t, cfg, standardPool())
	h.recorder.err = errors.New("quota exceeded")
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	attempt := h.conversation(t).Session.AttemptID

	err := h.engine.Finish(ctx, testUser, attempt, model.Outcome{Passed: true})
	var warn *PersistenceWarning
	require.ErrorAs(t, err, &warn)
	assert.True(t, h.presenter.sent(messages.Get(messages.ResultNotSaved)))
	h.assertCleared(t)

	// A new attempt can start right away.
	h.begin(t, nil)
	require.NoError(t, h.engine.Prepare(ctx, testUser))
}

func TestEngineConversationLossKeepsGuard(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	require.NoError(t, h.convs.Clear(ctx, testUser))

	h.begin(t, nil)
	assert.ErrorIs(t, h.engine.Prepare(ctx, testUser), ErrSessionActive)

	h.mr.FastForward(451 * time.Second)
	h.begin(t, nil)
	require.NoError(t, h.engine.Prepare(ctx, testUser))
}

func TestEngineReset(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))

	s, ttl, err := h.engine.ActiveSession(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, testUser, s.TelegramID)
	assert.Positive(t, ttl)

	require.NoError(t, h.engine.Reset(ctx, testUser))
	h.assertCleared(t)
	assert.Zero(t, h.recorder.WriteCount())
	assert.True(t, h.presenter.sent(messages.Get(messages.SessionReset)))

	assert.ErrorIs(t, h.engine.Reset(ctx, testUser), ErrSessionNotFound)
	_, _, err = h.engine.ActiveSession(ctx, testUser)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// The cancelled timer never fires.
	h.clock.Advance(time.Minute)
	assert.Zero(t, h.recorder.WriteCount())
}

func TestEngineSnapshotsConfig(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	h.bank.cfg.SecondsPerQuestion = 5
	h.bank.cfg.MaxErrors = 0

	h.answer(t, false)
	h.clock.Advance(time.Second)

	stored, err := h.sessions.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 30, stored.Config.SecondsPerQuestion)
	assert.Equal(t, 2, stored.RemainingScore)

	h.clock.Advance(10 * time.Second)
	assert.Zero(t, h.recorder.WriteCount())
}

func TestEngineZeroAllowanceFailsOnFirstAnswer(t *testing.T) {
	cfg := standardConfig()
	cfg.MaxErrors = 0
	h := newEngineHarness(t, cfg, standardPool())
	h.begin(t, nil)

	require.NoError(t, h.engine.Prepare(context.Background(), testUser))
	assert.Equal(t, VerdictCorrect, h.answer(t, true))
	h.clock.Advance(time.Second)

	assert.Len(t, h.presenter.prompts, 1)
	require.Equal(t, 1, h.recorder.WriteCount())
	res := h.recorder.results[0]
	assert.False(t, res.Passed)
	assert.Equal(t, 1, res.CorrectCount)
	assert.Equal(t, model.NoteScoreExhausted, res.Notes)
	h.assertCleared(t)
}

// ─── Store failures ──────────────────────────────────────────────────

func TestEngineStoreFailureBetweenQuestionsEndsAttempt(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	assert.Equal(t, VerdictCorrect, h.answer(t, true))

	// Redis is unavailable exactly when the next question is due.
	h.mr.SetError("LOADING transient")
	h.clock.Advance(time.Second)
	h.mr.SetError("")

	assert.True(t, h.presenter.sent(messages.Get(messages.TestInterrupted)))
	assert.Len(t, h.presenter.prompts, 1)
	assert.Zero(t, h.recorder.WriteCount())

	h.clock.Advance(cleanupRetryDelay)

	require.Equal(t, 1, h.recorder.WriteCount())
	res := h.recorder.results[0]
	assert.False(t, res.Passed)
	assert.Equal(t, 1, res.CorrectCount)
	assert.Equal(t, model.NoteInterrupted, res.Notes)
	h.assertCleared(t)

	h.begin(t, nil)
	require.NoError(t, h.engine.Prepare(ctx, testUser))
}

func TestEngineStoreFailureOnFirstQuestionDropsAttempt(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))

	h.mr.SetError("LOADING transient")
	assert.Error(t, h.engine.AskNext(ctx, testUser))
	h.mr.SetError("")
	assert.True(t, h.presenter.sent(messages.Get(messages.TestInterrupted)))

	h.clock.Advance(cleanupRetryDelay)

	assert.Zero(t, h.recorder.WriteCount(), "nothing was scored yet")
	h.assertCleared(t)
}

func TestEngineAnswerLoadFailureEndsAttempt(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	h.answer(t, true)
	h.clock.Advance(time.Second)
	idx, q := h.currentQuestion(t)

	h.mr.SetError("LOADING transient")
	verdict, err := h.engine.ResolveAnswer(ctx, testUser, idx, q.CorrectOption)
	h.mr.SetError("")
	require.Error(t, err)
	assert.Equal(t, VerdictStale, verdict)

	// The question timer is gone; only the cleanup retry remains.
	h.clock.Advance(cleanupRetryDelay)
	require.Equal(t, 1, h.recorder.WriteCount())
	assert.Equal(t, model.NoteInterrupted, h.recorder.results[0].Notes)
	h.assertCleared(t)
}

func TestEngineCleanupGivesUpWhileStoreIsDown(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	h.answer(t, true)

	h.mr.SetError("LOADING transient")
	h.clock.Advance(time.Minute)
	h.mr.SetError("")

	assert.Zero(t, h.engine.PendingTimers())
	assert.Zero(t, h.recorder.WriteCount())

	// The key is left to its TTL.
	h.mr.FastForward(10 * time.Minute)
	h.begin(t, nil)
	require.NoError(t, h.engine.Prepare(ctx, testUser))
}

// ─── Resume ──────────────────────────────────────────────────────────

func TestEngineResumeTimesOutExpiredQuestion(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	h.restart()
	h.clock.Advance(time.Minute)
	assert.Zero(t, h.recorder.WriteCount(), "no timer survives the restart")

	n, err := h.engine.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Equal(t, 1, h.recorder.WriteCount())
	assert.Equal(t, model.TimeoutNote(1), h.recorder.results[0].Notes)
	h.assertCleared(t)
}

func TestEngineResumeRearmsLiveQuestion(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	h.restart()
	h.clock.Advance(10 * time.Second)

	_, err := h.engine.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.engine.PendingTimers())
	assert.Len(t, h.presenter.prompts, 1, "the question on screen is not sent again")

	h.clock.Advance(time.Minute)
	require.Equal(t, 1, h.recorder.WriteCount())
	assert.Equal(t, model.TimeoutNote(1), h.recorder.results[0].Notes)
}

func TestEngineResumeAsksPendingQuestion(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())
	h.begin(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Prepare(ctx, testUser))
	h.answer(t, true)
	h.restart()
	h.clock.Advance(time.Minute)
	assert.Len(t, h.presenter.prompts, 1)

	_, err := h.engine.Resume(ctx)
	require.NoError(t, err)

	require.Len(t, h.presenter.prompts, 2)
	assert.Equal(t, 1, h.presenter.prompts[1].Index)
	assert.Equal(t, VerdictCorrect, h.answer(t, true))
}

func TestEngineResumeWithNothingStored(t *testing.T) {
	h := newEngineHarness(t, standardConfig(), standardPool())

	n, err := h.engine.Resume(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
