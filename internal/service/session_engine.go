package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/messages"
	"github.com/stemsi/drivertest-bot/internal/model"
)

// timerGrace delays the timeout callback past the deadline so the guard
// "now >= deadline" holds when it runs.
const timerGrace = 500 * time.Millisecond

// Stranded state is cleared again every cleanupRetryDelay, at most
// maxCleanupAttempts times; after that the key expires with its TTL.
const (
	cleanupRetryDelay  = 5 * time.Second
	maxCleanupAttempts = 5
)

// ─── Collaborators ───────────────────────────────────────────────────

// SessionStore is the durable, expiring store of in-flight sessions.
type SessionStore interface {
	Get(ctx context.Context, telegramID int64) (*model.Session, error)
	Save(ctx context.Context, s *model.Session, ttl time.Duration) error
	Exists(ctx context.Context, telegramID int64) (bool, error)
	TTL(ctx context.Context, telegramID int64) (time.Duration, error)
	Delete(ctx context.Context, telegramID int64) error
	ActiveIDs(ctx context.Context) ([]int64, error)
}

// ConversationStore keeps the per-user conversation state.
type ConversationStore interface {
	Get(ctx context.Context, telegramID int64) (*model.Conversation, error)
	Save(ctx context.Context, telegramID int64, c *model.Conversation) error
	Clear(ctx context.Context, telegramID int64) error
}

// QuestionBank supplies the admin settings, questions and attempt history.
type QuestionBank interface {
	ReadAdminConfig(ctx context.Context) (model.AdminConfig, error)
	ReadQuestions(ctx context.Context) ([]model.Question, error)
	LastTestTime(ctx context.Context, telegramID int64) (*time.Time, error)
}

// ResultRecorder persists finished attempts.
type ResultRecorder interface {
	WriteResult(ctx context.Context, r model.TestResult) error
}

// ResultArchiver queues finished attempts for the Postgres archive.
type ResultArchiver interface {
	Enqueue(ctx context.Context, r model.TestResult) error
}

// EventPublisher receives session lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.SessionEvent) error
}

// QuestionPrompt is one question as shown to the user. Index is echoed back
// by the answer buttons.
type QuestionPrompt struct {
	Index   int
	Number  int
	Total   int
	Text    string
	Options []model.AnswerOption
}

// Presenter delivers engine output to the chat.
type Presenter interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendQuestion(ctx context.Context, chatID int64, p QuestionPrompt) error
}

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for the engine.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Dispatch runs fn on the serialized event queue of one user.
type Dispatch func(telegramID int64, fn func(ctx context.Context))

// Verdict is the outcome of an answer event.
type Verdict int

const (
	VerdictStale Verdict = iota
	VerdictExpired
	VerdictCorrect
	VerdictWrong
)

// SessionEngineDeps are the collaborators of a SessionEngine. Archiver and
// Events are optional.
type SessionEngineDeps struct {
	Sessions      SessionStore
	Conversations ConversationStore
	Bank          QuestionBank
	Recorder      ResultRecorder
	Archiver      ResultArchiver
	Events        EventPublisher
	Presenter     Presenter
	Clock         Clock
	Dispatch      Dispatch
	Rand          *rand.Rand
}

// SessionEngineOptions tune session timing.
type SessionEngineOptions struct {
	TTLPadding time.Duration
	Pacing     time.Duration
	Location   *time.Location
}

type userTimers struct {
	timeout Timer
	pacing  Timer
	cleanup Timer
}

// SessionEngine runs the test lifecycle: prepare, ask, resolve an answer or
// a timeout, finish. All calls for one user must arrive through that user's
// Dispatch queue; the engine holds no per-user lock of its own.
type SessionEngine struct {
	sessions  SessionStore
	convs     ConversationStore
	bank      QuestionBank
	recorder  ResultRecorder
	archiver  ResultArchiver
	events    EventPublisher
	presenter Presenter
	clock     Clock
	dispatch  Dispatch

	rngMu sync.Mutex
	rng   *rand.Rand

	padding time.Duration
	pacing  time.Duration
	loc     *time.Location
	log     zerolog.Logger

	timersMu sync.Mutex
	timers   map[int64]*userTimers
}

// NewSessionEngine creates a new SessionEngine.
func NewSessionEngine(deps SessionEngineDeps, opts SessionEngineOptions, log zerolog.Logger) *SessionEngine {
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if deps.Dispatch == nil {
		deps.Dispatch = func(_ int64, fn func(ctx context.Context)) { go fn(context.Background()) }
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &SessionEngine{
		sessions:  deps.Sessions,
		convs:     deps.Conversations,
		bank:      deps.Bank,
		recorder:  deps.Recorder,
		archiver:  deps.Archiver,
		events:    deps.Events,
		presenter: deps.Presenter,
		clock:     deps.Clock,
		dispatch:  deps.Dispatch,
		rng:       deps.Rand,
		padding:   opts.TTLPadding,
		pacing:    opts.Pacing,
		loc:       opts.Location,
		log:       log.With().Str("component", "session_engine").Logger(),
		timers:    make(map[int64]*userTimers),
	}
}

// ─── Prepare ─────────────────────────────────────────────────────────

// Prepare starts a test for the identity collected in the user's
// conversation. It rejects a second session, enforces the retry cooldown,
// selects the questions and presents the first one.
func (e *SessionEngine) Prepare(ctx context.Context, telegramID int64) error {
	log := e.log.With().Int64("telegram_id", telegramID).Logger()

	active, err := e.sessions.Exists(ctx, telegramID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to check active session")
		e.say(ctx, telegramID, messages.Get(messages.PrepareFailed))
		return fmt.Errorf("check active session: %w", err)
	}

	conv, err := e.convs.Get(ctx, telegramID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load conversation")
		e.say(ctx, telegramID, messages.Get(messages.PrepareFailed))
		return fmt.Errorf("load conversation: %w", err)
	}

	if active {
		log.Warn().Msg("Start rejected: session already active")
		e.say(ctx, telegramID, messages.Get(messages.SessionActive))
		// A conversation holding the live session is left alone; one that
		// only carried the identity flow goes back to idle.
		if conv != nil && conv.Session == nil {
			conv.Step = model.StepNone
			if err := e.convs.Save(ctx, telegramID, conv); err != nil {
				log.Warn().Err(err).Msg("Failed to reset conversation step")
			}
		}
		return ErrSessionActive
	}

	if conv == nil || conv.FullName == "" {
		log.Warn().Msg("Start rejected: identity not collected")
		e.say(ctx, telegramID, messages.Get(messages.SessionLost))
		return ErrSessionNotFound
	}

	cfg, err := e.bank.ReadAdminConfig(ctx)
	if err != nil {
		return e.abortPrepare(ctx, telegramID, &ConfigurationError{Reason: ReasonConfigMissing, Err: err}, messages.ConfigMissing)
	}

	now := e.clock.Now()
	if cfg.RetryHours > 0 {
		last, err := e.bank.LastTestTime(ctx, telegramID)
		if err != nil {
			return e.abortPrepare(ctx, telegramID, &ConfigurationError{Reason: "attempt history unavailable", Err: err}, messages.PrepareFailed)
		}
		if last != nil {
			until := last.Add(cfg.Cooldown())
			if now.Before(until) {
				log.Info().Time("retry_at", until).Msg("Start rejected: cooldown")
				e.say(ctx, telegramID, messages.Cooldown(until.In(e.loc)))
				e.clearConversation(ctx, telegramID)
				return &CooldownError{Until: until}
			}
		}
	}

	pool, err := e.bank.ReadQuestions(ctx)
	if err != nil {
		return e.abortPrepare(ctx, telegramID, &ConfigurationError{Reason: "question bank unavailable", Err: err}, messages.PrepareFailed)
	}
	if len(pool) == 0 {
		return e.abortPrepare(ctx, telegramID, &ConfigurationError{Reason: ReasonNoQuestions}, messages.NoQuestions)
	}
	if len(pool) < cfg.NumQuestions {
		log.Error().Int("available", len(pool)).Int("required", cfg.NumQuestions).Msg("Not enough questions")
		return e.abortPrepare(ctx, telegramID, &ConfigurationError{Reason: ReasonNotEnoughQuestions}, messages.NotEnoughQuestions)
	}

	selected := e.distribute(pool, cfg.NumQuestions)
	if len(selected) < cfg.NumQuestions {
		log.Error().Int("selected", len(selected)).Int("required", cfg.NumQuestions).Msg("Distribution fell short")
		return e.abortPrepare(ctx, telegramID, &ConfigurationError{Reason: ReasonDistributionFailure}, messages.DistributionFailed)
	}

	ids := make([]int, len(selected))
	for i, q := range selected {
		ids[i] = q.RowIndex
	}

	s := &model.Session{
		AttemptID:      uuid.New(),
		TelegramID:     telegramID,
		FullName:       conv.FullName,
		QuestionIDs:    ids,
		RemainingScore: cfg.MaxErrors,
		StartedAt:      now,
		LastActionAt:   now,
		Config:         cfg,
		Campaign:       conv.Campaign,
	}
	conv.Questions = selected
	conv.Session = s
	conv.Step = model.StepAsking

	ttl := time.Duration(len(selected))*cfg.QuestionDuration() + e.padding
	if err := e.persist(ctx, conv, ttl); err != nil {
		log.Error().Err(err).Msg("Failed to store new session")
		if derr := e.sessions.Delete(ctx, telegramID); derr != nil {
			log.Warn().Err(derr).Msg("Failed to roll back session key")
		}
		e.clearConversation(ctx, telegramID)
		e.say(ctx, telegramID, messages.Get(messages.PrepareFailed))
		return fmt.Errorf("store session: %w", err)
	}

	log.Info().
		Str("attempt_id", s.AttemptID.String()).
		Int("questions", len(selected)).
		Str("campaign", s.CampaignName()).
		Dur("ttl", ttl).
		Msg("Session prepared")

	e.say(ctx, telegramID, messages.Rules(len(selected), cfg.SecondsPerQuestion, cfg.MaxErrors))
	e.publish(ctx, model.SessionEventStarted, s, nil, "")

	return e.askNext(ctx, telegramID, s.AttemptID)
}

func (e *SessionEngine) abortPrepare(ctx context.Context, telegramID int64, cerr *ConfigurationError, code messages.Code) error {
	e.log.Error().Err(cerr).Int64("telegram_id", telegramID).Msg("Cannot prepare test")
	e.say(ctx, telegramID, messages.Get(code))
	e.clearConversation(ctx, telegramID)
	return cerr
}

func (e *SessionEngine) distribute(pool []model.Question, target int) []model.Question {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return DistributeQuestions(pool, target, e.rng)
}

// ─── Ask ─────────────────────────────────────────────────────────────

// AskNext presents the question under the cursor and arms its timeout, or
// finishes the test as passed when every question has been answered.
func (e *SessionEngine) AskNext(ctx context.Context, telegramID int64) error {
	return e.askNext(ctx, telegramID, uuid.Nil)
}

// askNext ignores the call when attempt is set and no longer live.
func (e *SessionEngine) askNext(ctx context.Context, telegramID int64, attempt uuid.UUID) error {
	conv, err := e.convs.Get(ctx, telegramID)
	if err != nil {
		return e.interrupt(ctx, telegramID, nil, attempt, fmt.Errorf("load conversation: %w", err))
	}
	if conv == nil || conv.Session == nil {
		if attempt != uuid.Nil {
			return ErrStaleEvent
		}
		e.stopTimers(telegramID)
		e.say(ctx, telegramID, messages.Get(messages.SessionLost))
		return ErrSessionNotFound
	}

	s := conv.Session
	if attempt != uuid.Nil && s.AttemptID != attempt {
		return ErrStaleEvent
	}

	if s.Exhausted() {
		return e.finish(ctx, conv, model.Outcome{Passed: true})
	}

	q, ok := conv.CurrentQuestion()
	if !ok {
		e.log.Error().Int64("telegram_id", telegramID).Int("index", s.CurrentIndex).Msg("Selected questions missing from conversation")
		e.stopTimers(telegramID)
		e.say(ctx, telegramID, messages.Get(messages.SessionLost))
		return ErrSessionNotFound
	}

	now := e.clock.Now()
	deadline := now.Add(s.Config.QuestionDuration())
	s.QuestionDeadline = &deadline
	s.LastActionAt = now
	conv.Step = model.StepAwaitingAnswer

	ttl := time.Duration(s.Remaining())*s.Config.QuestionDuration() + e.padding
	if err := e.persist(ctx, conv, ttl); err != nil {
		return e.interrupt(ctx, telegramID, conv, s.AttemptID, fmt.Errorf("store session: %w", err))
	}

	index := s.CurrentIndex
	prompt := QuestionPrompt{
		Index:   index,
		Number:  index + 1,
		Total:   s.Total(),
		Text:    q.Text,
		Options: q.PresentableOptions(),
	}
	if err := e.presenter.SendQuestion(ctx, telegramID, prompt); err != nil {
		// The timeout below still ends the attempt if the user never sees it.
		e.log.Error().Err(err).Int64("telegram_id", telegramID).Int("index", index).Msg("Failed to send question")
	}

	e.armQuestionTimeout(telegramID, index, deadline)

	e.log.Info().
		Int64("telegram_id", telegramID).
		Str("attempt_id", s.AttemptID.String()).
		Int("index", index).
		Int("row", q.RowIndex).
		Msg("Question sent")
	e.publish(ctx, model.SessionEventAsked, s, nil, "")
	return nil
}

func (e *SessionEngine) armQuestionTimeout(telegramID int64, index int, deadline time.Time) {
	e.armTimeout(telegramID, deadline.Sub(e.clock.Now())+timerGrace, func() {
		e.dispatch(telegramID, func(ctx context.Context) {
			if err := e.ResolveTimeout(ctx, telegramID, index, deadline); err != nil && !errors.Is(err, ErrStaleEvent) {
				e.log.Error().Err(err).Int64("telegram_id", telegramID).Int("index", index).Msg("Timeout resolution failed")
			}
		})
	})
}

// ─── Resolve ─────────────────────────────────────────────────────────

// ResolveAnswer scores the option chosen for the question at index. Answers
// for any other index are stale and change nothing; answers after the
// deadline resolve the question as timed out.
func (e *SessionEngine) ResolveAnswer(ctx context.Context, telegramID int64, index, option int) (Verdict, error) {
	log := e.log.With().Int64("telegram_id", telegramID).Int("index", index).Logger()

	conv, err := e.convs.Get(ctx, telegramID)
	if err != nil {
		return VerdictStale, e.interrupt(ctx, telegramID, nil, uuid.Nil, fmt.Errorf("load conversation: %w", err))
	}
	if conv == nil || conv.Session == nil || conv.Session.QuestionDeadline == nil || conv.Session.CurrentIndex != index {
		log.Debug().Msg("Stale answer ignored")
		return VerdictStale, ErrStaleEvent
	}

	s := conv.Session
	now := e.clock.Now()
	if now.After(*s.QuestionDeadline) {
		log.Info().Msg("Answer arrived after the deadline")
		return VerdictExpired, e.resolveTimeout(ctx, conv, index, *s.QuestionDeadline)
	}

	q, ok := conv.CurrentQuestion()
	if !ok {
		return VerdictStale, ErrStaleEvent
	}
	e.stopTimeout(telegramID)

	verdict := VerdictCorrect
	if q.IsCorrect(option) {
		s.CorrectCount++
	} else {
		verdict = VerdictWrong
		s.RemainingScore--

		if q.Critical {
			log.Info().Str("attempt_id", s.AttemptID.String()).Msg("Critical question failed")
			e.say(ctx, telegramID, messages.Get(messages.CriticalFailed))
			return verdict, e.finish(ctx, conv, model.Outcome{Passed: false, Notes: model.NoteCriticalFailed})
		}
		if s.Training() && q.Explanation != "" {
			e.say(ctx, telegramID, messages.Explanation(q.Explanation))
		}
	}

	log.Info().
		Str("attempt_id", s.AttemptID.String()).
		Int("chosen", option).
		Int("correct_option", q.CorrectOption).
		Bool("correct", verdict == VerdictCorrect).
		Int("remaining_score", s.RemainingScore).
		Msg("Answer resolved")
	e.publish(ctx, model.SessionEventAnswered, s, nil, "")

	if s.RemainingScore <= 0 {
		e.say(ctx, telegramID, messages.Get(messages.ScoreExhausted))
		return verdict, e.finish(ctx, conv, model.Outcome{Passed: false, Notes: model.NoteScoreExhausted})
	}

	s.CurrentIndex++
	s.QuestionDeadline = nil
	s.LastActionAt = now
	conv.Step = model.StepAsking

	ttl := time.Duration(s.Remaining())*s.Config.QuestionDuration() + e.padding
	if err := e.persist(ctx, conv, ttl); err != nil {
		return verdict, e.interrupt(ctx, telegramID, conv, s.AttemptID, fmt.Errorf("store session: %w", err))
	}

	if e.pacing <= 0 {
		return verdict, e.askNext(ctx, telegramID, s.AttemptID)
	}

	attempt := s.AttemptID
	e.armPacing(telegramID, e.pacing, func() {
		e.dispatch(telegramID, func(ctx context.Context) {
			if err := e.askNext(ctx, telegramID, attempt); err != nil && !errors.Is(err, ErrStaleEvent) {
				e.log.Error().Err(err).Int64("telegram_id", telegramID).Msg("Failed to ask next question")
			}
		})
	})
	return verdict, nil
}

// ResolveTimeout ends the test when the question at index is still live and
// its deadline has passed. Anything else is a stale timer and a no-op.
func (e *SessionEngine) ResolveTimeout(ctx context.Context, telegramID int64, index int, deadline time.Time) error {
	conv, err := e.convs.Get(ctx, telegramID)
	if err != nil {
		return e.interrupt(ctx, telegramID, nil, uuid.Nil, fmt.Errorf("load conversation: %w", err))
	}
	if conv == nil || conv.Session == nil {
		return ErrStaleEvent
	}
	return e.resolveTimeout(ctx, conv, index, deadline)
}

func (e *SessionEngine) resolveTimeout(ctx context.Context, conv *model.Conversation, index int, deadline time.Time) error {
	s := conv.Session
	if s.CurrentIndex != index || s.QuestionDeadline == nil || !s.QuestionDeadline.Equal(deadline) {
		return ErrStaleEvent
	}
	if e.clock.Now().Before(deadline) {
		return ErrStaleEvent
	}

	e.log.Info().
		Int64("telegram_id", s.TelegramID).
		Str("attempt_id", s.AttemptID.String()).
		Int("index", index).
		Msg("Question timed out")
	e.say(ctx, s.TelegramID, messages.Get(messages.QuestionTimedOut))
	return e.finish(ctx, conv, model.Outcome{Passed: false, Notes: model.TimeoutNote(index + 1)})
}

// ─── Finish ──────────────────────────────────────────────────────────

// Finish ends the given attempt with outcome. It is a no-op returning
// ErrSessionNotFound when that attempt is no longer live.
func (e *SessionEngine) Finish(ctx context.Context, telegramID int64, attemptID uuid.UUID, outcome model.Outcome) error {
	conv, err := e.convs.Get(ctx, telegramID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil || conv.Session == nil || conv.Session.AttemptID != attemptID {
		return ErrSessionNotFound
	}
	return e.finish(ctx, conv, outcome)
}

// finish records the result and clears both stores. A recorder failure is
// reported as PersistenceWarning after the stores are cleared.
func (e *SessionEngine) finish(ctx context.Context, conv *model.Conversation, outcome model.Outcome) error {
	s := conv.Session
	id := s.TelegramID
	log := e.log.With().Int64("telegram_id", id).Str("attempt_id", s.AttemptID.String()).Logger()

	e.stopTimers(id)

	status := model.ResultStatusFailed
	if outcome.Passed {
		status = model.ResultStatusPassed
	}
	result := model.TestResult{
		AttemptID:      s.AttemptID,
		TelegramID:     id,
		DisplayName:    conv.Profile.DisplayName(),
		TestedAt:       e.clock.Now(),
		FullName:       s.FullName,
		Passed:         outcome.Passed,
		CorrectCount:   s.CorrectCount,
		TotalQuestions: s.Total(),
		Notes:          outcome.Notes,
		CampaignName:   s.CampaignName(),
		FinalStatus:    status,
	}

	var warning error
	if err := e.recorder.WriteResult(ctx, result); err != nil {
		log.Error().Err(err).Msg("Failed to record result")
		e.say(ctx, id, messages.Get(messages.ResultNotSaved))
		warning = &PersistenceWarning{Err: err}
	}
	if e.archiver != nil {
		if err := e.archiver.Enqueue(ctx, result); err != nil {
			log.Warn().Err(err).Msg("Failed to queue result for archive")
		}
	}

	if err := errors.Join(e.sessions.Delete(ctx, id), e.convs.Clear(ctx, id)); err != nil {
		log.Error().Err(err).Msg("Failed to clear session state")
		e.scheduleDiscard(id, s.AttemptID, 1)
	}

	log.Info().
		Bool("passed", outcome.Passed).
		Int("correct", s.CorrectCount).
		Int("total", s.Total()).
		Str("notes", outcome.Notes).
		Msg("Session finished")

	e.say(ctx, id, messages.Finished(outcome.Passed, s.CampaignName(), s.CorrectCount, s.Total()))
	e.publish(ctx, model.SessionEventFinished, s, &outcome.Passed, outcome.Notes)
	return warning
}

// ─── Failure recovery ────────────────────────────────────────────────

// interrupt ends the attempt after a store failure so the user is never left
// with a live key and no question. conv may be nil when it could not be
// loaded.
func (e *SessionEngine) interrupt(ctx context.Context, telegramID int64, conv *model.Conversation, attempt uuid.UUID, cause error) error {
	e.log.Error().Err(cause).Int64("telegram_id", telegramID).Msg("Test interrupted by storage failure")

	e.stopTimers(telegramID)
	e.say(ctx, telegramID, messages.Get(messages.TestInterrupted))
	e.settle(ctx, telegramID, conv, attempt, 1)
	return cause
}

// settle closes an interrupted attempt. Attempts with scored answers are
// recorded as failed; one that never got past the first question is dropped.
// While the conversation cannot be read it retries on the cleanup timer.
func (e *SessionEngine) settle(ctx context.Context, telegramID int64, conv *model.Conversation, attempt uuid.UUID, try int) {
	if conv == nil {
		loaded, err := e.convs.Get(ctx, telegramID)
		if err != nil {
			e.log.Error().Err(err).Int64("telegram_id", telegramID).Int("try", try).Msg("Failed to load interrupted session")
			if try >= maxCleanupAttempts {
				e.dropCleanup(telegramID)
				e.log.Error().Int64("telegram_id", telegramID).Msg("Giving up on session cleanup; key expires with its TTL")
				return
			}
			e.armCleanup(telegramID, cleanupRetryDelay, func() {
				e.dispatch(telegramID, func(ctx context.Context) {
					e.settle(ctx, telegramID, nil, attempt, try+1)
				})
			})
			return
		}
		conv = loaded
	}

	if conv != nil && conv.Session != nil {
		if attempt != uuid.Nil && conv.Session.AttemptID != attempt {
			e.dropCleanup(telegramID)
			return
		}
		if conv.Session.CurrentIndex > 0 {
			if err := e.finish(ctx, conv, model.Outcome{Passed: false, Notes: model.NoteInterrupted}); err != nil {
				e.log.Warn().Err(err).Int64("telegram_id", telegramID).Msg("Interrupted attempt finished with warnings")
			}
			return
		}
		attempt = conv.Session.AttemptID
	}

	e.discard(ctx, telegramID, attempt, 1)
}

// discard deletes both stores without recording a result, retrying on
// failure. A key owned by a different attempt is left alone.
func (e *SessionEngine) discard(ctx context.Context, telegramID int64, attempt uuid.UUID, try int) {
	log := e.log.With().Int64("telegram_id", telegramID).Int("try", try).Logger()

	if attempt != uuid.Nil {
		if s, err := e.sessions.Get(ctx, telegramID); err == nil && s != nil && s.AttemptID != attempt {
			e.dropCleanup(telegramID)
			return
		}
	}

	if err := errors.Join(e.sessions.Delete(ctx, telegramID), e.convs.Clear(ctx, telegramID)); err != nil {
		log.Error().Err(err).Msg("Failed to clear stranded session")
		e.scheduleDiscard(telegramID, attempt, try+1)
		return
	}
	e.stopTimers(telegramID)
	log.Info().Msg("Stranded session cleared")
}

func (e *SessionEngine) scheduleDiscard(telegramID int64, attempt uuid.UUID, try int) {
	if try > maxCleanupAttempts {
		e.dropCleanup(telegramID)
		e.log.Error().Int64("telegram_id", telegramID).Msg("Giving up on session cleanup; key expires with its TTL")
		return
	}
	e.armCleanup(telegramID, cleanupRetryDelay, func() {
		e.dispatch(telegramID, func(ctx context.Context) {
			e.discard(ctx, telegramID, attempt, try)
		})
	})
}

// Resume picks up sessions left in the store by a previous process: a
// question past its deadline times out, a live one gets its timer back and
// one caught between questions is asked. It returns the number of sessions
// queued for recovery.
func (e *SessionEngine) Resume(ctx context.Context) (int, error) {
	ids, err := e.sessions.ActiveIDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		e.dispatch(id, func(ctx context.Context) {
			if err := e.resume(ctx, id); err != nil && !errors.Is(err, ErrStaleEvent) {
				e.log.Error().Err(err).Int64("telegram_id", id).Msg("Failed to resume session")
			}
		})
	}
	return len(ids), nil
}

func (e *SessionEngine) resume(ctx context.Context, telegramID int64) error {
	log := e.log.With().Int64("telegram_id", telegramID).Logger()

	conv, err := e.convs.Get(ctx, telegramID)
	if err != nil {
		return e.interrupt(ctx, telegramID, nil, uuid.Nil, fmt.Errorf("load conversation: %w", err))
	}
	if conv == nil || conv.Session == nil {
		log.Warn().Msg("Session has no conversation; left to expire")
		return ErrStaleEvent
	}

	s := conv.Session
	log = log.With().Str("attempt_id", s.AttemptID.String()).Int("index", s.CurrentIndex).Logger()
	if s.QuestionDeadline == nil {
		log.Info().Msg("Resuming session between questions")
		return e.askNext(ctx, telegramID, s.AttemptID)
	}

	deadline := *s.QuestionDeadline
	if !e.clock.Now().Before(deadline) {
		log.Info().Msg("Resumed session is past its deadline")
		return e.resolveTimeout(ctx, conv, s.CurrentIndex, deadline)
	}

	log.Info().Time("deadline", deadline).Msg("Resuming question timer")
	e.armQuestionTimeout(telegramID, s.CurrentIndex, deadline)
	return nil
}

// ─── Admin ───────────────────────────────────────────────────────────

// Reset discards the user's session without recording a result. It runs on
// the user's queue and waits for completion.
func (e *SessionEngine) Reset(ctx context.Context, telegramID int64) error {
	done := make(chan error, 1)
	e.dispatch(telegramID, func(ctx context.Context) {
		done <- e.reset(ctx, telegramID)
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *SessionEngine) reset(ctx context.Context, telegramID int64) error {
	s, err := e.sessions.Get(ctx, telegramID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		return ErrSessionNotFound
	}

	e.stopTimers(telegramID)
	if err := e.sessions.Delete(ctx, telegramID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	e.clearConversation(ctx, telegramID)

	e.log.Warn().Int64("telegram_id", telegramID).Str("attempt_id", s.AttemptID.String()).Msg("Session reset by admin")
	e.say(ctx, telegramID, messages.Get(messages.SessionReset))
	e.publish(ctx, model.SessionEventReset, s, nil, "")
	return nil
}

// ActiveSession returns the stored session and its remaining lifetime.
func (e *SessionEngine) ActiveSession(ctx context.Context, telegramID int64) (*model.Session, time.Duration, error) {
	s, err := e.sessions.Get(ctx, telegramID)
	if err != nil {
		return nil, 0, err
	}
	if s == nil {
		return nil, 0, ErrSessionNotFound
	}
	ttl, err := e.sessions.TTL(ctx, telegramID)
	if err != nil {
		return nil, 0, err
	}
	return s, ttl, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────

// persist writes the durable key first, then the conversation.
func (e *SessionEngine) persist(ctx context.Context, conv *model.Conversation, ttl time.Duration) error {
	if err := e.sessions.Save(ctx, conv.Session, ttl); err != nil {
		return err
	}
	return e.convs.Save(ctx, conv.Session.TelegramID, conv)
}

func (e *SessionEngine) clearConversation(ctx context.Context, telegramID int64) {
	if err := e.convs.Clear(ctx, telegramID); err != nil {
		e.log.Warn().Err(err).Int64("telegram_id", telegramID).Msg("Failed to clear conversation")
	}
}

func (e *SessionEngine) say(ctx context.Context, telegramID int64, text string) {
	if err := e.presenter.SendText(ctx, telegramID, text); err != nil {
		e.log.Warn().Err(err).Int64("telegram_id", telegramID).Msg("Failed to send message")
	}
}

func (e *SessionEngine) publish(ctx context.Context, typ model.SessionEventType, s *model.Session, passed *bool, notes string) {
	if e.events == nil {
		return
	}
	ev := model.SessionEvent{
		Type:           typ,
		TelegramID:     s.TelegramID,
		AttemptID:      s.AttemptID,
		Index:          s.CurrentIndex,
		Total:          s.Total(),
		CorrectCount:   s.CorrectCount,
		RemainingScore: s.RemainingScore,
		Passed:         passed,
		Notes:          notes,
		At:             e.clock.Now(),
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log.Debug().Err(err).Str("event", string(typ)).Msg("Failed to publish session event")
	}
}

func (e *SessionEngine) armTimeout(telegramID int64, d time.Duration, f func()) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	t := e.userTimers(telegramID)
	if t.timeout != nil {
		t.timeout.Stop()
	}
	t.timeout = e.clock.AfterFunc(d, f)
}

func (e *SessionEngine) armPacing(telegramID int64, d time.Duration, f func()) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	t := e.userTimers(telegramID)
	if t.pacing != nil {
		t.pacing.Stop()
	}
	t.pacing = e.clock.AfterFunc(d, f)
}

func (e *SessionEngine) armCleanup(telegramID int64, d time.Duration, f func()) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	t := e.userTimers(telegramID)
	if t.cleanup != nil {
		t.cleanup.Stop()
	}
	t.cleanup = e.clock.AfterFunc(d, f)
}

func (e *SessionEngine) dropCleanup(telegramID int64) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	t, ok := e.timers[telegramID]
	if !ok {
		return
	}
	t.cleanup = nil
	if t.timeout == nil && t.pacing == nil {
		delete(e.timers, telegramID)
	}
}

func (e *SessionEngine) stopTimeout(telegramID int64) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if t, ok := e.timers[telegramID]; ok && t.timeout != nil {
		t.timeout.Stop()
		t.timeout = nil
	}
}

func (e *SessionEngine) stopTimers(telegramID int64) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	t, ok := e.timers[telegramID]
	if !ok {
		return
	}
	if t.timeout != nil {
		t.timeout.Stop()
	}
	if t.pacing != nil {
		t.pacing.Stop()
	}
	if t.cleanup != nil {
		t.cleanup.Stop()
	}
	delete(e.timers, telegramID)
}

// userTimers must be called with timersMu held.
func (e *SessionEngine) userTimers(telegramID int64) *userTimers {
	t, ok := e.timers[telegramID]
	if !ok {
		t = &userTimers{}
		e.timers[telegramID] = t
	}
	return t
}

// PendingTimers reports how many users have an armed timer.
func (e *SessionEngine) PendingTimers() int {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	return len(e.timers)
}
