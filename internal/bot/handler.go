package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/config"
	"github.com/stemsi/drivertest-bot/internal/messages"
	"github.com/stemsi/drivertest-bot/internal/model"
	"github.com/stemsi/drivertest-bot/internal/service"
)

const (
	minIdentityLen = 3
	minAppealLen   = 10
)

// Engine is the part of the session engine the chat flow drives.
type Engine interface {
	Prepare(ctx context.Context, telegramID int64) error
	ResolveAnswer(ctx context.Context, telegramID int64, index, option int) (service.Verdict, error)
	ActiveSession(ctx context.Context, telegramID int64) (*model.Session, time.Duration, error)
}

// Registrations looks up and signs up users.
type Registrations interface {
	Lookup(ctx context.Context, telegramID int64) (*model.User, error)
	ValidateMotorcade(ctx context.Context, name string) error
	Register(ctx context.Context, telegramID int64, reg model.Registration) (*model.User, error)
}

// Campaigns resolves the campaign a user should take.
type Campaigns interface {
	ActiveCampaign(ctx context.Context, user model.User, now time.Time) (*model.Campaign, error)
}

// Stats backs the admin commands.
type Stats interface {
	CampaignStatistics(ctx context.Context, campaign string) ([]model.CampaignStats, error)
	UserHistory(ctx context.Context, telegramID int64) (*model.User, []model.ResultRecord, error)
}

// BankChecker reads what the /start sanity check needs.
type BankChecker interface {
	ReadAdminConfig(ctx context.Context) (model.AdminConfig, error)
	ReadQuestions(ctx context.Context) ([]model.Question, error)
}

// HandlerDeps are the collaborators of a Handler.
type HandlerDeps struct {
	Config        *config.Config
	Chat          *Presenter
	Conversations service.ConversationStore
	Engine        Engine
	Registrations Registrations
	Campaigns     Campaigns
	Stats         Stats
	Bank          BankChecker
	Now           func() time.Time
}

// Handler routes Telegram updates. Calls for one user must be serialized
// by the caller.
type Handler struct {
	cfg       *config.Config
	chat      *Presenter
	convs     service.ConversationStore
	engine    Engine
	regs      Registrations
	campaigns Campaigns
	stats     Stats
	bank      BankChecker
	now       func() time.Time
	log       zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(deps HandlerDeps, log zerolog.Logger) *Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handler{
		cfg:       deps.Config,
		chat:      deps.Chat,
		convs:     deps.Conversations,
		engine:    deps.Engine,
		regs:      deps.Registrations,
		campaigns: deps.Campaigns,
		stats:     deps.Stats,
		bank:      deps.Bank,
		now:       deps.Now,
		log:       log.With().Str("component", "bot_handler").Logger(),
	}
}

// SenderID returns the user an update belongs to, or 0.
func SenderID(u tgbotapi.Update) int64 {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID
	}
	return 0
}

// Handle processes one update.
func (h *Handler) Handle(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.Message != nil && u.Message.From != nil:
		h.handleMessage(ctx, u.Message)
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		h.handleCallback(ctx, u.CallbackQuery)
	}
}

// ─── Messages ────────────────────────────────────────────────────────

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	id := msg.From.ID

	conv, err := h.convs.Get(ctx, id)
	if err != nil {
		h.log.Error().Err(err).Int64("telegram_id", id).Msg("Failed to load conversation")
		h.say(ctx, id, messages.Get(messages.UnexpectedError))
		return
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			h.handleStart(ctx, msg, conv)
			return
		case "cancel":
			h.handleCancel(ctx, id, conv)
			return
		}
		if h.cfg.IsAdmin(id) {
			switch msg.Command() {
			case "stats_campaign":
				h.handleCampaignStats(ctx, id, strings.TrimSpace(msg.CommandArguments()))
				return
			case "stats_user":
				h.handleUserStats(ctx, id, strings.TrimSpace(msg.CommandArguments()))
				return
			case "admin_help":
				h.markdown(ctx, id, messages.Get(messages.AdminHelp))
				return
			}
		}
	}

	if conv != nil && conv.Step.Registering() {
		h.handleRegistration(ctx, id, conv, strings.TrimSpace(msg.Text))
		return
	}

	if !h.allowed(ctx, id) {
		return
	}

	if msg.IsCommand() {
		if msg.Command() == "appeal" {
			h.handleAppeal(ctx, msg, conv)
		}
		return
	}

	if conv == nil {
		return
	}
	switch conv.Step {
	case model.StepCollectingIdentity:
		h.handleIdentity(ctx, id, conv, strings.TrimSpace(msg.Text))
	case model.StepAppealText:
		h.handleAppealText(ctx, id, conv, strings.TrimSpace(msg.Text))
	}
}

// allowed is the access guard: only confirmed users (and the admin) get
// past /start and registration.
func (h *Handler) allowed(ctx context.Context, id int64) bool {
	if h.cfg.IsAdmin(id) {
		return true
	}
	user, err := h.regs.Lookup(ctx, id)
	if err != nil {
		h.log.Error().Err(err).Int64("telegram_id", id).Msg("Access check failed")
		h.say(ctx, id, messages.Get(messages.UnexpectedError))
		return false
	}
	if user == nil {
		h.say(ctx, id, messages.Get(messages.AccountNotFound))
		return false
	}
	if user.Status != model.UserStatusConfirmed {
		h.say(ctx, id, messages.AccessRestricted(user.Status))
		return false
	}
	return true
}

func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message, conv *model.Conversation) {
	id := msg.From.ID
	log := h.log.With().Int64("telegram_id", id).Logger()

	_, _, err := h.engine.ActiveSession(ctx, id)
	switch {
	case err == nil:
		h.say(ctx, id, messages.Get(messages.SessionActive))
		return
	case !errors.Is(err, service.ErrSessionNotFound):
		log.Error().Err(err).Msg("Failed to check active session")
		h.say(ctx, id, messages.Get(messages.UnexpectedError))
		return
	}

	profile := model.Profile{
		TelegramID: id,
		Username:   msg.From.UserName,
		FirstName:  msg.From.FirstName,
		LastName:   msg.From.LastName,
	}

	user, err := h.regs.Lookup(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("Failed to look up user")
		h.say(ctx, id, messages.Get(messages.UnexpectedError))
		return
	}
	if user == nil {
		h.save(ctx, id, &model.Conversation{
			Step:         model.StepRegPhone,
			Profile:      profile,
			Registration: &model.Registration{},
		})
		h.say(ctx, id, messages.Get(messages.RegAskPhone))
		return
	}
	if user.Status != model.UserStatusConfirmed {
		h.say(ctx, id, messages.AccountStatus(user.Status))
		return
	}

	if code, ok := h.checkBank(ctx); !ok {
		h.say(ctx, id, messages.Get(code))
		return
	}

	next := &model.Conversation{Step: model.StepCollectingIdentity, Profile: profile}
	campaign, err := h.campaigns.ActiveCampaign(ctx, *user, h.now())
	if err != nil {
		log.Warn().Err(err).Msg("Campaign lookup failed, starting standalone test")
	}
	if campaign != nil {
		next.Campaign = &model.CampaignRef{Name: campaign.Name, Mode: campaign.Type}
		h.say(ctx, id, messages.CampaignIntro(*campaign, h.cfg.Location))
	} else {
		h.say(ctx, id, messages.Get(messages.NoActiveCampaign))
	}

	h.save(ctx, id, next)
	h.say(ctx, id, messages.Get(messages.Welcome))
}

// checkBank verifies the settings and question pool before collecting the
// identity, so the user is not asked for a name that cannot be used.
func (h *Handler) checkBank(ctx context.Context) (messages.Code, bool) {
	cfg, err := h.bank.ReadAdminConfig(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Settings unavailable")
		return messages.ConfigMissing, false
	}
	pool, err := h.bank.ReadQuestions(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Question bank unavailable")
		return messages.PrepareFailed, false
	}
	if len(pool) == 0 {
		return messages.NoQuestions, false
	}
	if len(pool) < cfg.NumQuestions {
		return messages.NotEnoughQuestions, false
	}
	return "", true
}

func (h *Handler) handleIdentity(ctx context.Context, id int64, conv *model.Conversation, text string) {
	if utf8.RuneCountInString(text) < minIdentityLen {
		h.say(ctx, id, messages.Get(messages.IdentityTooShort))
		return
	}
	conv.FullName = text
	conv.Step = model.StepConfirmIdentity
	h.save(ctx, id, conv)
	h.buttons(ctx, id, messages.ConfirmIdentity(text),
		Button{Text: "✅ Подтвердить", Data: CallbackIdentityConfirm},
		Button{Text: "✏️ Ввести заново", Data: CallbackIdentityRetry},
	)
}

// ─── Registration ────────────────────────────────────────────────────

func (h *Handler) handleRegistration(ctx context.Context, id int64, conv *model.Conversation, text string) {
	if conv.Registration == nil {
		conv.Registration = &model.Registration{}
	}
	if text == "" {
		return
	}

	switch conv.Step {
	case model.StepRegPhone:
		conv.Registration.Phone = text
		conv.Step = model.StepRegFullName
		h.save(ctx, id, conv)
		h.say(ctx, id, messages.Get(messages.RegAskFullName))

	case model.StepRegFullName:
		conv.Registration.FullName = text
		conv.Step = model.StepRegMotorcade
		h.save(ctx, id, conv)
		h.say(ctx, id, messages.Get(messages.RegAskMotorcade))

	case model.StepRegMotorcade:
		if err := h.regs.ValidateMotorcade(ctx, text); err != nil {
			h.say(ctx, id, messages.Get(messages.RegBadMotorcade))
			return
		}
		conv.Registration.Motorcade = text

		user, err := h.regs.Register(ctx, id, *conv.Registration)
		switch {
		case errors.Is(err, service.ErrAlreadyRegistered):
			h.clear(ctx, id)
			h.say(ctx, id, messages.AccountStatus(user.Status))
		case err != nil:
			h.log.Error().Err(err).Int64("telegram_id", id).Msg("Registration failed")
			h.save(ctx, id, conv)
			h.say(ctx, id, messages.Get(messages.UnexpectedError))
		default:
			h.clear(ctx, id)
			h.say(ctx, id, messages.Get(messages.RegDone))
		}
	}
}

// ─── Appeals ─────────────────────────────────────────────────────────

func (h *Handler) handleAppeal(ctx context.Context, msg *tgbotapi.Message, conv *model.Conversation) {
	id := msg.From.ID
	if h.cfg.OwnerTelegramID == 0 {
		h.say(ctx, id, messages.Get(messages.AppealUnavailable))
		return
	}
	if conv != nil && conv.Session != nil {
		h.say(ctx, id, messages.Get(messages.SessionActive))
		return
	}
	h.save(ctx, id, &model.Conversation{
		Step: model.StepAppealText,
		Profile: model.Profile{
			TelegramID: id,
			Username:   msg.From.UserName,
			FirstName:  msg.From.FirstName,
			LastName:   msg.From.LastName,
		},
	})
	h.say(ctx, id, messages.Get(messages.AppealPrompt))
}

func (h *Handler) handleAppealText(ctx context.Context, id int64, conv *model.Conversation, text string) {
	if utf8.RuneCountInString(text) < minAppealLen {
		h.say(ctx, id, messages.Get(messages.AppealTooShort))
		return
	}
	conv.AppealText = text
	conv.Step = model.StepAppealConfirm
	h.save(ctx, id, conv)
	h.buttons(ctx, id, messages.AppealConfirm(text),
		Button{Text: "✅ Отправить", Data: CallbackAppealConfirm},
		Button{Text: "❌ Отменить", Data: CallbackAppealCancel},
	)
}

func (h *Handler) sendAppeal(ctx context.Context, id int64, conv *model.Conversation) {
	forward := messages.AppealForward(conv.Profile, conv.AppealText, h.now().In(h.cfg.Location))
	if err := h.chat.SendText(ctx, h.cfg.OwnerTelegramID, forward); err != nil {
		h.log.Error().Err(err).Int64("telegram_id", id).Msg("Failed to forward appeal")
		h.say(ctx, id, messages.Get(messages.AppealSendFailed))
		return
	}
	h.clear(ctx, id)
	h.say(ctx, id, messages.Get(messages.AppealSent))
	h.log.Info().Int64("telegram_id", id).Msg("Appeal forwarded")
}

func (h *Handler) handleCancel(ctx context.Context, id int64, conv *model.Conversation) {
	if conv == nil || !conv.Step.InAppeal() {
		return
	}
	h.clear(ctx, id)
	h.say(ctx, id, messages.Get(messages.AppealCancelled))
}

// ─── Admin ───────────────────────────────────────────────────────────

func (h *Handler) handleCampaignStats(ctx context.Context, id int64, name string) {
	stats, err := h.stats.CampaignStatistics(ctx, name)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build campaign statistics")
		h.say(ctx, id, messages.Get(messages.StatsFailed))
		return
	}
	h.markdown(ctx, id, messages.CampaignStatsReport(name, stats))
}

func (h *Handler) handleUserStats(ctx context.Context, id int64, arg string) {
	target, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		h.say(ctx, id, messages.Get(messages.StatsUserUsage))
		return
	}
	user, results, err := h.stats.UserHistory(ctx, target)
	if err != nil {
		h.log.Error().Err(err).Int64("target", target).Msg("Failed to load user history")
		h.say(ctx, id, messages.Get(messages.UserStatsFailed))
		return
	}
	if user == nil {
		h.say(ctx, id, messages.UserNotFound(target))
		return
	}
	h.say(ctx, id, messages.UserHistory(*user, results, h.cfg.Location))
}

// ─── Callbacks ───────────────────────────────────────────────────────

func (h *Handler) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	id := cq.From.ID

	if index, option, ok := ParseAnswerCallback(cq.Data); ok {
		h.handleAnswer(ctx, cq, index, option)
		return
	}

	conv, err := h.convs.Get(ctx, id)
	if err != nil {
		h.log.Error().Err(err).Int64("telegram_id", id).Msg("Failed to load conversation")
		h.ack(ctx, cq, messages.Get(messages.UnexpectedError), true)
		return
	}

	switch {
	case cq.Data == CallbackIdentityConfirm && conv != nil && conv.Step == model.StepConfirmIdentity:
		h.ack(ctx, cq, "", false)
		h.clearButtons(ctx, cq)
		conv.Step = model.StepPreparing
		h.save(ctx, id, conv)
		h.say(ctx, id, messages.IdentityConfirmed(conv.FullName))
		if err := h.engine.Prepare(ctx, id); err != nil {
			h.log.Warn().Err(err).Int64("telegram_id", id).Msg("Test not started")
		}

	case cq.Data == CallbackIdentityRetry && conv != nil && conv.Step == model.StepConfirmIdentity:
		h.ack(ctx, cq, "", false)
		h.clearButtons(ctx, cq)
		conv.FullName = ""
		conv.Step = model.StepCollectingIdentity
		h.save(ctx, id, conv)
		h.say(ctx, id, messages.Get(messages.IdentityRetry))

	case cq.Data == CallbackAppealConfirm && conv != nil && conv.Step == model.StepAppealConfirm:
		h.ack(ctx, cq, "", false)
		h.clearButtons(ctx, cq)
		h.sendAppeal(ctx, id, conv)

	case cq.Data == CallbackAppealCancel && conv != nil && conv.Step.InAppeal():
		h.ack(ctx, cq, "", false)
		h.clearButtons(ctx, cq)
		h.clear(ctx, id)
		h.say(ctx, id, messages.Get(messages.AppealCancelled))

	default:
		h.ack(ctx, cq, messages.Get(messages.UnknownInteraction), false)
	}
}

func (h *Handler) handleAnswer(ctx context.Context, cq *tgbotapi.CallbackQuery, index, option int) {
	verdict, err := h.engine.ResolveAnswer(ctx, cq.From.ID, index, option)
	if err != nil && !errors.Is(err, service.ErrStaleEvent) {
		h.log.Error().Err(err).Int64("telegram_id", cq.From.ID).Int("index", index).Msg("Answer resolution failed")
	}

	switch verdict {
	case service.VerdictCorrect:
		h.ack(ctx, cq, messages.Get(messages.AnswerCorrect), false)
	case service.VerdictWrong:
		h.ack(ctx, cq, messages.Get(messages.AnswerWrong), false)
	case service.VerdictExpired:
		h.ack(ctx, cq, messages.Get(messages.AnswerExpired), true)
	default:
		h.ack(ctx, cq, messages.Get(messages.AnswerStale), true)
		return
	}
	h.clearButtons(ctx, cq)
}

// ─── Helpers ─────────────────────────────────────────────────────────

func (h *Handler) save(ctx context.Context, id int64, conv *model.Conversation) {
	if err := h.convs.Save(ctx, id, conv); err != nil {
		h.log.Error().Err(err).Int64("telegram_id", id).Str("step", string(conv.Step)).Msg("Failed to save conversation")
	}
}

func (h *Handler) clear(ctx context.Context, id int64) {
	if err := h.convs.Clear(ctx, id); err != nil {
		h.log.Error().Err(err).Int64("telegram_id", id).Msg("Failed to clear conversation")
	}
}

func (h *Handler) say(ctx context.Context, id int64, text string) {
	_ = h.chat.SendText(ctx, id, text)
}

func (h *Handler) markdown(ctx context.Context, id int64, text string) {
	_ = h.chat.SendMarkdown(ctx, id, text)
}

func (h *Handler) buttons(ctx context.Context, id int64, text string, buttons ...Button) {
	_ = h.chat.SendWithButtons(ctx, id, text, buttons...)
}

func (h *Handler) ack(ctx context.Context, cq *tgbotapi.CallbackQuery, text string, alert bool) {
	if err := h.chat.AnswerCallback(ctx, cq.ID, text, alert); err != nil {
		h.log.Warn().Err(err).Int64("telegram_id", cq.From.ID).Msg("Failed to answer callback")
	}
}

func (h *Handler) clearButtons(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	if err := h.chat.ClearButtons(ctx, cq.Message.Chat.ID, cq.Message.MessageID); err != nil {
		h.log.Debug().Err(err).Int64("telegram_id", cq.From.ID).Msg("Failed to clear buttons")
	}
}
