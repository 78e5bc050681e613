// Package messages holds every user-facing chat text.
package messages

import (
	"fmt"
	"strings"
	"time"

	"github.com/stemsi/drivertest-bot/internal/model"
)

// Code identifies a fixed chat text.
type Code string

const (
	// ─── Test entry ────────────────────────────────────────────────────
	Welcome            Code = "WELCOME"
	IdentityTooShort   Code = "IDENTITY_TOO_SHORT"
	IdentityRetry      Code = "IDENTITY_RETRY"
	ConfigMissing      Code = "CONFIG_MISSING"
	NoQuestions        Code = "NO_QUESTIONS"
	NotEnoughQuestions Code = "NOT_ENOUGH_QUESTIONS"
	DistributionFailed Code = "DISTRIBUTION_FAILED"
	PrepareFailed      Code = "PREPARE_FAILED"
	SessionActive      Code = "SESSION_ACTIVE"
	SessionLost        Code = "SESSION_LOST"
	SessionReset       Code = "SESSION_RESET"

	// ─── Answers ───────────────────────────────────────────────────────
	AnswerCorrect    Code = "ANSWER_CORRECT"
	AnswerWrong      Code = "ANSWER_WRONG"
	AnswerStale      Code = "ANSWER_STALE"
	AnswerExpired    Code = "ANSWER_EXPIRED"
	CriticalFailed   Code = "CRITICAL_FAILED"
	ScoreExhausted   Code = "SCORE_EXHAUSTED"
	QuestionTimedOut Code = "QUESTION_TIMED_OUT"
	ResultNotSaved   Code = "RESULT_NOT_SAVED"
	TestInterrupted  Code = "TEST_INTERRUPTED"

	// ─── Registration and access ───────────────────────────────────────
	RegAskPhone      Code = "REG_ASK_PHONE"
	RegAskFullName   Code = "REG_ASK_FULL_NAME"
	RegAskMotorcade  Code = "REG_ASK_MOTORCADE"
	RegDone          Code = "REG_DONE"
	RegBadMotorcade  Code = "REG_BAD_MOTORCADE"
	AccountNotFound  Code = "ACCOUNT_NOT_FOUND"
	NoActiveCampaign Code = "NO_ACTIVE_CAMPAIGN"

	// ─── Appeals ───────────────────────────────────────────────────────
	AppealPrompt      Code = "APPEAL_PROMPT"
	AppealTooShort    Code = "APPEAL_TOO_SHORT"
	AppealSent        Code = "APPEAL_SENT"
	AppealSendFailed  Code = "APPEAL_SEND_FAILED"
	AppealCancelled   Code = "APPEAL_CANCELLED"
	AppealUnavailable Code = "APPEAL_UNAVAILABLE"

	// ─── Admin ─────────────────────────────────────────────────────────
	AdminHelp          Code = "ADMIN_HELP"
	StatsUserUsage     Code = "STATS_USER_USAGE"
	StatsNoCampaigns   Code = "STATS_NO_CAMPAIGNS"
	StatsFailed        Code = "STATS_FAILED"
	UserStatsFailed    Code = "USER_STATS_FAILED"
	UnexpectedError    Code = "UNEXPECTED_ERROR"
	UnknownInteraction Code = "UNKNOWN_INTERACTION"
)

// Get returns the text for a fixed message code.
func Get(code Code) string {
	switch code {
	// ─── Test entry ────────────────────────────────────────────────────
	case Welcome:
		return "👋 Добро пожаловать! Для начала теста введите ваше ФИО (Фамилия Имя Отчество) одной строкой."
	case IdentityTooShort:
		return "✍️ ФИО слишком короткое. Пожалуйста, введите полное ФИО."
	case IdentityRetry:
		return "🔄 Пожалуйста, введите ваше ФИО заново."
	case ConfigMissing:
		return "⚠️ У бота отсутствуют необходимые настройки. Обратитесь к администратору."
	case NoQuestions:
		return "❗️ В базе нет вопросов. Обратитесь к администратору."
	case NotEnoughQuestions:
		return "⚠️ В боте недостаточно вопросов. Обратитесь к администратору."
	case DistributionFailed:
		return "⚠️ Не удалось сформировать достаточное количество вопросов. Обратитесь к администратору."
	case PrepareFailed:
		return "❌ Произошла ошибка при подготовке теста. Попробуйте позже."
	case SessionActive:
		return "⚠️ У вас уже есть активная сессия теста. Пожалуйста, завершите ее."
	case SessionLost:
		return "⚠️ Ошибка: данные сессии не найдены."
	case SessionReset:
		return "⚠️ Ваша сессия теста сброшена администратором. Начните заново командой /start."

	// ─── Answers ───────────────────────────────────────────────────────
	case AnswerCorrect:
		return "✅ Верно!"
	case AnswerWrong:
		return "❌ Неверно!"
	case AnswerStale:
		return "⚠️ Ошибка сессии или запоздалый ответ."
	case AnswerExpired:
		return "⏰ Время на ответ истекло."
	case CriticalFailed:
		return "Вы ошиблись в критическом вопросе. Тест завершен."
	case ScoreExhausted:
		return "Баллы исчерпаны. Тест завершен."
	case QuestionTimedOut:
		return "⏰ Время на ответ истекло. Тест завершен."
	case ResultNotSaved:
		return "⚠️ Не удалось сохранить результат. Обратитесь к администратору."
	case TestInterrupted:
		return "⚠️ Тест прерван из-за технической ошибки. Обратитесь к администратору."

	// ─── Registration and access ───────────────────────────────────────
	case RegAskPhone:
		return "Добро пожаловать! Для регистрации, пожалуйста, введите ваш номер телефона."
	case RegAskFullName:
		return "Спасибо! Теперь введите ваше полное ФИО."
	case RegAskMotorcade:
		return "Отлично! Назовите вашу автоколонну."
	case RegDone:
		return "Регистрация завершена! Ваша учетная запись ожидает подтверждения администратором."
	case RegBadMotorcade:
		return "⚠️ Такой автоколонны нет в списке. Пожалуйста, проверьте название и введите снова."
	case AccountNotFound:
		return "Ваша учетная запись не найдена. Пожалуйста, начните регистрацию командой /start."
	case NoActiveCampaign:
		return "ℹ️ Сейчас для вас нет активных кампаний. Будет пройден общий тест."

	// ─── Appeals ───────────────────────────────────────────────────────
	case AppealPrompt:
		return "📨 Напишите ваше обращение к администратору.\n\nВы можете отменить отправку командой /cancel."
	case AppealTooShort:
		return "⚠️ Сообщение слишком короткое. Пожалуйста, опишите вашу проблему подробнее."
	case AppealSent:
		return "✅ Ваше обращение отправлено администратору."
	case AppealSendFailed:
		return "❌ Ошибка отправки. Попробуйте позже или обратитесь напрямую."
	case AppealCancelled:
		return "❌ Обращение отменено."
	case AppealUnavailable:
		return "❌ Функция обращений к владельцу временно недоступна."

	// ─── Admin ─────────────────────────────────────────────────────────
	case AdminHelp:
		return "🔧 **Административные команды**\n\n" +
			"📊 *Статистика:*\n" +
			"/stats_campaign - Статистика всех кампаний\n" +
			"/stats_campaign <название> - Статистика конкретной кампании\n" +
			"/stats_user <telegram_id> - История тестов пользователя\n\n" +
			"ℹ️ *Справка:*\n" +
			"/admin_help - Эта справка\n"
	case StatsUserUsage:
		return "⚠️ Использование: /stats_user <telegram_id>\n\nПример: /stats_user 123456789"
	case StatsNoCampaigns:
		return "📊 Нет данных по кампаниям.\n\nВозможно, ещё никто не проходил тесты."
	case StatsFailed:
		return "❌ Ошибка получения статистики. Проверьте логи."
	case UserStatsFailed:
		return "❌ Ошибка получения данных пользователя. Проверьте логи."
	case UnknownInteraction:
		return "Неизвестное действие."

	default:
		return "❌ Произошла ошибка. Попробуйте позже."
	}
}

// ─── Session texts ───────────────────────────────────────────────────

// Rules announces the frozen rules of a freshly prepared test.
func Rules(count, secondsPerQuestion, maxErrors int) string {
	return fmt.Sprintf(
		"🚀 Тест начинается!\n\nПравила:\n• Количество вопросов: %d\n• Время на вопрос: %d секунд\n• Допустимых ошибок: %d",
		count, secondsPerQuestion, maxErrors,
	)
}

// Question renders a question with its numbered options.
func Question(number, total int, text string, options []model.AnswerOption) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❓ Вопрос %d/%d\n\n%s\n\n", number, total, text)
	for _, o := range options {
		fmt.Fprintf(&b, "%d. %s\n", o.Position, o.Text)
	}
	return b.String()
}

// Explanation follows a wrong answer in training mode.
func Explanation(text string) string {
	return " пояснение: " + text
}

// Finished is the closing message of a test.
func Finished(passed bool, campaign string, correct, total int) string {
	name := ""
	if campaign != "" {
		name = "«" + campaign + "» "
	}
	if passed {
		return fmt.Sprintf("✅ Тест %sуспешно пройден!\n\nРезультат: %d из %d", name, correct, total)
	}
	return fmt.Sprintf("❌ Тест %sне пройден.\n\nПовторная попытка будет доступна согласно правилам.", name)
}

// Cooldown tells the user when the next attempt opens.
func Cooldown(until time.Time) string {
	return "⏳ Повторная попытка будет доступна " + until.Format("02.01.2006 в 15:04") + "."
}

// ─── Identity ────────────────────────────────────────────────────────

func ConfirmIdentity(fullName string) string {
	return fmt.Sprintf("📝 Ваше ФИО: %s\n\nПодтвердите или введите заново.", fullName)
}

func IdentityConfirmed(fullName string) string {
	return fmt.Sprintf("✅ ФИО подтверждено: %s\n\nНачинаем подготовку теста...", fullName)
}

// CampaignIntro names the campaign the upcoming test belongs to.
func CampaignIntro(c model.Campaign, loc *time.Location) string {
	return fmt.Sprintf("📋 Кампания «%s» (%s), срок до %s.", c.Name, c.Type, c.Deadline.In(loc).Format("02.01.2006"))
}

// ─── Registration and access ─────────────────────────────────────────

// AccountStatus answers /start for a registered but unconfirmed user.
func AccountStatus(status model.UserStatus) string {
	return fmt.Sprintf("Ваша учетная запись находится в статусе '%s'. Пожалуйста, дождитесь подтверждения администратором.", status)
}

// AccessRestricted is the access guard reply for unconfirmed users.
func AccessRestricted(status model.UserStatus) string {
	return fmt.Sprintf("Ваша учетная запись ожидает подтверждения администратором. Статус: %s. Доступ к функционалу ограничен.", status)
}

// ─── Appeals ─────────────────────────────────────────────────────────

func AppealConfirm(text string) string {
	return fmt.Sprintf("📋 Ваше обращение:\n\n%s\n\nОтправить администратору?", text)
}

// AppealForward is what the owner receives.
func AppealForward(p model.Profile, text string, at time.Time) string {
	username := p.Username
	if username == "" {
		username = "нет username"
	}
	return fmt.Sprintf(
		"📨 Обращение от пользователя\n\n👤 Пользователь: @%s\n🆔 Telegram ID: %d\n👨‍💼 Имя: %s %s\n📅 Дата: %s\n\n💬 Сообщение:\n%s",
		username, p.TelegramID, p.FirstName, p.LastName, at.Format("02.01.2006 15:04"), text,
	)
}

// ─── Admin ───────────────────────────────────────────────────────────

// CampaignStats renders one statistics block.
func CampaignStats(s model.CampaignStats) string {
	return fmt.Sprintf(
		"📌 **%s**\n   Всего попыток: %d\n   ✅ Пройдено: %d\n   ❌ Не пройдено: %d\n   📊 Процент успеха: %.1f%%\n   🎯 Среднее верных ответов: %.1f\n",
		s.CampaignName, s.TotalAttempts, s.PassedCount, s.FailedCount, s.PassRate, s.AvgCorrectAnswers,
	)
}

// CampaignStatsReport renders the reply to /stats_campaign.
func CampaignStatsReport(name string, stats []model.CampaignStats) string {
	if len(stats) == 0 {
		if name != "" {
			return fmt.Sprintf("📊 Нет данных по кампании '%s'.", name)
		}
		return Get(StatsNoCampaigns)
	}

	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "📊 Статистика кампании '%s'\n\n", name)
	} else {
		b.WriteString("📊 Статистика всех кампаний\n\n")
	}
	for _, s := range stats {
		b.WriteString(CampaignStats(s))
		b.WriteString("\n")
	}
	return b.String()
}

func UserNotFound(telegramID int64) string {
	return fmt.Sprintf("❌ Пользователь с ID %d не найден.", telegramID)
}

// UserHistory renders the reply to /stats_user. Results are expected newest first.
func UserHistory(u model.User, results []model.ResultRecord, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 Пользователь: %s\n🆔 Telegram ID: %d\n🚗 Автоколонна: %s\n📊 Статус: %s\n\n",
		u.FullName, u.TelegramID, u.Motorcade, u.Status)

	if len(results) == 0 {
		b.WriteString("📝 Тестов пройдено: 0")
		return b.String()
	}

	fmt.Fprintf(&b, "📝 История тестов (%d):\n\n", len(results))
	for i, r := range results {
		emoji := "❌"
		if r.FinalStatus == model.ResultStatusPassed {
			emoji = "✅"
		}
		fmt.Fprintf(&b, "%d. %s %s\n   Дата: %s\n   Статус: %s\n\n",
			i+1, emoji, r.CampaignName, r.TestedAt.In(loc).Format("02.01.2006 15:04"), r.FinalStatus)
	}
	return b.String()
}

// ─── Reminders ───────────────────────────────────────────────────────

// Reminder is the deadline notice for a campaign 3 or 1 days out.
func Reminder(c model.Campaign, daysLeft int, loc *time.Location) string {
	deadline := c.Deadline.In(loc).Format("02.01.2006")
	if daysLeft <= 1 {
		return fmt.Sprintf(
			"🚨 СРОЧНО!\n\nДо окончания кампании **%s** остался 1 день!\n\nТип: %s\nКрайний срок: %s\n\n⚠️ Пройдите тест сегодня! Команда /start.",
			c.Name, c.Type, deadline,
		)
	}
	return fmt.Sprintf(
		"⏰ Напоминание!\n\nДо окончания кампании **%s** осталось %d дня.\n\nТип: %s\nСрок: до %s\n\nНе забудьте пройти тест! Используйте команду /start.",
		c.Name, daysLeft, c.Type, deadline,
	)
}
