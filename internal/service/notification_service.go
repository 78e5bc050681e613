package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/messages"
	"github.com/stemsi/drivertest-bot/internal/model"
)

// reminderDays are the days-left values that trigger a reminder.
var reminderDays = map[int]bool{3: true, 1: true}

// ReminderSource reads what the reminder job needs from the spreadsheet.
type ReminderSource interface {
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	ListResults(ctx context.Context) ([]model.ResultRecord, error)
}

// Notifier delivers a Markdown message to a chat.
type Notifier interface {
	SendMarkdown(ctx context.Context, chatID int64, text string) error
}

// Reminder is one pending deadline notice.
type Reminder struct {
	User     model.User
	Campaign model.Campaign
	DaysLeft int
}

// NotificationService sends campaign deadline reminders.
type NotificationService struct {
	source   ReminderSource
	notifier Notifier
	loc      *time.Location
	log      zerolog.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(source ReminderSource, notifier Notifier, loc *time.Location, log zerolog.Logger) *NotificationService {
	return &NotificationService{
		source:   source,
		notifier: notifier,
		loc:      loc,
		log:      log.With().Str("component", "reminders").Logger(),
	}
}

// UsersToNotify lists confirmed, assigned users who have not completed a
// campaign due in 3 or 1 days.
func (s *NotificationService) UsersToNotify(ctx context.Context, now time.Time) ([]Reminder, error) {
	campaigns, err := s.source.ListCampaigns(ctx)
	if err != nil {
		return nil, err
	}

	var due []model.Campaign
	days := make(map[string]int)
	for _, c := range campaigns {
		left := c.DaysLeft(now, s.loc)
		if reminderDays[left] {
			due = append(due, c)
			days[c.Name] = left
		}
	}
	if len(due) == 0 {
		return nil, nil
	}

	users, err := s.source.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	results, err := s.source.ListResults(ctx)
	if err != nil {
		return nil, err
	}

	byUser := make(map[int64][]model.ResultRecord)
	for _, r := range results {
		if !r.TestedAt.IsZero() {
			byUser[r.TelegramID] = append(byUser[r.TelegramID], r)
		}
	}

	var out []Reminder
	for _, c := range due {
		for _, u := range users {
			if u.Status != model.UserStatusConfirmed || !c.AssignedTo(u.Motorcade) {
				continue
			}
			status, attempted := LatestStatusByCampaign(byUser[u.TelegramID])[c.Name]
			if attempted && status != model.ResultStatusRetakeAllowed {
				continue
			}
			out = append(out, Reminder{User: u, Campaign: c, DaysLeft: days[c.Name]})
		}
	}

	s.log.Info().Int("reminders", len(out)).Int("campaigns", len(due)).Msg("Reminder recipients resolved")
	return out, nil
}

// SendReminders delivers every pending reminder. A failed send is counted
// and logged; it never stops the run.
func (s *NotificationService) SendReminders(ctx context.Context, now time.Time) (sent, failed int, err error) {
	reminders, err := s.UsersToNotify(ctx, now)
	if err != nil {
		return 0, 0, err
	}

	for _, r := range reminders {
		text := messages.Reminder(r.Campaign, r.DaysLeft, s.loc)
		if err := s.notifier.SendMarkdown(ctx, r.User.TelegramID, text); err != nil {
			failed++
			s.log.Error().
				Err(err).
				Int64("telegram_id", r.User.TelegramID).
				Str("campaign", r.Campaign.Name).
				Msg("Failed to send reminder")
			continue
		}
		sent++
		s.log.Info().
			Int64("telegram_id", r.User.TelegramID).
			Str("campaign", r.Campaign.Name).
			Int("days_left", r.DaysLeft).
			Msg("Reminder sent")
	}

	s.log.Info().Int("sent", sent).Int("errors", failed).Msg("Deadline check completed")
	return sent, failed, nil
}
