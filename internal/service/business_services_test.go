package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSheet serves every spreadsheet read the business services need.
type fakeSheet struct {
	campaigns []model.Campaign
	users     []model.User
	results   []model.ResultRecord
	cfg       model.AdminConfig
	cfgErr    error
	added     []model.User
}

func (f *fakeSheet) ListCampaigns(context.Context) ([]model.Campaign, error) {
	return f.campaigns, nil
}

func (f *fakeSheet) ListUsers(context.Context) ([]model.User, error) {
	return f.users, nil
}

func (f *fakeSheet) ListResults(context.Context) ([]model.ResultRecord, error) {
	return f.results, nil
}

func (f *fakeSheet) UserResults(_ context.Context, telegramID int64) ([]model.ResultRecord, error) {
	var out []model.ResultRecord
	for _, r := range f.results {
		if r.TelegramID == telegramID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSheet) GetUser(_ context.Context, telegramID int64) (*model.User, error) {
	for _, u := range f.users {
		if u.TelegramID == telegramID {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (f *fakeSheet) AddUser(_ context.Context, u model.User) error {
	f.added = append(f.added, u)
	f.users = append(f.users, u)
	return nil
}

func (f *fakeSheet) ReadAdminConfig(context.Context) (model.AdminConfig, error) {
	return f.cfg, f.cfgErr
}

type recordingNotifier struct {
	sent   map[int64]string
	failOn int64
}

func (n *recordingNotifier) SendMarkdown(_ context.Context, chatID int64, text string) error {
	if chatID == n.failOn {
		return errors.New("chat not found")
	}
	if n.sent == nil {
		n.sent = make(map[int64]string)
	}
	n.sent[chatID] = text
	return nil
}

var (
	msk      = time.FixedZone("MSK", 3*60*60)
	bizToday = time.Date(2025, 3, 10, 12, 0, 0, 0, msk)
)

func day(offset int) time.Time {
	return time.Date(2025, 3, 10+offset, 23, 59, 0, 0, msk)
}

// ─── CampaignService ─────────────────────────────────────────────────

func TestActiveCampaignSkipsExpiredAndUnassigned(t *testing.T) {
	sheet := &fakeSheet{campaigns: []model.Campaign{
		{Name: "Январь", Deadline: day(-1), Type: model.CampaignTypeTesting, Assignment: model.AssignAll},
		{Name: "Север", Deadline: day(5), Type: model.CampaignTypeTesting, Assignment: "АК-2"},
		{Name: "Март", Deadline: day(0), Type: model.CampaignTypeTraining, Assignment: "АК-1"},
	}}
	svc := NewCampaignService(sheet, msk, zerolog.Nop())

	c, err := svc.ActiveCampaign(context.Background(), model.User{TelegramID: 1, Motorcade: "АК-1"}, bizToday)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Март", c.Name)
}

func TestActiveCampaignRespectsLatestResult(t *testing.T) {
	sheet := &fakeSheet{
		campaigns: []model.Campaign{
			{Name: "Весна", Deadline: day(7), Type: model.CampaignTypeTesting, Assignment: model.AssignAll},
		},
		results: []model.ResultRecord{
			{TelegramID: 1, CampaignName: "Весна", FinalStatus: model.ResultStatusFailed, TestedAt: bizToday.Add(-48 * time.Hour)},
			{TelegramID: 1, CampaignName: "Весна", FinalStatus: model.ResultStatusRetakeAllowed, TestedAt: bizToday.Add(-24 * time.Hour)},
			{TelegramID: 2, CampaignName: "Весна", FinalStatus: model.ResultStatusPassed, TestedAt: bizToday.Add(-24 * time.Hour)},
		},
	}
	svc := NewCampaignService(sheet, msk, zerolog.Nop())
	ctx := context.Background()

	c, err := svc.ActiveCampaign(ctx, model.User{TelegramID: 1, Motorcade: "АК-1"}, bizToday)
	require.NoError(t, err)
	require.NotNil(t, c, "retake allowed reopens the campaign")

	c, err = svc.ActiveCampaign(ctx, model.User{TelegramID: 2, Motorcade: "АК-1"}, bizToday)
	require.NoError(t, err)
	assert.Nil(t, c, "a completed campaign is not offered again")

	c, err = svc.ActiveCampaign(ctx, model.User{TelegramID: 3, Motorcade: "АК-1"}, bizToday)
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestLatestStatusByCampaignKeepsNewest(t *testing.T) {
	latest := LatestStatusByCampaign([]model.ResultRecord{
		{CampaignName: "A", FinalStatus: model.ResultStatusPassed, TestedAt: bizToday},
		{CampaignName: "A", FinalStatus: model.ResultStatusFailed, TestedAt: bizToday.Add(-time.Hour)},
		{CampaignName: "B", FinalStatus: model.ResultStatusFailed, TestedAt: bizToday},
	})
	assert.Equal(t, map[string]model.ResultStatus{
		"A": model.ResultStatusPassed,
		"B": model.ResultStatusFailed,
	}, latest)
}

// ─── RegistrationService ─────────────────────────────────────────────

func TestRegisterAppendsPendingUser(t *testing.T) {
	sheet := &fakeSheet{}
	svc := NewRegistrationService(sheet, zerolog.Nop())

	u, err := svc.Register(context.Background(), 42, model.Registration{
		Phone: " +79990001122 ", FullName: "Иванов Иван", Motorcade: "АК-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.UserStatusPending, u.Status)
	assert.Equal(t, "+79990001122", u.Phone)
	require.Len(t, sheet.added, 1)
	assert.Equal(t, int64(42), sheet.added[0].TelegramID)
}

func TestRegisterRejectsDuplicatesAndBlanks(t *testing.T) {
	sheet := &fakeSheet{users: []model.User{{TelegramID: 42, Status: model.UserStatusConfirmed}}}
	svc := NewRegistrationService(sheet, zerolog.Nop())
	ctx := context.Background()

	u, err := svc.Register(ctx, 42, model.Registration{Phone: "1", FullName: "A", Motorcade: "B"})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	require.NotNil(t, u)
	assert.Equal(t, model.UserStatusConfirmed, u.Status)

	_, err = svc.Register(ctx, 7, model.Registration{Phone: "1", FullName: "  "})
	assert.ErrorIs(t, err, ErrIncompleteRegistration)
	assert.Empty(t, sheet.added)
}

func TestValidateMotorcade(t *testing.T) {
	sheet := &fakeSheet{cfg: model.AdminConfig{Motorcades: []string{"АК-1", "АК-2"}}}
	svc := NewRegistrationService(sheet, zerolog.Nop())
	ctx := context.Background()

	assert.NoError(t, svc.ValidateMotorcade(ctx, "АК-2"))
	assert.ErrorIs(t, svc.ValidateMotorcade(ctx, "АК-9"), ErrUnknownMotorcade)

	sheet.cfgErr = errors.New("settings unreadable")
	assert.NoError(t, svc.ValidateMotorcade(ctx, "АК-9"))
}

// ─── StatsService ────────────────────────────────────────────────────

func TestCampaignStatisticsAggregatesInSheetOrder(t *testing.T) {
	sheet := &fakeSheet{results: []model.ResultRecord{
		{CampaignName: "Март", FinalStatus: model.ResultStatusPassed, CorrectCount: 10, HasCorrectCount: true},
		{CampaignName: "Январь", FinalStatus: model.ResultStatusFailed, CorrectCount: 2, HasCorrectCount: true},
		{CampaignName: "Март", FinalStatus: model.ResultStatusFailed, CorrectCount: 6, HasCorrectCount: true},
		{CampaignName: "Март", FinalStatus: model.ResultStatusRetakeAllowed},
		{CampaignName: "", FinalStatus: model.ResultStatusPassed, CorrectCount: 20, HasCorrectCount: true},
	}}
	svc := NewStatsService(sheet)

	stats, err := svc.CampaignStatistics(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, stats, 2)

	march := stats[0]
	assert.Equal(t, "Март", march.CampaignName)
	assert.Equal(t, 3, march.TotalAttempts)
	assert.Equal(t, 1, march.PassedCount)
	assert.Equal(t, 1, march.FailedCount)
	assert.InDelta(t, 33.33, march.PassRate, 0.01)
	assert.InDelta(t, 8.0, march.AvgCorrectAnswers, 0.001)

	only, err := svc.CampaignStatistics(context.Background(), "Январь")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, 0.0, only[0].PassRate)
}

func TestUserHistoryNewestFirst(t *testing.T) {
	sheet := &fakeSheet{
		users: []model.User{{TelegramID: 5, FullName: "Петров"}},
		results: []model.ResultRecord{
			{TelegramID: 5, CampaignName: "old", TestedAt: bizToday.Add(-72 * time.Hour)},
			{TelegramID: 5, CampaignName: "new", TestedAt: bizToday},
			{TelegramID: 6, CampaignName: "other", TestedAt: bizToday},
		},
	}
	svc := NewStatsService(sheet)

	u, results, err := svc.UserHistory(context.Background(), 5)
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Len(t, results, 2)
	assert.Equal(t, "new", results[0].CampaignName)

	u, results, err = svc.UserHistory(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.Nil(t, results)
}

// ─── NotificationService ─────────────────────────────────────────────

func reminderSheet() *fakeSheet {
	return &fakeSheet{
		campaigns: []model.Campaign{
			{Name: "Три дня", Deadline: day(3), Type: model.CampaignTypeTesting, Assignment: model.AssignAll},
			{Name: "Завтра", Deadline: day(1), Type: model.CampaignTypeTraining, Assignment: "АК-1"},
			{Name: "Неделя", Deadline: day(7), Type: model.CampaignTypeTesting, Assignment: model.AssignAll},
		},
		users: []model.User{
			{TelegramID: 1, Motorcade: "АК-1", Status: model.UserStatusConfirmed},
			{TelegramID: 2, Motorcade: "АК-2", Status: model.UserStatusConfirmed},
			{TelegramID: 3, Motorcade: "АК-1", Status: model.UserStatusPending},
			{TelegramID: 4, Motorcade: "АК-1", Status: model.UserStatusConfirmed},
		},
		results: []model.ResultRecord{
			{TelegramID: 4, CampaignName: "Три дня", FinalStatus: model.ResultStatusPassed, TestedAt: bizToday},
			{TelegramID: 4, CampaignName: "Завтра", FinalStatus: model.ResultStatusRetakeAllowed, TestedAt: bizToday},
		},
	}
}

func TestUsersToNotifySelectsEligibleRecipients(t *testing.T) {
	svc := NewNotificationService(reminderSheet(), &recordingNotifier{}, msk, zerolog.Nop())

	reminders, err := svc.UsersToNotify(context.Background(), bizToday)
	require.NoError(t, err)

	got := make(map[string][]int64)
	for _, r := range reminders {
		got[r.Campaign.Name] = append(got[r.Campaign.Name], r.User.TelegramID)
		switch r.Campaign.Name {
		case "Три дня":
			assert.Equal(t, 3, r.DaysLeft)
		case "Завтра":
			assert.Equal(t, 1, r.DaysLeft)
		}
	}
	assert.ElementsMatch(t, []int64{1, 2}, got["Три дня"])
	assert.ElementsMatch(t, []int64{1, 4}, got["Завтра"])
	assert.NotContains(t, got, "Неделя")
}

func TestSendRemindersCountsFailures(t *testing.T) {
	notifier := &recordingNotifier{failOn: 2}
	svc := NewNotificationService(reminderSheet(), notifier, msk, zerolog.Nop())

	sent, failed, err := svc.SendReminders(context.Background(), bizToday)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Equal(t, 1, failed)
	assert.True(t, strings.Contains(notifier.sent[4], "Завтра"))
}

func TestUsersToNotifyWithNoDueCampaigns(t *testing.T) {
	sheet := &fakeSheet{campaigns: []model.Campaign{
		{Name: "Неделя", Deadline: day(7), Assignment: model.AssignAll},
	}}
	svc := NewNotificationService(sheet, &recordingNotifier{}, msk, zerolog.Nop())

	reminders, err := svc.UsersToNotify(context.Background(), bizToday)
	require.NoError(t, err)
	assert.Empty(t, reminders)
}
