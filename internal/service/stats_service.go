package service

import (
	"context"
	"sort"

	"github.com/stemsi/drivertest-bot/internal/model"
)

// ResultSource reads recorded attempts and users from the spreadsheet.
type ResultSource interface {
	ListResults(ctx context.Context) ([]model.ResultRecord, error)
	UserResults(ctx context.Context, telegramID int64) ([]model.ResultRecord, error)
	GetUser(ctx context.Context, telegramID int64) (*model.User, error)
}

// StatsService backs the admin chat commands.
type StatsService struct {
	source ResultSource
}

// NewStatsService creates a new StatsService.
func NewStatsService(source ResultSource) *StatsService {
	return &StatsService{source: source}
}

// CampaignStatistics aggregates results per campaign in first-seen order.
// Rows without a campaign name are left out; an empty filter keeps all.
func (s *StatsService) CampaignStatistics(ctx context.Context, campaign string) ([]model.CampaignStats, error) {
	records, err := s.source.ListResults(ctx)
	if err != nil {
		return nil, err
	}
	return aggregateCampaignStats(records, campaign), nil
}

func aggregateCampaignStats(records []model.ResultRecord, filter string) []model.CampaignStats {
	type acc struct {
		stats          model.CampaignStats
		correctSum     int
		correctSamples int
	}

	var order []string
	byName := make(map[string]*acc)
	for _, r := range records {
		if r.CampaignName == "" || (filter != "" && r.CampaignName != filter) {
			continue
		}
		a, ok := byName[r.CampaignName]
		if !ok {
			a = &acc{stats: model.CampaignStats{CampaignName: r.CampaignName}}
			byName[r.CampaignName] = a
			order = append(order, r.CampaignName)
		}

		a.stats.TotalAttempts++
		switch r.FinalStatus {
		case model.ResultStatusPassed:
			a.stats.PassedCount++
		case model.ResultStatusFailed:
			a.stats.FailedCount++
		}
		if r.HasCorrectCount {
			a.correctSum += r.CorrectCount
			a.correctSamples++
		}
	}

	out := make([]model.CampaignStats, 0, len(order))
	for _, name := range order {
		a := byName[name]
		if a.stats.TotalAttempts > 0 {
			a.stats.PassRate = float64(a.stats.PassedCount) / float64(a.stats.TotalAttempts) * 100
		}
		if a.correctSamples > 0 {
			a.stats.AvgCorrectAnswers = float64(a.correctSum) / float64(a.correctSamples)
		}
		out = append(out, a.stats)
	}
	return out
}

// UserHistory returns the user and their attempts, newest first. A nil user
// means the id is not registered.
func (s *StatsService) UserHistory(ctx context.Context, telegramID int64) (*model.User, []model.ResultRecord, error) {
	u, err := s.source.GetUser(ctx, telegramID)
	if err != nil || u == nil {
		return nil, nil, err
	}

	results, err := s.source.UserResults(ctx, telegramID)
	if err != nil {
		return nil, nil, err
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TestedAt.After(results[j].TestedAt)
	})
	return u, results, nil
}
