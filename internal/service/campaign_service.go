package service

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/model"
)

// CampaignSource reads campaigns and recorded attempts.
type CampaignSource interface {
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	UserResults(ctx context.Context, telegramID int64) ([]model.ResultRecord, error)
}

// CampaignService picks the campaign a user should take next.
type CampaignService struct {
	source CampaignSource
	loc    *time.Location
	log    zerolog.Logger
}

// NewCampaignService creates a new CampaignService.
func NewCampaignService(source CampaignSource, loc *time.Location, log zerolog.Logger) *CampaignService {
	return &CampaignService{
		source: source,
		loc:    loc,
		log:    log.With().Str("component", "campaigns").Logger(),
	}
}

// ActiveCampaign returns the first campaign, in sheet order, that has not
// passed its deadline, is assigned to the user's motorcade, and that the
// user has not completed. A campaign counts as open again when its latest
// result is "retake allowed". Nil means the standalone test.
func (s *CampaignService) ActiveCampaign(ctx context.Context, user model.User, now time.Time) (*model.Campaign, error) {
	campaigns, err := s.source.ListCampaigns(ctx)
	if err != nil {
		return nil, err
	}
	if len(campaigns) == 0 {
		return nil, nil
	}

	results, err := s.source.UserResults(ctx, user.TelegramID)
	if err != nil {
		return nil, err
	}
	latest := LatestStatusByCampaign(results)

	for i := range campaigns {
		c := campaigns[i]
		if c.DaysLeft(now, s.loc) < 0 || !c.AssignedTo(user.Motorcade) {
			continue
		}
		status, attempted := latest[c.Name]
		if !attempted || status == model.ResultStatusRetakeAllowed {
			s.log.Info().
				Int64("telegram_id", user.TelegramID).
				Str("campaign", c.Name).
				Bool("retake", attempted).
				Msg("Active campaign found")
			return &c, nil
		}
	}

	s.log.Info().Int64("telegram_id", user.TelegramID).Msg("No active campaign")
	return nil, nil
}

// LatestStatusByCampaign maps each campaign name to the final status of the
// most recent attempt. Ties on the timestamp keep the later sheet row.
func LatestStatusByCampaign(results []model.ResultRecord) map[string]model.ResultStatus {
	sorted := append([]model.ResultRecord(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TestedAt.Before(sorted[j].TestedAt)
	})

	latest := make(map[string]model.ResultStatus, len(sorted))
	for _, r := range sorted {
		latest[r.CampaignName] = r.FinalStatus
	}
	return latest
}
