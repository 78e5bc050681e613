package sheets

import (
	"context"
	"time"

	"github.com/stemsi/drivertest-bot/internal/model"
)

const deadlineLayout = "2006-01-02"

var campaignColumns = []string{"название кампании", "дедлайн", "тип", "назначение"}

// ListCampaigns returns campaigns in sheet order. Rows with a bad deadline
// or unknown type are skipped and logged.
func (c *Client) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := c.values(ctx, a1(CampaignsSheet, "A:D"))
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}

	cols, err := parseHeader(rows[0]).require(campaignColumns...)
	if err != nil {
		c.log.Error().Err(err).Str("sheet", CampaignsSheet).Msg("Campaign sheet header is incomplete")
		return nil, nil
	}

	campaigns := make([]model.Campaign, 0, len(rows)-1)
	for i, row := range rows[1:] {
		name := cell(row, cols[0])
		if name == "" {
			continue
		}

		deadline, err := time.ParseInLocation(deadlineLayout, cell(row, cols[1]), c.loc)
		if err != nil {
			c.log.Warn().Err(err).Int("row", i+2).Msg("Skipping campaign with invalid deadline")
			continue
		}
		ctype, err := model.ParseCampaignType(cell(row, cols[2]))
		if err != nil {
			c.log.Warn().Err(err).Int("row", i+2).Msg("Skipping campaign with invalid type")
			continue
		}

		campaigns = append(campaigns, model.Campaign{
			Name:       name,
			Deadline:   deadline,
			Type:       ctype,
			Assignment: cell(row, cols[3]),
		})
	}
	return campaigns, nil
}
