package sheets

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/stemsi/drivertest-bot/internal/model"
)

// Results sheet column titles used for reads. Writes are positional:
// id, display name, date, full name, outcome, correct, notes, final status, campaign.
const (
	colResultID       = "telegram_id"
	colResultDate     = "дата прохождения теста"
	colResultCampaign = "название кампании"
	colResultStatus   = "итоговый статус"
	colResultCorrect  = "количество верных ответов"

	resultColumnCount = 9
)

var updatedRowRe = regexp.MustCompile(`!?A(\d+):`)

// dateLayouts are tried in order when reading back test dates. Naive
// timestamps are interpreted in the client's location.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

func (c *Client) parseDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, c.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// WriteResult appends one finished attempt to the results sheet.
func (c *Client) WriteResult(ctx context.Context, r model.TestResult) error {
	row := []interface{}{
		strconv.FormatInt(r.TelegramID, 10),
		r.DisplayName,
		r.TestedAt.In(c.loc).Format(time.RFC3339),
		r.FullName,
		r.OutcomeLabel(),
		strconv.Itoa(r.CorrectCount),
		r.Notes,
		string(r.FinalStatus),
		r.CampaignName,
	}

	updated, err := c.appendRows(ctx, a1(ResultsSheet, "A:I"), [][]interface{}{row})
	if err != nil {
		return err
	}

	if m := updatedRowRe.FindStringSubmatch(updated); m != nil {
		rowNum, _ := strconv.Atoi(m[1])
		err := c.do(ctx, "clear format", func(ctx context.Context) error {
			return c.backend.ClearRowFormat(ctx, ResultsSheet, rowNum, resultColumnCount)
		})
		if err != nil {
			c.log.Warn().Err(err).Int("row", rowNum).Msg("Could not clear result row formatting")
		}
	}

	c.log.Info().
		Int64("telegram_id", r.TelegramID).
		Str("final_status", string(r.FinalStatus)).
		Int("correct", r.CorrectCount).
		Msg("Result recorded")
	return nil
}

// LastTestTime returns the most recent recorded attempt of the user, or nil.
func (c *Client) LastTestTime(ctx context.Context, telegramID int64) (*time.Time, error) {
	rows, err := c.values(ctx, a1(ResultsSheet, "A:C"))
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}

	id := strconv.FormatInt(telegramID, 10)
	for i := len(rows) - 1; i >= 1; i-- {
		row := rows[i]
		if cell(row, 0) != id {
			continue
		}
		raw := cell(row, 2)
		if raw == "" {
			continue
		}
		t, ok := c.parseDate(raw)
		if !ok {
			c.log.Warn().Str("value", raw).Int("row", i+1).Msg("Unrecognized test date")
			continue
		}
		return &t, nil
	}
	return nil, nil
}

// ListResults reads every recorded attempt. Rows with an unparsable date keep
// a zero TestedAt so they still count toward statistics.
func (c *Client) ListResults(ctx context.Context) ([]model.ResultRecord, error) {
	rows, err := c.values(ctx, a1(ResultsSheet, "A:I"))
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}

	cols, err := parseHeader(rows[0]).require(colResultID, colResultDate, colResultCampaign, colResultStatus, colResultCorrect)
	if err != nil {
		c.log.Error().Err(err).Str("sheet", ResultsSheet).Msg("Results sheet header is incomplete")
		return nil, nil
	}

	records := make([]model.ResultRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		id, _ := strconv.ParseInt(cell(row, cols[0]), 10, 64)
		rec := model.ResultRecord{
			TelegramID:   id,
			CampaignName: cell(row, cols[2]),
		}
		if id == 0 && rec.CampaignName == "" {
			continue
		}

		if t, ok := c.parseDate(cell(row, cols[1])); ok {
			rec.TestedAt = t
		}

		rawStatus := cell(row, cols[3])
		if status, ok := model.ParseResultStatus(rawStatus); ok {
			rec.FinalStatus = status
		} else if rawStatus != "" {
			c.log.Debug().Str("status", rawStatus).Int("row", i+2).Msg("Unknown result status")
		}

		if n, err := strconv.Atoi(cell(row, cols[4])); err == nil {
			rec.CorrectCount = n
			rec.HasCorrectCount = true
		}
		records = append(records, rec)
	}
	return records, nil
}

// UserResults returns the dated attempts of one user in sheet order.
func (c *Client) UserResults(ctx context.Context, telegramID int64) ([]model.ResultRecord, error) {
	all, err := c.ListResults(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.ResultRecord
	for _, r := range all {
		if r.TelegramID == telegramID && !r.TestedAt.IsZero() {
			out = append(out, r)
		}
	}
	return out, nil
}
