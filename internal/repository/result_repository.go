package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/drivertest-bot/internal/model"
)

var resultColumns = []string{
	"attempt_id", "telegram_id", "display_name", "full_name", "passed",
	"correct_count", "total_questions", "notes", "campaign_name", "final_status", "tested_at",
}

// ResultRepository is the Postgres archive of finished attempts. The
// spreadsheet stays the record admins edit; this copy backs the admin API.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// CopyResults bulk-inserts a batch. Any duplicate attempt fails the whole copy.
func (r *ResultRepository) CopyResults(ctx context.Context, batch []model.TestResult) error {
	rows := make([][]any, 0, len(batch))
	for _, res := range batch {
		rows = append(rows, []any{
			res.AttemptID, res.TelegramID, res.DisplayName, res.FullName, res.Passed,
			res.CorrectCount, res.TotalQuestions, res.Notes, res.CampaignName,
			string(res.FinalStatus), res.TestedAt,
		})
	}

	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"test_results"}, resultColumns, pgx.CopyFromRows(rows))
	return err
}

// Insert writes one result, skipping attempts already archived.
func (r *ResultRepository) Insert(ctx context.Context, res model.TestResult) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO test_results
		   (attempt_id, telegram_id, display_name, full_name, passed,
		    correct_count, total_questions, notes, campaign_name, final_status, tested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (attempt_id) DO NOTHING`,
		res.AttemptID, res.TelegramID, res.DisplayName, res.FullName, res.Passed,
		res.CorrectCount, res.TotalQuestions, res.Notes, res.CampaignName,
		string(res.FinalStatus), res.TestedAt,
	)
	return err
}

// List returns one page of archived results, newest first.
func (r *ResultRepository) List(ctx context.Context, page, perPage int, campaign string, telegramID int64) ([]model.ArchivedResult, int64, error) {
	offset := (page - 1) * perPage

	where := ` WHERE 1=1`
	args := []any{}
	if campaign != "" {
		args = append(args, campaign)
		where += fmt.Sprintf(" AND campaign_name = $%d", len(args))
	}
	if telegramID != 0 {
		args = append(args, telegramID)
		where += fmt.Sprintf(" AND telegram_id = $%d", len(args))
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM test_results`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, perPage, offset)
	query := `SELECT id, attempt_id, telegram_id, display_name, full_name, passed,
	                 correct_count, total_questions, notes, campaign_name, final_status,
	                 tested_at, archived_at
	          FROM test_results` + where +
		fmt.Sprintf(" ORDER BY tested_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []model.ArchivedResult
	for rows.Next() {
		var a model.ArchivedResult
		var status string
		if err := rows.Scan(&a.ID, &a.AttemptID, &a.TelegramID, &a.DisplayName, &a.FullName, &a.Passed,
			&a.CorrectCount, &a.TotalQuestions, &a.Notes, &a.CampaignName, &status,
			&a.TestedAt, &a.ArchivedAt); err != nil {
			return nil, 0, err
		}
		a.FinalStatus = model.ResultStatus(status)
		results = append(results, a)
	}
	return results, total, rows.Err()
}

// CampaignStats aggregates the archive per campaign. The standalone test is
// grouped under an empty name.
func (r *ResultRepository) CampaignStats(ctx context.Context) ([]model.CampaignStats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT campaign_name,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE final_status = $1),
		        COUNT(*) FILTER (WHERE final_status = $2),
		        COALESCE(AVG(correct_count), 0)
		 FROM test_results
		 GROUP BY campaign_name
		 ORDER BY campaign_name`,
		string(model.ResultStatusPassed), string(model.ResultStatusFailed),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []model.CampaignStats
	for rows.Next() {
		var s model.CampaignStats
		if err := rows.Scan(&s.CampaignName, &s.TotalAttempts, &s.PassedCount, &s.FailedCount, &s.AvgCorrectAnswers); err != nil {
			return nil, err
		}
		if s.TotalAttempts > 0 {
			s.PassRate = float64(s.PassedCount) / float64(s.TotalAttempts) * 100
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
