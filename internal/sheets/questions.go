package sheets

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/model"
)

var questionColumns = []string{
	"категория", "вопрос", "ответ 1", "ответ 2", "ответ 3", "ответ 4",
	"правильный ответ (1-4)", "критический вопрос", "пояснение",
}

// ReadQuestions loads the question bank. Rows that fail validation are
// skipped and logged; a missing column yields an empty bank.
func (c *Client) ReadQuestions(ctx context.Context) ([]model.Question, error) {
	rows, err := c.values(ctx, a1(QuestionsSheet, "A:J"))
	if err != nil {
		return nil, err
	}
	return parseQuestions(rows, c.log), nil
}

func parseQuestions(rows [][]interface{}, log zerolog.Logger) []model.Question {
	if len(rows) < 2 {
		return nil
	}

	cols, err := parseHeader(rows[0]).require(questionColumns...)
	if err != nil {
		log.Error().Err(err).Str("sheet", QuestionsSheet).Msg("Question sheet header is incomplete")
		return nil
	}

	questions := make([]model.Question, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rowIndex := i + 2

		q := model.Question{
			RowIndex:    rowIndex,
			Category:    cell(row, cols[0]),
			Text:        cell(row, cols[1]),
			Critical:    strings.EqualFold(cell(row, cols[7]), "ДА"),
			Explanation: cell(row, cols[8]),
		}
		for o := range model.MaxOptions {
			q.Options[o] = cell(row, cols[2+o])
		}

		// Blank rows are common at the bottom of the sheet.
		if q.Category == "" && q.Text == "" {
			continue
		}

		correct, err := strconv.Atoi(cell(row, cols[6]))
		if err != nil {
			log.Warn().Int("row", rowIndex).Msg("Skipping question: correct answer is not a number")
			continue
		}
		q.CorrectOption = correct

		if !q.Valid() {
			log.Warn().Int("row", rowIndex).Msg("Skipping malformed question")
			continue
		}
		questions = append(questions, q)
	}
	return questions
}
