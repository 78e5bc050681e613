package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResultStatus is the final status column of the results sheet.
type ResultStatus string

const (
	ResultStatusPassed        ResultStatus = "успешно"
	ResultStatusFailed        ResultStatus = "не пройдено"
	ResultStatusRetakeAllowed ResultStatus = "разрешена пересдача"
)

// ParseResultStatus maps a sheet value onto the closed set.
func ParseResultStatus(raw string) (ResultStatus, bool) {
	switch ResultStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case ResultStatusPassed:
		return ResultStatusPassed, true
	case ResultStatusFailed:
		return ResultStatusFailed, true
	case ResultStatusRetakeAllowed:
		return ResultStatusRetakeAllowed, true
	default:
		return "", false
	}
}

// Outcome labels written to the result column.
const (
	OutcomePassed = "Пройден"
	OutcomeFailed = "Не пройден"
)

// TestResult is handed to the result recorder when a session finishes.
type TestResult struct {
	AttemptID      uuid.UUID    `json:"attempt_id"`
	TelegramID     int64        `json:"telegram_id"`
	DisplayName    string       `json:"display_name"`
	TestedAt       time.Time    `json:"tested_at"`
	FullName       string       `json:"full_name"`
	Passed         bool         `json:"passed"`
	CorrectCount   int          `json:"correct_count"`
	TotalQuestions int          `json:"total_questions"`
	Notes          string       `json:"notes,omitempty"`
	CampaignName   string       `json:"campaign_name,omitempty"`
	FinalStatus    ResultStatus `json:"final_status"`
}

// OutcomeLabel is the human label of the result column.
func (r TestResult) OutcomeLabel() string {
	if r.Passed {
		return OutcomePassed
	}
	return OutcomeFailed
}

// ResultRecord is a recorded attempt read back from the results sheet.
type ResultRecord struct {
	TelegramID   int64        `json:"telegram_id"`
	TestedAt     time.Time    `json:"tested_at"`
	CampaignName string       `json:"campaign_name"`
	FinalStatus  ResultStatus `json:"final_status"`
	CorrectCount int          `json:"correct_count"`
	// HasCorrectCount is false when the sheet cell was not a number.
	HasCorrectCount bool `json:"-"`
}

// ArchivedResult is a row of the Postgres result archive.
type ArchivedResult struct {
	ID             int64        `json:"id"`
	AttemptID      uuid.UUID    `json:"attempt_id"`
	TelegramID     int64        `json:"telegram_id"`
	DisplayName    string       `json:"display_name"`
	FullName       string       `json:"full_name"`
	Passed         bool         `json:"passed"`
	CorrectCount   int          `json:"correct_count"`
	TotalQuestions int          `json:"total_questions"`
	Notes          string       `json:"notes"`
	CampaignName   string       `json:"campaign_name"`
	FinalStatus    ResultStatus `json:"final_status"`
	TestedAt       time.Time    `json:"tested_at"`
	ArchivedAt     time.Time    `json:"archived_at"`
}
