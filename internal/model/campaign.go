package model

import (
	"fmt"
	"strings"
	"time"
)

// CampaignType selects whether explanations are shown after wrong answers.
type CampaignType string

const (
	CampaignTypeTraining CampaignType = "обучение"
	CampaignTypeTesting  CampaignType = "тестирование"
)

// ParseCampaignType maps the sheet value onto the closed set of modes.
func ParseCampaignType(raw string) (CampaignType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "обучение", "training":
		return CampaignTypeTraining, nil
	case "тестирование", "testing":
		return CampaignTypeTesting, nil
	default:
		return "", fmt.Errorf("unknown campaign type %q", raw)
	}
}

// AssignAll is the assignment value matching every group.
const AssignAll = "ВСЕ"

// Campaign is a time-bounded assignment of the test to a set of users.
type Campaign struct {
	Name       string       `json:"name"`
	Deadline   time.Time    `json:"deadline"`
	Type       CampaignType `json:"type"`
	Assignment string       `json:"assignment"`
}

// AssignedTo reports whether the campaign targets the given group.
func (c Campaign) AssignedTo(motorcade string) bool {
	if strings.EqualFold(c.Assignment, AssignAll) {
		return true
	}
	return c.Assignment == motorcade
}

// DaysLeft counts calendar days from now until the deadline in loc.
func (c Campaign) DaysLeft(now time.Time, loc *time.Location) int {
	today := truncateDay(now.In(loc))
	deadline := truncateDay(c.Deadline.In(loc))
	return int(deadline.Sub(today).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// CampaignRef is the campaign association carried by a session.
type CampaignRef struct {
	Name string       `json:"name"`
	Mode CampaignType `json:"mode"`
}

// CampaignStats aggregates recorded attempts of one campaign.
type CampaignStats struct {
	CampaignName      string  `json:"campaign_name"`
	TotalAttempts     int     `json:"total_attempts"`
	PassedCount       int     `json:"passed_count"`
	FailedCount       int     `json:"failed_count"`
	PassRate          float64 `json:"pass_rate"`
	AvgCorrectAnswers float64 `json:"avg_correct_answers"`
}
