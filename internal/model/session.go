package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one user's in-flight test attempt. It is stored under the
// user's durable key and mirrored in the conversation state.
type Session struct {
	AttemptID      uuid.UUID `json:"attempt_id"`
	TelegramID     int64     `json:"telegram_id"`
	FullName       string    `json:"full_name"`
	QuestionIDs    []int     `json:"question_ids"`
	CurrentIndex   int       `json:"current_index"`
	RemainingScore int       `json:"remaining_score"`
	CorrectCount   int       `json:"correct_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActionAt   time.Time `json:"last_action_at"`
	// QuestionDeadline is nil until the first question is presented.
	QuestionDeadline *time.Time   `json:"question_deadline,omitempty"`
	Config           AdminConfig  `json:"config"`
	Campaign         *CampaignRef `json:"campaign,omitempty"`
}

// Total is the number of selected questions.
func (s *Session) Total() int {
	return len(s.QuestionIDs)
}

// Remaining counts questions not yet answered, including the live one.
func (s *Session) Remaining() int {
	if n := len(s.QuestionIDs) - s.CurrentIndex; n > 0 {
		return n
	}
	return 0
}

// Exhausted reports whether the cursor has moved past the last question.
func (s *Session) Exhausted() bool {
	return s.CurrentIndex >= len(s.QuestionIDs)
}

// Training reports whether explanations should follow wrong answers.
func (s *Session) Training() bool {
	return s.Campaign != nil && s.Campaign.Mode == CampaignTypeTraining
}

// CampaignName is empty for the standalone test.
func (s *Session) CampaignName() string {
	if s.Campaign == nil {
		return ""
	}
	return s.Campaign.Name
}

// Notes recorded with failed attempts.
const (
	NoteCriticalFailed = "неверный ответ на критический вопрос"
	NoteScoreExhausted = "закончились баллы"
	NoteInterrupted    = "прервано: ошибка хранилища"
	noteTimeoutFormat  = "таймаут на вопрос #%d"
)

// TimeoutNote formats the note for an expired question (1-based number).
func TimeoutNote(number int) string {
	return fmt.Sprintf(noteTimeoutFormat, number)
}

// Outcome describes how a session ended.
type Outcome struct {
	Passed bool
	Notes  string
}

// SessionEventType enumerates lifecycle events published to the monitor.
type SessionEventType string

const (
	SessionEventStarted  SessionEventType = "started"
	SessionEventAsked    SessionEventType = "asked"
	SessionEventAnswered SessionEventType = "answered"
	SessionEventFinished SessionEventType = "finished"
	SessionEventReset    SessionEventType = "reset"
)

// SessionEvent is the monitor payload.
type SessionEvent struct {
	Type           SessionEventType `json:"type"`
	TelegramID     int64            `json:"telegram_id"`
	AttemptID      uuid.UUID        `json:"attempt_id"`
	Index          int              `json:"index"`
	Total          int              `json:"total"`
	CorrectCount   int              `json:"correct_count"`
	RemainingScore int              `json:"remaining_score"`
	Passed         *bool            `json:"passed,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	At             time.Time        `json:"at"`
}
