package model

import "time"

// AdminConfig holds the test rules edited by administrators in the settings
// sheet. A Session keeps its own copy so edits never reach an in-flight test.
type AdminConfig struct {
	NumQuestions       int      `json:"num_questions"`        // N
	MaxErrors          int      `json:"max_errors"`           // M
	RetryHours         int      `json:"retry_hours"`          // H
	SecondsPerQuestion int      `json:"seconds_per_question"` // S
	Motorcades         []string `json:"motorcades,omitempty"`
}

// QuestionDuration is S as a duration.
func (c AdminConfig) QuestionDuration() time.Duration {
	return time.Duration(c.SecondsPerQuestion) * time.Second
}

// Cooldown is H as a duration. Zero disables the retry gate.
func (c AdminConfig) Cooldown() time.Duration {
	return time.Duration(c.RetryHours) * time.Hour
}

// HasMotorcade reports whether name is an allowed group. An empty list
// accepts any value.
func (c AdminConfig) HasMotorcade(name string) bool {
	if len(c.Motorcades) == 0 {
		return true
	}
	for _, m := range c.Motorcades {
		if m == name {
			return true
		}
	}
	return false
}
