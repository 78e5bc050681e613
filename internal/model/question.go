package model

// MaxOptions is the number of answer slots a question row carries.
const MaxOptions = 4

// Question is one multiple-choice item loaded from the question bank.
// RowIndex is the 1-based sheet row and serves as the stable identifier.
type Question struct {
	RowIndex      int                `json:"row_index"`
	Category      string             `json:"category"`
	Text          string             `json:"text"`
	Options       [MaxOptions]string `json:"options"`
	CorrectOption int                `json:"correct_option"` // 1-based
	Critical      bool               `json:"critical"`
	Explanation   string             `json:"explanation,omitempty"`
}

// IsCorrect reports whether the 1-based option is the right answer.
func (q Question) IsCorrect(option int) bool {
	return option == q.CorrectOption
}

// AnswerOption is a presentable option with its 1-based position label.
type AnswerOption struct {
	Position int    `json:"position"`
	Text     string `json:"text"`
}

// PresentableOptions returns only the non-empty options, labelled by position.
func (q Question) PresentableOptions() []AnswerOption {
	out := make([]AnswerOption, 0, MaxOptions)
	for i, text := range q.Options {
		if text == "" {
			continue
		}
		out = append(out, AnswerOption{Position: i + 1, Text: text})
	}
	return out
}

// Valid checks the row-level invariants: category and text present, at least
// two options, and the correct option pointing at a non-empty slot.
func (q Question) Valid() bool {
	if q.Category == "" || q.Text == "" {
		return false
	}
	if len(q.PresentableOptions()) < 2 {
		return false
	}
	if q.CorrectOption < 1 || q.CorrectOption > MaxOptions {
		return false
	}
	return q.Options[q.CorrectOption-1] != ""
}
