package model

// Step is the conversation state of one user.
type Step string

const (
	StepNone Step = ""

	// Registration.
	StepRegPhone     Step = "reg_phone"
	StepRegFullName  Step = "reg_full_name"
	StepRegMotorcade Step = "reg_motorcade"

	// Test flow.
	StepCollectingIdentity Step = "collecting_identity"
	StepConfirmIdentity    Step = "confirm_identity"
	StepPreparing          Step = "preparing"
	StepAsking             Step = "asking"
	StepAwaitingAnswer     Step = "awaiting_answer"

	// Appeals.
	StepAppealText    Step = "appeal_text"
	StepAppealConfirm Step = "appeal_confirm"
)

// Registering reports whether the user is inside the registration flow.
func (s Step) Registering() bool {
	return s == StepRegPhone || s == StepRegFullName || s == StepRegMotorcade
}

// InAppeal reports whether the user is composing an appeal.
func (s Step) InAppeal() bool {
	return s == StepAppealText || s == StepAppealConfirm
}

// Registration holds the fields collected before the user row is appended.
type Registration struct {
	Phone     string `json:"phone,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	Motorcade string `json:"motorcade,omitempty"`
}

// Conversation is the per-user state bag, with one explicit schema.
// Session mirrors the durable store while a test is running.
type Conversation struct {
	Step         Step          `json:"step"`
	Profile      Profile       `json:"profile"`
	FullName     string        `json:"full_name,omitempty"`
	Campaign     *CampaignRef  `json:"campaign,omitempty"`
	Questions    []Question    `json:"questions,omitempty"`
	Session      *Session      `json:"session,omitempty"`
	Registration *Registration `json:"registration,omitempty"`
	AppealText   string        `json:"appeal_text,omitempty"`
}

// CurrentQuestion returns the live question, if any.
func (c *Conversation) CurrentQuestion() (Question, bool) {
	if c == nil || c.Session == nil {
		return Question{}, false
	}
	i := c.Session.CurrentIndex
	if i < 0 || i >= len(c.Questions) {
		return Question{}, false
	}
	return c.Questions[i], true
}
