package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// Inline button payloads.
const (
	CallbackIdentityConfirm = "fio:confirm"
	CallbackIdentityRetry   = "fio:retry"
	CallbackAppealConfirm   = "appeal:confirm"
	CallbackAppealCancel    = "appeal:cancel"

	answerPrefix = "answer:"
)

// AnswerCallback encodes an answer button as "answer:{index}:{option}".
func AnswerCallback(index, option int) string {
	return fmt.Sprintf("%s%d:%d", answerPrefix, index, option)
}

// ParseAnswerCallback decodes an answer button payload.
func ParseAnswerCallback(data string) (index, option int, ok bool) {
	rest, found := strings.CutPrefix(data, answerPrefix)
	if !found {
		return 0, 0, false
	}
	rawIndex, rawOption, found := strings.Cut(rest, ":")
	if !found {
		return 0, 0, false
	}
	index, err := strconv.Atoi(rawIndex)
	if err != nil || index < 0 {
		return 0, 0, false
	}
	option, err = strconv.Atoi(rawOption)
	if err != nil || option < 1 {
		return 0, 0, false
	}
	return index, option, true
}
