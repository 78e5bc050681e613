package model

import "strings"

// UserStatus is the moderation state of a registered driver.
type UserStatus string

const (
	UserStatusPending   UserStatus = "ожидает"
	UserStatusConfirmed UserStatus = "подтверждён"
	UserStatusRejected  UserStatus = "отклонён"
)

// ParseUserStatus maps a sheet value onto the closed set. Unrecognized values
// come back as pending with ok=false so the caller can log them; treating them
// as pending keeps the user from re-registering.
func ParseUserStatus(raw string) (status UserStatus, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ожидает":
		return UserStatusPending, true
	case "подтверждён", "подтвержден":
		return UserStatusConfirmed, true
	case "отклонён", "отклонен":
		return UserStatusRejected, true
	default:
		return UserStatusPending, false
	}
}

// User is a row of the users sheet.
type User struct {
	TelegramID int64      `json:"telegram_id"`
	Phone      string     `json:"phone"`
	FullName   string     `json:"full_name"`
	Motorcade  string     `json:"motorcade"`
	Status     UserStatus `json:"status"`
}

// Profile is the chat identity captured when the user starts a test.
type Profile struct {
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
}

// DisplayName prefers the username and falls back to "first last".
func (p Profile) DisplayName() string {
	if p.Username != "" {
		return p.Username
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}
