package model

import "time"

// AdminLoginRequest is the payload for operator authentication.
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// AdminLoginResponse is returned after a successful login.
type AdminLoginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResultListQuery filters the archived results listing.
type ResultListQuery struct {
	Page       int    `form:"page" binding:"omitempty,min=1"`
	PerPage    int    `form:"per_page" binding:"omitempty,min=1,max=100"`
	Campaign   string `form:"campaign" binding:"omitempty,max=255"`
	TelegramID int64  `form:"telegram_id" binding:"omitempty,min=1"`
}

// ActiveSessionView is the admin view of a running test.
type ActiveSessionView struct {
	Session    *Session `json:"session"`
	TTLSeconds int64    `json:"ttl_seconds"`
}
