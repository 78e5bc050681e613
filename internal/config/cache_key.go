package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionKey returns the durable key holding a user's in-flight test session.
func (r *CacheKeyStruct) SessionKey(telegramID int64) string {
	return fmt.Sprintf("session:%d", telegramID)
}

// SessionKeyPattern matches every session key for SCAN.
func (r *CacheKeyStruct) SessionKeyPattern() string {
	return "session:*"
}

// ConversationKey returns the key of a user's conversation state.
func (r *CacheKeyStruct) ConversationKey(telegramID int64) string {
	return fmt.Sprintf("conversation:%d", telegramID)
}

// SessionMonitorChannel is the pub/sub channel carrying session lifecycle events.
func (r *CacheKeyStruct) SessionMonitorChannel() string {
	return "sessions:monitor"
}

// RevokedTokenKey marks an admin token ID as logged out until it expires.
func (r *CacheKeyStruct) RevokedTokenKey(jti string) string {
	return fmt.Sprintf("auth:revoked:%s", jti)
}

// LoginAttemptsKey counts login attempts from one client IP in the current window.
func (r *CacheKeyStruct) LoginAttemptsKey(ip string) string {
	return fmt.Sprintf("ratelimit:login:%s", ip)
}

var CacheKey = NewCacheKeyStruct()
