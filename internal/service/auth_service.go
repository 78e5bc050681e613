package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/drivertest-bot/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenRevoked       = errors.New("token has been revoked")
)

// TokenTypeAdmin is the only token type the admin API issues.
const TokenTypeAdmin = "admin"

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
	Username  string `json:"username"`
}

// AuthService authenticates the admin API operator and issues JWTs.
type AuthService struct {
	cfg *config.Config
	rdb *redis.Client
	now func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client) *AuthService {
	return &AuthService{cfg: cfg, rdb: rdb, now: time.Now}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Login checks the configured operator credentials and returns a signed token.
func (s *AuthService) Login(username, password string) (string, time.Time, error) {
	if s.cfg.AdminPasswordHash == "" || username != s.cfg.AdminUsername {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := s.CheckPassword(s.cfg.AdminPasswordHash, password); err != nil {
		return "", time.Time{}, err
	}
	return s.GenerateAdminToken(username)
}

// GenerateAdminToken signs a token for the operator.
func (s *AuthService) GenerateAdminToken(username string) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.cfg.JWTExpiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		TokenType: TokenTypeAdmin,
		Username:  username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// CheckNotRevoked rejects tokens that were logged out.
func (s *AuthService) CheckNotRevoked(ctx context.Context, claims *Claims) error {
	n, err := s.rdb.Exists(ctx, config.CacheKey.RevokedTokenKey(claims.ID)).Result()
	if err != nil {
		return fmt.Errorf("check revocation: %w", err)
	}
	if n > 0 {
		return ErrTokenRevoked
	}
	return nil
}

// Revoke blacklists the token until its natural expiry.
func (s *AuthService) Revoke(ctx context.Context, claims *Claims) error {
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if left := claims.ExpiresAt.Sub(s.now()); left > 0 {
			ttl = left
		}
	}
	return s.rdb.Set(ctx, config.CacheKey.RevokedTokenKey(claims.ID), "1", ttl).Err()
}
