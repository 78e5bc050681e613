package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/model"
)

// Registration errors.
var (
	ErrUnknownMotorcade       = errors.New("motorcade is not in the configured list")
	ErrAlreadyRegistered      = errors.New("user is already registered")
	ErrIncompleteRegistration = errors.New("registration fields are incomplete")
)

// UserDirectory reads and appends user rows.
type UserDirectory interface {
	GetUser(ctx context.Context, telegramID int64) (*model.User, error)
	AddUser(ctx context.Context, u model.User) error
	ReadAdminConfig(ctx context.Context) (model.AdminConfig, error)
}

// RegistrationService handles sign-up and account status lookups.
type RegistrationService struct {
	users UserDirectory
	log   zerolog.Logger
}

// NewRegistrationService creates a new RegistrationService.
func NewRegistrationService(users UserDirectory, log zerolog.Logger) *RegistrationService {
	return &RegistrationService{
		users: users,
		log:   log.With().Str("component", "registration").Logger(),
	}
}

// Lookup returns the registered user or nil.
func (s *RegistrationService) Lookup(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.users.GetUser(ctx, telegramID)
}

// ValidateMotorcade checks the name against the settings sheet. An
// unreadable settings sheet accepts any name so sign-up is not blocked.
func (s *RegistrationService) ValidateMotorcade(ctx context.Context, name string) error {
	cfg, err := s.users.ReadAdminConfig(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Settings unavailable, motorcade not validated")
		return nil
	}
	if !cfg.HasMotorcade(name) {
		return ErrUnknownMotorcade
	}
	return nil
}

// Register appends the user as pending confirmation.
func (s *RegistrationService) Register(ctx context.Context, telegramID int64, reg model.Registration) (*model.User, error) {
	reg.Phone = strings.TrimSpace(reg.Phone)
	reg.FullName = strings.TrimSpace(reg.FullName)
	reg.Motorcade = strings.TrimSpace(reg.Motorcade)
	if reg.Phone == "" || reg.FullName == "" || reg.Motorcade == "" {
		return nil, ErrIncompleteRegistration
	}

	existing, err := s.users.GetUser(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrAlreadyRegistered
	}

	u := model.User{
		TelegramID: telegramID,
		Phone:      reg.Phone,
		FullName:   reg.FullName,
		Motorcade:  reg.Motorcade,
		Status:     model.UserStatusPending,
	}
	if err := s.users.AddUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info().Int64("telegram_id", telegramID).Str("motorcade", u.Motorcade).Msg("Registration completed")
	return &u, nil
}
