package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"subcontracting-service/internal/model"
)

// TokenIssuer mints access tokens. Satisfied by auth.Issuer.
type TokenIssuer interface {
	IssueDriver(driverID uuid.UUID) (string, error)
	IssueAdmin() (string, error)
}

// AuthService authenticates drivers against their stored hash and the
// operator against the configured admin password.
type AuthService struct {
	drivers       DriverStore
	issuer        TokenIssuer
	adminPassword string
	log           zerolog.Logger
}

func NewAuthService(drivers DriverStore, issuer TokenIssuer, adminPassword string, log zerolog.Logger) *AuthService {
	return &AuthService{
		drivers:       drivers,
		issuer:        issuer,
		adminPassword: adminPassword,
		log:           log,
	}
}

type LoginResult struct {
	Token  string        `json:"token"`
	Driver *model.Driver `json:"driver,omitempty"`
}

// DriverLogin verifies credentials for an activated driver account.
// Deactivated accounts authenticate but are refused with a distinct error so
// the UI can explain the lockout.
func (s *AuthService) DriverLogin(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	driver, err := s.drivers.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(driver.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !driver.IsActive {
		return nil, ErrDriverInactive
	}

	token, err := s.issuer.IssueDriver(driver.ID)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("driver_id", driver.ID.String()).Msg("driver logged in")

	return &LoginResult{Token: token, Driver: driver}, nil
}

// AdminLogin exchanges the operator password for an admin token.
func (s *AuthService) AdminLogin(ctx context.Context, password string) (*LoginResult, error) {
	if s.adminPassword == "" {
		return nil, ErrPermissionDenied
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.adminPassword)) != 1 {
		return nil, ErrInvalidCredentials
	}

	token, err := s.issuer.IssueAdmin()
	if err != nil {
		return nil, err
	}

	s.log.Info().Msg("admin logged in")

	return &LoginResult{Token: token}, nil
}
