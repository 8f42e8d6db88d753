package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/recipebox/internal/apperror"
	"github.com/sakif/recipebox/internal/auth"
	"github.com/sakif/recipebox/internal/model"
	"github.com/sakif/recipebox/internal/repository"
)

// TokenIssuer signs access tokens for a user id.
type TokenIssuer interface {
	Generate(userID string) (string, error)
	TTL() time.Duration
}

// AuthService exchanges credentials for access tokens.
type AuthService struct {
	users     repository.UserRepository
	tokens    TokenIssuer
	passwords PasswordHasher
	logger    *slog.Logger
}

// AuthResult is a successful login.
type AuthResult struct {
	User        *model.User
	AccessToken string
	ExpiresIn   time.Duration
}

func NewAuthService(users repository.UserRepository, tokens TokenIssuer, passwords PasswordHasher, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// Login checks email and password. Unknown email and wrong password are
// indistinguishable to the caller. Inactive accounts are refused with
// Forbidden.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	badCredentials := apperror.Unauthorized("Email or password is incorrect")

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, badCredentials
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("login failed", slog.String("user_id", user.ID))
			return nil, badCredentials
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	if !user.IsActive {
		return nil, apperror.Forbidden("The user account is not activated yet")
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token: %w", err)
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	return &AuthResult{User: user, AccessToken: token, ExpiresIn: s.tokens.TTL()}, nil
}
