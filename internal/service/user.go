package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sakif/recipebox/internal/apperror"
	"github.com/sakif/recipebox/internal/imagestore"
	"github.com/sakif/recipebox/internal/model"
	"github.com/sakif/recipebox/internal/repository"
)

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) error
}

// UserService implements account registration, profile lookups and avatar
// changes.
//
// It holds the listing Invalidator too: cached listing pages embed each
// recipe's author, so a new avatar has to drop them just like a recipe
// write does.
type UserService struct {
	users          repository.UserRepository
	passwords      PasswordHasher
	images         imagestore.Store
	cache          Invalidator
	logger         *slog.Logger
	maxUploadBytes int64
}

func NewUserService(
	users repository.UserRepository,
	passwords PasswordHasher,
	images imagestore.Store,
	cache Invalidator,
	logger *slog.Logger,
	maxUploadBytes int64,
) *UserService {
	return &UserService{
		users:          users,
		passwords:      passwords,
		images:         images,
		cache:          cache,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// Register creates an account. Accounts are active immediately.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	if err := s.ensureFree(ctx, s.users.GetUserByUsername, in.Username, "username"); err != nil {
		return nil, err
	}
	if err := s.ensureFree(ctx, s.users.GetUserByEmail, in.Email, "email"); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/user: hashing password: %w", err)
	}

	user := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		IsActive:     true,
	}
	// The store's unique constraints catch registrations racing past the
	// lookups above.
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("service/user: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("id", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

func (s *UserService) ensureFree(
	ctx context.Context,
	lookup func(context.Context, string) (*model.User, error),
	value, field string,
) error {
	_, err := lookup(ctx, value)
	switch {
	case err == nil:
		return apperror.Conflict("user", field+" already used")
	case errors.Is(err, apperror.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("service/user: checking %s: %w", field, err)
	}
}

func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	return s.users.GetUserByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.users.GetUserByUsername(ctx, username)
}

// SetAvatar replaces the caller's avatar. Listings embed author avatars, so
// cached listings are dropped too.
func (s *UserService) SetAvatar(ctx context.Context, callerID string, r io.Reader) (*model.User, error) {
	user, err := s.GetByID(ctx, callerID)
	if err != nil {
		return nil, err
	}

	data, err := imagestore.Process(r, s.maxUploadBytes)
	if err != nil {
		return nil, uploadError("avatar", err)
	}
	name := imagestore.NewName()
	if err := s.images.Put(ctx, imagestore.FolderAvatars, name, data); err != nil {
		return nil, fmt.Errorf("service/user: storing avatar: %w", err)
	}
	if err := s.users.UpdateUserAvatar(ctx, user.ID, name); err != nil {
		s.deleteImage(ctx, name)
		return nil, fmt.Errorf("service/user: saving avatar: %w", err)
	}
	invalidate(ctx, s.cache, s.logger)

	if user.AvatarImage != "" {
		s.deleteImage(ctx, user.AvatarImage)
	}
	user.AvatarImage = name

	s.logger.Info("avatar updated", slog.String("user_id", user.ID), slog.String("avatar", name))
	return user, nil
}

func (s *UserService) deleteImage(ctx context.Context, name string) {
	if err := s.images.Delete(context.WithoutCancel(ctx), imagestore.FolderAvatars, name); err != nil {
		s.logger.Warn("failed to remove avatar", slog.String("name", name), slog.String("error", err.Error()))
	}
}
