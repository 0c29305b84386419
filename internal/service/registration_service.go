package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"vidtube-account-server/internal/domain"
	"vidtube-account-server/internal/logging"
	"vidtube-account-server/internal/metrics"
	"vidtube-account-server/internal/repository"
	"vidtube-account-server/internal/storage"
	"vidtube-account-server/pkg/apperror"

	"github.com/google/uuid"
)

type RegistrationService struct {
	userRepo repository.UserRepository
	media    MediaStore
	logger   logging.Logger
}

func NewRegistrationService(userRepo repository.UserRepository, media MediaStore, logger logging.Logger) *RegistrationService {
	return &RegistrationService{
		userRepo: userRepo,
		media:    media,
		logger:   logger,
	}
}

// Register creates an account. Checks run in a fixed order: required fields,
// username/email availability, avatar presence, avatar upload, then the
// optional cover upload. A failed cover upload is logged and stored as "".
func (s *RegistrationService) Register(ctx context.Context, req *domain.RegisterRequest) (created *domain.User, err error) {
	defer func() { metrics.RecordAuth(metrics.EventRegister, err) }()

	username := domain.NormalizeUsername(req.Username)
	email := domain.NormalizeEmail(req.Email)
	fullName := strings.TrimSpace(req.FullName)
	if username == "" || email == "" || fullName == "" || strings.TrimSpace(req.Password) == "" {
		return nil, apperror.Validation("all fields are required")
	}

	existing, err := s.userRepo.FindByUsernameOrEmail(ctx, username, email)
	switch {
	case err == nil && existing != nil:
		return nil, apperror.Conflict(repository.ErrUserExists.Error())
	case err != nil && !errors.Is(err, repository.ErrUserNotFound):
		return nil, apperror.Internal("failed to check existing users", err)
	}

	if req.Avatar == nil {
		return nil, apperror.Validation("avatar file is required")
	}

	avatarURL, err := uploadImage(ctx, s.media, req.Avatar, storage.FolderAvatars, "avatar")
	if err != nil {
		return nil, err
	}

	var coverURL string
	if req.CoverImage != nil {
		coverURL, err = s.media.Upload(ctx, req.CoverImage, storage.FolderCovers)
		if err != nil {
			s.logger.Warn(ctx, "cover image upload failed, continuing without it", "username", username, "error", err)
			coverURL = ""
		}
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:         uuid.New().String(),
		Username:   username,
		Email:      email,
		FullName:   fullName,
		Avatar:     avatarURL,
		CoverImage: coverURL,
		Password:   req.Password,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		s.discardUploads(ctx, avatarURL, coverURL)
		if errors.Is(err, repository.ErrUserExists) {
			return nil, apperror.Conflict(repository.ErrUserExists.Error())
		}
		return nil, apperror.Internal("something went wrong while registering the user", err)
	}

	created, err = s.userRepo.FindByID(ctx, user.ID)
	if err != nil {
		s.rollback(ctx, user)
		return nil, apperror.Internal("something went wrong while registering the user", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", created.ID, "username", created.Username)
	return created.Sanitized(), nil
}

// rollback removes a user whose creation could not be confirmed, so a retry
// with the same username and email is possible. The uploads are kept if the
// user document may still exist, since it still points at them.
func (s *RegistrationService) rollback(ctx context.Context, user *domain.User) {
	if err := s.userRepo.Delete(ctx, user.ID); err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		s.logger.Error(ctx, "failed to roll back user, keeping its images", "user_id", user.ID, "error", err)
		return
	}
	s.discardUploads(ctx, user.Avatar, user.CoverImage)
}

func (s *RegistrationService) discardUploads(ctx context.Context, urls ...string) {
	for _, url := range urls {
		discardImage(ctx, s.media, s.logger, url)
	}
}
