package service

import (
	"context"
	"errors"
	"strings"

	"vidtube-account-server/internal/domain"
	"vidtube-account-server/internal/logging"
	"vidtube-account-server/internal/metrics"
	"vidtube-account-server/internal/repository"
	"vidtube-account-server/internal/storage"
	"vidtube-account-server/pkg/apperror"
)

type AccountService struct {
	userRepo  repository.UserRepository
	passwords PasswordComparer
	media     MediaStore
	notifier  SessionNotifier
	logger    logging.Logger
}

func NewAccountService(userRepo repository.UserRepository, passwords PasswordComparer, media MediaStore, notifier SessionNotifier, logger logging.Logger) *AccountService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &AccountService{
		userRepo:  userRepo,
		passwords: passwords,
		media:     media,
		notifier:  notifier,
		logger:    logger,
	}
}

func (s *AccountService) GetMe(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, userLookupError(err)
	}
	return user.Sanitized(), nil
}

func (s *AccountService) UpdateAccount(ctx context.Context, userID string, req *domain.UpdateAccountRequest) (*domain.User, error) {
	fullName := strings.TrimSpace(req.FullName)
	email := domain.NormalizeEmail(req.Email)
	if fullName == "" && email == "" {
		return nil, apperror.Validation("fullName or email is required")
	}

	user, err := s.userRepo.UpdateAccount(ctx, userID, fullName, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, apperror.Conflict("email is already in use")
		}
		return nil, userLookupError(err)
	}

	return user.Sanitized(), nil
}

// ChangePassword verifies the old password and stores the new one. Stored
// refresh tokens are dropped, so other sessions have to log in again.
func (s *AccountService) ChangePassword(ctx context.Context, userID string, req *domain.ChangePasswordRequest) (err error) {
	defer func() { metrics.RecordAuth(metrics.EventPasswordChange, err) }()

	if req.OldPassword == "" || req.NewPassword == "" {
		return apperror.Validation("old and new password are required")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return userLookupError(err)
	}

	if err := s.passwords.Compare(user.Password, req.OldPassword); err != nil {
		return apperror.Unauthorized("invalid old password")
	}

	if err := s.userRepo.UpdatePassword(ctx, userID, req.NewPassword); err != nil {
		return userLookupError(err)
	}

	s.notifier.NotifySession(ctx, &domain.SessionEvent{Type: domain.SessionPasswordChanged, UserID: userID})
	s.logger.Info(ctx, "password changed", "user_id", userID)
	return nil
}

func (s *AccountService) UpdateAvatar(ctx context.Context, userID string, file *domain.FileInput) (*domain.User, error) {
	if file == nil {
		return nil, apperror.Validation("avatar file is missing")
	}
	return s.replaceImage(ctx, userID, file, storage.FolderAvatars, "avatar", s.userRepo.UpdateAvatar)
}

func (s *AccountService) UpdateCoverImage(ctx context.Context, userID string, file *domain.FileInput) (*domain.User, error) {
	if file == nil {
		return nil, apperror.Validation("cover image file is missing")
	}
	return s.replaceImage(ctx, userID, file, storage.FolderCovers, "cover image", s.userRepo.UpdateCoverImage)
}

type imageSetter func(ctx context.Context, id, url string) (string, error)

func (s *AccountService) replaceImage(ctx context.Context, userID string, file *domain.FileInput, folder, field string, set imageSetter) (*domain.User, error) {
	url, err := uploadImage(ctx, s.media, file, folder, field)
	if err != nil {
		return nil, err
	}

	previous, err := set(ctx, userID, url)
	if err != nil {
		discardImage(ctx, s.media, s.logger, url)
		return nil, userLookupError(err)
	}
	discardImage(ctx, s.media, s.logger, previous)

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, userLookupError(err)
	}
	return user.Sanitized(), nil
}

func userLookupError(err error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return apperror.NotFound("user not found")
	}
	return apperror.Internal("failed to access user", err)
}
