package service

import (
	"context"
	"errors"

	"vidtube-account-server/internal/domain"
	"vidtube-account-server/internal/logging"
	"vidtube-account-server/internal/metrics"
	"vidtube-account-server/internal/repository"
	"vidtube-account-server/pkg/apperror"
)

const msgRefreshTokenUsed = "refresh token is expired or used"

// PasswordComparer checks a plaintext password against a stored hash.
type PasswordComparer interface {
	Compare(hashedPassword, password string) error
}

// SessionNotifier is told about session changes so a user's other clients
// can react. Delivery is best-effort.
type SessionNotifier interface {
	NotifySession(ctx context.Context, event *domain.SessionEvent)
}

type SessionService struct {
	userRepo  repository.UserRepository
	passwords PasswordComparer
	tokens    *TokenIssuer
	notifier  SessionNotifier
	logger    logging.Logger
}

func NewSessionService(userRepo repository.UserRepository, passwords PasswordComparer, tokens *TokenIssuer, notifier SessionNotifier, logger logging.Logger) *SessionService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &SessionService{
		userRepo:  userRepo,
		passwords: passwords,
		tokens:    tokens,
		notifier:  notifier,
		logger:    logger,
	}
}

func (s *SessionService) Login(ctx context.Context, req *domain.LoginRequest) (resp *domain.LoginResponse, err error) {
	defer func() { metrics.RecordAuth(metrics.EventLogin, err) }()

	username := domain.NormalizeUsername(req.Username)
	email := domain.NormalizeEmail(req.Email)
	if username == "" && email == "" {
		return nil, apperror.Validation("username or email is required")
	}

	user, err := s.userRepo.FindByUsernameOrEmail(ctx, username, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.NotFound("user does not exist")
		}
		return nil, apperror.Internal("failed to look up user", err)
	}

	if err := s.passwords.Compare(user.Password, req.Password); err != nil {
		return nil, apperror.Unauthorized("invalid user credentials")
	}

	pair, err := s.tokens.IssueTokenPair(user.ID)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.SetRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		return nil, apperror.Internal("failed to store refresh token", err)
	}

	s.notifier.NotifySession(ctx, &domain.SessionEvent{Type: domain.SessionLogin, UserID: user.ID})
	s.logger.Info(ctx, "user logged in", "user_id", user.ID)

	return &domain.LoginResponse{
		User:         user.Sanitized(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Logout drops the stored refresh token. It is idempotent.
func (s *SessionService) Logout(ctx context.Context, userID string) (err error) {
	defer func() { metrics.RecordAuth(metrics.EventLogout, err) }()

	if err := s.userRepo.ClearRefreshToken(ctx, userID); err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return apperror.Internal("failed to clear refresh token", err)
	}

	s.notifier.NotifySession(ctx, &domain.SessionEvent{Type: domain.SessionLoggedOut, UserID: userID})
	s.logger.Info(ctx, "user logged out", "user_id", userID)
	return nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// consumed: the stored value is swapped only if it still equals the
// presented one, so a token can be exchanged at most once.
func (s *SessionService) Refresh(ctx context.Context, presented string) (pair *domain.TokenPair, err error) {
	defer func() { metrics.RecordAuth(metrics.EventRefresh, err) }()

	if presented == "" {
		return nil, apperror.Unauthorized("unauthorized request")
	}

	claims, err := s.tokens.ValidateRefreshToken(presented)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.Unauthorized("invalid refresh token")
		}
		return nil, apperror.Internal("failed to look up user", err)
	}

	if user.RefreshToken != presented {
		s.logger.Warn(ctx, "refresh token reuse rejected", "user_id", user.ID)
		return nil, apperror.Unauthorized(msgRefreshTokenUsed)
	}

	pair, err = s.tokens.IssueTokenPair(user.ID)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.SwapRefreshToken(ctx, user.ID, presented, pair.RefreshToken); err != nil {
		switch {
		case errors.Is(err, repository.ErrRefreshTokenMismatch):
			s.logger.Warn(ctx, "concurrent refresh lost the swap", "user_id", user.ID)
			return nil, apperror.Unauthorized(msgRefreshTokenUsed)
		case errors.Is(err, repository.ErrUserNotFound):
			return nil, apperror.Unauthorized("invalid refresh token")
		default:
			return nil, apperror.Internal("failed to rotate refresh token", err)
		}
	}

	s.notifier.NotifySession(ctx, &domain.SessionEvent{Type: domain.SessionRefreshed, UserID: user.ID})
	return pair, nil
}

type nopNotifier struct{}

func (nopNotifier) NotifySession(context.Context, *domain.SessionEvent) {}
