package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"vidtube-account-server/internal/config"
	"vidtube-account-server/internal/domain"
	"vidtube-account-server/internal/logging"
	"vidtube-account-server/internal/repository"
	"vidtube-account-server/pkg/hash"

	"golang.org/x/crypto/bcrypt"
)

var testHasher = hash.NewHasher(bcrypt.MinCost)

func testTokenIssuer() *TokenIssuer {
	return NewTokenIssuer(config.JWTConfig{
		AccessTokenSecret:  "test-access-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenSecret: "test-refresh-secret",
		RefreshTokenExpiry: 240 * time.Hour,
	})
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User

	createErr   error
	findByIDErr error
	deleteErr   error
	deleted     []string
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*domain.User)}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return f.createErr
	}
	for _, u := range f.users {
		if strings.EqualFold(u.Username, user.Username) || strings.EqualFold(u.Email, user.Email) {
			return repository.ErrUserExists
		}
	}

	hashed, err := testHasher.Hash(user.Password)
	if err != nil {
		return err
	}
	user.Password = hashed

	c := *user
	f.users[user.ID] = &c
	return nil
}

func (f *fakeUserRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(f.users, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.findByIDErr != nil {
		return nil, f.findByIDErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUserRepo) find(match func(u *domain.User) bool) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeUserRepo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return f.find(func(u *domain.User) bool { return u.Username == username })
}

func (f *fakeUserRepo) FindByUsernameOrEmail(ctx context.Context, username, email string) (*domain.User, error) {
	return f.find(func(u *domain.User) bool {
		return (username != "" && u.Username == username) || (email != "" && u.Email == email)
	})
}

func (f *fakeUserRepo) mutate(id string, fn func(u *domain.User) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	return fn(u)
}

func (f *fakeUserRepo) SetRefreshToken(ctx context.Context, id, token string) error {
	return f.mutate(id, func(u *domain.User) error {
		u.RefreshToken = token
		return nil
	})
}

func (f *fakeUserRepo) SwapRefreshToken(ctx context.Context, id, expected, next string) error {
	return f.mutate(id, func(u *domain.User) error {
		if expected == "" || u.RefreshToken != expected {
			return repository.ErrRefreshTokenMismatch
		}
		u.RefreshToken = next
		return nil
	})
}

func (f *fakeUserRepo) ClearRefreshToken(ctx context.Context, id string) error {
	return f.mutate(id, func(u *domain.User) error {
		u.RefreshToken = ""
		return nil
	})
}

func (f *fakeUserRepo) UpdateAccount(ctx context.Context, id, fullName, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if email != "" {
		for otherID, other := range f.users {
			if otherID != id && strings.EqualFold(other.Email, email) {
				return nil, repository.ErrUserExists
			}
		}
		u.Email = email
	}
	if fullName != "" {
		u.FullName = fullName
	}
	c := *u
	return &c, nil
}

func (f *fakeUserRepo) UpdatePassword(ctx context.Context, id, password string) error {
	hashed, err := testHasher.Hash(password)
	if err != nil {
		return err
	}
	return f.mutate(id, func(u *domain.User) error {
		u.Password = hashed
		u.RefreshToken = ""
		return nil
	})
}

func (f *fakeUserRepo) UpdateAvatar(ctx context.Context, id, url string) (string, error) {
	var previous string
	err := f.mutate(id, func(u *domain.User) error {
		previous, u.Avatar = u.Avatar, url
		return nil
	})
	return previous, err
}

func (f *fakeUserRepo) UpdateCoverImage(ctx context.Context, id, url string) (string, error) {
	var previous string
	err := f.mutate(id, func(u *domain.User) error {
		previous, u.CoverImage = u.CoverImage, url
		return nil
	})
	return previous, err
}

func (f *fakeUserRepo) get(id string) *domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id]
}

// seed stores a user with a hashed password, bypassing registration.
func (f *fakeUserRepo) seed(t *testing.T, id, username, email, password string) *domain.User {
	t.Helper()
	user := &domain.User{
		ID:       id,
		Username: username,
		Email:    email,
		FullName: "Test " + username,
		Avatar:   "https://cdn.example.com/avatars/" + username + ".png",
		Password: password,
	}
	if err := f.Create(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

type fakeMedia struct {
	mu         sync.Mutex
	n          int
	stored     map[string]bool
	deleted    []string
	failFolder map[string]error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		stored:     make(map[string]bool),
		failFolder: make(map[string]error),
	}
}

func (f *fakeMedia) Upload(ctx context.Context, file *domain.FileInput, folder string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failFolder[folder]; err != nil {
		return "", err
	}
	f.n++
	url := fmt.Sprintf("https://cdn.example.com/%s/%d.png", folder, f.n)
	f.stored[url] = true
	return url, nil
}

func (f *fakeMedia) Delete(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.stored, url)
	f.deleted = append(f.deleted, url)
	return nil
}

func (f *fakeMedia) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.SessionEvent
}

func (r *recordingNotifier) NotifySession(ctx context.Context, event *domain.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
}

func (r *recordingNotifier) types() []domain.SessionEventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.SessionEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func testFile() *domain.FileInput {
	return &domain.FileInput{
		Filename: "avatar.png",
		Size:     4,
		Content:  strings.NewReader("\x89PNG"),
	}
}

func nopLogger() logging.Logger {
	return logging.Nop()
}
