package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"vidtube-account-server/internal/cache"
	"vidtube-account-server/internal/config"
	"vidtube-account-server/internal/domain"
	"vidtube-account-server/internal/logging"
	"vidtube-account-server/internal/repository"
	"vidtube-account-server/internal/service"
	"vidtube-account-server/internal/websocket"
	"vidtube-account-server/pkg/hash"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testHasher = hash.NewHasher(bcrypt.MinCost)

// memUsers is an in-memory UserRepository.
type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*domain.User)}
}

func (m *memUsers) Create(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
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
	m.users[user.ID] = &c
	return nil
}

func (m *memUsers) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memUsers) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return u.ID == id })
}

func (m *memUsers) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return u.Username == username })
}

func (m *memUsers) FindByUsernameOrEmail(ctx context.Context, username, email string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool {
		return (username != "" && u.Username == username) || (email != "" && u.Email == email)
	})
}

func (m *memUsers) find(match func(u *domain.User) bool) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *memUsers) mutate(id string, fn func(u *domain.User) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	return fn(u)
}

func (m *memUsers) SetRefreshToken(ctx context.Context, id, token string) error {
	return m.mutate(id, func(u *domain.User) error {
		u.RefreshToken = token
		return nil
	})
}

func (m *memUsers) SwapRefreshToken(ctx context.Context, id, expected, next string) error {
	return m.mutate(id, func(u *domain.User) error {
		if expected == "" || u.RefreshToken != expected {
			return repository.ErrRefreshTokenMismatch
		}
		u.RefreshToken = next
		return nil
	})
}

func (m *memUsers) ClearRefreshToken(ctx context.Context, id string) error {
	return m.mutate(id, func(u *domain.User) error {
		u.RefreshToken = ""
		return nil
	})
}

func (m *memUsers) UpdateAccount(ctx context.Context, id, fullName, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if email != "" {
		for otherID, other := range m.users {
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

func (m *memUsers) UpdatePassword(ctx context.Context, id, password string) error {
	hashed, err := testHasher.Hash(password)
	if err != nil {
		return err
	}
	return m.mutate(id, func(u *domain.User) error {
		u.Password = hashed
		u.RefreshToken = ""
		return nil
	})
}

func (m *memUsers) UpdateAvatar(ctx context.Context, id, url string) (string, error) {
	var previous string
	err := m.mutate(id, func(u *domain.User) error {
		previous, u.Avatar = u.Avatar, url
		return nil
	})
	return previous, err
}

func (m *memUsers) UpdateCoverImage(ctx context.Context, id, url string) (string, error) {
	var previous string
	err := m.mutate(id, func(u *domain.User) error {
		previous, u.CoverImage = u.CoverImage, url
		return nil
	})
	return previous, err
}

type memSubs struct {
	mu   sync.Mutex
	subs map[[2]string]time.Time
}

func newMemSubs() *memSubs {
	return &memSubs{subs: make(map[[2]string]time.Time)}
}

func (m *memSubs) Subscribe(ctx context.Context, subscriberID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[[2]string{subscriberID, channelID}]; !ok {
		m.subs[[2]string{subscriberID, channelID}] = time.Now()
	}
	return nil
}

func (m *memSubs) Unsubscribe(ctx context.Context, subscriberID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, [2]string{subscriberID, channelID})
	return nil
}

func (m *memSubs) IsSubscribed(ctx context.Context, subscriberID, channelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[[2]string{subscriberID, channelID}]
	return ok, nil
}

func (m *memSubs) count(match func(k [2]string) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.subs {
		if match(k) {
			n++
		}
	}
	return n
}

func (m *memSubs) CountSubscribers(ctx context.Context, channelID string) (int, error) {
	return m.count(func(k [2]string) bool { return k[1] == channelID }), nil
}

func (m *memSubs) CountSubscriptions(ctx context.Context, subscriberID string) (int, error) {
	return m.count(func(k [2]string) bool { return k[0] == subscriberID }), nil
}

func (m *memSubs) ListBySubscriber(ctx context.Context, subscriberID string) ([]*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Subscription
	for k, at := range m.subs {
		if k[0] == subscriberID {
			out = append(out, &domain.Subscription{SubscriberID: k[0], ChannelID: k[1], CreatedAt: at})
		}
	}
	return out, nil
}

type memMedia struct {
	mu      sync.Mutex
	n       int
	deleted []string
}

func (m *memMedia) Upload(ctx context.Context, file *domain.FileInput, folder string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return fmt.Sprintf("https://cdn.example.com/%s/%d.png", folder, m.n), nil
}

func (m *memMedia) Delete(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, url)
	return nil
}

type testEnv struct {
	router  http.Handler
	users   *memUsers
	manager *websocket.Manager
	redis   *miniredis.Miniredis
	dbDown  bool
}

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			AccessTokenSecret:  "handler-access-secret",
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenSecret: "handler-refresh-secret",
			RefreshTokenExpiry: 240 * time.Hour,
		},
		Cookie:    config.CookieConfig{Secure: true, SameSite: http.SameSiteLaxMode},
		Storage:   config.StorageConfig{MaxUploadSize: 1 << 20},
		WebSocket: config.WebSocketConfig{ReadBufferSize: 1024, WriteBufferSize: 1024, WriteWait: time.Second, PongWait: time.Minute, PingPeriod: 50 * time.Second, MaxConnPerUser: 5},
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 100, Burst: 10, Enabled: true},
		CORS:      config.CORSConfig{AllowedOrigins: "*", AllowedMethods: "GET,POST,PATCH,DELETE,OPTIONS", AllowedHeaders: "Content-Type,Authorization"},
	}
}

func newTestEnv(t *testing.T, mutate ...func(cfg *config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(cfg)
	}

	logger := logging.Nop()
	env := &testEnv{users: newMemUsers(), redis: miniredis.RunT(t)}

	limiter := cache.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: env.redis.Addr()}))
	t.Cleanup(func() { limiter.Close() })

	env.manager = websocket.NewManager(cfg.WebSocket, logger)
	env.manager.SetMessageHandler(NewWebSocketMessageHandler(env.manager))
	ctx, cancel := context.WithCancel(context.Background())
	go env.manager.Run(ctx)
	t.Cleanup(cancel)

	media := &memMedia{}
	subs := newMemSubs()
	tokens := service.NewTokenIssuer(cfg.JWT)

	sessions := service.NewSessionService(env.users, testHasher, tokens, env.manager, logger)
	registration := service.NewRegistrationService(env.users, media, logger)
	accounts := service.NewAccountService(env.users, testHasher, media, env.manager, logger)
	subscriptions := service.NewSubscriptionService(env.users, subs)

	db := PingFunc(func(ctx context.Context) error {
		if env.dbDown {
			return errors.New("couchdb unreachable")
		}
		return nil
	})

	env.router = NewRouter(Handlers{
		Auth:      NewAuthHandler(registration, sessions, cfg),
		User:      NewUserHandler(accounts, subscriptions, cfg.Storage.MaxUploadSize),
		Channel:   NewChannelHandler(subscriptions),
		WebSocket: NewWebSocketHandler(env.manager, tokens, cfg.WebSocket, cfg.CORS, logger),
		Health:    NewHealthHandler(db, limiter, "test"),
	}, tokens, limiter, cfg, logger)

	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// pngBytes is enough of a PNG header for content sniffing.
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func multipartRequest(t *testing.T, method, path string, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile(name, name+".png")
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (e *testEnv) register(t *testing.T, username, email, password string) *domain.User {
	t.Helper()
	rec := e.do(multipartRequest(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
		"fullName": "Test " + username,
	}, map[string][]byte{"avatar": pngBytes}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var user domain.User
	decodeEnvelope(t, rec, &user)
	return &user
}

func (e *testEnv) login(t *testing.T, username, password string) *domain.LoginResponse {
	t.Helper()
	rec := e.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.LoginResponse
	decodeEnvelope(t, rec, &resp)
	return &resp
}

func bearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
