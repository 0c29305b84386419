package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"vidtube-account-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user with this email or username already exists")
	ErrRefreshTokenMismatch = errors.New("refresh token does not match stored value")
)

const (
	docTypeUser    = "user"
	docTypeUserKey = "user_key"

	// maxUpdateAttempts bounds read-modify-write retries after a revision
	// conflict.
	maxUpdateAttempts = 5
)

// PasswordHasher hashes passwords before they are persisted.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

type UserRepository interface {
	// Create hashes user.Password and stores the user with a normalized
	// email. Username and email are claimed atomically; ErrUserExists is
	// returned if either is taken.
	Create(ctx context.Context, user *domain.User) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*domain.User, error)
	SetRefreshToken(ctx context.Context, id, token string) error
	// SwapRefreshToken replaces the stored refresh token with next only if
	// it currently equals expected. Otherwise ErrRefreshTokenMismatch.
	SwapRefreshToken(ctx context.Context, id, expected, next string) error
	ClearRefreshToken(ctx context.Context, id string) error
	UpdateAccount(ctx context.Context, id, fullName, email string) (*domain.User, error)
	UpdatePassword(ctx context.Context, id, password string) error
	UpdateAvatar(ctx context.Context, id, url string) (previous string, err error)
	UpdateCoverImage(ctx context.Context, id, url string) (previous string, err error)
}

type userDoc struct {
	ID           string    `json:"_id"`
	Rev          string    `json:"_rev,omitempty"`
	DocType      string    `json:"doc_type"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Avatar       string    `json:"avatar"`
	CoverImage   string    `json:"cover_image"`
	Password     string    `json:"password"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// userKeyDoc reserves a unique value (username or email) for one user. Its
// fixed _id makes a second reservation fail with a revision conflict.
type userKeyDoc struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	UserID  string `json:"user_id"`
}

type userRepository struct {
	db     *kivik.DB
	hasher PasswordHasher
}

func NewUserRepository(client *kivik.Client, dbName string, hasher PasswordHasher) UserRepository {
	return &userRepository{
		db:     client.DB(dbName),
		hasher: hasher,
	}
}

func userDocID(id string) string {
	return fmt.Sprintf("user:%s", id)
}

func usernameKeyID(username string) string {
	return fmt.Sprintf("user_key:username:%s", domain.NormalizeUsername(username))
}

func emailKeyID(email string) string {
	return fmt.Sprintf("user_key:email:%s", domain.NormalizeEmail(email))
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	hashed, err := r.hasher.Hash(user.Password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user.Email = domain.NormalizeEmail(user.Email)

	if err := r.claimKey(ctx, usernameKeyID(user.Username), user.ID); err != nil {
		return err
	}

	if err := r.claimKey(ctx, emailKeyID(user.Email), user.ID); err != nil {
		return r.releaseKeys(ctx, err, usernameKeyID(user.Username))
	}

	doc := toUserDoc(user)
	doc.Password = hashed

	if _, err := r.db.Put(ctx, doc.ID, doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			err = ErrUserExists
		} else {
			err = fmt.Errorf("failed to create user: %w", err)
		}
		return r.releaseKeys(ctx, err, usernameKeyID(user.Username), emailKeyID(user.Email))
	}

	user.Password = hashed
	return nil
}

func (r *userRepository) Delete(ctx context.Context, id string) error {
	doc, err := r.getDoc(ctx, id)
	if err != nil {
		return err
	}

	if _, err := r.db.Delete(ctx, doc.ID, doc.Rev); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return r.releaseKeys(ctx, nil, usernameKeyID(doc.Username), emailKeyID(doc.Email))
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	doc, err := r.getDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, map[string]interface{}{
		"doc_type": docTypeUser,
		"username": username,
	})
}

// FindByUsernameOrEmail matches either field; empty arguments are ignored.
// The email is compared in its normalized form.
func (r *userRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)

	var or []map[string]interface{}
	if username != "" {
		or = append(or, map[string]interface{}{"username": username})
	}
	if email != "" {
		or = append(or, map[string]interface{}{"email": email})
	}
	if len(or) == 0 {
		return nil, ErrUserNotFound
	}

	return r.findOne(ctx, map[string]interface{}{
		"doc_type": docTypeUser,
		"$or":      or,
	})
}

func (r *userRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	_, err := r.update(ctx, id, func(doc *userDoc) error {
		doc.RefreshToken = token
		return nil
	})
	return err
}

func (r *userRepository) SwapRefreshToken(ctx context.Context, id, expected, next string) error {
	_, err := r.update(ctx, id, func(doc *userDoc) error {
		if expected == "" || doc.RefreshToken != expected {
			return ErrRefreshTokenMismatch
		}
		doc.RefreshToken = next
		return nil
	})
	return err
}

func (r *userRepository) ClearRefreshToken(ctx context.Context, id string) error {
	_, err := r.update(ctx, id, func(doc *userDoc) error {
		if doc.RefreshToken == "" {
			return errNoChange
		}
		doc.RefreshToken = ""
		return nil
	})
	return err
}

func (r *userRepository) UpdateAccount(ctx context.Context, id, fullName, email string) (*domain.User, error) {
	current, err := r.getDoc(ctx, id)
	if err != nil {
		return nil, err
	}

	email = domain.NormalizeEmail(email)
	emailChanged := email != "" && email != domain.NormalizeEmail(current.Email)
	if emailChanged {
		if err := r.claimKey(ctx, emailKeyID(email), id); err != nil {
			return nil, err
		}
	}

	var oldEmail string
	doc, err := r.update(ctx, id, func(doc *userDoc) error {
		oldEmail = doc.Email
		if fullName != "" {
			doc.FullName = fullName
		}
		if email != "" {
			doc.Email = email
		}
		return nil
	})
	if err != nil {
		if emailChanged {
			return nil, r.releaseKeys(ctx, err, emailKeyID(email))
		}
		return nil, err
	}

	if emailChanged {
		if err := r.releaseKey(ctx, emailKeyID(oldEmail)); err != nil {
			return nil, fmt.Errorf("account updated but previous email is still reserved: %w", err)
		}
	}

	return doc.toDomain(), nil
}

// UpdatePassword stores a new hash and drops the refresh token so existing
// sessions cannot be renewed.
func (r *userRepository) UpdatePassword(ctx context.Context, id, password string) error {
	hashed, err := r.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	_, err = r.update(ctx, id, func(doc *userDoc) error {
		doc.Password = hashed
		doc.RefreshToken = ""
		return nil
	})
	return err
}

func (r *userRepository) UpdateAvatar(ctx context.Context, id, url string) (string, error) {
	var previous string
	_, err := r.update(ctx, id, func(doc *userDoc) error {
		previous = doc.Avatar
		doc.Avatar = url
		return nil
	})
	return previous, err
}

func (r *userRepository) UpdateCoverImage(ctx context.Context, id, url string) (string, error) {
	var previous string
	_, err := r.update(ctx, id, func(doc *userDoc) error {
		previous = doc.CoverImage
		doc.CoverImage = url
		return nil
	})
	return previous, err
}

var errNoChange = errors.New("no change")

// update performs a read-modify-write on the user document guarded by its
// revision. A conflicting concurrent write causes a re-read and the mutation
// is applied again to the fresh document, so conditions checked inside
// mutate always hold against the revision that is written.
func (r *userRepository) update(ctx context.Context, id string, mutate func(doc *userDoc) error) (*userDoc, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		doc, err := r.getDoc(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := mutate(doc); err != nil {
			if errors.Is(err, errNoChange) {
				return doc, nil
			}
			return nil, err
		}
		doc.UpdatedAt = time.Now().UTC()

		rev, err := r.db.Put(ctx, doc.ID, doc)
		if err == nil {
			doc.Rev = rev
			return doc, nil
		}
		if kivik.HTTPStatus(err) != http.StatusConflict {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to update user %s: too many concurrent writes", id)
}

func (r *userRepository) getDoc(ctx context.Context, id string) (*userDoc, error) {
	row := r.db.Get(ctx, userDocID(id))

	var doc userDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return &doc, nil
}

func (r *userRepository) findOne(ctx context.Context, selector map[string]interface{}) (*domain.User, error) {
	query := map[string]interface{}{
		"selector": selector,
		"limit":    1,
	}

	rows := r.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query user: %w", err)
		}
		return nil, ErrUserNotFound
	}

	var doc userDoc
	if err := rows.ScanDoc(&doc); err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	return doc.toDomain(), nil
}

func (r *userRepository) claimKey(ctx context.Context, keyID, userID string) error {
	doc := userKeyDoc{
		ID:      keyID,
		DocType: docTypeUserKey,
		UserID:  userID,
	}

	if _, err := r.db.Put(ctx, keyID, doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrUserExists
		}
		return fmt.Errorf("failed to reserve %s: %w", keyID, err)
	}
	return nil
}

// releaseKey removes a reservation. A reservation that is already gone is
// not an error.
func (r *userRepository) releaseKey(ctx context.Context, keyID string) error {
	row := r.db.Get(ctx, keyID)

	var doc userKeyDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to release %s: %w", keyID, err)
	}

	if _, err := r.db.Delete(ctx, keyID, doc.Rev); err != nil && kivik.HTTPStatus(err) != http.StatusNotFound {
		return fmt.Errorf("failed to release %s: %w", keyID, err)
	}
	return nil
}

// releaseKeys releases every key and returns cause joined with any release
// failures. cause is returned unchanged when all releases succeed.
func (r *userRepository) releaseKeys(ctx context.Context, cause error, keyIDs ...string) error {
	errs := []error{cause}
	for _, keyID := range keyIDs {
		if err := r.releaseKey(ctx, keyID); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 1 {
		return cause
	}
	return errors.Join(errs...)
}

func toUserDoc(u *domain.User) *userDoc {
	return &userDoc{
		ID:           userDocID(u.ID),
		DocType:      docTypeUser,
		UserID:       u.ID,
		Username:     u.Username,
		Email:        u.Email,
		FullName:     u.FullName,
		Avatar:       u.Avatar,
		CoverImage:   u.CoverImage,
		Password:     u.Password,
		RefreshToken: u.RefreshToken,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (d *userDoc) toDomain() *domain.User {
	return &domain.User{
		ID:           d.UserID,
		Username:     d.Username,
		Email:        d.Email,
		FullName:     d.FullName,
		Avatar:       d.Avatar,
		CoverImage:   d.CoverImage,
		Password:     d.Password,
		RefreshToken: d.RefreshToken,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}
