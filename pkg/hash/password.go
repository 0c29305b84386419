package hash

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const DefaultCost = 12

var (
	ErrEmptyPassword = errors.New("password must not be empty")
	ErrMismatch      = bcrypt.ErrMismatchedHashAndPassword
)

// Hasher hashes and verifies passwords with bcrypt at a fixed cost.
type Hasher struct {
	cost int
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(hashedBytes), nil
}

// Compare returns nil when password matches hashedPassword and ErrMismatch
// when it does not. The comparison is constant time.
func (h *Hasher) Compare(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

var defaultHasher = NewHasher(DefaultCost)

func Hash(password string) (string, error) {
	return defaultHasher.Hash(password)
}

func Compare(hashedPassword, password string) error {
	return defaultHasher.Compare(hashedPassword, password)
}
