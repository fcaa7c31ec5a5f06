package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/currency-check/internal/repository"
)

// Account constraints enforced by callers before Register.
const (
	MinUsernameLen = 3
	MaxUsernameLen = 64
	MinPasswordLen = 6
	// bcrypt ignores bytes past 72
	MaxPasswordLen = 72
)

// ErrUsernameTaken is returned by Register for a username already in use.
var ErrUsernameTaken = errors.New("username already exists")

// UserRepository is the persistence needed by the credential store.
type UserRepository interface {
	Create(ctx context.Context, user *repository.User) error
	FindByUsername(ctx context.Context, username string) (*repository.User, error)
	Exists(ctx context.Context, username string) (bool, error)
}

// CredentialStore registers accounts and checks passwords against their
// bcrypt hashes.
type CredentialStore struct {
	users  UserRepository
	cost   int
	logger *zap.Logger
}

// NewCredentialStore creates a store hashing with the given bcrypt cost.
func NewCredentialStore(users UserRepository, cost int, logger *zap.Logger) *CredentialStore {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &CredentialStore{users: users, cost: cost, logger: logger.Named("credentials")}
}

// ValidateUsername checks the length rules for a username.
func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(username))
	if n < MinUsernameLen {
		return fmt.Errorf("username must be at least %d characters", MinUsernameLen)
	}
	if n > MaxUsernameLen {
		return fmt.Errorf("username must not exceed %d characters", MaxUsernameLen)
	}
	return nil
}

// ValidatePassword checks the length rules for a password.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLen)
	}
	if len(password) > MaxPasswordLen {
		return fmt.Errorf("password must not exceed %d bytes", MaxPasswordLen)
	}
	return nil
}

// Register creates an account. A taken username yields ErrUsernameTaken.
func (s *CredentialStore) Register(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = s.users.Create(ctx, &repository.User{Username: username, PasswordHash: string(hash)})
	if errors.Is(err, repository.ErrDuplicateUsername) {
		return ErrUsernameTaken
	}
	if err != nil {
		s.logger.Error("failed to create user", zap.Error(err), zap.String("username", username))
		return err
	}
	s.logger.Info("user registered", zap.String("username", username))
	return nil
}

// Verify reports whether password matches the stored hash for username.
// Unknown users and wrong passwords both return false without error.
func (s *CredentialStore) Verify(ctx context.Context, username, password string) (bool, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare password: %w", err)
	}
	return true, nil
}

// SeedAdmin creates the administrative account unless it already exists.
// It reports whether a new account was created.
func (s *CredentialStore) SeedAdmin(ctx context.Context, username, password string) (bool, error) {
	if username == "" || password == "" {
		return false, nil
	}
	exists, err := s.users.Exists(ctx, username)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.Register(ctx, username, password); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
