package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/saldo-erp/saldo/internal/shared"
)

// Service re-verifies passwords before destructive operations.
type Service struct {
	repo Repository
}

var _ shared.PasswordVerifier = (*Service)(nil)

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// VerifyPassword checks password against the stored hash of userID. Every
// mismatch, including unknown or inactive users, is an authorization error.
func (s *Service) VerifyPassword(ctx context.Context, userID int64, password string) error {
	if password == "" {
		return fmt.Errorf("%w: password required", shared.ErrAuthorization)
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: invalid credentials", shared.ErrAuthorization)
		}
		return err
	}
	if !user.IsActive || user.PasswordHash == "" {
		return fmt.Errorf("%w: invalid credentials", shared.ErrAuthorization)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return fmt.Errorf("%w: invalid credentials", shared.ErrAuthorization)
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for users.password_hash.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("%w: password needs at least 8 characters", shared.ErrValidation)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
