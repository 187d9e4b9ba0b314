package auth

import (
	"time"

	"github.com/saldo-erp/saldo/internal/shared"
)

// User represents an account able to re-authenticate sensitive actions.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         shared.Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
