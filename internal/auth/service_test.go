package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/saldo-erp/saldo/internal/auth"
	"github.com/saldo-erp/saldo/internal/shared"
)

type stubRepo struct {
	users map[int64]*auth.User
	err   error
}

func (s stubRepo) FindByID(_ context.Context, id int64) (*auth.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	user, ok := s.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return user, nil
}

func TestVerifyPassword(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	require.NoError(t, err)
	svc := auth.NewService(stubRepo{users: map[int64]*auth.User{
		1: {ID: 1, PasswordHash: string(hashed), Role: shared.RoleAccountant, IsActive: true},
		2: {ID: 2, PasswordHash: string(hashed), Role: shared.RoleAdmin, IsActive: false},
	}})
	ctx := context.Background()

	require.NoError(t, svc.VerifyPassword(ctx, 1, "correctpass"))
	require.ErrorIs(t, svc.VerifyPassword(ctx, 1, "wrongpass"), shared.ErrAuthorization)
	require.ErrorIs(t, svc.VerifyPassword(ctx, 1, ""), shared.ErrAuthorization)
	require.ErrorIs(t, svc.VerifyPassword(ctx, 2, "correctpass"), shared.ErrAuthorization)
	require.ErrorIs(t, svc.VerifyPassword(ctx, 3, "correctpass"), shared.ErrAuthorization)
}

func TestVerifyPasswordSurfacesStoreFailure(t *testing.T) {
	boom := errors.New("connection reset")
	err := auth.NewService(stubRepo{err: boom}).VerifyPassword(context.Background(), 1, "whatever")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, shared.ErrAuthorization)
}

func TestHashPassword(t *testing.T) {
	_, err := auth.HashPassword("short")
	require.ErrorIs(t, err, shared.ErrValidation)

	hashed, err := auth.HashPassword("long enough")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hashed), []byte("long enough")))
}
