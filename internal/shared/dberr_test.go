package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/saldo-erp/saldo/internal/platform/db"
)

func TestFromDB(t *testing.T) {
	require.NoError(t, FromDB(nil))
	require.ErrorIs(t, FromDB(fmt.Errorf("%w: x", db.ErrSerialization)), ErrConcurrentModification)
	require.ErrorIs(t, FromDB(&pgconn.PgError{Code: "40P01"}), ErrConcurrentModification)
	require.ErrorIs(t, FromDB(pgx.ErrNoRows), ErrNotFound)

	boom := errors.New("boom")
	require.Equal(t, boom, FromDB(boom))
}
