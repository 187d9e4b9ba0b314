package shared

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/saldo-erp/saldo/internal/platform/db"
)

// FromDB maps storage failures onto the domain error taxonomy.
func FromDB(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrSerialization), db.IsSerializationError(err):
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
