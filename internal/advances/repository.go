package advances

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saldo-erp/saldo/internal/invoices"
	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/platform/db"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Repository defines advance data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	Get(ctx context.Context, id int64) (Advance, error)
	List(ctx context.Context, filter Filter) ([]Advance, int, error)
	LinkedInvoices(ctx context.Context, id int64) ([]invoices.Invoice, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	Insert(ctx context.Context, adv Advance) (Advance, error)
	LockByID(ctx context.Context, id int64) (Advance, error)
	// MarkTransferred succeeds only while the advance is pending.
	MarkTransferred(ctx context.Context, id int64, number string, at time.Time, by int64) (bool, error)
	// MarkSettled succeeds only while the advance is transferred.
	MarkSettled(ctx context.Context, id int64, at time.Time, by int64) (bool, error)
	Delete(ctx context.Context, id int64) error

	Invoices() invoices.TxRepository
	Ledger() ledger.Store
}

var (
	_ Repository   = (*pgRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

// NewTxRepository binds advance writes to a transaction owned by the caller.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &pgTxRepository{tx: tx}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
	return shared.FromDB(err)
}

const advanceColumns = `id, user_id, company_id, amount, status, source_type, source_id, description,
transfer_number, transfer_date, transfer_confirmed_by, settled_at, settled_by, created_by, created_at, updated_at`

func (r *pgRepository) Get(ctx context.Context, id int64) (Advance, error) {
	return getAdvance(ctx, r.pool, `SELECT `+advanceColumns+` FROM advances WHERE id = $1`, id)
}

func (r *pgRepository) List(ctx context.Context, filter Filter) ([]Advance, int, error) {
	where := []string{"TRUE"}
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.UserID != 0 {
		add("user_id = $%d", filter.UserID)
	}
	if filter.CompanyID != 0 {
		add("company_id = $%d", filter.CompanyID)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM advances WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM advances WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		advanceColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	list, err := collectAdvances(rows)
	return list, total, err
}

func (r *pgRepository) LinkedInvoices(ctx context.Context, id int64) ([]invoices.Invoice, error) {
	return invoices.NewRepository(r.pool).ListLinkedTo(ctx, id)
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) Invoices() invoices.TxRepository {
	return invoices.NewTxRepository(r.tx)
}

func (r *pgTxRepository) Ledger() ledger.Store {
	return ledger.NewStore(r.tx)
}

func (r *pgTxRepository) Insert(ctx context.Context, adv Advance) (Advance, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO advances
    (user_id, company_id, amount, status, source_type, source_id, description, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
RETURNING id`,
		adv.UserID, adv.CompanyID, adv.Amount, string(adv.Status), string(adv.SourceType), adv.SourceID, adv.Description, adv.CreatedBy, adv.CreatedAt,
	).Scan(&adv.ID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Advance{}, fmt.Errorf("%w: user or source does not exist", shared.ErrValidation)
		}
		return Advance{}, err
	}
	adv.UpdatedAt = adv.CreatedAt
	return adv, nil
}

func (r *pgTxRepository) LockByID(ctx context.Context, id int64) (Advance, error) {
	return getAdvance(ctx, r.tx, `SELECT `+advanceColumns+` FROM advances WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgTxRepository) MarkTransferred(ctx context.Context, id int64, number string, at time.Time, by int64) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE advances
SET status = 'transferred', transfer_number = $2, transfer_date = $3, transfer_confirmed_by = $4, updated_at = $3
WHERE id = $1 AND status = 'pending'`, id, number, at, by)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgTxRepository) MarkSettled(ctx context.Context, id int64, at time.Time, by int64) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE advances
SET status = 'settled', settled_at = $2, settled_by = $3, updated_at = $2
WHERE id = $1 AND status = 'transferred'`, id, at, by)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgTxRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM advances WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: advance %d is still referenced", shared.ErrInvalidTransition, id)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("advances: advance %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func getAdvance(ctx context.Context, q db.Querier, query string, id int64) (Advance, error) {
	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return Advance{}, err
	}
	list, err := collectAdvances(rows)
	if err != nil {
		return Advance{}, err
	}
	if len(list) == 0 {
		return Advance{}, fmt.Errorf("advances: advance %d: %w", id, shared.ErrNotFound)
	}
	return list[0], nil
}

func collectAdvances(rows pgx.Rows) ([]Advance, error) {
	defer rows.Close()
	var out []Advance
	for rows.Next() {
		var (
			adv            Advance
			status, source string
		)
		if err := rows.Scan(&adv.ID, &adv.UserID, &adv.CompanyID, &adv.Amount, &status, &source, &adv.SourceID,
			&adv.Description, &adv.TransferNumber, &adv.TransferDate, &adv.TransferConfirmedBy,
			&adv.SettledAt, &adv.SettledBy, &adv.CreatedBy, &adv.CreatedAt, &adv.UpdatedAt); err != nil {
			return nil, err
		}
		adv.Status = Status(status)
		adv.SourceType = SourceType(source)
		out = append(out, adv)
	}
	return out, rows.Err()
}
