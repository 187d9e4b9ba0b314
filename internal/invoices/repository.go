package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/platform/db"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Repository defines invoice data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	Get(ctx context.Context, id int64) (Invoice, error)
	List(ctx context.Context, filter Filter) ([]Invoice, error)
	ListLinkedTo(ctx context.Context, advanceID int64) ([]Invoice, error)

	// AcquireLease claims the lease when it is free, already held by
	// actorID, or its last ping is before staleBefore.
	AcquireLease(ctx context.Context, id, actorID int64, now, staleBefore time.Time) (bool, error)
	HeartbeatLease(ctx context.Context, id, actorID int64, now time.Time) (bool, error)
	ReleaseLease(ctx context.Context, id, actorID int64) (bool, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	Insert(ctx context.Context, inv Invoice) (Invoice, error)
	LockByID(ctx context.Context, id int64) (Invoice, error)
	LockLinkedTo(ctx context.Context, advanceID int64) ([]Invoice, error)
	// UpdateStatus moves the invoice to status only if it is currently in
	// one of from.
	UpdateStatus(ctx context.Context, id int64, from []Status, to Status, reason string, now time.Time) (bool, error)
	UpdateLink(ctx context.Context, id int64, link Link, now time.Time) error
	ClearLease(ctx context.Context, id int64) error
	SettleAccepted(ctx context.Context, advanceID int64, now time.Time) (int64, error)
	Delete(ctx context.Context, id int64) error
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

// NewTxRepository binds invoice writes to a transaction owned by the caller.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &pgTxRepository{tx: tx}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
	return mapError(err)
}

const invoiceColumns = `id, user_id, company_id, number, amount, status, advance_id, budget_request_id,
current_reviewer, review_started_at, last_review_ping, rejection_reason, created_at, updated_at`

func (r *pgRepository) Get(ctx context.Context, id int64) (Invoice, error) {
	return getInvoice(ctx, r.pool, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
}

func (r *pgRepository) List(ctx context.Context, filter Filter) ([]Invoice, error) {
	where, args := filterClause(filter)
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

func (r *pgRepository) ListLinkedTo(ctx context.Context, advanceID int64) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE advance_id = $1 ORDER BY id`, advanceID)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

func (r *pgRepository) AcquireLease(ctx context.Context, id, actorID int64, now, staleBefore time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices
SET current_reviewer = $2,
    review_started_at = CASE WHEN current_reviewer = $2 THEN review_started_at ELSE $3 END,
    last_review_ping = $3
WHERE id = $1
  AND (current_reviewer IS NULL OR current_reviewer = $2 OR last_review_ping IS NULL OR last_review_ping < $4)`,
		id, actorID, now, staleBefore)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgRepository) HeartbeatLease(ctx context.Context, id, actorID int64, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET last_review_ping = $3 WHERE id = $1 AND current_reviewer = $2`, id, actorID, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgRepository) ReleaseLease(ctx context.Context, id, actorID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices
SET current_reviewer = NULL, review_started_at = NULL, last_review_ping = NULL
WHERE id = $1 AND current_reviewer = $2`, id, actorID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) Ledger() ledger.Store {
	return ledger.NewStore(r.tx)
}

func (r *pgTxRepository) Insert(ctx context.Context, inv Invoice) (Invoice, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO invoices
    (user_id, company_id, number, amount, status, advance_id, budget_request_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
RETURNING id`,
		inv.UserID, inv.CompanyID, inv.Number, inv.Amount, string(inv.Status), inv.AdvanceID, inv.BudgetRequestID, inv.CreatedAt,
	).Scan(&inv.ID)
	if err != nil {
		return Invoice{}, mapError(err)
	}
	inv.UpdatedAt = inv.CreatedAt
	return inv, nil
}

func (r *pgTxRepository) LockByID(ctx context.Context, id int64) (Invoice, error) {
	return getInvoice(ctx, r.tx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgTxRepository) LockLinkedTo(ctx context.Context, advanceID int64) ([]Invoice, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE advance_id = $1 ORDER BY id FOR UPDATE`, advanceID)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

func (r *pgTxRepository) UpdateStatus(ctx context.Context, id int64, from []Status, to Status, reason string, now time.Time) (bool, error) {
	names := make([]string, len(from))
	for i, s := range from {
		names[i] = string(s)
	}
	tag, err := r.tx.Exec(ctx, `UPDATE invoices SET status = $3, rejection_reason = $4, updated_at = $5
WHERE id = $1 AND status = ANY($2)`, id, names, string(to), reason, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgTxRepository) UpdateLink(ctx context.Context, id int64, link Link, now time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE invoices SET advance_id = $2, budget_request_id = $3, updated_at = $4 WHERE id = $1`,
		id, link.AdvanceID, link.BudgetRequestID, now)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoices: invoice %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *pgTxRepository) ClearLease(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE invoices SET current_reviewer = NULL, review_started_at = NULL, last_review_ping = NULL WHERE id = $1`, id)
	return err
}

func (r *pgTxRepository) SettleAccepted(ctx context.Context, advanceID int64, now time.Time) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE invoices SET status = 'settled', updated_at = $2 WHERE advance_id = $1 AND status = 'accepted'`, advanceID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *pgTxRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoices: invoice %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func getInvoice(ctx context.Context, q db.Querier, query string, id int64) (Invoice, error) {
	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return Invoice{}, err
	}
	list, err := collectInvoices(rows)
	if err != nil {
		return Invoice{}, err
	}
	if len(list) == 0 {
		return Invoice{}, fmt.Errorf("invoices: invoice %d: %w", id, shared.ErrNotFound)
	}
	return list[0], nil
}

func collectInvoices(rows pgx.Rows) ([]Invoice, error) {
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		var (
			inv    Invoice
			status string
		)
		if err := rows.Scan(&inv.ID, &inv.UserID, &inv.CompanyID, &inv.Number, &inv.Amount, &status,
			&inv.AdvanceID, &inv.BudgetRequestID, &inv.CurrentReviewer, &inv.ReviewStartedAt, &inv.LastReviewPing,
			&inv.RejectionReason, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		inv.Status = Status(status)
		out = append(out, inv)
	}
	return out, rows.Err()
}

func filterClause(f Filter) (string, []any) {
	where := []string{"TRUE"}
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.UserID != 0 {
		add("user_id = $%d", f.UserID)
	}
	if f.CompanyID != 0 {
		add("company_id = $%d", f.CompanyID)
	}
	if f.AdvanceID != 0 {
		add("advance_id = $%d", f.AdvanceID)
	}
	if f.CreatedFrom != nil {
		add("created_at >= $%d", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		add("created_at < $%d", *f.CreatedTo)
	}
	return strings.Join(where, " AND "), args
}

func mapError(err error) error {
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: linked advance or budget request does not exist", shared.ErrValidation)
	}
	if errors.Is(err, shared.ErrValidation) {
		return err
	}
	return shared.FromDB(err)
}
