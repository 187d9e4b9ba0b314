package budget

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saldo-erp/saldo/internal/advances"
	"github.com/saldo-erp/saldo/internal/ledger"
	"github.com/saldo-erp/saldo/internal/platform/db"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Repository defines budget request data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	Get(ctx context.Context, id int64) (Request, error)
	List(ctx context.Context, filter Filter) ([]Request, int, error)
	Approvals(ctx context.Context, id int64) ([]shared.ApprovalLog, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	Insert(ctx context.Context, req Request) (Request, error)
	LockByID(ctx context.Context, id int64) (Request, error)
	// Decide moves a pending request to status; false means it was no
	// longer pending.
	Decide(ctx context.Context, id int64, status Status, reviewer int64, reason string, at time.Time) (bool, error)
	Delete(ctx context.Context, id int64) error
	RecordApproval(ctx context.Context, entry shared.ApprovalLog) error

	Advances() advances.TxRepository
	Ledger() ledger.Store
}

var (
	_ Repository   = (*pgRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)

type pgRepository struct {
	pool      *pgxpool.Pool
	approvals *shared.ApprovalRecorder
}

// NewRepository constructs the PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool, approvals *shared.ApprovalRecorder) Repository {
	if approvals == nil {
		approvals = shared.NewApprovalRecorder(pool, nil)
	}
	return &pgRepository{pool: pool, approvals: approvals}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx, approvals: r.approvals.In(tx)})
	})
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("budget: request still referenced: %w", shared.ErrInvalidTransition)
	}
	return shared.FromDB(err)
}

const requestColumns = `br.id, br.user_id, br.company_id, br.requested_amount, br.justification, br.status,
br.current_balance_at_request, br.reviewed_by, br.reviewed_at, br.rejection_reason,
(SELECT a.id FROM advances a WHERE a.source_type = 'budget_request' AND a.source_id = br.id LIMIT 1),
br.created_at, br.updated_at`

func (r *pgRepository) Get(ctx context.Context, id int64) (Request, error) {
	return getRequest(ctx, r.pool, `SELECT `+requestColumns+` FROM budget_requests br WHERE br.id = $1`, id)
}

func (r *pgRepository) List(ctx context.Context, filter Filter) ([]Request, int, error) {
	where, args := filterClause(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM budget_requests br WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM budget_requests br WHERE %s
ORDER BY br.created_at DESC, br.id DESC LIMIT $%d OFFSET $%d`, requestColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	list, err := collectRequests(rows)
	return list, total, err
}

func (r *pgRepository) Approvals(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	return r.approvals.List(ctx, ApprovalModule, id)
}

type pgTxRepository struct {
	tx        pgx.Tx
	approvals *shared.ApprovalRecorder
}

func (r *pgTxRepository) Advances() advances.TxRepository {
	return advances.NewTxRepository(r.tx)
}

func (r *pgTxRepository) Ledger() ledger.Store {
	return ledger.NewStore(r.tx)
}

func (r *pgTxRepository) Insert(ctx context.Context, req Request) (Request, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO budget_requests
(user_id, company_id, requested_amount, justification, status, current_balance_at_request, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
RETURNING id`, req.UserID, req.CompanyID, req.RequestedAmount, req.Justification, string(req.Status),
		req.CurrentBalanceAtRequest, req.CreatedAt).Scan(&req.ID)
	if err != nil {
		return Request{}, err
	}
	req.UpdatedAt = req.CreatedAt
	return req, nil
}

func (r *pgTxRepository) LockByID(ctx context.Context, id int64) (Request, error) {
	return getRequest(ctx, r.tx, `SELECT `+requestColumns+` FROM budget_requests br WHERE br.id = $1 FOR UPDATE OF br`, id)
}

func (r *pgTxRepository) Decide(ctx context.Context, id int64, status Status, reviewer int64, reason string, at time.Time) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE budget_requests
SET status = $2, reviewed_by = $3, reviewed_at = $4, rejection_reason = $5, updated_at = $4
WHERE id = $1 AND status = 'pending'`, id, string(status), reviewer, at, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgTxRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM budget_requests WHERE id = $1 AND status IN ('pending', 'rejected')`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("budget: request %d is not deletable: %w", id, shared.ErrInvalidTransition)
	}
	return nil
}

func (r *pgTxRepository) RecordApproval(ctx context.Context, entry shared.ApprovalLog) error {
	return r.approvals.Record(ctx, entry)
}

func getRequest(ctx context.Context, q db.Querier, query string, id int64) (Request, error) {
	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return Request{}, err
	}
	list, err := collectRequests(rows)
	if err != nil {
		return Request{}, err
	}
	if len(list) == 0 {
		return Request{}, fmt.Errorf("budget: request %d: %w", id, shared.ErrNotFound)
	}
	return list[0], nil
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	defer rows.Close()
	var out []Request
	for rows.Next() {
		var (
			req    Request
			status string
		)
		if err := rows.Scan(&req.ID, &req.UserID, &req.CompanyID, &req.RequestedAmount, &req.Justification, &status,
			&req.CurrentBalanceAtRequest, &req.ReviewedBy, &req.ReviewedAt, &req.RejectionReason, &req.AdvanceID,
			&req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, err
		}
		req.Status = Status(status)
		out = append(out, req)
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
		add("br.status = $%d", string(f.Status))
	}
	if f.UserID != 0 {
		add("br.user_id = $%d", f.UserID)
	}
	if f.CompanyID != 0 {
		add("br.company_id = $%d", f.CompanyID)
	}
	if f.CreatedFrom != nil {
		add("br.created_at >= $%d", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		add("br.created_at < $%d", *f.CreatedTo)
	}
	return strings.Join(where, " AND "), args
}
