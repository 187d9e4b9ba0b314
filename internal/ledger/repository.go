package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/saldo-erp/saldo/internal/platform/db"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Repository defines ledger data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error

	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
	History(ctx context.Context, filter HistoryFilter) ([]Transaction, int, error)
	Transactions(ctx context.Context, userID int64) ([]Transaction, error)
	UserIDs(ctx context.Context) ([]int64, error)
	Stats(ctx context.Context) (Stats, error)
	DecisionCounts(ctx context.Context, userID int64) (DecisionCounts, error)
}

var (
	_ Repository = (*pgRepository)(nil)
	_ Store      = (*pgStore)(nil)
)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

// NewStore binds the ledger tables to q, typically a pgx.Tx owned by another
// package's transaction.
func NewStore(q db.Querier) Store {
	return &pgStore{q: q}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewStore(tx))
	})
	return shared.FromDB(err)
}

const transactionColumns = `id, user_id, amount, balance_before, balance_after, kind, reference_id, notes, created_by, created_at`

func (r *pgRepository) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return NewStore(r.pool).Balance(ctx, userID)
}

func (r *pgRepository) History(ctx context.Context, filter HistoryFilter) ([]Transaction, int, error) {
	where := []string{"user_id = $1"}
	args := []any{filter.UserID}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_transactions WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM ledger_transactions WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, cond, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	txs, err := collectTransactions(rows)
	return txs, total, err
}

func (r *pgRepository) Transactions(ctx context.Context, userID int64) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE user_id = $1 ORDER BY id ASC`, userID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r *pgRepository) UserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *pgRepository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*),
       COALESCE(SUM(balance), 0),
       COALESCE(SUM(balance) FILTER (WHERE balance > 0), 0),
       COALESCE(SUM(balance) FILTER (WHERE balance < 0), 0),
       COUNT(*) FILTER (WHERE balance < 0)
FROM users`).Scan(&s.TotalUsers, &s.TotalBalance, &s.PositiveBalance, &s.NegativeBalance, &s.UsersInDebit)
	return s, err
}

func (r *pgRepository) DecisionCounts(ctx context.Context, userID int64) (DecisionCounts, error) {
	var c DecisionCounts
	err := r.pool.QueryRow(ctx, `SELECT
       COUNT(*) FILTER (WHERE status = 'approved'),
       COUNT(*) FILTER (WHERE status = 'rejected'),
       COUNT(*) FILTER (WHERE status = 'pending')
FROM budget_requests WHERE user_id = $1`, userID).Scan(&c.Approved, &c.Rejected, &c.Pending)
	return c, err
}

type pgStore struct {
	q db.Querier
}

func (s *pgStore) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.q.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("ledger: user %d: %w", userID, shared.ErrNotFound)
	}
	return balance, err
}

func (s *pgStore) CompareAndSwapBalance(ctx context.Context, userID int64, before, after decimal.Decimal) (bool, error) {
	tag, err := s.q.Exec(ctx, `UPDATE users SET balance = $3, updated_at = NOW() WHERE id = $1 AND balance = $2`, userID, before, after)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgStore) InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error) {
	err := s.q.QueryRow(ctx, `INSERT INTO ledger_transactions
    (user_id, amount, balance_before, balance_after, kind, reference_id, notes, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		tx.UserID, tx.Amount, tx.BalanceBefore, tx.BalanceAfter, string(tx.Kind), tx.ReferenceID, tx.Notes, tx.CreatedBy, tx.CreatedAt,
	).Scan(&tx.ID)
	return tx, err
}

func (s *pgStore) SumByReference(ctx context.Context, referenceID int64, kinds ...Kind) (decimal.Decimal, error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	var sum decimal.Decimal
	err := s.q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM ledger_transactions
WHERE reference_id = $1 AND kind = ANY($2)`, referenceID, names).Scan(&sum)
	return sum, err
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var (
			tx   Transaction
			kind string
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.BalanceBefore, &tx.BalanceAfter, &kind,
			&tx.ReferenceID, &tx.Notes, &tx.CreatedBy, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Kind = Kind(kind)
		out = append(out, tx)
	}
	return out, rows.Err()
}
