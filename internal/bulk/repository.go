package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saldo-erp/saldo/internal/platform/db"
	"github.com/saldo-erp/saldo/internal/shared"
)

// Repository persists runs and their per-item outcome log.
type Repository interface {
	Create(ctx context.Context, run Run) error
	Get(ctx context.Context, id uuid.UUID) (Run, error)
	// Advance moves the run from one phase to the next; false means the run
	// was not in from.
	Advance(ctx context.Context, id uuid.UUID, from, to Phase, actorID *int64, at time.Time) (bool, error)
	RecordItem(ctx context.Context, id uuid.UUID, item Item) error
	Complete(ctx context.Context, id uuid.UUID, v Verification, at time.Time) error
}

type pgRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*pgRepository)(nil)

// NewRepository constructs the PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) Create(ctx context.Context, run Run) error {
	criteria, err := json.Marshal(run.Criteria)
	if err != nil {
		return err
	}
	return shared.FromDB(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO bulk_runs (id, target, criteria, phase, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)`, run.ID, run.Target, criteria, string(run.Phase), run.CreatedBy, run.CreatedAt); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, it := range run.Items {
			batch.Queue(`INSERT INTO bulk_run_items (run_id, seq, entity_id, user_id, label, status, amount, outcome)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, run.ID, it.Seq, it.Candidate.EntityID, it.Candidate.UserID, it.Candidate.Label,
				it.Candidate.Status, it.Candidate.Amount, string(it.Outcome))
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	}))
}

func (r *pgRepository) Get(ctx context.Context, id uuid.UUID) (Run, error) {
	var (
		run      Run
		criteria []byte
		phase    string
		warning  *string
		counts   [4]*int
	)
	err := r.pool.QueryRow(ctx, `SELECT id, target, criteria, phase, created_by, confirmed_by, created_at, updated_at,
completed_at, processed, succeeded, failed, remaining, warning
FROM bulk_runs WHERE id = $1`, id).Scan(&run.ID, &run.Target, &criteria, &phase, &run.CreatedBy, &run.ConfirmedBy,
		&run.CreatedAt, &run.UpdatedAt, &run.CompletedAt, &counts[0], &counts[1], &counts[2], &counts[3], &warning)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, fmt.Errorf("bulk: run %s: %w", id, shared.ErrNotFound)
		}
		return Run{}, err
	}
	run.Phase = Phase(phase)
	if err := json.Unmarshal(criteria, &run.Criteria); err != nil {
		return Run{}, fmt.Errorf("bulk: decode criteria: %w", err)
	}
	if run.CompletedAt != nil && counts[0] != nil {
		run.Verification = &Verification{Processed: *counts[0], Succeeded: *counts[1], Failed: *counts[2], Remaining: *counts[3]}
		if warning != nil {
			run.Verification.Warning = *warning
		}
	}

	rows, err := r.pool.Query(ctx, `SELECT seq, entity_id, user_id, label, status, amount, outcome, error, processed_at
FROM bulk_run_items WHERE run_id = $1 ORDER BY seq`, id)
	if err != nil {
		return Run{}, err
	}
	defer rows.Close()
	run.Items = []Item{}
	for rows.Next() {
		var (
			it      Item
			outcome string
		)
		if err := rows.Scan(&it.Seq, &it.Candidate.EntityID, &it.Candidate.UserID, &it.Candidate.Label, &it.Candidate.Status,
			&it.Candidate.Amount, &outcome, &it.Error, &it.ProcessedAt); err != nil {
			return Run{}, err
		}
		it.Outcome = Outcome(outcome)
		run.Items = append(run.Items, it)
	}
	return run, rows.Err()
}

func (r *pgRepository) Advance(ctx context.Context, id uuid.UUID, from, to Phase, actorID *int64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE bulk_runs
SET phase = $3, confirmed_by = COALESCE($4, confirmed_by), updated_at = $5
WHERE id = $1 AND phase = $2`, id, string(from), string(to), actorID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgRepository) RecordItem(ctx context.Context, id uuid.UUID, item Item) error {
	_, err := r.pool.Exec(ctx, `UPDATE bulk_run_items SET outcome = $3, error = $4, processed_at = $5
WHERE run_id = $1 AND seq = $2`, id, item.Seq, string(item.Outcome), item.Error, item.ProcessedAt)
	return err
}

func (r *pgRepository) Complete(ctx context.Context, id uuid.UUID, v Verification, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE bulk_runs
SET phase = 'complete', processed = $2, succeeded = $3, failed = $4, remaining = $5, warning = NULLIF($6, ''),
    completed_at = $7, updated_at = $7
WHERE id = $1 AND phase = 'verifying'`, id, v.Processed, v.Succeeded, v.Failed, v.Remaining, v.Warning, at)
	return err
}
