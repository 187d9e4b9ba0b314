package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads audit_logs.
type Repository interface {
	Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error)
	All(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres audit reader.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const timelineColumns = `id, occurred_at, COALESCE(actor_id, 0), action, entity, entity_id, meta`

func (r *pgRepository) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	where, args := filterClause(filters)
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM audit_logs WHERE %s
ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`, timelineColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *pgRepository) All(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	where, args := filterClause(filters)
	rows, err := r.pool.Query(ctx, `SELECT `+timelineColumns+` FROM audit_logs WHERE `+where+` ORDER BY occurred_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func filterClause(f TimelineFilters) (string, []any) {
	conds := []string{"TRUE"}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}
	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.Entity != "" {
		add("entity = $%d", f.Entity)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	return strings.Join(conds, " AND "), args
}

func collect(rows pgx.Rows) ([]TimelineRow, error) {
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		var meta []byte
		if err := rows.Scan(&row.ID, &row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, err
		}
		row.Meta = meta
		out = append(out, row)
	}
	return out, rows.Err()
}
