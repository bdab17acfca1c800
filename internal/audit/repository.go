package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads audit_logs.
type Repository interface {
	Query(ctx context.Context, orgID uuid.UUID, f Filter) ([]Entry, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed audit reader.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) Query(ctx context.Context, orgID uuid.UUID, f Filter) ([]Entry, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT id, org_id, actor_id, action, entity, entity_id, meta, occurred_at
		FROM audit_logs WHERE org_id = $1`)
	args = append(args, orgID)

	add := func(clause string, arg any) {
		args = append(args, arg)
		sb.WriteString(" AND " + clause + " $" + strconv.Itoa(len(args)))
	}
	if f.ActorID != nil {
		add("actor_id =", *f.ActorID)
	}
	if f.Action != "" {
		add("action =", f.Action)
	}
	if f.Entity != "" {
		add("entity =", f.Entity)
	}
	if f.EntityID != "" {
		add("entity_id =", f.EntityID)
	}
	if !f.From.IsZero() {
		add("occurred_at >=", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <=", f.To)
	}
	args = append(args, f.Page.Limit, f.Page.Offset)
	sb.WriteString(fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.OrgID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &meta, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("audit: decode meta: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate entries: %w", err)
	}
	return out, nil
}
