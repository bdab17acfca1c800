package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-fin/meridian/internal/shared"
)

// Repository persists policies and the append-only denial trail.
type Repository interface {
	Insert(ctx context.Context, p Policy) error
	Get(ctx context.Context, orgID, policyID uuid.UUID) (*Policy, error)
	List(ctx context.Context, orgID uuid.UUID) ([]Policy, error)
	ListAll(ctx context.Context) ([]Policy, error)
	Update(ctx context.Context, p Policy) error
	Delete(ctx context.Context, orgID, policyID uuid.UUID) error

	AppendDenial(ctx context.Context, d DenialRecord) error
	ListDenials(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]DenialRecord, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed policy store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const policyColumns = `id, org_id, name, description, subject_cond, resource_cond, action_cond,
	env_cond, effect, priority, is_system, is_active, created_at, updated_at`

func scanPolicy(row pgx.Row) (*Policy, error) {
	var (
		p                                  Policy
		subjectRaw, resourceRaw, actionRaw []byte
		envRaw                             []byte
	)
	err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.Description, &subjectRaw, &resourceRaw, &actionRaw,
		&envRaw, &p.Effect, &p.Priority, &p.IsSystem, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(subjectRaw, &p.Subject); err != nil {
		return nil, fmt.Errorf("authz: decode subject condition: %w", err)
	}
	if err := json.Unmarshal(resourceRaw, &p.Resource); err != nil {
		return nil, fmt.Errorf("authz: decode resource condition: %w", err)
	}
	if err := json.Unmarshal(actionRaw, &p.Action); err != nil {
		return nil, fmt.Errorf("authz: decode action condition: %w", err)
	}
	if len(envRaw) > 0 && string(envRaw) != "null" {
		p.Environment = &EnvCondition{}
		if err := json.Unmarshal(envRaw, p.Environment); err != nil {
			return nil, fmt.Errorf("authz: decode environment condition: %w", err)
		}
	}
	return &p, nil
}

func policyArgs(p Policy) ([]any, error) {
	subjectRaw, err := json.Marshal(p.Subject)
	if err != nil {
		return nil, fmt.Errorf("authz: encode subject condition: %w", err)
	}
	resourceRaw, err := json.Marshal(p.Resource)
	if err != nil {
		return nil, fmt.Errorf("authz: encode resource condition: %w", err)
	}
	actionRaw, err := json.Marshal(p.Action)
	if err != nil {
		return nil, fmt.Errorf("authz: encode action condition: %w", err)
	}
	var envRaw []byte
	if p.Environment != nil {
		envRaw, err = json.Marshal(p.Environment)
		if err != nil {
			return nil, fmt.Errorf("authz: encode environment condition: %w", err)
		}
	}
	return []any{p.ID, p.OrgID, p.Name, p.Description, subjectRaw, resourceRaw, actionRaw,
		envRaw, p.Effect, p.Priority, p.IsSystem, p.IsActive, p.CreatedAt, p.UpdatedAt}, nil
}

func (r *pgRepository) Insert(ctx context.Context, p Policy) error {
	args, err := policyArgs(p)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO authz_policies (id, org_id, name, description, subject_cond, resource_cond, action_cond,
			env_cond, effect, priority, is_system, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	if _, err := r.pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("authz: insert policy: %w", err)
	}
	return nil
}

func (r *pgRepository) Get(ctx context.Context, orgID, policyID uuid.UUID) (*Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM authz_policies WHERE org_id = $1 AND id = $2`
	p, err := scanPolicy(r.pool.QueryRow(ctx, q, orgID, policyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("authz: get policy: %w", err)
	}
	return p, nil
}

func (r *pgRepository) List(ctx context.Context, orgID uuid.UUID) ([]Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM authz_policies WHERE org_id = $1 ORDER BY priority DESC, created_at ASC`
	return r.queryPolicies(ctx, q, orgID)
}

func (r *pgRepository) ListAll(ctx context.Context) ([]Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM authz_policies ORDER BY priority DESC, created_at ASC`
	return r.queryPolicies(ctx, q)
}

func (r *pgRepository) queryPolicies(ctx context.Context, q string, args ...any) ([]Policy, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("authz: list policies: %w", err)
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("authz: scan policy: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: iterate policies: %w", err)
	}
	return out, nil
}

func (r *pgRepository) Update(ctx context.Context, p Policy) error {
	args, err := policyArgs(p)
	if err != nil {
		return err
	}
	const q = `
		UPDATE authz_policies
		SET name = $3, description = $4, subject_cond = $5, resource_cond = $6, action_cond = $7,
			env_cond = $8, effect = $9, priority = $10, is_active = $12, updated_at = $14
		WHERE org_id = $2 AND id = $1 AND NOT is_system`
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("authz: update policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (r *pgRepository) Delete(ctx context.Context, orgID, policyID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM authz_policies WHERE org_id = $1 AND id = $2 AND NOT is_system`, orgID, policyID)
	if err != nil {
		return fmt.Errorf("authz: delete policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (r *pgRepository) AppendDenial(ctx context.Context, d DenialRecord) error {
	ids := make([]string, 0, len(d.MatchedPolicyIDs))
	for _, id := range d.MatchedPolicyIDs {
		ids = append(ids, id.String())
	}
	idsRaw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("authz: encode matched policies: %w", err)
	}
	const q = `
		INSERT INTO authz_denials (id, org_id, user_id, action, resource_type, resource_id,
			matched_policy_ids, ip, user_agent, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.pool.Exec(ctx, q, d.ID, d.OrgID, d.UserID, d.Action, d.ResourceType, d.ResourceID,
		idsRaw, d.IP, d.UserAgent, d.OccurredAt)
	if err != nil {
		return fmt.Errorf("authz: append denial: %w", err)
	}
	return nil
}

func (r *pgRepository) ListDenials(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]DenialRecord, error) {
	const q = `
		SELECT id, org_id, user_id, action, resource_type, resource_id, matched_policy_ids, ip, user_agent, occurred_at
		FROM authz_denials WHERE org_id = $1 ORDER BY occurred_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, orgID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("authz: list denials: %w", err)
	}
	defer rows.Close()

	var out []DenialRecord
	for rows.Next() {
		var (
			d      DenialRecord
			idsRaw []byte
		)
		if err := rows.Scan(&d.ID, &d.OrgID, &d.UserID, &d.Action, &d.ResourceType, &d.ResourceID,
			&idsRaw, &d.IP, &d.UserAgent, &d.OccurredAt); err != nil {
			return nil, fmt.Errorf("authz: scan denial: %w", err)
		}
		var ids []string
		if err := json.Unmarshal(idsRaw, &ids); err != nil {
			return nil, fmt.Errorf("authz: decode matched policies: %w", err)
		}
		for _, raw := range ids {
			id, err := uuid.Parse(raw)
			if err == nil {
				d.MatchedPolicyIDs = append(d.MatchedPolicyIDs, id)
			}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: iterate denials: %w", err)
	}
	return out, nil
}
