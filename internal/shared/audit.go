package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-fin/meridian/internal/apperr"
)

// AuditRecord is one append-only audit event.
type AuditRecord struct {
	OrgID    uuid.UUID
	ActorID  uuid.UUID
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditSink receives audit events. Implementations must be append-only; a
// failed append after a committed domain write surfaces as AuditLogError.
type AuditSink interface {
	Record(ctx context.Context, record AuditRecord) error
}

// TxAuditSink appends inside a caller-owned transaction so the audit row
// commits atomically with the domain write.
type TxAuditSink interface {
	RecordTx(ctx context.Context, tx pgx.Tx, record AuditRecord) error
}

// ErrAuditLog tags audit sink failures.
var ErrAuditLog = apperr.Internal("AuditLogError", "audit sink write failed")

// AuditLogger writes records into audit_logs. It satisfies AuditSink and
// TxAuditSink.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

const auditInsertSQL = `INSERT INTO audit_logs (org_id, actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (r AuditRecord) validate() error {
	if r.Action == "" || r.Entity == "" || r.EntityID == "" {
		return errors.New("audit record requires action/entity/entity_id")
	}
	return nil
}

func (r AuditRecord) occurredAt() time.Time {
	if r.At.IsZero() {
		return time.Now().UTC()
	}
	return r.At
}

// Record persists the audit event.
func (l *AuditLogger) Record(ctx context.Context, record AuditRecord) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if err := record.validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(record.Meta)
	if err != nil {
		return apperr.Msgf(ErrAuditLog, "audit meta encode: %v", err)
	}
	_, err = l.pool.Exec(ctx, auditInsertSQL,
		record.OrgID, record.ActorID, record.Action, record.Entity, record.EntityID, metaJSON, record.occurredAt())
	if err != nil {
		return apperr.Msgf(ErrAuditLog, "audit append: %v", err)
	}
	return nil
}

// RecordTx appends within an existing transaction.
func (l *AuditLogger) RecordTx(ctx context.Context, tx pgx.Tx, record AuditRecord) error {
	if err := record.validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(record.Meta)
	if err != nil {
		return apperr.Msgf(ErrAuditLog, "audit meta encode: %v", err)
	}
	_, err = tx.Exec(ctx, auditInsertSQL,
		record.OrgID, record.ActorID, record.Action, record.Entity, record.EntityID, metaJSON, record.occurredAt())
	if err != nil {
		return apperr.Msgf(ErrAuditLog, "audit append: %v", err)
	}
	return nil
}
