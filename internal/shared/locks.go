package shared

import (
	"context"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ConsolidationLockKey derives the advisory-lock key serialising consolidation
// runs per (group, period). The key is stable across processes.
func ConsolidationLockKey(groupID uuid.UUID, year, period int) int64 {
	h := fnv.New64a()
	_, _ = h.Write(groupID[:])
	_, _ = h.Write([]byte{byte(year >> 8), byte(year), byte(period)})
	return int64(h.Sum64())
}

// AcquireTxAdvisoryLock blocks until the transaction-scoped advisory lock is
// held. The lock releases automatically at commit or rollback.
func AcquireTxAdvisoryLock(ctx context.Context, tx pgx.Tx, key int64) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key)
	return err
}

// TryTxAdvisoryLock attempts the lock without blocking and reports whether it
// was obtained.
func TryTxAdvisoryLock(ctx context.Context, tx pgx.Tx, key int64) (bool, error) {
	var got bool
	err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, key).Scan(&got)
	return got, err
}
