package ledger

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrLeaseLost means the caller no longer holds the lease it is trying
	// to complete or release: the lease expired and another worker
	// reclaimed it. The caller must not touch the task's results.
	ErrLeaseLost = errors.New("lease lost")

	// ErrConstraint is a uniqueness violation that the claim upsert should
	// have resolved. It indicates a defect in the claim query, not a
	// condition callers can recover from.
	ErrConstraint = errors.New("constraint violation")
)

// IsTransient reports whether err is a store-level failure worth retrying
// with backoff: serialization conflicts, deadlocks, or a connection that
// died before the statement was sent. The triggering operation is a single
// atomic statement either fully applied or not at all, so retrying is safe.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConstraint, pgErr.Message)
	}
	return err
}
