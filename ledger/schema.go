package ledger

import (
	"context"
	"fmt"
)

// tasks is owned by the upstream pipeline; the DDL lives here so tests
// and fresh deployments can bootstrap a working store in one call.
// leases carries at most one row per (task_id, worker_class) pair,
// enforced by the primary key.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id BIGINT PRIMARY KEY,
	ready BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS leases (
	task_id BIGINT NOT NULL,
	worker_class TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('unclaimed', 'leased', 'done')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	leased_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (task_id, worker_class)
);
`

// EnsureSchema creates the tasks and leases tables if they do not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
