// Package registry is the read-only view over the task registry: the
// set of tasks the upstream pipeline has produced and marked ready.
// Nothing in this package mutates the tasks table.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// IsEligible reports whether the task exists and all its prerequisite
// inputs are present. An unknown task id is simply not eligible.
func (s *Store) IsEligible(ctx context.Context, taskID int64) (bool, error) {
	var ready bool
	err := s.pool.QueryRow(ctx,
		`SELECT ready FROM tasks WHERE id = $1`, taskID).Scan(&ready)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check eligibility of task %d: %w", taskID, err)
	}
	return ready, nil
}

// ListReady returns up to limit ready task ids at or above the
// watermark, in ascending order.
func (s *Store) ListReady(ctx context.Context, watermark int64, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM tasks
		WHERE id >= $1 AND ready
		ORDER BY id
		LIMIT $2`, watermark, limit)
	if err != nil {
		return nil, fmt.Errorf("list ready tasks: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ready tasks: %w", err)
	}
	return ids, nil
}

// CountReady returns how many ready tasks sit at or above the watermark.
func (s *Store) CountReady(ctx context.Context, watermark int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM tasks WHERE id >= $1 AND ready`, watermark).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ready tasks: %w", err)
	}
	return n, nil
}
