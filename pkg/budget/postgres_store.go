package budget

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store against the action_counters table, using
// a single-round-trip ON CONFLICT upsert for both the unconditional and
// conditional increment paths.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Increment(ctx context.Context, tenant, manifestID string, now time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO action_counters (tenant, manifest_id, counter_date, count, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (tenant, manifest_id, counter_date) DO UPDATE SET
			count = action_counters.count + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING count`,
		tenant, manifestID, dateOf(now), now)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("budget: increment: %w", err)
	}
	return count, nil
}

// Reserve's WHERE clause on the DO UPDATE is what makes this a hard cap
// under concurrency: the conflicting row is only touched if its current
// count is still below cap, so a losing racer observes zero rows and gets
// ErrCapReached instead of silently exceeding the limit.
func (s *PostgresStore) Reserve(ctx context.Context, tenant, manifestID string, cap int, now time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO action_counters (tenant, manifest_id, counter_date, count, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (tenant, manifest_id, counter_date) DO UPDATE SET
			count = action_counters.count + 1,
			updated_at = EXCLUDED.updated_at
		WHERE action_counters.count < $5
		RETURNING count`,
		tenant, manifestID, dateOf(now), now, cap)

	var count int
	err := row.Scan(&count)
	if err == sql.ErrNoRows {
		current, countErr := s.Count(ctx, tenant, manifestID, now)
		if countErr != nil {
			return 0, countErr
		}
		return current, ErrCapReached
	}
	if err != nil {
		return 0, fmt.Errorf("budget: reserve: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Count(ctx context.Context, tenant, manifestID string, now time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT count FROM action_counters
		WHERE tenant = $1 AND manifest_id = $2 AND counter_date = $3`,
		tenant, manifestID, dateOf(now))

	var count int
	err := row.Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("budget: count: %w", err)
	}
	return count, nil
}
