// Package budget implements the per-tenant-per-day action counters that
// back the Policy Engine's daily cap and escalation-threshold checks, and
// the atomic reservation the Orchestrator uses to enforce the cap under
// concurrent execution.
package budget

import (
	"context"
	"errors"
	"time"
)

// Counter is a single (tenant, manifest_id, date) row: how many actions
// have been counted against that manifest's daily cap so far today.
type Counter struct {
	Tenant     string    `json:"tenant"`
	ManifestID string    `json:"manifest_id"`
	Date       string    `json:"date"` // YYYY-MM-DD, UTC
	Count      int       `json:"count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrCapReached is returned by Reserve when the conditional increment did
// not apply because the row was already at cap.
var ErrCapReached = errors.New("budget: cap reached")

// Store is the persistence seam for action counters. Increment and
// Reserve both operate on the row for dateOf(now); callers never address
// a date directly so "today" is always computed from the caller's clock.
type Store interface {
	// Increment unconditionally upserts today's row and adds 1 to count,
	// returning the count after the increment. Used for evaluate-only
	// accounting, where no cap enforcement is required.
	Increment(ctx context.Context, tenant, manifestID string, now time.Time) (int, error)

	// Reserve performs an atomic "upsert with conditional increment only
	// if count < cap" and returns the count after the increment. If the
	// row is already at or above cap, it returns ErrCapReached and the
	// stored count is left unchanged.
	Reserve(ctx context.Context, tenant, manifestID string, cap int, now time.Time) (int, error)

	// Count returns today's count without mutating it. Used for the
	// escalation-threshold read, which need not be linearizable with
	// concurrent reservations: a stale read that later contradicts a
	// reservation is acceptable because the reservation is the
	// authoritative gate.
	Count(ctx context.Context, tenant, manifestID string, now time.Time) (int, error)
}

func dateOf(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
