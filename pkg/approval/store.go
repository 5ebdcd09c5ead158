package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// NewApprovalID returns a fresh approval id: "appr-" followed by a random
// UUIDv4, matching the gateway's interaction/approval id convention.
func NewApprovalID() (string, error) {
	return "appr-" + uuid.NewString(), nil
}

// ErrAlreadyConsumed is returned by Consume when the conditional update
// affected zero rows: a concurrent execute won the replay race.
var ErrAlreadyConsumed = fmt.Errorf("approval: already consumed")

// ErrNotFound is returned when an approval id does not resolve to a row.
var ErrNotFound = fmt.Errorf("approval: not found")

// Store persists Approval rows and implements the one-shot consumption
// guarantee the execute flow relies on: Consume must transition
// consumed_at from null to non-null exactly once, atomically, so that a
// racing replay of the same override token cannot execute twice.
type Store interface {
	Create(ctx context.Context, a Approval) error
	Get(ctx context.Context, tenant, approvalID string) (*Approval, error)
	SetStatus(ctx context.Context, tenant, approvalID string, status Status, approver string, approvedAt time.Time) error
	// Consume performs the conditional "consumed_at IS NULL" transition.
	// Returns ErrAlreadyConsumed if a prior call already consumed the row,
	// ErrNotFound if the row does not exist.
	Consume(ctx context.Context, tenant, approvalID, interactionID string, now time.Time) error
}

// MemoryStore is an in-process Store, used in tests.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Approval
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Approval)}
}

func memKey(tenant, approvalID string) string { return tenant + "/" + approvalID }

func (s *MemoryStore) Create(_ context.Context, a Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := a
	s.rows[memKey(a.Tenant, a.ApprovalID)] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenant, approvalID string) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[memKey(tenant, approvalID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, tenant, approvalID string, status Status, approver string, approvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[memKey(tenant, approvalID)]
	if !ok {
		return ErrNotFound
	}
	row.Status = status
	row.Approver = approver
	if status == StatusApproved {
		row.ApprovedAt = &approvedAt
	}
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, tenant, approvalID, interactionID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[memKey(tenant, approvalID)]
	if !ok {
		return ErrNotFound
	}
	if row.ConsumedAt != nil {
		return ErrAlreadyConsumed
	}
	row.ConsumedAt = &now
	row.ConsumedInteractionID = interactionID
	return nil
}

// PostgresStore implements Store against the approvals table, following
// pkg/budget/postgres_store.go's lib/pq, $N-placeholder, conditional-update
// idiom. Unlike budget's upsert (a row may not exist yet), Consume here
// updates a pre-existing row, so the conditional clause lives in the WHERE
// rather than an ON CONFLICT.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, a Approval) error {
	action, err := json.Marshal(a.Action)
	if err != nil {
		return fmt.Errorf("approval: marshal action: %w", err)
	}
	counterparty, err := json.Marshal(a.Counterparty)
	if err != nil {
		return fmt.Errorf("approval: marshal counterparty: %w", err)
	}
	ctxJSON, err := json.Marshal(a.Context)
	if err != nil {
		return fmt.Errorf("approval: marshal context: %w", err)
	}
	reasonCodes, err := json.Marshal(a.ReasonCodes)
	if err != nil {
		return fmt.Errorf("approval: marshal reason codes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approvals (
			approval_id, tenant, interaction_id, manifest_id, agent_id,
			action, action_hash, counterparty, context, reason_codes,
			status, created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ApprovalID, a.Tenant, a.InteractionID, a.ManifestID, a.AgentID,
		action, a.ActionHash, counterparty, ctxJSON, reasonCodes,
		StatusPending, a.CreatedAt, a.ExpiresAt)
	if err != nil {
		return fmt.Errorf("approval: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenant, approvalID string) (*Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT approval_id, tenant, interaction_id, manifest_id, agent_id,
		       action, action_hash, counterparty, context, reason_codes,
		       status, created_at, expires_at, consumed_at, consumed_interaction_id,
		       approver, approved_at
		FROM approvals WHERE tenant = $1 AND approval_id = $2`, tenant, approvalID)

	var (
		a                                     Approval
		action, counterparty, ctxJSON, reason []byte
		consumedAt, approvedAt                sql.NullTime
		consumedInteractionID, approver        sql.NullString
	)
	err := row.Scan(&a.ApprovalID, &a.Tenant, &a.InteractionID, &a.ManifestID, &a.AgentID,
		&action, &a.ActionHash, &counterparty, &ctxJSON, &reason,
		&a.Status, &a.CreatedAt, &a.ExpiresAt, &consumedAt, &consumedInteractionID,
		&approver, &approvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("approval: query: %w", err)
	}

	_ = json.Unmarshal(action, &a.Action)
	_ = json.Unmarshal(counterparty, &a.Counterparty)
	_ = json.Unmarshal(ctxJSON, &a.Context)
	_ = json.Unmarshal(reason, &a.ReasonCodes)
	if consumedAt.Valid {
		t := consumedAt.Time
		a.ConsumedAt = &t
	}
	if consumedInteractionID.Valid {
		a.ConsumedInteractionID = consumedInteractionID.String
	}
	if approver.Valid {
		a.Approver = approver.String
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		a.ApprovedAt = &t
	}
	return &a, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, tenant, approvalID string, status Status, approver string, approvedAt time.Time) error {
	var approvedAtArg interface{}
	if status == StatusApproved {
		approvedAtArg = approvedAt
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = $1, approver = $2, approved_at = $3
		WHERE tenant = $4 AND approval_id = $5 AND status = 'pending'`,
		status, approver, approvedAtArg, tenant, approvalID)
	if err != nil {
		return fmt.Errorf("approval: set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("approval: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Consume is the one-shot redemption: the UPDATE only succeeds when
// consumed_at is still NULL, so a concurrent replay of the same override
// token observes zero rows affected and must not execute the action.
func (s *PostgresStore) Consume(ctx context.Context, tenant, approvalID, interactionID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET consumed_at = $1, consumed_interaction_id = $2
		WHERE tenant = $3 AND approval_id = $4 AND consumed_at IS NULL`,
		now, interactionID, tenant, approvalID)
	if err != nil {
		return fmt.Errorf("approval: consume: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("approval: rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := s.Get(ctx, tenant, approvalID); getErr == ErrNotFound {
			return ErrNotFound
		}
		return ErrAlreadyConsumed
	}
	return nil
}
