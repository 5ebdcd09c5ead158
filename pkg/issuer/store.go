package issuer

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
)

// MemoryStore is an in-process Store, used in tests and single-node
// deployments that don't need durable issuer registration.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Issuer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Issuer)}
}

func memKey(tenant, issuerID string) string { return tenant + "/" + issuerID }

func (s *MemoryStore) Create(_ context.Context, iss Issuer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := iss
	s.rows[memKey(iss.Tenant, iss.IssuerID)] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenant, issuerID string) (*Issuer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[memKey(tenant, issuerID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, tenant string) ([]Issuer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Issuer
	for _, row := range s.rows {
		if row.Tenant == tenant {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *MemoryStore) Revoke(_ context.Context, tenant, issuerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[memKey(tenant, issuerID)]
	if !ok {
		return ErrNotFound
	}
	row.Revoked = true
	return nil
}

// PostgresStore implements Store against the issuers table, following
// pkg/approval/store.go's lib/pq and $N-placeholder idiom.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, iss Issuer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issuers (tenant, issuer_id, public_key, derived, revoked, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		iss.Tenant, iss.IssuerID, []byte(iss.PublicKey), iss.Derived, iss.Revoked, iss.CreatedAt)
	if err != nil {
		return fmt.Errorf("issuer: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenant, issuerID string) (*Issuer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant, issuer_id, public_key, derived, revoked, created_at
		FROM issuers WHERE tenant = $1 AND issuer_id = $2`, tenant, issuerID)

	var (
		iss Issuer
		key []byte
	)
	err := row.Scan(&iss.Tenant, &iss.IssuerID, &key, &iss.Derived, &iss.Revoked, &iss.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("issuer: query: %w", err)
	}
	if len(key) > 0 {
		iss.PublicKey = ed25519.PublicKey(key)
	}
	return &iss, nil
}

func (s *PostgresStore) List(ctx context.Context, tenant string) ([]Issuer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant, issuer_id, public_key, derived, revoked, created_at
		FROM issuers WHERE tenant = $1 ORDER BY created_at ASC`, tenant)
	if err != nil {
		return nil, fmt.Errorf("issuer: query: %w", err)
	}
	defer rows.Close()

	var out []Issuer
	for rows.Next() {
		var (
			iss Issuer
			key []byte
		)
		if err := rows.Scan(&iss.Tenant, &iss.IssuerID, &key, &iss.Derived, &iss.Revoked, &iss.CreatedAt); err != nil {
			return nil, fmt.Errorf("issuer: scan: %w", err)
		}
		if len(key) > 0 {
			iss.PublicKey = ed25519.PublicKey(key)
		}
		out = append(out, iss)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Revoke(ctx context.Context, tenant, issuerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE issuers SET revoked = true WHERE tenant = $1 AND issuer_id = $2`, tenant, issuerID)
	if err != nil {
		return fmt.Errorf("issuer: revoke: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("issuer: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
