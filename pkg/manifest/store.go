package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// Store resolves the newest active manifest for a (tenant, manifest_id)
// pair. The core never mutates rows through this interface; manifest
// upload/versioning is an external collaborator's job.
type Store interface {
	GetActive(ctx context.Context, tenant, manifestID string) (*Manifest, error)
}

// MemoryStore is an in-process Store, used in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	byKey map[string][]Manifest // keyed by tenant+"/"+manifestID, unordered
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string][]Manifest)}
}

func key(tenant, manifestID string) string { return tenant + "/" + manifestID }

// Put appends a manifest row for testing/seeding; rows already stored for
// the same (tenant, manifest_id) are kept, and GetActive picks the newest
// active one.
func (s *MemoryStore) Put(m Manifest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(m.Tenant, m.ManifestID)
	s.byKey[k] = append(s.byKey[k], m)
}

func (s *MemoryStore) GetActive(_ context.Context, tenant, manifestID string) (*Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.byKey[key(tenant, manifestID)]
	var newest *Manifest
	for i := range rows {
		r := rows[i]
		if r.Status != StatusActive {
			continue
		}
		if newest == nil || r.CreatedAt > newest.CreatedAt {
			newest = &r
		}
	}
	return newest, nil
}

// PostgresStore loads manifests from the manifests table, selecting the
// newest active row per (tenant, manifest_id). An optional CachingStore
// in front of it serves as a read-through cache; PostgresStore alone
// is always consulted on a cache miss.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetActive(ctx context.Context, tenant, manifestID string) (*Manifest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant, manifest_id, status, schema_version, body, created_at
		FROM manifests
		WHERE tenant = $1 AND manifest_id = $2 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1`, tenant, manifestID)

	var (
		tenantCol, manifestIDCol, statusCol, schemaVersion string
		body                                               []byte
		createdAt                                          time.Time
	)
	err := row.Scan(&tenantCol, &manifestIDCol, &statusCol, &schemaVersion, &body, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: query active: %w", err)
	}

	m, err := decode(tenantCol, manifestIDCol, statusCol, schemaVersion, body, createdAt)
	if err != nil {
		return nil, err
	}
	if err := CheckSchemaCompatibility(m.SchemaVersion); err != nil {
		return nil, err
	}
	return m, nil
}

// bodyView is the subset of a stored manifest body the store reads
// directly; policy fields go through NormalizePolicy instead so that
// legacy spellings are tolerated.
type bodyView struct {
	Tools       map[string]Tool `json:"tools"`
	Constraints Constraints     `json:"constraints"`
	Policy      json.RawMessage `json:"policy"`
}

func decode(tenant, manifestID, status, schemaVersion string, body []byte, createdAt time.Time) (*Manifest, error) {
	var bv bodyView
	if len(body) > 0 {
		if err := json.Unmarshal(body, &bv); err != nil {
			return nil, fmt.Errorf("manifest: decode body: %w", err)
		}
	}
	policy, err := NormalizePolicy(bv.Policy)
	if err != nil {
		return nil, fmt.Errorf("manifest: decode policy: %w", err)
	}

	return &Manifest{
		Tenant:        tenant,
		ManifestID:    manifestID,
		Status:        Status(status),
		SchemaVersion: schemaVersion,
		Policy:        policy,
		Tools:         bv.Tools,
		Constraints:   bv.Constraints,
		CreatedAt:     createdAt.Unix(),
	}, nil
}

// CachingStore wraps a Store with its own in-memory map of fetched results,
// reloading from the backing store when a key has no cached entry yet or ttl
// has elapsed since the entry was fetched. A nil result (no active manifest)
// is cached the same way.
type CachingStore struct {
	backing Store
	ttl     time.Duration

	mu       sync.Mutex
	cached   map[string]cacheEntry
	nowFunc  func() time.Time
}

type cacheEntry struct {
	manifest  *Manifest
	fetchedAt time.Time
}

func NewCachingStore(backing Store, ttl time.Duration) *CachingStore {
	return &CachingStore{
		backing: backing,
		ttl:     ttl,
		cached:  make(map[string]cacheEntry),
		nowFunc: time.Now,
	}
}

func (c *CachingStore) GetActive(ctx context.Context, tenant, manifestID string) (*Manifest, error) {
	k := key(tenant, manifestID)

	c.mu.Lock()
	entry, ok := c.cached[k]
	c.mu.Unlock()
	if ok && c.nowFunc().Sub(entry.fetchedAt) < c.ttl {
		return entry.manifest, nil
	}

	m, err := c.backing.GetActive(ctx, tenant, manifestID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cached[k] = cacheEntry{manifest: m, fetchedAt: c.nowFunc()}
	c.mu.Unlock()
	return m, nil
}
