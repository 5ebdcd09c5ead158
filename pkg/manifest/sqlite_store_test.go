package manifest

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// These tests run a copy of PostgresStore's newest-active-row selection
// query (with ? placeholders) against a real SQL engine instead of
// go-sqlmock's expectation matching, so the query's row-selection
// semantics are checked by an engine that actually evaluates rows. They
// do not call PostgresStore itself, so an edit to the query string in
// store.go is not seen here.
func openSQLiteManifests(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE manifests (
			tenant TEXT NOT NULL,
			manifest_id TEXT NOT NULL,
			status TEXT NOT NULL,
			schema_version TEXT NOT NULL,
			body BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)`)
	require.NoError(t, err)
	return db
}

func insertManifestRow(t *testing.T, db *sql.DB, tenant, manifestID, status string, body []byte, createdAt time.Time) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO manifests (tenant, manifest_id, status, schema_version, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		tenant, manifestID, status, "1.0", body, createdAt.Unix())
	require.NoError(t, err)
}

func queryActive(t *testing.T, db *sql.DB, tenant, manifestID string) *Manifest {
	t.Helper()
	row := db.QueryRow(`
		SELECT tenant, manifest_id, status, schema_version, body, created_at
		FROM manifests
		WHERE tenant = ? AND manifest_id = ? AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1`, tenant, manifestID)

	var (
		tenantCol, manifestIDCol, statusCol, schemaVersion string
		body                                               []byte
		createdAtUnix                                      int64
	)
	err := row.Scan(&tenantCol, &manifestIDCol, &statusCol, &schemaVersion, &body, &createdAtUnix)
	if err == sql.ErrNoRows {
		return nil
	}
	require.NoError(t, err)

	m, err := decode(tenantCol, manifestIDCol, statusCol, schemaVersion, body, time.Unix(createdAtUnix, 0))
	require.NoError(t, err)
	return m
}

func TestSQLiteActiveRowSelectsNewestAmongMultipleVersions(t *testing.T) {
	db := openSQLiteManifests(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	insertManifestRow(t, db, "tenant-1", "refund-bot", "active", []byte(`{"tools":{}}`), base)
	insertManifestRow(t, db, "tenant-1", "refund-bot", "active", []byte(`{"tools":{"x":{}}}`), base.Add(time.Hour))
	insertManifestRow(t, db, "tenant-1", "refund-bot", "retired", []byte(`{"tools":{"y":{}}}`), base.Add(2*time.Hour))

	m := queryActive(t, db, "tenant-1", "refund-bot")
	require.NotNil(t, m)
	require.Equal(t, base.Add(time.Hour).Unix(), m.CreatedAt)
	_, hasX := m.Tools["x"]
	require.True(t, hasX, "expected the newest active row's tools, not the retired row's")
}

func TestSQLiteActiveRowAbsentWhenOnlyRetired(t *testing.T) {
	db := openSQLiteManifests(t)
	insertManifestRow(t, db, "tenant-1", "refund-bot", "retired", []byte(`{"tools":{}}`), time.Now())

	m := queryActive(t, db, "tenant-1", "refund-bot")
	require.Nil(t, m)
}
