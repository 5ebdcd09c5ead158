package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store against the interaction_records table,
// following the teacher's lib/pq and $N-placeholder idiom used throughout
// the rest of the gateway's stores.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	request, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("audit: marshal request: %w", err)
	}
	var result []byte
	if rec.Result != nil {
		result, err = json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("audit: marshal result: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interaction_records (
			record_id, tenant, manifest_id, agent_id, action_type, tool,
			request, request_hash, decision, reasons_json, policy_trace_json,
			risk_snapshot_json, result, result_hash, duration_ms,
			previous_record_hash, record_hash, gateway_signature, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		rec.RecordID, rec.Tenant, rec.ManifestID, rec.AgentID, rec.ActionType, rec.Tool,
		request, rec.RequestHash, rec.Decision, rec.ReasonsJSON, rec.PolicyTraceJSON,
		rec.RiskSnapshotJSON, nullBytes(result), rec.ResultHash, rec.DurationMs,
		rec.PreviousRecordHash, rec.RecordHash, rec.GatewaySignature, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, tenant, manifestID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectRecordsSQL+`
		WHERE tenant = $1 AND manifest_id = $2
		ORDER BY created_at DESC LIMIT 1`, tenant, manifestID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) Chain(ctx context.Context, tenant, manifestID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecordsSQL+`
		WHERE tenant = $1 AND manifest_id = $2
		ORDER BY created_at ASC`, tenant, manifestID)
	if err != nil {
		return nil, fmt.Errorf("audit: query chain: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

const selectRecordsSQL = `
	SELECT record_id, tenant, manifest_id, agent_id, action_type, tool,
	       request, request_hash, decision, reasons_json, policy_trace_json,
	       risk_snapshot_json, result, result_hash, duration_ms,
	       previous_record_hash, record_hash, gateway_signature, created_at
	FROM interaction_records`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                 Record
		request, result     []byte
		resultHash          sql.NullString
		durationMs          sql.NullInt64
		previousRecordHash  sql.NullString
	)
	err := row.Scan(&rec.RecordID, &rec.Tenant, &rec.ManifestID, &rec.AgentID, &rec.ActionType, &rec.Tool,
		&request, &rec.RequestHash, &rec.Decision, &rec.ReasonsJSON, &rec.PolicyTraceJSON,
		&rec.RiskSnapshotJSON, &result, &resultHash, &durationMs,
		&previousRecordHash, &rec.RecordHash, &rec.GatewaySignature, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}

	_ = json.Unmarshal(request, &rec.Request)
	if len(result) > 0 {
		_ = json.Unmarshal(result, &rec.Result)
	}
	if resultHash.Valid {
		v := resultHash.String
		rec.ResultHash = &v
	}
	if durationMs.Valid {
		v := durationMs.Int64
		rec.DurationMs = &v
	}
	if previousRecordHash.Valid {
		v := previousRecordHash.String
		rec.PreviousRecordHash = &v
	}
	return &rec, nil
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
