package audit

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	rec := Record{
		RecordID:   "rec-1",
		Tenant:     "tenant-1",
		ManifestID: "manifest-1",
		Decision:   DecisionApproved,
		RecordHash: "deadbeef",
		CreatedAt:  time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO interaction_records")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.Append(context.Background(), rec)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func audioColumns() []string {
	return []string{
		"record_id", "tenant", "manifest_id", "agent_id", "action_type", "tool",
		"request", "request_hash", "decision", "reasons_json", "policy_trace_json",
		"risk_snapshot_json", "result", "result_hash", "duration_ms",
		"previous_record_hash", "record_hash", "gateway_signature", "created_at",
	}
}

func TestPostgresStore_LatestReturnsNilWhenNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM interaction_records")).
		WithArgs("tenant-1", "manifest-1").
		WillReturnRows(sqlmock.NewRows(audioColumns()))

	rec, err := store.Latest(context.Background(), "tenant-1", "manifest-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPostgresStore_LatestScansRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(audioColumns()).AddRow(
		"rec-1", "tenant-1", "manifest-1", "agent-1", "tool_call", "http_request",
		[]byte(`{"manifest_id":"manifest-1"}`), "reqhash", "approved", "[]", "{}",
		"{}", nil, nil, nil,
		nil, "rechash", "c2ln", now,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM interaction_records")).
		WithArgs("tenant-1", "manifest-1").
		WillReturnRows(rows)

	rec, err := store.Latest(context.Background(), "tenant-1", "manifest-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "rec-1", rec.RecordID)
	assert.Equal(t, "rechash", rec.RecordHash)
	assert.Nil(t, rec.PreviousRecordHash)
}

func TestPostgresStore_ChainReturnsOrderedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	prev := "rechash-1"
	rows := sqlmock.NewRows(audioColumns()).
		AddRow("rec-1", "tenant-1", "manifest-1", "agent-1", "tool_call", "http_request",
			[]byte(`{}`), "reqhash1", "approved", "[]", "{}", "{}", nil, nil, nil,
			nil, "rechash-1", "c2ln", now).
		AddRow("rec-2", "tenant-1", "manifest-1", "agent-1", "tool_call", "http_request",
			[]byte(`{}`), "reqhash2", "approved", "[]", "{}", "{}", nil, nil, nil,
			prev, "rechash-2", "c2ln", now.Add(time.Minute))

	mock.ExpectQuery(regexp.QuoteMeta("FROM interaction_records")).
		WithArgs("tenant-1", "manifest-1").
		WillReturnRows(rows)

	chain, err := store.Chain(context.Background(), "tenant-1", "manifest-1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "rec-1", chain[0].RecordID)
	assert.Equal(t, "rec-2", chain[1].RecordID)
	require.NotNil(t, chain[1].PreviousRecordHash)
	assert.Equal(t, "rechash-1", *chain[1].PreviousRecordHash)
}
