package budget

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Increment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO action_counters")).
		WithArgs("t1", "m1", "2026-07-31", now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := store.Increment(context.Background(), "t1", "m1", now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestPostgresStore_ReserveSucceedsUnderCap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO action_counters")).
		WithArgs("t1", "m1", "2026-07-31", now, 10).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	n, err := store.Reserve(context.Background(), "t1", "m1", 10, now)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestPostgresStore_ReserveDeniesAtCap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO action_counters")).
		WithArgs("t1", "m1", "2026-07-31", now, 10).
		WillReturnRows(sqlmock.NewRows([]string{"count"}))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count FROM action_counters")).
		WithArgs("t1", "m1", "2026-07-31").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))

	n, err := store.Reserve(context.Background(), "t1", "m1", 10, now)
	assert.Equal(t, ErrCapReached, err)
	assert.Equal(t, 10, n)
}

func TestPostgresStore_CountNoRowIsZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count FROM action_counters")).
		WithArgs("t1", "m1", "2026-07-31").
		WillReturnRows(sqlmock.NewRows([]string{"count"}))

	n, err := store.Count(context.Background(), "t1", "m1", now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
