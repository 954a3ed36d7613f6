package recurring_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/recsav/internal/testdb"
	"github.com/ArionMiles/recsav/pkg/recurring"
)

var fixedNow = time.Date(2024, 4, 1, 6, 0, 0, 0, time.UTC)

func post(t *testing.T, conn *pgx.Conn, date time.Time) recurring.Result {
	t.Helper()
	p := recurring.New(nil, recurring.WithClock(func() time.Time { return fixedNow }))

	var res recurring.Result
	require.NoError(t, testdb.InTx(t, conn, func(tx pgx.Tx) error {
		var err error
		res, err = p.Post(context.Background(), tx, date)
		return err
	}))
	return res
}

func TestIsTriggerDay(t *testing.T) {
	tests := []struct {
		date string
		want bool
	}{
		{"2024-04-01", true},
		{"2024-04-02", false},
		{"2024-03-31", false},
		{"2025-01-01", true},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			d, err := time.Parse(time.DateOnly, tt.date)
			require.NoError(t, err)
			assert.Equal(t, tt.want, recurring.IsTriggerDay(d))
		})
	}
}

func seedConfigs(t *testing.T, conn *pgx.Conn) {
	t.Helper()
	testdb.Exec(t, conn, "INSERT INTO store (store_nm) VALUES ('大家')")
	testdb.Exec(t, conn, "INSERT INTO category (category_nm, category_type) VALUES ('住居', '2')")
	testdb.Exec(t, conn, `
		INSERT INTO recurring_config (category_cd, store_cd, amount, remarks, execution_interval_type, active_flg)
		SELECT c.category_cd, s.store_cd, 80000, '家賃', '1', '1'
		FROM category c, store s WHERE c.category_nm = '住居' AND s.store_nm = '大家'`)
	testdb.Exec(t, conn, `
		INSERT INTO recurring_config (category_cd, store_cd, amount, remarks, execution_interval_type, active_flg)
		VALUES (1000, NULL, 1200, NULL, '1', '1'),
		       (1000, NULL, 999, 'inactive', '1', '0'),
		       (1000, NULL, 500, 'yearly', '2', '1')`)
}

func TestPostOnFirstOfMonth(t *testing.T) {
	conn := testdb.New(t)
	seedConfigs(t, conn)
	date := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	res := post(t, conn, date)
	assert.False(t, res.Skipped)
	assert.EqualValues(t, 2, res.Inserted)
	assert.Equal(t, 2, testdb.Count(t, conn, "household_account_book WHERE actual_date = '2024-04-01' AND linking_data_type = 0"))
	assert.Equal(t, 1, testdb.Count(t, conn, "household_account_book WHERE amount = 80000 AND remarks = '家賃' AND store_cd IS NOT NULL"))
	assert.Equal(t, 1, testdb.Count(t, conn, "household_account_book WHERE amount = 1200 AND remarks IS NULL AND store_cd IS NULL"))
	assert.Equal(t, 1, testdb.Count(t, conn, "linking_data WHERE linking_data_type = 0 AND last_linking_date = $1", fixedNow))

	// Re-running the same day replaces rather than duplicates.
	res = post(t, conn, date)
	assert.EqualValues(t, 2, res.Deleted)
	assert.Equal(t, 2, testdb.Count(t, conn, "household_account_book"))
}

func TestPostKeepsOtherRows(t *testing.T) {
	conn := testdb.New(t)
	seedConfigs(t, conn)
	testdb.Exec(t, conn, `
		INSERT INTO household_account_book (actual_date, category_cd, amount, linking_data_type)
		VALUES ('2024-04-01', 1000, 10, 1), ('2024-03-01', 1000, 20, 0)`)

	post(t, conn, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, 1, testdb.Count(t, conn, "household_account_book WHERE linking_data_type = 1"))
	assert.Equal(t, 1, testdb.Count(t, conn, "household_account_book WHERE actual_date = '2024-03-01'"))
}

func TestPostSkipsOtherDays(t *testing.T) {
	conn := testdb.New(t)
	seedConfigs(t, conn)
	testdb.Exec(t, conn, `
		INSERT INTO household_account_book (actual_date, category_cd, amount, linking_data_type)
		VALUES ('2024-04-15', 1000, 10, 0)`)

	res := post(t, conn, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))

	assert.True(t, res.Skipped)
	assert.Equal(t, 1, testdb.Count(t, conn, "household_account_book"))
	assert.Zero(t, testdb.Count(t, conn, "linking_data"))
}

func TestPostWithoutConfigs(t *testing.T) {
	conn := testdb.New(t)

	res := post(t, conn, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	assert.False(t, res.Skipped)
	assert.Zero(t, res.Inserted)
	assert.Equal(t, 1, testdb.Count(t, conn, "linking_data WHERE linking_data_type = 0"))
}
