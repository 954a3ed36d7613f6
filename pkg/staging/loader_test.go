package staging_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"

	"github.com/ArionMiles/recsav/internal/testdb"
	"github.com/ArionMiles/recsav/pkg/api"
	"github.com/ArionMiles/recsav/pkg/staging"
)

const zaimHeader = "日付,方法,カテゴリ,カテゴリの内訳,支払元,入金先,品目,メモ,お店,通貨,収入,支出,振替,残高調整,通貨変換前の金額,集計の設定\n"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReplaceZaimHistory(t *testing.T) {
	conn := testdb.New(t)
	ctx := context.Background()
	testdb.Exec(t, conn, "INSERT INTO if_zaim (if_zaim_date) VALUES ('2000-01-01')")

	path := writeFile(t, "zaim.csv", "\ufeff"+zaimHeader+
		"2024-03-05,payment,食費,食料品,財布,,牛乳,,スーパー,JPY,,280,,,,常に集計に含める\n"+
		",payment,食費,食料品,財布,,,,,JPY,,100,,,,\n"+
		"2024-03-25,income,給与,給与,,銀行,,,会社,JPY,300000,,,,,常に集計に含める\n")

	var res staging.Result
	err := testdb.InTx(t, conn, func(tx pgx.Tx) error {
		var err error
		res, err = staging.New(nil).Replace(ctx, tx, "if_zaim", staging.Input{
			Schema: &staging.ZaimHistory,
			Path:   path,
		})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 2, testdb.Count(t, conn, "if_zaim"))
	assert.Zero(t, testdb.Count(t, conn, "if_zaim WHERE if_zaim_date = '2000-01-01'"), "previous contents are replaced")
	assert.Equal(t, 1, testdb.Count(t, conn, "if_zaim WHERE if_zaim_income_amount = 300000"))
	assert.Equal(t, 1, testdb.Count(t, conn, "if_zaim WHERE if_zaim_income_amount IS NULL AND if_zaim_expense_amount = 280"))
	assert.Equal(t, 2, testdb.Count(t, conn, "if_zaim WHERE if_zaim_remarks = ''"))
}

func TestReplaceShiftJIS(t *testing.T) {
	conn := testdb.New(t)
	ctx := context.Background()

	sjis, err := japanese.ShiftJIS.NewEncoder().String(
		"利用日,利用店名・商品名,利用者,支払方法,利用金額,支払手数料,支払総額,支払月\n" +
			"2024/03/10,ローソン,本人,1回払い,540,0,540,4月\n")
	require.NoError(t, err)
	path := writeFile(t, "rakuten_card_tab0.csv", sjis)

	tab0, err := staging.CardTab(0)
	require.NoError(t, err)

	err = testdb.InTx(t, conn, func(tx pgx.Tx) error {
		_, err := staging.New(nil).Replace(ctx, tx, "if_rakuten_card", staging.Input{
			Schema:   tab0,
			Path:     path,
			Encoding: "shift_jis",
		})
		return err
	})
	require.NoError(t, err)

	var merchant string
	var tab int
	require.NoError(t, conn.QueryRow(ctx,
		"SELECT merchant_product_name, tab_no FROM if_rakuten_card").Scan(&merchant, &tab))
	assert.Equal(t, "ローソン", merchant)
	assert.Equal(t, 0, tab)
}

func TestReplaceCardTabsShareTable(t *testing.T) {
	conn := testdb.New(t)
	ctx := context.Background()
	dir := t.TempDir()

	tab0CSV := "利用日,利用店名・商品名,利用者,支払方法,利用金額,支払手数料,支払総額,支払月,4月支払金額,5月繰越残高,新規サイン\n" +
		"2024-03-01,A,本人,1回払い,100,0,100,4月,100,0,*\n"
	tab1CSV := "利用日,利用店名・商品名,利用者,支払方法,利用金額,支払手数料,支払総額\n" +
		"2024-03-15,B,本人,1回払い,200,0,200\n" +
		"2024-03-16,C,家族,1回払い,300,0,300\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tab0.csv"), []byte(tab0CSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tab1.csv"), []byte(tab1CSV), 0o644))

	var inputs []staging.Input
	for tab, name := range []string{"tab0.csv", "tab1.csv", "tab2.csv"} {
		schema, err := staging.CardTab(tab)
		require.NoError(t, err)
		inputs = append(inputs, staging.Input{Schema: schema, Path: filepath.Join(dir, name)})
	}

	var res staging.Result
	err := testdb.InTx(t, conn, func(tx pgx.Tx) error {
		var err error
		res, err = staging.New(nil).Replace(ctx, tx, "if_rakuten_card", inputs...)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, []api.Source{api.SourceCardTab2}, res.Skipped)
	assert.Equal(t, 1, testdb.Count(t, conn, "if_rakuten_card WHERE tab_no = 0 AND payment_month = '4月' AND new_signup_flag = '*'"))
	assert.Equal(t, 2, testdb.Count(t, conn, "if_rakuten_card WHERE tab_no = 1 AND payment_month IS NULL"))
}

func TestReplaceRequiredMissing(t *testing.T) {
	conn := testdb.New(t)
	ctx := context.Background()

	err := testdb.InTx(t, conn, func(tx pgx.Tx) error {
		_, err := staging.New(nil).Replace(ctx, tx, "if_zaim_budget", staging.Input{
			Schema:   &staging.ZaimBudget,
			Path:     filepath.Join(t.TempDir(), "absent.csv"),
			Required: true,
		})
		return err
	})
	assert.True(t, errors.Is(err, staging.ErrInputMissing))
}

func TestReplaceMalformedRowRollsBack(t *testing.T) {
	conn := testdb.New(t)
	ctx := context.Background()
	testdb.Exec(t, conn, "INSERT INTO if_zaim_budget (if_zaim_year_month, if_zaim_category, if_zaim_budget_amount) VALUES ('2024-01-01', '食費', 1)")

	path := writeFile(t, "budget.csv", "年月,カテゴリ,予算\n"+
		"2024-03,食費,40000\n"+
		"2024-03\n")

	err := testdb.InTx(t, conn, func(tx pgx.Tx) error {
		_, err := staging.New(nil).Replace(ctx, tx, "if_zaim_budget", staging.Input{
			Schema: &staging.ZaimBudget,
			Path:   path,
		})
		return err
	})

	var mre *staging.MalformedRowError
	require.ErrorAs(t, err, &mre)
	assert.Equal(t, 3, mre.Line)
	assert.Equal(t, 1, testdb.Count(t, conn, "if_zaim_budget WHERE if_zaim_year_month = '2024-01-01'"), "staging is untouched after a failed load")
}

func TestReplaceRejectsForeignSchema(t *testing.T) {
	conn := testdb.New(t)
	ctx := context.Background()

	err := testdb.InTx(t, conn, func(tx pgx.Tx) error {
		_, err := staging.New(nil).Replace(ctx, tx, "if_zaim", staging.Input{Schema: &staging.ZaimBudget})
		return err
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "targets if_zaim_budget"))
}

func TestReplaceRejectsReorderedHeader(t *testing.T) {
	conn := testdb.New(t)
	ctx := context.Background()

	path := writeFile(t, "zaim.csv",
		"日付,方法,カテゴリ,カテゴリの内訳,支払元,入金先,品目,メモ,お店,通貨,支出,収入,振替,残高調整,通貨変換前の金額,集計の設定\n"+
			"2024-03-05,payment,食費,食料品,財布,,牛乳,,スーパー,JPY,280,,,,,常に集計に含める\n")

	err := testdb.InTx(t, conn, func(tx pgx.Tx) error {
		_, err := staging.New(nil).Replace(ctx, tx, "if_zaim", staging.Input{
			Schema: &staging.ZaimHistory,
			Path:   path,
		})
		return err
	})

	var mre *staging.MalformedRowError
	require.ErrorAs(t, err, &mre)
	assert.Equal(t, 1, mre.Line)
	assert.Zero(t, testdb.Count(t, conn, "if_zaim"))
}

func TestReplaceReportsPhysicalLine(t *testing.T) {
	conn := testdb.New(t)
	ctx := context.Background()

	// The quoted category spans lines 2 and 3, so the short row is on line 4.
	path := writeFile(t, "budget.csv", "年月,カテゴリ,予算\n"+
		"2024-03,\"食費\n外食\",40000\n"+
		"2024-03\n")

	err := testdb.InTx(t, conn, func(tx pgx.Tx) error {
		_, err := staging.New(nil).Replace(ctx, tx, "if_zaim_budget", staging.Input{
			Schema: &staging.ZaimBudget,
			Path:   path,
		})
		return err
	})

	var mre *staging.MalformedRowError
	require.ErrorAs(t, err, &mre)
	assert.Equal(t, 4, mre.Line)
}
