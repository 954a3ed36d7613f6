package ledger

import (
	"context"
	"fmt"

	"github.com/ArionMiles/recsav/pkg/api"
	"github.com/ArionMiles/recsav/pkg/mapping"
)

// memoExpr joins category detail and remarks with a full-width space.
const memoExpr = "COALESCE(iz.if_zaim_category_detail, '') || '　' || COALESCE(iz.if_zaim_remarks, '')"

// flow describes one of the two expense-tracker ledger tables.
type flow struct {
	table         string
	dateColumn    string
	amountColumn  string
	remarksColumn string
	stagedAmount  string
	method        string
	categoryType  api.CategoryType
}

var (
	incomeFlow = flow{
		table:         "income",
		dateColumn:    "income_date",
		amountColumn:  "income_amount",
		remarksColumn: "income_remarks",
		stagedAmount:  "if_zaim_income_amount",
		method:        api.MethodIncome,
		categoryType:  api.CategoryTypeIncome,
	}
	expenseFlow = flow{
		table:         "expense",
		dateColumn:    "expense_date",
		amountColumn:  "expense_amount",
		remarksColumn: "expense_remarks",
		stagedAmount:  "if_zaim_expense_amount",
		method:        api.MethodPayment,
		categoryType:  api.CategoryTypeExpense,
	}
)

func (f flow) deleteSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s BETWEEN $1 AND $2", f.table, f.dateColumn)
}

// insertSQL aggregates eligible staging rows by (date, category, store, memo).
func (f flow) insertSQL() string {
	return fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, category_cd, store_cd, %[3]s, %[4]s)
		SELECT iz.if_zaim_date,
		       c.category_cd,
		       s.store_cd,
		       SUM(iz.%[5]s),
		       %[6]s
		FROM if_zaim iz
		JOIN category c
		  ON c.category_nm = iz.if_zaim_category
		 AND c.category_type = $1
		LEFT JOIN store s
		  ON s.store_nm = iz.if_zaim_store
		WHERE iz.if_zaim_aggregation_settings = $2
		  AND iz.if_zaim_method = $3
		GROUP BY iz.if_zaim_date, c.category_cd, s.store_cd, %[6]s
		ORDER BY iz.if_zaim_date, c.category_cd, s.store_cd
	`, f.table, f.dateColumn, f.amountColumn, f.remarksColumn, f.stagedAmount, memoExpr)
}

// unpostedSQL counts eligible staging rows the insert join drops because the
// category carries the other type.
func (f flow) unpostedSQL() string {
	return `
		SELECT COUNT(*)
		FROM if_zaim iz
		WHERE iz.if_zaim_aggregation_settings = $2
		  AND iz.if_zaim_method = $3
		  AND NOT EXISTS (
		      SELECT 1
		      FROM category c
		      WHERE c.category_nm = iz.if_zaim_category
		        AND c.category_type = $1
		  )
	`
}

// ReconcileExpenseTracker replaces income and expense for the whole months
// spanned by if_zaim. Categories and stores seen for the first time are
// registered before posting.
func (r *Reconciler) ReconcileExpenseTracker(ctx context.Context, db api.DB) (Result, error) {
	n, staged, err := stagedRange(ctx, db, "if_zaim", "if_zaim_date")
	if err != nil {
		return Result{}, err
	}
	if n == 0 {
		r.logger.Info("if_zaim is empty, nothing to reconcile")
		return Result{Skipped: true}, nil
	}

	res := Result{
		Window: api.MonthWindow(staged.Start, staged.End),
		Staged: n,
	}
	r.logger.Info("reconciling expense tracker", "window", res.Window.String(), "staged", n)

	for _, f := range []flow{incomeFlow, expenseFlow} {
		tag, err := db.Exec(ctx, f.deleteSQL(), res.Window.Start, res.Window.End)
		if err != nil {
			return res, fmt.Errorf("clearing %s window: %w", f.table, err)
		}
		res.Deleted += tag.RowsAffected()
	}

	cats, err := mapping.RegisterZaimCategories(ctx, db)
	if err != nil {
		return res, err
	}
	stores, err := mapping.RegisterZaimStores(ctx, db)
	if err != nil {
		return res, err
	}
	res.Registered = cats + stores
	if res.Registered > 0 {
		r.logger.Info("registered new reference data", "categories", cats, "stores", stores)
	}

	for _, f := range []flow{incomeFlow, expenseFlow} {
		tag, err := db.Exec(ctx, f.insertSQL(), string(f.categoryType), api.AggregationIncluded, f.method)
		if err != nil {
			return res, fmt.Errorf("posting %s: %w", f.table, err)
		}
		r.logger.Debug("posted rows", "table", f.table, "rows", tag.RowsAffected())
		res.Inserted += tag.RowsAffected()

		var unposted int64
		if err := db.QueryRow(ctx, f.unpostedSQL(), string(f.categoryType), api.AggregationIncluded, f.method).
			Scan(&unposted); err != nil {
			return res, fmt.Errorf("checking %s categories: %w", f.table, err)
		}
		if unposted > 0 {
			r.logger.Warn("staged rows not posted: category is registered with the other type",
				"table", f.table,
				"method", f.method,
				"rows", unposted,
			)
			res.Unposted += unposted
		}
	}

	r.logger.Info("expense tracker reconciled",
		"window", res.Window.String(),
		"deleted", res.Deleted,
		"inserted", res.Inserted,
	)
	return res, nil
}
