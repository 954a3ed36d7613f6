package ledger

import (
	"context"
	"fmt"

	"github.com/ArionMiles/recsav/pkg/api"
)

// ReconcileBudget replaces budget over the months staged in if_zaim_budget,
// then fills every (month, income category) that still has no budget row
// with that month's posted income. Run it after ReconcileExpenseTracker so
// the backfill sees the fresh income rows.
func (r *Reconciler) ReconcileBudget(ctx context.Context, db api.DB) (Result, error) {
	n, staged, err := stagedRange(ctx, db, "if_zaim_budget", "if_zaim_year_month")
	if err != nil {
		return Result{}, err
	}
	if n == 0 {
		r.logger.Info("if_zaim_budget is empty, nothing to reconcile")
		return Result{Skipped: true}, nil
	}

	res := Result{
		Window: api.MonthWindow(staged.Start, staged.End),
		Staged: n,
	}
	r.logger.Info("reconciling budget", "window", res.Window.String(), "staged", n)

	tag, err := db.Exec(ctx,
		"DELETE FROM budget WHERE budget_year_month BETWEEN $1 AND $2",
		res.Window.Start, res.Window.End)
	if err != nil {
		return res, fmt.Errorf("clearing budget window: %w", err)
	}
	res.Deleted = tag.RowsAffected()

	tag, err = db.Exec(ctx, `
		INSERT INTO budget (budget_year_month, category_cd, budget_amount, budget_remarks)
		SELECT DATE_TRUNC('month', izb.if_zaim_year_month)::date,
		       c.category_cd,
		       izb.if_zaim_budget_amount,
		       NULL
		FROM if_zaim_budget izb
		JOIN category c
		  ON c.category_nm = izb.if_zaim_category
		ORDER BY izb.if_zaim_year_month, c.display_order, c.category_cd
	`)
	if err != nil {
		return res, fmt.Errorf("posting budget: %w", err)
	}
	res.Inserted = tag.RowsAffected()

	var unknown int64
	if err := db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM if_zaim_budget izb
		WHERE NOT EXISTS (SELECT 1 FROM category c WHERE c.category_nm = izb.if_zaim_category)
	`).Scan(&unknown); err != nil {
		return res, fmt.Errorf("checking budget categories: %w", err)
	}
	if unknown > 0 {
		r.logger.Warn("budget rows reference unknown categories and were not posted", "rows", unknown)
	}

	tag, err = db.Exec(ctx, `
		INSERT INTO budget (budget_year_month, category_cd, budget_amount, budget_remarks)
		SELECT DATE_TRUNC('month', i.income_date)::date,
		       i.category_cd,
		       SUM(i.income_amount),
		       STRING_AGG(i.income_remarks, ' ' ORDER BY i.income_date, i.income_seq)
		FROM income i
		WHERE NOT EXISTS (
		    SELECT 1
		    FROM budget b
		    WHERE b.budget_year_month = DATE_TRUNC('month', i.income_date)::date
		      AND b.category_cd = i.category_cd
		)
		GROUP BY DATE_TRUNC('month', i.income_date)::date, i.category_cd
		ORDER BY 1, 2
	`)
	if err != nil {
		return res, fmt.Errorf("backfilling budget from income: %w", err)
	}
	res.Inserted += tag.RowsAffected()

	r.logger.Info("budget reconciled",
		"window", res.Window.String(),
		"deleted", res.Deleted,
		"inserted", res.Inserted,
		"backfilled", tag.RowsAffected(),
	)
	return res, nil
}
