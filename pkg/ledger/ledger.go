// Package ledger reconciles the staging tables into the ledger tables.
//
// Three sub-pipelines share one Reconciler:
//
//   - expense tracker: if_zaim replaces income and expense over the whole
//     months the staged rows span.
//   - card: if_rakuten_card is appended to household_account_book, skipping
//     rows already posted, so overlapping downloads never double-post.
//   - budget: if_zaim_budget replaces budget over its month range, then
//     income is copied into budget wherever no budget row exists.
//
// Every method expects to run inside the caller's transaction and is a no-op
// when its staging table is empty.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ArionMiles/recsav/pkg/api"
)

// Result reports what one sub-pipeline did.
type Result struct {
	// Skipped is true when the staging table was empty.
	Skipped bool
	Window  api.Window
	// Staged is the number of staging rows considered.
	Staged int64
	// Registered counts categories and stores created on the fly.
	Registered int64
	Deleted    int64
	Inserted   int64
	// Unposted counts eligible expense-tracker rows whose category is
	// registered with the other type and so reached neither ledger table.
	Unposted int64
	// Excluded counts card rows vetoed by a mapping rule.
	Excluded int
	// Duplicates counts card rows already present in the ledger.
	Duplicates int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the time source used for linking_data timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// Reconciler posts staged data into the ledger.
type Reconciler struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Reconciler.
func New(logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// stagedRange returns the row count and date bounds of a staging column.
func stagedRange(ctx context.Context, db api.DB, table, column string) (int64, api.Window, error) {
	var (
		n           int64
		first, last *time.Time
	)
	err := db.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*), MIN(%[2]s), MAX(%[2]s) FROM %[1]s", table, column),
	).Scan(&n, &first, &last)
	if err != nil {
		return 0, api.Window{}, fmt.Errorf("reading %s date range: %w", table, err)
	}
	if n == 0 || first == nil || last == nil {
		return n, api.Window{}, nil
	}
	return n, api.Window{Start: api.DateOf(*first), End: api.DateOf(*last)}, nil
}
