// Package api defines the core interfaces and data structures for recsav.
package api

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DB is the subset of pgx used by the pipeline components.
// Both pgx.Tx and *pgx.Conn satisfy it; the pipeline always passes a pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Source identifies one CSV feed and its staging table.
type Source string

const (
	// SourceZaimHistory is the expense-tracker transaction history.
	SourceZaimHistory Source = "zaim_history"
	// SourceZaimBudget is the expense-tracker monthly budget export.
	SourceZaimBudget Source = "zaim_budget"
	// SourceCardTab0 is the current-statement tab of the card portal.
	SourceCardTab0 Source = "card_tab0"
	// SourceCardTab1 is the first unbilled tab of the card portal.
	SourceCardTab1 Source = "card_tab1"
	// SourceCardTab2 is the second unbilled tab of the card portal.
	SourceCardTab2 Source = "card_tab2"
)

// CardTabSource returns the card source for a portal tab number.
func CardTabSource(tab int) (Source, bool) {
	switch tab {
	case 0:
		return SourceCardTab0, true
	case 1:
		return SourceCardTab1, true
	case 2:
		return SourceCardTab2, true
	}
	return "", false
}

// CategoryType distinguishes income from expense categories.
type CategoryType string

const (
	CategoryTypeIncome  CategoryType = "1"
	CategoryTypeExpense CategoryType = "2"
)

// LinkingDataType tags the origin of a household_account_book row.
type LinkingDataType int

const (
	LinkingRecurring LinkingDataType = 0
	LinkingCard      LinkingDataType = 1
	LinkingManual    LinkingDataType = 2
)

func (t LinkingDataType) String() string {
	switch t {
	case LinkingRecurring:
		return "recurring"
	case LinkingCard:
		return "card"
	case LinkingManual:
		return "manual"
	}
	return "unknown"
}

const (
	// UncategorizedCode is assigned to card rows no mapping rule matches.
	UncategorizedCode = 1000

	// StorePlaceholder is the expense tracker's "no store" value.
	StorePlaceholder = "-"

	// AggregationIncluded marks expense-tracker rows that count towards totals.
	AggregationIncluded = "常に集計に含める"

	// MethodIncome and MethodPayment are the expense-tracker methods the
	// ledger cares about. Transfers are ignored.
	MethodIncome  = "income"
	MethodPayment = "payment"

	// IntervalMonthly is the recurring_config execution interval for monthly posting.
	IntervalMonthly = "1"

	// FlagOn is the textual "set" value of the schema's flag columns.
	FlagOn = "1"
)

// Window is an inclusive calendar date range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether d falls inside the window, comparing calendar dates only.
func (w Window) Contains(d time.Time) bool {
	day := DateOf(d)
	return !day.Before(DateOf(w.Start)) && !day.After(DateOf(w.End))
}

// String formats the window as "YYYY-MM-DD..YYYY-MM-DD".
func (w Window) String() string {
	return w.Start.Format(time.DateOnly) + ".." + w.End.Format(time.DateOnly)
}

// DateOf truncates t to midnight UTC of its calendar date.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStart returns the first day of t's month.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthEnd returns the last day of t's month.
func MonthEnd(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, -1)
}

// MonthWindow widens [from, to] to whole months.
func MonthWindow(from, to time.Time) Window {
	return Window{Start: MonthStart(from), End: MonthEnd(to)}
}

// MappingRule is one category_mapping_config row.
type MappingRule struct {
	Key          string
	CategoryCode int
	Excluded     bool
}

// RecurringConfig is one recurring_config template row.
type RecurringConfig struct {
	CategoryCode    int
	StoreCode       *int
	Amount          decimal.Decimal
	Remarks         *string
	LinkingDataType LinkingDataType
}

// CardRow is a staged card transaction joined with its registered store.
type CardRow struct {
	Seq       int64
	UsageDate time.Time
	Merchant  string
	StoreCode *int
	Amount    decimal.NullDecimal
}
