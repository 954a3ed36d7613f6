// Package recurring posts the monthly recurring expenses configured in
// recurring_config to household_account_book.
package recurring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ArionMiles/recsav/pkg/api"
	"github.com/ArionMiles/recsav/pkg/store/postgres"
)

// IsTriggerDay reports whether entries are posted on d.
func IsTriggerDay(d time.Time) bool {
	return d.Day() == 1
}

// Result reports what one Post call did.
type Result struct {
	Date time.Time
	// Skipped is true when Date is not a trigger day.
	Skipped  bool
	Deleted  int64
	Inserted int64
}

// Option configures a Poster.
type Option func(*Poster)

// WithClock overrides the time source used for linking_data timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Poster) {
		p.now = now
	}
}

// Poster posts recurring entries.
type Poster struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Poster.
func New(logger *slog.Logger, opts ...Option) *Poster {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poster{
		logger: logger.With("component", "recurring"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Post replaces the recurring entries dated date with one row per active
// monthly config. On any day other than the first of a month it does
// nothing and reports Skipped.
func (p *Poster) Post(ctx context.Context, db api.DB, date time.Time) (Result, error) {
	date = api.DateOf(date)
	res := Result{Date: date}

	if !IsTriggerDay(date) {
		p.logger.Info("not the first day of the month, skipping recurring entries",
			"date", date.Format(time.DateOnly))
		res.Skipped = true
		return res, nil
	}

	tag, err := db.Exec(ctx, `
		DELETE FROM household_account_book
		WHERE actual_date = $1
		  AND linking_data_type = $2
	`, date, int(api.LinkingRecurring))
	if err != nil {
		return res, fmt.Errorf("clearing recurring entries for %s: %w", date.Format(time.DateOnly), err)
	}
	res.Deleted = tag.RowsAffected()

	configs, err := ActiveConfigs(ctx, db)
	if err != nil {
		return res, err
	}

	if len(configs) == 0 {
		p.logger.Info("no active recurring configs, nothing to post")
	} else {
		batch := &pgx.Batch{}
		for _, c := range configs {
			batch.Queue(`
				INSERT INTO household_account_book
					(actual_date, category_cd, store_cd, amount, remarks, linking_data_type)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, date, c.CategoryCode, c.StoreCode, c.Amount, c.Remarks, int(c.LinkingDataType))
		}
		if err := db.SendBatch(ctx, batch).Close(); err != nil {
			return res, fmt.Errorf("posting recurring entries: %w", err)
		}
		res.Inserted = int64(len(configs))
	}

	if err := postgres.MarkLinked(ctx, db, api.LinkingRecurring, p.now()); err != nil {
		return res, err
	}

	p.logger.Info("recurring entries posted",
		"date", date.Format(time.DateOnly),
		"deleted", res.Deleted,
		"inserted", res.Inserted,
	)
	return res, nil
}

// ActiveConfigs returns the active monthly recurring configs.
func ActiveConfigs(ctx context.Context, db api.DB) ([]api.RecurringConfig, error) {
	rows, err := db.Query(ctx, `
		SELECT category_cd, store_cd, amount, remarks, linking_data_type
		FROM recurring_config
		WHERE active_flg = $1
		  AND execution_interval_type = $2
		ORDER BY recurring_config_seq
	`, api.FlagOn, api.IntervalMonthly)
	if err != nil {
		return nil, fmt.Errorf("querying recurring_config: %w", err)
	}

	configs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.RecurringConfig, error) {
		var (
			c  api.RecurringConfig
			lt int16
		)
		err := row.Scan(&c.CategoryCode, &c.StoreCode, &c.Amount, &c.Remarks, &lt)
		c.LinkingDataType = api.LinkingDataType(lt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning recurring_config: %w", err)
	}
	return configs, nil
}
