package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ArionMiles/recsav/pkg/api"
	"github.com/ArionMiles/recsav/pkg/mapping"
	"github.com/ArionMiles/recsav/pkg/store/postgres"
)

// postingKey identifies card postings that count as the same purchase.
type postingKey struct {
	date   string
	store  string
	amount string
}

func newPostingKey(date time.Time, store *int, amount string) postingKey {
	k := postingKey{date: date.Format(time.DateOnly), amount: amount}
	if store != nil {
		k.store = strconv.Itoa(*store)
	}
	return k
}

func amountKey(d api.CardRow) string {
	if !d.Amount.Valid {
		return ""
	}
	return d.Amount.Decimal.String()
}

// ReconcileCard appends staged card transactions to household_account_book.
// A staged row is posted unless an identical (date, store, amount) card row
// is already there; identical purchases are counted, so two genuine repeats
// on one day are both posted once and a re-run posts nothing.
func (r *Reconciler) ReconcileCard(ctx context.Context, db api.DB) (Result, error) {
	n, window, err := stagedRange(ctx, db, "if_rakuten_card", "usage_date")
	if err != nil {
		return Result{}, err
	}
	if n == 0 {
		r.logger.Info("if_rakuten_card is empty, nothing to reconcile")
		return Result{Skipped: true}, nil
	}

	res := Result{Window: window, Staged: n}
	r.logger.Info("reconciling card transactions", "window", window.String(), "staged", n)

	if res.Registered, err = mapping.RegisterCardStores(ctx, db); err != nil {
		return res, err
	}
	if res.Registered > 0 {
		r.logger.Info("registered new stores", "stores", res.Registered)
	}

	rules, err := mapping.LoadRules(ctx, db, r.logger)
	if err != nil {
		return res, err
	}

	staged, err := stagedCardRows(ctx, db)
	if err != nil {
		return res, err
	}
	posted, err := postedCardCounts(ctx, db, window)
	if err != nil {
		return res, err
	}

	batch := &pgx.Batch{}
	for _, row := range staged {
		resolution := rules.Resolve(row.Merchant)
		if resolution.Excluded {
			r.logger.Debug("card row excluded by mapping rule",
				"seq", row.Seq,
				"merchant", row.Merchant,
				"key", resolution.Key,
			)
			res.Excluded++
			continue
		}

		key := newPostingKey(row.UsageDate, row.StoreCode, amountKey(row))
		if posted[key] > 0 {
			posted[key]--
			res.Duplicates++
			continue
		}

		batch.Queue(`
			INSERT INTO household_account_book
				(actual_date, category_cd, store_cd, amount, remarks, linking_data_type)
			VALUES ($1, $2, $3, $4, NULL, $5)
		`, row.UsageDate, resolution.CategoryCode, row.StoreCode, row.Amount, int(api.LinkingCard))
	}

	if batch.Len() > 0 {
		if err := db.SendBatch(ctx, batch).Close(); err != nil {
			return res, fmt.Errorf("posting card transactions: %w", err)
		}
	}
	res.Inserted = int64(batch.Len())

	if err := postgres.MarkLinked(ctx, db, api.LinkingCard, r.now()); err != nil {
		return res, err
	}

	r.logger.Info("card transactions reconciled",
		"window", window.String(),
		"inserted", res.Inserted,
		"duplicates", res.Duplicates,
		"excluded", res.Excluded,
	)
	return res, nil
}

func stagedCardRows(ctx context.Context, db api.DB) ([]api.CardRow, error) {
	rows, err := db.Query(ctx, `
		SELECT irc.if_rakuten_card_seq,
		       irc.usage_date,
		       COALESCE(irc.merchant_product_name, ''),
		       s.store_cd,
		       irc.total_payment_amount
		FROM if_rakuten_card irc
		LEFT JOIN store s
		  ON s.store_nm = irc.merchant_product_name
		ORDER BY irc.usage_date, irc.if_rakuten_card_seq
	`)
	if err != nil {
		return nil, fmt.Errorf("querying if_rakuten_card: %w", err)
	}

	staged, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.CardRow, error) {
		var c api.CardRow
		err := row.Scan(&c.Seq, &c.UsageDate, &c.Merchant, &c.StoreCode, &c.Amount)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning if_rakuten_card: %w", err)
	}
	return staged, nil
}

// postedCardCounts counts existing card postings inside the window per key.
func postedCardCounts(ctx context.Context, db api.DB, window api.Window) (map[postingKey]int, error) {
	rows, err := db.Query(ctx, `
		SELECT actual_date, store_cd, amount
		FROM household_account_book
		WHERE linking_data_type = $1
		  AND actual_date BETWEEN $2 AND $3
	`, int(api.LinkingCard), window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("querying posted card transactions: %w", err)
	}

	existing, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.CardRow, error) {
		var c api.CardRow
		err := row.Scan(&c.UsageDate, &c.StoreCode, &c.Amount)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning posted card transactions: %w", err)
	}

	counts := make(map[postingKey]int, len(existing))
	for _, c := range existing {
		counts[newPostingKey(c.UsageDate, c.StoreCode, amountKey(c))]++
	}
	return counts, nil
}
