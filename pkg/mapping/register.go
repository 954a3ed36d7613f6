// Package mapping owns the category and store reference data: it registers
// names seen in staging for the first time and resolves card merchants to
// categories through category_mapping_config.
package mapping

import (
	"context"
	"fmt"

	"github.com/ArionMiles/recsav/pkg/api"
)

// autoDisplayOrder is the display order given to auto-registered categories.
const autoDisplayOrder = 9999

// RegisterZaimCategories inserts every category name used by an eligible
// expense-tracker row that is not yet in category. The type comes from the
// row's method; a name used by both methods is registered as income.
func RegisterZaimCategories(ctx context.Context, db api.DB) (int64, error) {
	tag, err := db.Exec(ctx, `
		INSERT INTO category (category_nm, category_type, display_order)
		SELECT iz.if_zaim_category,
		       MIN(CASE WHEN iz.if_zaim_method = $1 THEN $3 ELSE $4 END),
		       $5
		FROM if_zaim iz
		WHERE iz.if_zaim_aggregation_settings = $6
		  AND iz.if_zaim_method IN ($1, $2)
		  AND COALESCE(iz.if_zaim_category, '') <> ''
		  AND NOT EXISTS (
		      SELECT 1 FROM category c WHERE c.category_nm = iz.if_zaim_category
		  )
		GROUP BY iz.if_zaim_category
	`, api.MethodIncome, api.MethodPayment,
		string(api.CategoryTypeIncome), string(api.CategoryTypeExpense),
		autoDisplayOrder, api.AggregationIncluded)
	if err != nil {
		return 0, fmt.Errorf("registering expense-tracker categories: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RegisterZaimStores inserts every store name used by an eligible
// expense-tracker row that is not yet in store. The "-" placeholder is never
// registered.
func RegisterZaimStores(ctx context.Context, db api.DB) (int64, error) {
	tag, err := db.Exec(ctx, `
		INSERT INTO store (store_nm)
		SELECT DISTINCT iz.if_zaim_store
		FROM if_zaim iz
		WHERE iz.if_zaim_aggregation_settings = $1
		  AND iz.if_zaim_method IN ($2, $3)
		  AND COALESCE(iz.if_zaim_store, '') NOT IN ('', $4)
		  AND NOT EXISTS (
		      SELECT 1 FROM store s WHERE s.store_nm = iz.if_zaim_store
		  )
	`, api.AggregationIncluded, api.MethodIncome, api.MethodPayment, api.StorePlaceholder)
	if err != nil {
		return 0, fmt.Errorf("registering expense-tracker stores: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RegisterCardStores inserts every staged card merchant name not yet in store.
func RegisterCardStores(ctx context.Context, db api.DB) (int64, error) {
	tag, err := db.Exec(ctx, `
		INSERT INTO store (store_nm)
		SELECT DISTINCT irc.merchant_product_name
		FROM if_rakuten_card irc
		WHERE COALESCE(irc.merchant_product_name, '') NOT IN ('', $1)
		  AND NOT EXISTS (
		      SELECT 1 FROM store s WHERE s.store_nm = irc.merchant_product_name
		  )
	`, api.StorePlaceholder)
	if err != nil {
		return 0, fmt.Errorf("registering card stores: %w", err)
	}
	return tag.RowsAffected(), nil
}
