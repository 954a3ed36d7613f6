package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ArionMiles/recsav/pkg/api"
)

// Resolution is the outcome of matching one merchant name.
type Resolution struct {
	CategoryCode int
	// Excluded rows must not reach the ledger.
	Excluded bool
	// Key is the winning mapping key, or the vetoing one when Excluded.
	// Empty when nothing matched.
	Key string
}

// Rules is a loaded snapshot of category_mapping_config.
type Rules struct {
	rules []api.MappingRule
}

// NewRules builds a rule set, dropping rules with an empty key.
func NewRules(rules []api.MappingRule) *Rules {
	kept := make([]api.MappingRule, 0, len(rules))
	for _, r := range rules {
		if r.Key == "" {
			continue
		}
		kept = append(kept, r)
	}
	return &Rules{rules: kept}
}

// LoadRules reads category_mapping_config. Rules with an empty key would
// match every merchant, so they are skipped with a warning.
func LoadRules(ctx context.Context, db api.DB, logger *slog.Logger) (*Rules, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rows, err := db.Query(ctx, `
		SELECT mapping_key_nm, category_cd,
		       linking_excluded_flg IS NOT NULL
		FROM category_mapping_config
		ORDER BY category_mapping_config_seq
	`)
	if err != nil {
		return nil, fmt.Errorf("querying category_mapping_config: %w", err)
	}

	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.MappingRule, error) {
		var r api.MappingRule
		err := row.Scan(&r.Key, &r.CategoryCode, &r.Excluded)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning category_mapping_config: %w", err)
	}

	for _, r := range rules {
		if r.Key == "" {
			logger.Warn("ignoring mapping rule with empty key", "category_cd", r.CategoryCode)
		}
	}
	return NewRules(rules), nil
}

// Len returns the number of usable rules.
func (r *Rules) Len() int {
	return len(r.rules)
}

// Resolve maps a merchant name to a category. Keys match as case-sensitive
// substrings. Any matching exclusion rule vetoes the merchant. Otherwise the
// longest matching key wins, ties going to the lowest category code, and a
// merchant nothing matches is uncategorized.
func (r *Rules) Resolve(merchant string) Resolution {
	var best *api.MappingRule
	for i := range r.rules {
		rule := &r.rules[i]
		if !strings.Contains(merchant, rule.Key) {
			continue
		}
		if rule.Excluded {
			return Resolution{CategoryCode: rule.CategoryCode, Excluded: true, Key: rule.Key}
		}
		if best == nil ||
			len(rule.Key) > len(best.Key) ||
			(len(rule.Key) == len(best.Key) && rule.CategoryCode < best.CategoryCode) {
			best = rule
		}
	}

	if best == nil {
		return Resolution{CategoryCode: api.UncategorizedCode}
	}
	return Resolution{CategoryCode: best.CategoryCode, Key: best.Key}
}
