package stages

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ArionMiles/recsav/pkg/ledger"
	"github.com/ArionMiles/recsav/pkg/recurring"
	"github.com/ArionMiles/recsav/pkg/staging"
)

type importZaim struct{}

func (importZaim) Name() string { return "import-zaim" }

func (importZaim) Description() string {
	return "Load the expense-tracker history and budget CSVs into if_zaim and if_zaim_budget"
}

func (importZaim) Run(ctx context.Context, tx pgx.Tx, p Params) error {
	loader := staging.New(p.logger().With("component", "staging"))
	cfg := p.Config

	if _, err := loader.Replace(ctx, tx, staging.ZaimHistory.Table, staging.Input{
		Schema:   &staging.ZaimHistory,
		Path:     cfg.ZaimHistoryPath(),
		Encoding: cfg.Zaim.Encoding,
		Required: cfg.Zaim.Required,
	}); err != nil {
		return err
	}

	_, err := loader.Replace(ctx, tx, staging.ZaimBudget.Table, staging.Input{
		Schema:   &staging.ZaimBudget,
		Path:     cfg.ZaimBudgetPath(),
		Encoding: cfg.Zaim.Encoding,
		Required: cfg.Zaim.Required,
	})
	return err
}

type zaimToLedger struct{}

func (zaimToLedger) Name() string { return "zaim-to-ledger" }

func (zaimToLedger) Description() string {
	return "Post if_zaim into income/expense and if_zaim_budget into budget"
}

func (zaimToLedger) Run(ctx context.Context, tx pgx.Tx, p Params) error {
	r := ledger.New(p.logger())
	if _, err := r.ReconcileExpenseTracker(ctx, tx); err != nil {
		return err
	}
	_, err := r.ReconcileBudget(ctx, tx)
	return err
}

type importCard struct{}

func (importCard) Name() string { return "import-card" }

func (importCard) Description() string {
	return "Load the card portal tab CSVs into if_rakuten_card"
}

func (importCard) Run(ctx context.Context, tx pgx.Tx, p Params) error {
	cfg := p.Config
	inputs := make([]staging.Input, 0, len(cfg.Card.Tabs))
	for _, tab := range cfg.Card.Tabs {
		schema, err := staging.CardTab(tab)
		if err != nil {
			return err
		}
		inputs = append(inputs, staging.Input{
			Schema:   schema,
			Path:     cfg.CardTabPath(tab),
			Encoding: cfg.Card.Encoding,
			Required: cfg.Card.Required,
		})
	}

	_, err := staging.New(p.logger().With("component", "staging")).
		Replace(ctx, tx, "if_rakuten_card", inputs...)
	return err
}

type cardToLedger struct{}

func (cardToLedger) Name() string { return "card-to-ledger" }

func (cardToLedger) Description() string {
	return "Append new if_rakuten_card rows to household_account_book"
}

func (cardToLedger) Run(ctx context.Context, tx pgx.Tx, p Params) error {
	_, err := ledger.New(p.logger()).ReconcileCard(ctx, tx)
	return err
}

type recurringStage struct{}

func (recurringStage) Name() string { return "recurring" }

func (recurringStage) Description() string {
	return "Post recurring monthly entries on the first day of the month"
}

func (recurringStage) Run(ctx context.Context, tx pgx.Tx, p Params) error {
	_, err := recurring.New(p.logger()).Post(ctx, tx, p.Date)
	return err
}
