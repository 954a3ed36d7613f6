// Package stages provides a registry of the pipeline stages the CLI can run.
package stages

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ArionMiles/recsav/pkg/config"
)

// Params carries what a stage needs besides its transaction.
type Params struct {
	Config *config.Config
	// Date is the effective run date.
	Date   time.Time
	Logger *slog.Logger
}

func (p Params) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Stage is one database-backed pipeline step.
type Stage interface {
	// Name returns the CLI command name (e.g., "import-zaim").
	Name() string
	// Description returns a human-readable description.
	Description() string
	// Run performs the stage inside tx.
	Run(ctx context.Context, tx pgx.Tx, p Params) error
}

// Registry manages available stages.
type Registry struct {
	stages map[string]Stage
	order  []string
}

// NewRegistry creates a new, empty stage registry.
func NewRegistry() *Registry {
	return &Registry{
		stages: make(map[string]Stage),
	}
}

// Default returns a registry holding every pipeline stage in run order.
func Default() *Registry {
	r := NewRegistry()
	for _, s := range []Stage{
		importZaim{},
		zaimToLedger{},
		importCard{},
		cardToLedger{},
		recurringStage{},
	} {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a stage.
func (r *Registry) Register(stage Stage) error {
	name := stage.Name()
	if _, exists := r.stages[name]; exists {
		return fmt.Errorf("stage %q already registered", name)
	}
	r.stages[name] = stage
	r.order = append(r.order, name)
	return nil
}

// Get returns a stage by name.
func (r *Registry) Get(name string) (Stage, error) {
	stage, exists := r.stages[name]
	if !exists {
		return nil, fmt.Errorf("stage %q not found", name)
	}
	return stage, nil
}

// List returns all registered stages in registration order.
func (r *Registry) List() []Stage {
	stages := make([]Stage, 0, len(r.order))
	for _, name := range r.order {
		stages = append(stages, r.stages[name])
	}
	return stages
}
