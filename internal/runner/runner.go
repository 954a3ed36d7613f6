// Package runner executes pipeline stages inside a single database
// transaction.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("runner is closed")

// Conn is the connection a Runner owns. *pgx.Conn satisfies it.
type Conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close(ctx context.Context) error
}

// Func is the body of a stage. Everything it does through tx is committed
// together or not at all.
type Func func(ctx context.Context, tx pgx.Tx) error

// Runner wraps stage bodies in begin / commit / rollback.
type Runner struct {
	conn   Conn
	logger *slog.Logger
}

// New creates a runner that owns conn until Close.
func New(conn Conn, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		conn:   conn,
		logger: logger,
	}
}

// Run executes fn in a new transaction. The transaction is committed once
// when fn returns nil and rolled back when fn fails or panics.
func (r *Runner) Run(ctx context.Context, name string, fn Func) (err error) {
	if r.conn == nil {
		return ErrClosed
	}

	start := time.Now()
	r.logger.Info("START", "stage", name)

	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return r.fail(name, errors.Wrap(err, "beginning transaction"))
	}

	defer func() {
		if p := recover(); p != nil {
			r.rollback(tx, name)
			err = r.fail(name, errors.Errorf("panic in stage: %v", p))
		}
	}()

	if err := fn(ctx, tx); err != nil {
		r.rollback(tx, name)
		return r.fail(name, errors.WithStack(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return r.fail(name, errors.Wrap(err, "committing transaction"))
	}

	r.logger.Info("END", "stage", name, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// Close releases the connection. Further calls to Run return ErrClosed.
func (r *Runner) Close(ctx context.Context) error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close(ctx)
	r.conn = nil
	if err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

// rollback uses a fresh context so a cancelled run still rolls back.
func (r *Runner) rollback(tx pgx.Tx, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		r.logger.Warn("rollback failed", "stage", name, "error", err)
		return
	}
	r.logger.Warn("transaction rolled back", "stage", name)
}

func (r *Runner) fail(name string, err error) error {
	attrs := []any{
		"stage", name,
		"error", err.Error(),
		"trace", fmt.Sprintf("%+v", err),
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		attrs = append(attrs,
			"sqlstate", pgErr.Code,
			"detail", pgErr.Detail,
			"constraint", pgErr.ConstraintName,
			"table", pgErr.TableName,
			"where", pgErr.Where,
		)
	}

	r.logger.Error("stage failed", attrs...)
	return err
}
