// Package postgres manages the single PostgreSQL connection an invocation
// uses, the embedded schema, and the linking_data audit trail.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ArionMiles/recsav/pkg/api"
)

//go:embed schema.sql
var schemaSQL string

// Config holds the PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// ConnectAttempts is the number of connection attempts before giving up.
	ConnectAttempts int
	// RetryDelay is the wait between connection attempts.
	RetryDelay time.Duration
	// ConnectTimeout bounds each individual attempt.
	ConnectTimeout time.Duration
}

// ConnString builds a libpq URL from the configuration.
func (c Config) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
}

// Connect opens one connection and pings it. Failed attempts are retried
// except for authentication and unknown-database errors, which do not heal.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*pgx.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.setDefaults()

	connConfig, err := pgx.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	connConfig.ConnectTimeout = cfg.ConnectTimeout

	var conn *pgx.Conn
	err = retry.Do(
		func() error {
			c, err := pgx.ConnectConfig(ctx, connConfig)
			if err != nil {
				return err
			}
			if err := c.Ping(ctx); err != nil {
				c.Close(context.Background())
				return err
			}
			conn = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(cfg.ConnectAttempts)),
		retry.Delay(cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("connecting to PostgreSQL failed, retrying",
				"attempt", n+1,
				"error", err,
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
	)
	return conn, nil
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28P01", "28000", "3D000":
			return false
		}
	}
	return !errors.Is(err, context.Canceled)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db api.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("running database migrations")

	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}

	logger.Info("migrations completed successfully")
	return nil
}

// MarkLinked records a successful run for a linking data type.
func MarkLinked(ctx context.Context, db api.DB, t api.LinkingDataType, at time.Time) error {
	_, err := db.Exec(ctx, `
		INSERT INTO linking_data (linking_data_type, last_linking_date)
		VALUES ($1, $2)
		ON CONFLICT (linking_data_type) DO UPDATE SET
			last_linking_date = EXCLUDED.last_linking_date
	`, int(t), at)
	if err != nil {
		return fmt.Errorf("updating linking_data for %s: %w", t, err)
	}
	return nil
}

// LinkingStatus is one linking_data row.
type LinkingStatus struct {
	Type            api.LinkingDataType
	LastLinkingDate *time.Time
}

// LinkingStatuses returns every linking_data row ordered by type.
func LinkingStatuses(ctx context.Context, db api.DB) ([]LinkingStatus, error) {
	rows, err := db.Query(ctx, `
		SELECT linking_data_type, last_linking_date
		FROM linking_data
		ORDER BY linking_data_type
	`)
	if err != nil {
		return nil, fmt.Errorf("querying linking_data: %w", err)
	}

	statuses, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LinkingStatus, error) {
		var (
			s  LinkingStatus
			lt int16
		)
		err := row.Scan(&lt, &s.LastLinkingDate)
		s.Type = api.LinkingDataType(lt)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning linking_data: %w", err)
	}
	return statuses, nil
}
