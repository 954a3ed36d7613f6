package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kJson "github.com/knadh/koanf/parsers/json"
	kYaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultFile is the settings file read when no -config flag is given.
const DefaultFile = "settings.yaml"

// EnvPrefix is stripped from environment overrides.
// RECSAV_POSTGRES_HOST overrides postgres.host.
const EnvPrefix = "RECSAV_"

// Config holds the application configuration loaded from the settings file
// and environment variables.
type Config struct {
	Postgres PostgresConfig `koanf:"postgres"`
	Zaim     ZaimConfig     `koanf:"zaim"`
	Card     CardConfig     `koanf:"card"`
	Output   OutputConfig   `koanf:"output"`
	Log      LogConfig      `koanf:"log"`
	Fetch    FetchConfig    `koanf:"fetch"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	SSLMode  string `koanf:"sslmode"`

	// ConnectAttempts is how many times a failed connection is retried.
	ConnectAttempts int `koanf:"connect_attempts"`
}

// ZaimConfig describes the expense-tracker CSV files.
type ZaimConfig struct {
	HistoryCSV string `koanf:"history_csv"`
	BudgetCSV  string `koanf:"budget_csv"`
	// Encoding is "utf-8" or "shift_jis".
	Encoding string `koanf:"encoding"`
	// Required makes a missing CSV fatal instead of a skipped source.
	Required bool `koanf:"required"`
}

// CardConfig describes the card-issuer CSV files.
// Tab N is read from <output.dir>/<csv_prefix>_tabN.csv.
type CardConfig struct {
	CSVPrefix string `koanf:"csv_prefix"`
	Tabs      []int  `koanf:"tabs"`
	Encoding  string `koanf:"encoding"`
	Required  bool   `koanf:"required"`
}

// OutputConfig is where fetched CSV files are deposited.
type OutputConfig struct {
	Dir string `koanf:"dir"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Path  string `koanf:"path"`
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// FetchConfig configures the external download commands.
type FetchConfig struct {
	ZaimCommand []string      `koanf:"zaim_command"`
	CardCommand []string      `koanf:"card_command"`
	Attempts    int           `koanf:"attempts"`
	Delay       time.Duration `koanf:"delay"`
	Timeout     time.Duration `koanf:"timeout"`
}

// Load reads the settings file at path (YAML or JSON, chosen by extension)
// and overlays RECSAV_* environment variables. A missing file is not an error
// when path is the default, so a fully env-driven setup works.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil || path != DefaultFile {
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// envKey maps RECSAV_POSTGRES_SSLMODE to postgres.sslmode. Only the first
// underscore separates the section, so keys like zaim.history_csv survive.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return kJson.Parser()
	default:
		return kYaml.Parser()
	}
}

func (c *Config) applyDefaults() {
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.ConnectAttempts == 0 {
		c.Postgres.ConnectAttempts = 3
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "output"
	}
	if c.Zaim.HistoryCSV == "" {
		c.Zaim.HistoryCSV = "zaim_history.csv"
	}
	if c.Zaim.BudgetCSV == "" {
		c.Zaim.BudgetCSV = "zaim_budget.csv"
	}
	if c.Card.CSVPrefix == "" {
		c.Card.CSVPrefix = "rakuten_card"
	}
	if len(c.Card.Tabs) == 0 {
		c.Card.Tabs = []int{0, 1, 2}
	}
	if c.Fetch.Attempts == 0 {
		c.Fetch.Attempts = 2
	}
	if c.Fetch.Delay == 0 {
		c.Fetch.Delay = 30 * time.Second
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 5 * time.Minute
	}
}

// Validate checks the fields every database-backed command needs.
func (c *Config) Validate() error {
	if c.Postgres.Database == "" {
		return fmt.Errorf("postgres.database is required")
	}
	if c.Postgres.User == "" {
		return fmt.Errorf("postgres.user is required")
	}
	for _, tab := range c.Card.Tabs {
		if tab < 0 || tab > 2 {
			return fmt.Errorf("card.tabs: unsupported tab %d", tab)
		}
	}
	for name, enc := range map[string]string{"zaim.encoding": c.Zaim.Encoding, "card.encoding": c.Card.Encoding} {
		switch strings.ToLower(enc) {
		case "", "utf-8", "utf8", "shift_jis", "sjis":
		default:
			return fmt.Errorf("%s: unsupported encoding %q", name, enc)
		}
	}
	return nil
}

// ZaimHistoryPath is the full path of the expense-tracker history CSV.
func (c *Config) ZaimHistoryPath() string {
	return filepath.Join(c.Output.Dir, c.Zaim.HistoryCSV)
}

// ZaimBudgetPath is the full path of the expense-tracker budget CSV.
func (c *Config) ZaimBudgetPath() string {
	return filepath.Join(c.Output.Dir, c.Zaim.BudgetCSV)
}

// CardTabPath is the full path of one card portal tab CSV.
func (c *Config) CardTabPath(tab int) string {
	return filepath.Join(c.Output.Dir, fmt.Sprintf("%s_tab%d.csv", c.Card.CSVPrefix, tab))
}
