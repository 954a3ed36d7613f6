// Package staging loads source CSV files verbatim into the if_* staging
// tables. Each table is emptied first, so staging always mirrors the latest
// files.
package staging

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ArionMiles/recsav/pkg/api"
)

// ErrInputMissing is returned when a source CSV does not exist.
var ErrInputMissing = errors.New("input file missing")

// MalformedRowError reports a CSV row that cannot be staged.
type MalformedRowError struct {
	Source api.Source
	Line   int
	Reason string
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("%s line %d: %s", e.Source, e.Line, e.Reason)
}

// batchSize bounds the number of queued INSERTs per round trip.
const batchSize = 500

// Input is one CSV file destined for a staging table.
type Input struct {
	Schema *Schema
	Path   string
	// Encoding is "utf-8" (default, BOM tolerated) or "shift_jis".
	Encoding string
	// Required turns a missing file into an error instead of a skipped source.
	Required bool
}

// Result summarises one Replace call.
type Result struct {
	Table string
	// Rows is the number of rows inserted across all inputs.
	Rows int
	// Skipped lists sources whose file was missing.
	Skipped []api.Source
}

// Loader stages CSV files.
type Loader struct {
	logger *slog.Logger
}

// New creates a Loader.
func New(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Replace empties table and loads every input into it in order. Missing
// optional inputs are logged and skipped; anything else aborts the load and
// leaves rollback to the caller's transaction.
func (l *Loader) Replace(ctx context.Context, db api.DB, table string, inputs ...Input) (Result, error) {
	res := Result{Table: table}

	for _, in := range inputs {
		if in.Schema.Table != table {
			return res, fmt.Errorf("schema %s targets %s, not %s", in.Schema.Source, in.Schema.Table, table)
		}
	}

	if err := Truncate(ctx, db, table); err != nil {
		return res, err
	}

	for _, in := range inputs {
		n, err := l.Load(ctx, db, in)
		if errors.Is(err, ErrInputMissing) && !in.Required {
			l.logger.Warn("input file missing, skipping source",
				"source", in.Schema.Source,
				"path", in.Path,
			)
			res.Skipped = append(res.Skipped, in.Schema.Source)
			continue
		}
		if err != nil {
			return res, err
		}
		res.Rows += n
	}

	l.logger.Info("staging table loaded", "table", table, "rows", res.Rows)
	return res, nil
}

// Truncate deletes every row of a staging table.
func Truncate(ctx context.Context, db api.DB, table string) error {
	if _, err := db.Exec(ctx, "DELETE FROM "+pgx.Identifier{table}.Sanitize()); err != nil {
		return fmt.Errorf("clearing %s: %w", table, err)
	}
	return nil
}

// Load appends the rows of one CSV to its staging table and returns the
// number of rows inserted. The first row is a header and is not stored.
func (l *Loader) Load(ctx context.Context, db api.DB, in Input) (int, error) {
	f, err := os.Open(in.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%s: %s: %w", in.Schema.Source, in.Path, ErrInputMissing)
	}
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", in.Path, err)
	}
	defer f.Close()

	r := csv.NewReader(decode(f, in.Encoding))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		l.logger.Warn("input file is empty", "source", in.Schema.Source, "path", in.Path)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading header of %s: %w", in.Path, err)
	}
	if err := in.Schema.Validate(header); err != nil {
		return 0, err
	}

	insert := in.Schema.InsertSQL()
	batch := &pgx.Batch{}
	lines := make([]int, 0, batchSize)
	inserted, skipped := 0, 0

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		br := db.SendBatch(ctx, batch)
		for _, line := range lines {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("inserting %s line %d: %w", in.Schema.Source, line, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("inserting %s: %w", in.Schema.Source, err)
		}
		inserted += len(lines)
		batch = &pgx.Batch{}
		lines = lines[:0]
		return nil
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("reading %s: %w", in.Path, err)
		}
		// Quoted fields may span lines, so report where the record starts.
		line, _ := r.FieldPos(0)

		args, skip, err := in.Schema.Parse(record, line)
		if err != nil {
			return 0, err
		}
		if skip {
			skipped++
			continue
		}

		batch.Queue(insert, args...)
		lines = append(lines, line)
		if batch.Len() >= batchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}

	l.logger.Debug("staged csv",
		"source", in.Schema.Source,
		"path", in.Path,
		"rows", inserted,
		"skipped_blank", skipped,
	)
	return inserted, nil
}

func decode(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(encoding) {
	case "shift_jis", "sjis":
		return transform.NewReader(r, japanese.ShiftJIS.NewDecoder())
	default:
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	}
}
