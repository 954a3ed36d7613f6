package fetch

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/recsav/pkg/api"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestZaimWindow(t *testing.T) {
	tests := []struct {
		name  string
		today time.Time
		want  api.Window
	}{
		{"mid month", date(2024, 5, 17), api.Window{Start: date(2024, 3, 1), End: date(2024, 5, 31)}},
		{"crosses year", date(2024, 1, 31), api.Window{Start: date(2023, 11, 1), End: date(2024, 1, 31)}},
		{"leap february", date(2024, 2, 1), api.Window{Start: date(2023, 12, 1), End: date(2024, 2, 29)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ZaimWindow(tt.today))
		})
	}
}

func TestPrepareOutput(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"rakuten_card_tab0.csv", "rakuten_card_tab1.csv", "zaim_history.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	removed, err := PrepareOutput(dir, "rakuten_card")
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "zaim_history.csv", entries[0].Name())
}

func TestPrepareOutputCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "output")
	_, err := PrepareOutput(dir, "zaim")
	require.NoError(t, err)
	assert.DirExists(t, dir)
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestFetchPassesWindowAndOutput(t *testing.T) {
	skipWithoutShell(t)
	out := filepath.Join(t.TempDir(), "zaim_history.csv")

	f := NewExecFetcher([]string{"/bin/sh", "-c",
		`printf '%s %s %s' "$RECSAV_FETCH_SOURCE" "$RECSAV_FETCH_START" "$RECSAV_FETCH_END" > "$RECSAV_FETCH_OUTPUT"`,
	}, 1, 0, time.Minute, nil)

	err := f.Fetch(context.Background(), Request{
		Source: "zaim",
		Window: api.Window{Start: date(2024, 3, 1), End: date(2024, 5, 31)},
		Output: out,
	})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "zaim 2024-03-01 2024-05-31", string(got))
}

func TestFetchRetriesUntilOutputExists(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "card.csv")
	marker := filepath.Join(dir, "attempted")

	// The first attempt only leaves a marker; the second writes the output.
	script := `if [ -f "` + marker + `" ]; then touch "$RECSAV_FETCH_OUTPUT"; else touch "` + marker + `"; fi`
	f := NewExecFetcher([]string{"/bin/sh", "-c", script}, 3, time.Millisecond, time.Minute, nil)

	require.NoError(t, f.Fetch(context.Background(), Request{Source: "card", Output: out}))
	assert.FileExists(t, out)
}

func TestFetchGivesUp(t *testing.T) {
	skipWithoutShell(t)
	f := NewExecFetcher([]string{"/bin/sh", "-c", "exit 3"}, 2, time.Millisecond, time.Minute, nil)

	err := f.Fetch(context.Background(), Request{Source: "card", Output: filepath.Join(t.TempDir(), "x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetching card")
}

func TestFetchWithoutCommand(t *testing.T) {
	err := NewExecFetcher(nil, 1, 0, 0, nil).Fetch(context.Background(), Request{Source: "zaim"})
	assert.ErrorIs(t, err, ErrNoCommand)
}
