package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCSV(t *testing.T) (*CSVJournal, string, string) {
	t.Helper()

	dir := t.TempDir()
	reports := filepath.Join(dir, "reports.csv")
	results := filepath.Join(dir, "results.csv")

	j, err := NewCSV(reports, results)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	return j, reports, results
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVWritesHeaders(t *testing.T) {
	_, reports, results := newTestCSV(t)

	repRows := readCSV(t, reports)
	require.Len(t, repRows, 1)
	assert.Equal(t, []string{"action_id", "kind", "symbol", "started_at", "finished_at", "succeeded", "failed", "skipped"}, repRows[0])

	resRows := readCSV(t, results)
	require.Len(t, resRows, 1)
	assert.Equal(t, "latency_ms", resRows[0][len(resRows[0])-1])
}

func TestCSVRecordReport(t *testing.T) {
	j, reports, results := newTestCSV(t)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rep, res := sampleReport("act-csv", now)
	require.NoError(t, j.RecordReport(rep, res))

	repRows := readCSV(t, reports)
	require.Len(t, repRows, 2)
	row := repRows[1]
	assert.Equal(t, "act-csv", row[0])
	assert.Equal(t, "new_order", row[1])
	assert.Equal(t, "BTCUSDT", row[2])
	assert.Equal(t, now.Format(time.RFC3339Nano), row[4])
	assert.Equal(t, []string{"1", "1", "1"}, row[5:8])

	resRows := readCSV(t, results)
	require.Len(t, resRows, 4)
	assert.Equal(t, "f1", resRows[1][1])
	assert.Equal(t, "succeeded", resRows[1][2])
	assert.Equal(t, "9001", resRows[1][3])
	assert.Equal(t, "INSUFFICIENT_BALANCE", resRows[2][4])
	assert.Equal(t, "5", resRows[2][8])
	assert.Equal(t, "below minimum position size", resRows[3][6])
}

func TestCSVAppendsAcrossReports(t *testing.T) {
	j, reports, _ := newTestCSV(t)

	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		rep, res := sampleReport(id, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, j.RecordReport(rep, res))
	}

	rows := readCSV(t, reports)
	require.Len(t, rows, 4)
	assert.Equal(t, "a", rows[1][0])
	assert.Equal(t, "c", rows[3][0])
}

func TestCSVFlushesWithoutClose(t *testing.T) {
	j, reports, _ := newTestCSV(t)

	rep, res := sampleReport("act-flush", time.Now().UTC())
	require.NoError(t, j.RecordReport(rep, res))

	// Rows must be on disk before Close so a crash cannot lose them.
	rows := readCSV(t, reports)
	assert.Len(t, rows, 2)
}
