package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	return j, path
}

func sampleReport(actionID string, finished time.Time) (ReportRecord, []ResultRecord) {
	rep := ReportRecord{
		ActionID:   actionID,
		Kind:       "new_order",
		Symbol:     "BTCUSDT",
		StartedAt:  finished.Add(-250 * time.Millisecond),
		FinishedAt: finished,
		Succeeded:  1,
		Failed:     1,
		Skipped:    1,
	}
	results := []ResultRecord{
		{ActionID: actionID, UserID: "f1", Status: "succeeded", OrderID: "9001", ScaledAmount: "0.5", Attempts: 1, LatencyMs: 42},
		{ActionID: actionID, UserID: "f2", Status: "failed", ErrorKind: "INSUFFICIENT_BALANCE", Error: "margin is insufficient", ScaledAmount: "0.1", Attempts: 5, LatencyMs: 1890},
		{ActionID: actionID, UserID: "f3", Status: "skipped", SkipReason: "below minimum position size", ScaledAmount: "0", Attempts: 0, LatencyMs: 3},
	}
	return rep, results
}

func TestSQLiteRoundTrip(t *testing.T) {
	j, _ := newTestSQLite(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	rep, results := sampleReport("act-1", now)
	require.NoError(t, j.RecordReport(rep, results))

	got, gotResults, err := j.GetReport("act-1")
	require.NoError(t, err)

	assert.Equal(t, rep.ActionID, got.ActionID)
	assert.Equal(t, rep.Kind, got.Kind)
	assert.Equal(t, rep.Symbol, got.Symbol)
	assert.Equal(t, rep.Succeeded, got.Succeeded)
	assert.Equal(t, rep.Failed, got.Failed)
	assert.Equal(t, rep.Skipped, got.Skipped)
	assert.True(t, rep.FinishedAt.Equal(got.FinishedAt))

	require.Len(t, gotResults, 3)
	assert.Equal(t, "f1", gotResults[0].UserID)
	assert.Equal(t, "9001", gotResults[0].OrderID)
	assert.Equal(t, "failed", gotResults[1].Status)
	assert.Equal(t, "INSUFFICIENT_BALANCE", gotResults[1].ErrorKind)
	assert.Equal(t, 5, gotResults[1].Attempts)
	assert.Equal(t, "below minimum position size", gotResults[2].SkipReason)
}

func TestSQLiteGetReportNotFound(t *testing.T) {
	j, _ := newTestSQLite(t)

	_, _, err := j.GetReport("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	j, path := newTestSQLite(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	rep, results := sampleReport("act-persist", now)
	require.NoError(t, j.RecordReport(rep, results))
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM replication_results WHERE action_id = ?`, "act-persist").Scan(&count))
	assert.Equal(t, 3, count)
}

func TestSQLiteDuplicateActionRejected(t *testing.T) {
	j, _ := newTestSQLite(t)

	now := time.Now().UTC()
	rep, results := sampleReport("act-dup", now)
	require.NoError(t, j.RecordReport(rep, results))

	err := j.RecordReport(rep, results)
	require.Error(t, err)
}

func TestSQLiteListReportsBetween(t *testing.T) {
	j, _ := newTestSQLite(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		rep, results := sampleReport(id, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, j.RecordReport(rep, results))
	}

	reps, err := j.ListReportsBetween(base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, reps, 2)
	assert.Equal(t, "a", reps[0].ActionID)
	assert.Equal(t, "b", reps[1].ActionID)
}

func TestSQLiteListRecent(t *testing.T) {
	j, _ := newTestSQLite(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		rep, results := sampleReport(id, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, j.RecordReport(rep, results))
	}

	reps, err := j.ListRecent(2)
	require.NoError(t, err)
	require.Len(t, reps, 2)
	assert.Equal(t, "c", reps[0].ActionID)
	assert.Equal(t, "b", reps[1].ActionID)
}

func TestSQLiteListFailedResults(t *testing.T) {
	j, _ := newTestSQLite(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old, oldResults := sampleReport("old", base)
	require.NoError(t, j.RecordReport(old, oldResults))
	recent, recentResults := sampleReport("recent", base.Add(3*time.Hour))
	require.NoError(t, j.RecordReport(recent, recentResults))

	failed, err := j.ListFailedResults(base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "recent", failed[0].ActionID)
	assert.Equal(t, "f2", failed[0].UserID)
	assert.Equal(t, "INSUFFICIENT_BALANCE", failed[0].ErrorKind)
}
