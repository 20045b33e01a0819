// Package journal persists finalized replication reports. The engine writes
// one report row plus one row per follower result; nothing here is read on
// the hot path, so the backends stay simple (SQLite or CSV).
package journal

import "time"

// ReportRecord mirrors the replications table.
type ReportRecord struct {
	ActionID   string
	Kind       string
	Symbol     string
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  int
	Failed     int
	Skipped    int
}

// ResultRecord mirrors the replication_results table. ScaledAmount is the
// decimal's exact string form; LatencyMs is rounded down.
type ResultRecord struct {
	ActionID     string
	UserID       string
	Status       string
	OrderID      string
	ErrorKind    string
	Error        string
	SkipReason   string
	ScaledAmount string
	Attempts     int
	LatencyMs    int64
}

// Journal records finalized reports.
type Journal interface {
	RecordReport(ReportRecord, []ResultRecord) error
	Close() error
}

// Nop discards everything. Used when journaling is disabled.
type Nop struct{}

func (Nop) RecordReport(ReportRecord, []ResultRecord) error { return nil }
func (Nop) Close() error                                    { return nil }
