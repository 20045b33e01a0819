package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// RecordReport writes the report and its per-follower results in one
// transaction, so a report never appears without its results.
func (j *SQLite) RecordReport(rep ReportRecord, results []ResultRecord) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO replications
		(action_id, kind, symbol, started_at, finished_at, succeeded, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.ActionID, rep.Kind, rep.Symbol, rep.StartedAt, rep.FinishedAt,
		rep.Succeeded, rep.Failed, rep.Skipped,
	)
	if err != nil {
		return fmt.Errorf("insert replication %s: %w", rep.ActionID, err)
	}

	for _, r := range results {
		_, err = tx.Exec(`
			INSERT INTO replication_results
			(action_id, user_id, status, order_id, error_kind, error, skip_reason, scaled_amount, attempts, latency_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ActionID, r.UserID, r.Status, r.OrderID, r.ErrorKind,
			r.Error, r.SkipReason, r.ScaledAmount, r.Attempts, r.LatencyMs,
		)
		if err != nil {
			return fmt.Errorf("insert result %s/%s: %w", r.ActionID, r.UserID, err)
		}
	}

	return tx.Commit()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
