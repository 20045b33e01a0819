package journal

import (
	"database/sql"
	"fmt"
	"time"
)

const reportColumns = `action_id, kind, symbol, started_at, finished_at, succeeded, failed, skipped`
const resultColumns = `action_id, user_id, status, order_id, error_kind, error, skip_reason, scaled_amount, attempts, latency_ms`

// GetReport returns one report with its per-follower results.
func (j *SQLite) GetReport(actionID string) (ReportRecord, []ResultRecord, error) {
	var rep ReportRecord

	row := j.db.QueryRow(`
		SELECT `+reportColumns+`
		FROM replications
		WHERE action_id = ?`, actionID)

	err := row.Scan(
		&rep.ActionID,
		&rep.Kind,
		&rep.Symbol,
		&rep.StartedAt,
		&rep.FinishedAt,
		&rep.Succeeded,
		&rep.Failed,
		&rep.Skipped,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return ReportRecord{}, nil, fmt.Errorf("replication %q not found", actionID)
		}
		return ReportRecord{}, nil, err
	}

	rows, err := j.db.Query(`
		SELECT `+resultColumns+`
		FROM replication_results
		WHERE action_id = ?
		ORDER BY user_id ASC`, actionID)
	if err != nil {
		return ReportRecord{}, nil, err
	}
	defer rows.Close()

	results, err := scanResults(rows)
	if err != nil {
		return ReportRecord{}, nil, err
	}
	return rep, results, nil
}

// ListReportsBetween returns reports whose finished_at is within [start, end).
func (j *SQLite) ListReportsBetween(start, end time.Time) ([]ReportRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+reportColumns+`
		FROM replications
		WHERE finished_at >= ? AND finished_at < ?
		ORDER BY finished_at ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReports(rows)
}

// ListRecent returns the latest reports, newest first.
func (j *SQLite) ListRecent(limit int) ([]ReportRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+reportColumns+`
		FROM replications
		ORDER BY finished_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReports(rows)
}

// ListFailedResults returns failed follower results since a cutoff, oldest
// first. Useful when chasing a venue that keeps rejecting one account.
func (j *SQLite) ListFailedResults(since time.Time) ([]ResultRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+resultColumns+`
		FROM replication_results r
		JOIN replications p USING (action_id)
		WHERE r.status = 'failed' AND p.finished_at >= ?
		ORDER BY p.finished_at ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanResults(rows)
}

func scanReports(rows *sql.Rows) ([]ReportRecord, error) {
	var out []ReportRecord
	for rows.Next() {
		var rep ReportRecord
		if err := rows.Scan(
			&rep.ActionID,
			&rep.Kind,
			&rep.Symbol,
			&rep.StartedAt,
			&rep.FinishedAt,
			&rep.Succeeded,
			&rep.Failed,
			&rep.Skipped,
		); err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanResults(rows *sql.Rows) ([]ResultRecord, error) {
	var out []ResultRecord
	for rows.Next() {
		var r ResultRecord
		if err := rows.Scan(
			&r.ActionID,
			&r.UserID,
			&r.Status,
			&r.OrderID,
			&r.ErrorKind,
			&r.Error,
			&r.SkipReason,
			&r.ScaledAmount,
			&r.Attempts,
			&r.LatencyMs,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
