package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

type CSVJournal struct {
	reports *csv.Writer
	results *csv.Writer
	rf, sf  *os.File
}

func NewCSV(reportsPath, resultsPath string) (*CSVJournal, error) {
	rf, err := os.Create(reportsPath)
	if err != nil {
		return nil, err
	}
	sf, err := os.Create(resultsPath)
	if err != nil {
		rf.Close()
		return nil, err
	}

	rw := csv.NewWriter(rf)
	sw := csv.NewWriter(sf)

	if err := rw.Write([]string{"action_id", "kind", "symbol", "started_at", "finished_at", "succeeded", "failed", "skipped"}); err != nil {
		return nil, err
	}
	if err := sw.Write([]string{"action_id", "user_id", "status", "order_id", "error_kind", "error", "skip_reason", "scaled_amount", "attempts", "latency_ms"}); err != nil {
		return nil, err
	}

	rw.Flush()
	if err := rw.Error(); err != nil {
		return nil, err
	}
	sw.Flush()
	if err := sw.Error(); err != nil {
		return nil, err
	}

	return &CSVJournal{rw, sw, rf, sf}, nil
}

func (j *CSVJournal) RecordReport(rep ReportRecord, results []ResultRecord) error {
	err := j.reports.Write([]string{
		rep.ActionID,
		rep.Kind,
		rep.Symbol,
		rep.StartedAt.Format(time.RFC3339Nano),
		rep.FinishedAt.Format(time.RFC3339Nano),
		strconv.Itoa(rep.Succeeded),
		strconv.Itoa(rep.Failed),
		strconv.Itoa(rep.Skipped),
	})
	if err != nil {
		return err
	}

	for _, r := range results {
		err := j.results.Write([]string{
			r.ActionID,
			r.UserID,
			r.Status,
			r.OrderID,
			r.ErrorKind,
			r.Error,
			r.SkipReason,
			r.ScaledAmount,
			strconv.Itoa(r.Attempts),
			strconv.FormatInt(r.LatencyMs, 10),
		})
		if err != nil {
			return err
		}
	}

	j.reports.Flush()
	if err := j.reports.Error(); err != nil {
		return err
	}
	j.results.Flush()
	return j.results.Error()
}

func (j *CSVJournal) Close() error {
	j.reports.Flush()
	if err := j.reports.Error(); err != nil {
		return err
	}
	j.results.Flush()
	if err := j.results.Error(); err != nil {
		return err
	}

	if err := j.rf.Close(); err != nil {
		return err
	}
	return j.sf.Close()
}
