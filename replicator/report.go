package replicator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/copytrader/exchange"
	"github.com/rustyeddy/copytrader/journal"
)

// Status is a follower's terminal replication state.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// ReplicationResult is one follower's terminal outcome within a report.
// Attempts counts order submissions; a follower that failed before any
// submission reports zero.
type ReplicationResult struct {
	UserID       string
	Status       Status
	OrderID      string
	ScaledAmount decimal.Decimal
	ErrorKind    exchange.Kind
	Error        string
	SkipReason   string
	Attempts     int
	Latency      time.Duration
}

// ReplicationReport aggregates every follower outcome for one leader
// action. Once finalized it never changes; replayed action ids receive this
// same report. Results keep registry order regardless of completion order.
type ReplicationReport struct {
	ActionID   string
	Kind       ActionKind
	Symbol     string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []ReplicationResult
	Succeeded  int
	Failed     int
	Skipped    int
}

// Result returns the outcome for one follower.
func (r *ReplicationReport) Result(userID string) (ReplicationResult, bool) {
	for _, res := range r.Results {
		if res.UserID == userID {
			return res, true
		}
	}
	return ReplicationResult{}, false
}

func (r *ReplicationReport) tally() {
	r.Succeeded, r.Failed, r.Skipped = 0, 0, 0
	for _, res := range r.Results {
		switch res.Status {
		case StatusSucceeded:
			r.Succeeded++
		case StatusFailed:
			r.Failed++
		case StatusSkipped:
			r.Skipped++
		}
	}
}

// records converts the finalized report into its journal rows.
func (r *ReplicationReport) records() (journal.ReportRecord, []journal.ResultRecord) {
	rep := journal.ReportRecord{
		ActionID:   r.ActionID,
		Kind:       string(r.Kind),
		Symbol:     r.Symbol,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
	}

	results := make([]journal.ResultRecord, 0, len(r.Results))
	for _, res := range r.Results {
		results = append(results, journal.ResultRecord{
			ActionID:     r.ActionID,
			UserID:       res.UserID,
			Status:       string(res.Status),
			OrderID:      res.OrderID,
			ErrorKind:    string(res.ErrorKind),
			Error:        res.Error,
			SkipReason:   res.SkipReason,
			ScaledAmount: res.ScaledAmount.String(),
			Attempts:     res.Attempts,
			LatencyMs:    res.Latency.Milliseconds(),
		})
	}
	return rep, results
}

func okResult(userID, orderID string, amount decimal.Decimal, attempts int, latency time.Duration) ReplicationResult {
	return ReplicationResult{
		UserID:       userID,
		Status:       StatusSucceeded,
		OrderID:      orderID,
		ScaledAmount: amount,
		Attempts:     attempts,
		Latency:      latency,
	}
}

func failResult(userID string, attempts int, latency time.Duration, err error) ReplicationResult {
	return ReplicationResult{
		UserID:    userID,
		Status:    StatusFailed,
		ErrorKind: exchange.KindOf(err),
		Error:     err.Error(),
		Attempts:  attempts,
		Latency:   latency,
	}
}

func skipResult(userID, reason string, latency time.Duration) ReplicationResult {
	return ReplicationResult{
		UserID:     userID,
		Status:     StatusSkipped,
		SkipReason: reason,
		Latency:    latency,
	}
}
