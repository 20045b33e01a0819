// Package replicator copies a leader account's trading actions onto follower
// accounts, scaled by equity ratio and per-follower risk settings. The
// Engine is the entry point: it deduplicates actions by id, fans out to
// followers under a concurrency bound, retries transient venue errors, and
// aggregates one immutable report per action.
package replicator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rustyeddy/copytrader/account"
	"github.com/rustyeddy/copytrader/exchange"
	"github.com/rustyeddy/copytrader/journal"
)

var errShutdown = errors.New("engine shutting down")

// HandleSource yields the live venue handle for an account. *exchange.Manager
// satisfies it; tests substitute stubs.
type HandleSource interface {
	GetHandle(ctx context.Context, acct account.Account) (exchange.Exchange, error)
}

// Config tunes one Engine. The zero value picks workable defaults.
type Config struct {
	// MaxConcurrent bounds simultaneous follower submissions across all
	// in-flight replications. Followers beyond the bound queue in registry
	// order.
	MaxConcurrent int
	// FetchTimeout caps each equity or position read.
	FetchTimeout time.Duration
	// SubmitTimeout caps a single order or leverage attempt. Every retry
	// gets a fresh timeout.
	SubmitTimeout time.Duration
	Retry         RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 15 * time.Second
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// flight is one replication keyed by action id. done closes when the report
// is finalized; duplicate callers wait on it and share the same report.
type flight struct {
	done   chan struct{}
	report *ReplicationReport
}

// Engine replicates leader actions onto followers. Construct with NewEngine;
// the zero value is not usable.
type Engine struct {
	cfg      Config
	registry *account.Registry
	handles  HandleSource
	jnl      journal.Journal
	log      *zap.SugaredLogger

	sem *semaphore.Weighted

	mu      sync.Mutex
	flights map[string]*flight
	closed  bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewEngine builds a replication engine over the given registry and venue
// handle source. jnl may be nil to skip persistence, log may be nil for
// silence.
func NewEngine(cfg Config, reg *account.Registry, handles HandleSource, jnl journal.Journal, log *zap.SugaredLogger) *Engine {
	if jnl == nil {
		jnl = journal.Nop{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg = cfg.withDefaults()

	return &Engine{
		cfg:      cfg,
		registry: reg,
		handles:  handles,
		jnl:      jnl,
		log:      log,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		flights:  make(map[string]*flight),
		quit:     make(chan struct{}),
	}
}

// Replicate copies one leader action onto every enabled follower and returns
// the aggregated report. An action id seen before does not dispatch again:
// the caller gets the already-finalized report, or blocks until the
// in-flight replication finishes and then shares its report. The only error
// is a malformed action or an engine already shut down; per-follower
// trouble lands in the report instead.
func (e *Engine) Replicate(ctx context.Context, action LeaderAction) (*ReplicationReport, error) {
	action.Symbol = exchange.NormalizeSymbol(action.Symbol)
	if err := action.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("replicate %s: %w", action.ActionID, errShutdown)
	}
	if f, ok := e.flights[action.ActionID]; ok {
		e.mu.Unlock()
		e.log.Infow("duplicate action, returning existing report",
			"action_id", action.ActionID,
			"error_kind", exchange.KindDuplicateAction)
		select {
		case <-f.done:
			return f.report, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	e.flights[action.ActionID] = f
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	f.report = e.run(ctx, action)
	close(f.done)

	if err := e.jnl.RecordReport(f.report.records()); err != nil {
		e.log.Errorw("journal write failed", "action_id", action.ActionID, "error", err)
	}
	return f.report, nil
}

// run executes one replication against the follower snapshot taken now.
// Followers toggled afterward do not join or leave this replication.
func (e *Engine) run(ctx context.Context, action LeaderAction) *ReplicationReport {
	followers := e.registry.Followers(true)

	report := &ReplicationReport{
		ActionID:  action.ActionID,
		Kind:      action.Kind,
		Symbol:    action.Symbol,
		StartedAt: time.Now().UTC(),
		Results:   make([]ReplicationResult, len(followers)),
	}

	e.log.Infow("replicating leader action",
		"action_id", action.ActionID,
		"action", action.Kind,
		"symbol", action.Symbol,
		"followers", len(followers))

	leaderEq := e.fetchLeaderEquity(ctx, action)

	var wg sync.WaitGroup
	for i, follower := range followers {
		wg.Add(1)
		go func(i int, follower account.Account) {
			defer wg.Done()
			if err := e.sem.Acquire(ctx, 1); err != nil {
				report.Results[i] = failResult(follower.UserID, 0, 0,
					exchange.NewError(exchange.KindTransient, "dispatch", err))
				return
			}
			defer e.sem.Release(1)
			report.Results[i] = e.dispatch(ctx, action, follower, leaderEq)
		}(i, follower)
	}
	wg.Wait()

	report.FinishedAt = time.Now().UTC()
	report.tally()

	e.log.Infow("replication finished",
		"action_id", action.ActionID,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"elapsed", report.FinishedAt.Sub(report.StartedAt))
	return report
}

// equityFuture resolves the leader's equity once per replication; every
// follower task waits on the same fetch.
type equityFuture struct {
	done chan struct{}
	eq   decimal.Decimal
	err  error
}

func (f *equityFuture) wait(ctx context.Context) (decimal.Decimal, error) {
	select {
	case <-f.done:
		return f.eq, f.err
	case <-ctx.Done():
		return decimal.Decimal{}, ctx.Err()
	}
}

func (e *Engine) fetchLeaderEquity(ctx context.Context, action LeaderAction) *equityFuture {
	fut := &equityFuture{done: make(chan struct{})}
	if !action.needsEquity() {
		close(fut.done)
		return fut
	}

	go func() {
		defer close(fut.done)
		ex, err := e.handles.GetHandle(ctx, e.registry.Leader())
		if err != nil {
			fut.err = fmt.Errorf("leader handle: %w", err)
			return
		}
		fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer cancel()
		fut.eq, fut.err = ex.GetEquity(fctx)
	}()
	return fut
}

// dispatch drives one follower through scaling and submission to a terminal
// result. Errors never escape; they become the follower's result.
func (e *Engine) dispatch(ctx context.Context, action LeaderAction, follower account.Account, leaderEq *equityFuture) ReplicationResult {
	started := time.Now()
	log := e.log.With("action_id", action.ActionID, "user", follower.UserID)
	log.Debugw("follower pending")

	select {
	case <-e.quit:
		return failResult(follower.UserID, 0, time.Since(started),
			exchange.NewError(exchange.KindTransient, "dispatch", errShutdown))
	default:
	}

	ex, err := e.handles.GetHandle(ctx, follower)
	if err != nil {
		log.Debugw("follower failed", "stage", "connect", "error", err)
		return failResult(follower.UserID, 0, time.Since(started), err)
	}

	switch action.Kind {
	case LeverageChanged:
		return e.applyLeverage(ctx, log, action, follower, ex, started)
	case PositionClosed:
		return e.closePosition(ctx, log, action, follower, ex, started)
	default:
		return e.placeScaled(ctx, log, action, follower, ex, leaderEq, started)
	}
}

// placeScaled handles NewOrder and OrderFilled: fetch both equities, scale,
// submit.
func (e *Engine) placeScaled(ctx context.Context, log *zap.SugaredLogger, action LeaderAction, follower account.Account, ex exchange.Exchange, leaderEq *equityFuture, started time.Time) ReplicationResult {
	log.Debugw("follower scaling")

	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	followerEquity, err := ex.GetEquity(fctx)
	cancel()
	if err != nil {
		log.Debugw("follower failed", "stage", "equity", "error", err)
		return failResult(follower.UserID, 0, time.Since(started), err)
	}

	leaderEquity, err := leaderEq.wait(ctx)
	if err != nil {
		log.Debugw("follower failed", "stage", "leader equity", "error", err)
		return failResult(follower.UserID, 0, time.Since(started), err)
	}

	filters, err := e.filters(ctx, ex, action.Symbol)
	if err != nil {
		log.Debugw("follower failed", "stage", "filters", "error", err)
		return failResult(follower.UserID, 0, time.Since(started), err)
	}

	ord, skip, err := Scale(action, leaderEquity, followerEquity, follower.RiskMultiplier, Limits{
		Min:    follower.MinPosition,
		Max:    follower.MaxPosition,
		Step:   filters.StepSize,
		MinQty: filters.MinQty,
	})
	if err != nil {
		log.Debugw("follower failed", "stage", "scale", "error", err)
		return failResult(follower.UserID, 0, time.Since(started), err)
	}
	if skip != "" {
		log.Debugw("follower skipped", "reason", skip)
		return skipResult(follower.UserID, skip, time.Since(started))
	}

	log.Debugw("follower submitting", "amount", ord.Amount, "type", ord.Type)
	return e.submit(ctx, log, follower.UserID, ex, ord, started)
}

func (e *Engine) applyLeverage(ctx context.Context, log *zap.SugaredLogger, action LeaderAction, follower account.Account, ex exchange.Exchange, started time.Time) ReplicationResult {
	log.Debugw("follower submitting", "leverage", action.Leverage, "margin_mode", action.MarginMode)

	attempts, err := e.retryCall(ctx, log, func(cctx context.Context) error {
		return ex.SetLeverage(cctx, action.Symbol, action.Leverage, action.MarginMode)
	})
	if err != nil {
		log.Debugw("follower failed", "stage", "leverage", "attempts", attempts, "error", err)
		return failResult(follower.UserID, attempts, time.Since(started), err)
	}

	log.Debugw("follower succeeded", "attempts", attempts)
	return okResult(follower.UserID, "", decimal.Decimal{}, attempts, time.Since(started))
}

// closePosition sizes the close off the follower's own book rather than the
// leader's order, so partially-filled or clamped followers flatten the right
// amount.
func (e *Engine) closePosition(ctx context.Context, log *zap.SugaredLogger, action LeaderAction, follower account.Account, ex exchange.Exchange, started time.Time) ReplicationResult {
	log.Debugw("follower scaling")

	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	positions, err := ex.GetPositions(fctx)
	cancel()
	if err != nil {
		log.Debugw("follower failed", "stage", "positions", "error", err)
		return failResult(follower.UserID, 0, time.Since(started), err)
	}

	var pos *exchange.Position
	for i := range positions {
		if positions[i].Symbol == action.Symbol {
			pos = &positions[i]
			break
		}
	}
	if pos == nil {
		log.Debugw("follower skipped", "reason", "no position")
		return skipResult(follower.UserID, "no position", time.Since(started))
	}

	filters, err := e.filters(ctx, ex, action.Symbol)
	if err != nil {
		log.Debugw("follower failed", "stage", "filters", "error", err)
		return failResult(follower.UserID, 0, time.Since(started), err)
	}

	ord, skip := ScaleClose(action, *pos, filters)
	if skip != "" {
		log.Debugw("follower skipped", "reason", skip)
		return skipResult(follower.UserID, skip, time.Since(started))
	}

	log.Debugw("follower submitting", "amount", ord.Amount, "reduce_only", true)
	return e.submit(ctx, log, follower.UserID, ex, ord, started)
}

// submit places the order under the retry policy and builds the terminal
// result.
func (e *Engine) submit(ctx context.Context, log *zap.SugaredLogger, userID string, ex exchange.Exchange, ord ReplicaOrder, started time.Time) ReplicationResult {
	var placed exchange.Order
	attempts, err := e.retryCall(ctx, log, func(cctx context.Context) error {
		var perr error
		placed, perr = ex.PlaceOrder(cctx, ord.orderRequest())
		return perr
	})
	if err != nil {
		log.Debugw("follower failed", "stage", "submit", "attempts", attempts, "error", err)
		res := failResult(userID, attempts, time.Since(started), err)
		res.ScaledAmount = ord.Amount
		return res
	}

	log.Debugw("follower succeeded", "order_id", placed.ID, "attempts", attempts)
	return okResult(userID, placed.ID, ord.Amount, attempts, time.Since(started))
}

func (e *Engine) filters(ctx context.Context, ex exchange.Exchange, symbol string) (exchange.Filters, error) {
	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()
	return ex.GetFilters(fctx, symbol)
}

// Report returns the finalized report for an action id, if one exists.
func (e *Engine) Report(actionID string) (*ReplicationReport, bool) {
	e.mu.Lock()
	f, ok := e.flights[actionID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-f.done:
		return f.report, true
	default:
		return nil, false
	}
}

// InFlight returns the number of replications not yet finalized.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, f := range e.flights {
		select {
		case <-f.done:
		default:
			n++
		}
	}
	return n
}

// PruneCompleted drops finalized reports older than maxAge from the replay
// cache and returns how many were removed. In-flight entries always stay.
// Pruned action ids lose their idempotency guarantee, so maxAge should
// comfortably exceed the window in which an action could be retriggered.
func (e *Engine) PruneCompleted(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for id, f := range e.flights {
		select {
		case <-f.done:
		default:
			continue
		}
		if f.report.FinishedAt.Before(cutoff) {
			delete(e.flights, id)
			n++
		}
	}
	return n
}

// Shutdown stops new dispatches and retries, then waits up to grace for
// in-flight replications to finalize. Orders already sent to a venue are not
// rolled back, and venue handles stay open for their Manager to reclaim.
func (e *Engine) Shutdown(grace time.Duration) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.quit)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.log.Infow("engine stopped")
		return nil
	case <-time.After(grace):
		return fmt.Errorf("shutdown: %d replication(s) still in flight after %s", e.InFlight(), grace)
	}
}
