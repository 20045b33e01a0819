package replicator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/copytrader/account"
	"github.com/rustyeddy/copytrader/exchange"
)

// ReconcileConfig tunes the follower drift sweep.
type ReconcileConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// MaxPriceDrift is the relative mark-to-entry drift above which a late
	// join is skipped rather than opened at a worse price than the leader
	// got.
	MaxPriceDrift decimal.Decimal
	// MaxPositionAge stops late joins onto leader positions first seen
	// longer ago than this.
	MaxPositionAge time.Duration
	// CallTimeout caps each venue call during a sweep.
	CallTimeout time.Duration
}

func (c ReconcileConfig) withDefaults() ReconcileConfig {
	if c.Interval <= 0 {
		c.Interval = 20 * time.Second
	}
	if !c.MaxPriceDrift.IsPositive() {
		c.MaxPriceDrift = decimal.RequireFromString("0.0075")
	}
	if c.MaxPositionAge <= 0 {
		c.MaxPositionAge = 30 * time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

// Summary is the outcome of one reconcile sweep.
type Summary struct {
	OrphansClosed int
	Joins         int
	Skipped       int
	Errors        int
}

func (s Summary) empty() bool { return s == Summary{} }

// Reconciler sweeps follower accounts back into line with the leader between
// replications. Positions a follower holds with no leader counterpart are
// flattened, and leader positions a follower missed are joined late while
// the price still sits near the leader's entry. Corrective orders are placed
// once per sweep; anything that fails is picked up again on the next one.
type Reconciler struct {
	cfg      ReconcileConfig
	registry *account.Registry
	handles  HandleSource
	log      *zap.SugaredLogger

	mu        sync.Mutex
	firstSeen map[string]time.Time

	now func() time.Time
}

// NewReconciler builds a reconciler over the same registry and handle source
// the engine uses. log may be nil for silence.
func NewReconciler(cfg ReconcileConfig, reg *account.Registry, handles HandleSource, log *zap.SugaredLogger) *Reconciler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reconciler{
		cfg:       cfg.withDefaults(),
		registry:  reg,
		handles:   handles,
		log:       log,
		firstSeen: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Interval reports the sweep interval after defaults are applied.
func (r *Reconciler) Interval() time.Duration {
	return r.cfg.Interval
}

// Run sweeps on the configured interval until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Infow("reconciler started", "interval", r.cfg.Interval)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Infow("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			sum, err := r.ReconcileOnce(ctx)
			switch {
			case err != nil:
				r.log.Errorw("reconcile sweep failed", "error", err)
			case !sum.empty():
				r.log.Infow("reconcile sweep",
					"orphans_closed", sum.OrphansClosed,
					"joins", sum.Joins,
					"skipped", sum.Skipped,
					"errors", sum.Errors)
			}
		}
	}
}

// ReconcileOnce runs a single sweep across every enabled follower. It fails
// outright only when the leader cannot be read; per-follower trouble is
// counted in the summary and retried on the next sweep.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (Summary, error) {
	var sum Summary

	lex, err := r.handles.GetHandle(ctx, r.registry.Leader())
	if err != nil {
		return sum, fmt.Errorf("leader handle: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	leaderPositions, err := lex.GetPositions(cctx)
	cancel()
	if err != nil {
		return sum, fmt.Errorf("leader positions: %w", err)
	}

	cctx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
	leaderEquity, err := lex.GetEquity(cctx)
	cancel()
	if err != nil {
		return sum, fmt.Errorf("leader equity: %w", err)
	}

	leader := make(map[string]exchange.Position, len(leaderPositions))
	for _, p := range leaderPositions {
		leader[p.Symbol] = p
	}
	r.observe(leader)

	for _, follower := range r.registry.Followers(true) {
		r.reconcileFollower(ctx, follower, leader, leaderEquity, &sum)
	}
	return sum, nil
}

// observe stamps when each leader symbol was first seen and forgets symbols
// the leader no longer holds.
func (r *Reconciler) observe(leader map[string]exchange.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for sym := range leader {
		if _, ok := r.firstSeen[sym]; !ok {
			r.firstSeen[sym] = now
		}
	}
	for sym := range r.firstSeen {
		if _, ok := leader[sym]; !ok {
			delete(r.firstSeen, sym)
		}
	}
}

func (r *Reconciler) firstSeenAt(symbol string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstSeen[symbol]
}

func (r *Reconciler) reconcileFollower(ctx context.Context, follower account.Account, leader map[string]exchange.Position, leaderEquity decimal.Decimal, sum *Summary) {
	log := r.log.With("user", follower.UserID)

	ex, err := r.handles.GetHandle(ctx, follower)
	if err != nil {
		log.Errorw("follower handle", "error", err)
		sum.Errors++
		return
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	positions, err := ex.GetPositions(cctx)
	cancel()
	if err != nil {
		log.Errorw("follower positions", "error", err)
		sum.Errors++
		return
	}

	held := make(map[string]exchange.Position, len(positions))
	for _, p := range positions {
		held[p.Symbol] = p
	}

	for sym, pos := range held {
		if _, ok := leader[sym]; !ok {
			r.closeOrphan(ctx, log, ex, pos, sum)
		}
	}
	for sym, lp := range leader {
		if _, ok := held[sym]; !ok {
			r.joinLate(ctx, log, follower, ex, lp, leaderEquity, sum)
		}
	}
}

// closeOrphan flattens a follower position the leader does not hold.
func (r *Reconciler) closeOrphan(ctx context.Context, log *zap.SugaredLogger, ex exchange.Exchange, pos exchange.Position, sum *Summary) {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	filters, err := ex.GetFilters(cctx, pos.Symbol)
	cancel()
	if err != nil {
		log.Errorw("orphan filters", "symbol", pos.Symbol, "error", err)
		sum.Errors++
		return
	}

	amount := StepDown(pos.Amount, filters.StepSize)
	if !amount.IsPositive() {
		sum.Skipped++
		return
	}

	cctx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
	_, err = ex.PlaceOrder(cctx, exchange.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       pos.Side.Opposite(),
		Type:       exchange.Market,
		Amount:     amount,
		ReduceOnly: true,
	})
	cancel()
	if err != nil {
		log.Errorw("orphan close", "symbol", pos.Symbol, "error", err)
		sum.Errors++
		return
	}

	log.Infow("closed orphan position", "symbol", pos.Symbol, "amount", amount)
	sum.OrphansClosed++
}

// joinLate opens a scaled copy of a leader position the follower missed,
// unless the position is stale or the price already ran away from the
// leader's entry.
func (r *Reconciler) joinLate(ctx context.Context, log *zap.SugaredLogger, follower account.Account, ex exchange.Exchange, lp exchange.Position, leaderEquity decimal.Decimal, sum *Summary) {
	if age := r.now().Sub(r.firstSeenAt(lp.Symbol)); age > r.cfg.MaxPositionAge {
		log.Debugw("late join skipped", "symbol", lp.Symbol, "reason", "position too old", "age", age)
		sum.Skipped++
		return
	}
	if drift := priceDrift(lp); drift.GreaterThan(r.cfg.MaxPriceDrift) {
		log.Debugw("late join skipped", "symbol", lp.Symbol, "reason", "price drift", "drift", drift)
		sum.Skipped++
		return
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	followerEquity, err := ex.GetEquity(cctx)
	cancel()
	if err != nil {
		log.Errorw("late join equity", "symbol", lp.Symbol, "error", err)
		sum.Errors++
		return
	}

	cctx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
	filters, err := ex.GetFilters(cctx, lp.Symbol)
	cancel()
	if err != nil {
		log.Errorw("late join filters", "symbol", lp.Symbol, "error", err)
		sum.Errors++
		return
	}

	ord, skip, err := Scale(LeaderAction{
		Kind:      NewOrder,
		Symbol:    lp.Symbol,
		Side:      lp.Side,
		OrderType: exchange.Market,
		Amount:    lp.Amount,
	}, leaderEquity, followerEquity, follower.RiskMultiplier, Limits{
		Min:    follower.MinPosition,
		Max:    follower.MaxPosition,
		Step:   filters.StepSize,
		MinQty: filters.MinQty,
	})
	if err != nil {
		log.Errorw("late join scale", "symbol", lp.Symbol, "error", err)
		sum.Errors++
		return
	}
	if skip != "" {
		log.Debugw("late join skipped", "symbol", lp.Symbol, "reason", skip)
		sum.Skipped++
		return
	}

	cctx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
	_, err = ex.PlaceOrder(cctx, ord.orderRequest())
	cancel()
	if err != nil {
		log.Errorw("late join order", "symbol", lp.Symbol, "error", err)
		sum.Errors++
		return
	}

	log.Infow("joined leader position", "symbol", lp.Symbol, "amount", ord.Amount)
	sum.Joins++
}

// priceDrift is |mark - entry| / entry for a position.
func priceDrift(p exchange.Position) decimal.Decimal {
	if !p.EntryPrice.IsPositive() {
		return decimal.Decimal{}
	}
	return p.MarkPrice.Sub(p.EntryPrice).Abs().Div(p.EntryPrice)
}
