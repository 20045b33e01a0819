// Package paper implements an in-memory venue. It backs the engine tests,
// the demo command, and offline validation runs where no real exchange is
// reachable.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/copytrader/exchange"
	"github.com/rustyeddy/copytrader/pkg/id"
)

// Operation names accepted by FailNext and Calls.
const (
	OpConnect   = "connect"
	OpPositions = "positions"
	OpEquity    = "equity"
	OpFilters   = "filters"
	OpPlace     = "place"
	OpCancel    = "cancel"
	OpLeverage  = "leverage"
)

type leverageSetting struct {
	leverage int
	mode     exchange.MarginMode
}

// Exchange is a scriptable in-memory venue for one account. All methods are
// safe for concurrent use.
type Exchange struct {
	mu        sync.Mutex
	userID    string
	connected bool

	equity    decimal.Decimal
	marks     map[string]decimal.Decimal
	filters   map[string]exchange.Filters
	positions map[string]exchange.Position
	leverages map[string]leverageSetting
	orders    []exchange.Order

	fails   map[string][]error
	calls   map[string]int
	latency time.Duration

	inFlight    int
	maxInFlight int
}

type Option func(*Exchange)

// WithEquity seeds the account equity.
func WithEquity(d decimal.Decimal) Option {
	return func(e *Exchange) { e.equity = d }
}

// WithFilters sets the lot constraints for a symbol.
func WithFilters(symbol string, f exchange.Filters) Option {
	return func(e *Exchange) { e.filters[symbol] = f }
}

// WithPosition seeds an open position.
func WithPosition(p exchange.Position) Option {
	return func(e *Exchange) { e.positions[p.Symbol] = p }
}

// WithMark sets the mark price market orders fill at.
func WithMark(symbol string, price decimal.Decimal) Option {
	return func(e *Exchange) { e.marks[symbol] = price }
}

// WithLatency delays every network-shaped call, so tests can observe
// concurrency and timeouts.
func WithLatency(d time.Duration) Option {
	return func(e *Exchange) { e.latency = d }
}

func New(userID string, opts ...Option) *Exchange {
	e := &Exchange{
		userID:    userID,
		marks:     make(map[string]decimal.Decimal),
		filters:   make(map[string]exchange.Filters),
		positions: make(map[string]exchange.Position),
		leverages: make(map[string]leverageSetting),
		fails:     make(map[string][]error),
		calls:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FailNext queues errors for op; each subsequent call consumes one before
// succeeding again. Queue more than max attempts to simulate a permanently
// failing venue.
func (e *Exchange) FailNext(op string, errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fails[op] = append(e.fails[op], errs...)
}

// Calls reports how many times op was invoked.
func (e *Exchange) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

// TotalCalls reports the number of invocations across every operation.
func (e *Exchange) TotalCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		n += c
	}
	return n
}

// MaxInFlight reports the peak number of concurrently executing calls.
func (e *Exchange) MaxInFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxInFlight
}

// Orders returns a copy of every accepted order in submission order.
func (e *Exchange) Orders() []exchange.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]exchange.Order(nil), e.orders...)
}

// LeverageFor returns the last leverage setting applied to symbol.
func (e *Exchange) LeverageFor(symbol string) (int, exchange.MarginMode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.leverages[symbol]
	return s.leverage, s.mode, ok
}

// SetEquity replaces the account equity.
func (e *Exchange) SetEquity(d decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.equity = d
}

// enter records the call for op and consumes any scripted failure. It also
// bumps the in-flight gauge that MaxInFlight reports. The returned leave
// func must run when the call finishes.
func (e *Exchange) enter(ctx context.Context, op string) (func(), error) {
	e.mu.Lock()
	e.calls[op]++
	e.inFlight++
	if e.inFlight > e.maxInFlight {
		e.maxInFlight = e.inFlight
	}
	var fail error
	if q := e.fails[op]; len(q) > 0 {
		fail = q[0]
		e.fails[op] = q[1:]
	}
	lat := e.latency
	e.mu.Unlock()

	leave := func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
	}

	if lat > 0 {
		select {
		case <-time.After(lat):
		case <-ctx.Done():
			leave()
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		leave()
		return nil, fail
	}
	return leave, nil
}

func (e *Exchange) Connect(ctx context.Context) error {
	leave, err := e.enter(ctx, OpConnect)
	if err != nil {
		return err
	}
	defer leave()

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

func (e *Exchange) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = false
	return nil
}

func (e *Exchange) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	leave, err := e.enter(ctx, OpPositions)
	if err != nil {
		return nil, err
	}
	defer leave()

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]exchange.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	return out, nil
}

func (e *Exchange) GetEquity(ctx context.Context) (decimal.Decimal, error) {
	leave, err := e.enter(ctx, OpEquity)
	if err != nil {
		return decimal.Zero, err
	}
	defer leave()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.equity.IsPositive() {
		return decimal.Zero, exchange.NewError(exchange.KindInvalidEquity,
			fmt.Sprintf("get equity %s", e.userID), nil)
	}
	return e.equity, nil
}

func (e *Exchange) GetFilters(ctx context.Context, symbol string) (exchange.Filters, error) {
	leave, err := e.enter(ctx, OpFilters)
	if err != nil {
		return exchange.Filters{}, err
	}
	defer leave()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filters[symbol], nil
}

func (e *Exchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	leave, err := e.enter(ctx, OpPlace)
	if err != nil {
		return exchange.Order{}, err
	}
	defer leave()

	if !req.Amount.IsPositive() {
		return exchange.Order{}, exchange.NewError(exchange.KindExchangeRejected,
			fmt.Sprintf("place order %s", req.Symbol), fmt.Errorf("amount %s is not positive", req.Amount))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	price := req.Price
	if req.Type == exchange.Market {
		price = e.marks[req.Symbol]
	}

	order := exchange.Order{
		ID:     id.New(),
		Symbol: req.Symbol,
		Side:   req.Side,
		Type:   req.Type,
		Amount: req.Amount,
		Price:  price,
		Status: "filled",
		Time:   time.Now().UTC(),
	}
	e.orders = append(e.orders, order)
	e.apply(req, price)
	return order, nil
}

// apply folds a filled order into the position book. One position per
// symbol, one-way mode: a reduce-only fill shrinks it toward flat, anything
// else opens or extends.
func (e *Exchange) apply(req exchange.OrderRequest, price decimal.Decimal) {
	pos, ok := e.positions[req.Symbol]
	if req.ReduceOnly {
		if !ok {
			return
		}
		remaining := pos.Amount.Sub(req.Amount)
		if remaining.IsPositive() {
			pos.Amount = remaining
			e.positions[req.Symbol] = pos
		} else {
			delete(e.positions, req.Symbol)
		}
		return
	}

	if !ok {
		e.positions[req.Symbol] = exchange.Position{
			Symbol:     req.Symbol,
			Side:       req.Side,
			Amount:     req.Amount,
			EntryPrice: price,
			MarkPrice:  e.marks[req.Symbol],
		}
		return
	}
	if pos.Side == req.Side {
		pos.Amount = pos.Amount.Add(req.Amount)
	} else {
		pos.Amount = pos.Amount.Sub(req.Amount)
		if !pos.Amount.IsPositive() {
			delete(e.positions, req.Symbol)
			return
		}
	}
	e.positions[req.Symbol] = pos
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	leave, err := e.enter(ctx, OpCancel)
	if err != nil {
		return err
	}
	defer leave()

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, o := range e.orders {
		if o.ID == orderID && o.Symbol == symbol {
			e.orders[i].Status = "canceled"
			return nil
		}
	}
	return exchange.NewError(exchange.KindExchangeRejected,
		fmt.Sprintf("cancel order %s", symbol), fmt.Errorf("order %s not found", orderID))
}

func (e *Exchange) SetLeverage(ctx context.Context, symbol string, leverage int, mode exchange.MarginMode) error {
	leave, err := e.enter(ctx, OpLeverage)
	if err != nil {
		return err
	}
	defer leave()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverages[symbol] = leverageSetting{leverage: leverage, mode: mode}
	if pos, ok := e.positions[symbol]; ok {
		pos.Leverage = leverage
		pos.MarginMode = mode
		e.positions[symbol] = pos
	}
	return nil
}
