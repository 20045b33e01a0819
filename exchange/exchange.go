package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the closing direction for a position held on s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType selects how an order rests on the book.
type OrderType string

const (
	Market   OrderType = "market"
	Limit    OrderType = "limit"
	PostOnly OrderType = "post_only"
)

// MarginMode is the margin setting for leveraged positions.
type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// OrderRequest is a single order submission. Price is zero for market
// orders. ReduceOnly marks position-closing orders so a venue never flips
// the position past flat.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Amount     decimal.Decimal
	Price      decimal.Decimal
	ReduceOnly bool
}

// Order is the venue's acknowledgement of a placed order.
type Order struct {
	ID     string
	Symbol string
	Side   Side
	Type   OrderType
	Amount decimal.Decimal
	Price  decimal.Decimal
	Status string
	Time   time.Time
}

// Position is a read-only snapshot of one open position. The engine never
// mutates positions directly; they change only as orders execute on the
// venue.
type Position struct {
	Symbol        string
	Side          Side
	Amount        decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	Leverage      int
	MarginMode    MarginMode
	UnrealizedPnL decimal.Decimal
}

// Filters are the venue's lot constraints for one symbol. Scaled amounts are
// stepped down to StepSize and skipped below MinQty.
type Filters struct {
	StepSize decimal.Decimal
	MinQty   decimal.Decimal
}

// Exchange is the per-account venue capability. One instance per account,
// owned by the Manager for the life of the process unless explicitly closed.
// Implementations map venue errors onto the Kind taxonomy at this boundary.
type Exchange interface {
	Connect(ctx context.Context) error
	Close() error

	GetPositions(ctx context.Context) ([]Position, error)
	GetEquity(ctx context.Context) (decimal.Decimal, error)
	GetFilters(ctx context.Context, symbol string) (Filters, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	SetLeverage(ctx context.Context, symbol string, leverage int, mode MarginMode) error
}
