package replicator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/copytrader/exchange"
)

// Limits bundles a follower's configured position bounds with the venue's
// lot filters for one symbol.
type Limits struct {
	Min    decimal.Decimal // follower min_position, zero means none
	Max    decimal.Decimal // follower max_position, zero means unbounded
	Step   decimal.Decimal // venue lot step, zero means no stepping
	MinQty decimal.Decimal // venue minimum order quantity
}

// ReplicaOrder is the follower-specific action derived from a leader action.
// It exists only for the duration of one dispatch.
type ReplicaOrder struct {
	Kind       ActionKind
	Symbol     string
	Side       exchange.Side
	Type       exchange.OrderType
	Amount     decimal.Decimal
	Price      decimal.Decimal
	ReduceOnly bool

	Leverage   int
	MarginMode exchange.MarginMode
}

func (o ReplicaOrder) orderRequest() exchange.OrderRequest {
	return exchange.OrderRequest{
		Symbol:     o.Symbol,
		Side:       o.Side,
		Type:       o.Type,
		Amount:     o.Amount,
		Price:      o.Price,
		ReduceOnly: o.ReduceOnly,
	}
}

// StepDown rounds amount down to the nearest multiple of step. A zero step
// leaves the amount unchanged.
func StepDown(amount, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return amount
	}
	_, rem := amount.QuoRem(step, 0)
	return amount.Sub(rem)
}

// Scale maps a leader order onto one follower. The target amount is
//
//	leader amount * (follower equity / leader equity) * risk multiplier
//
// clamped to the follower's maximum, then rounded down to the venue lot
// step. An amount that lands below the follower's minimum or the venue
// minimum is a skip, never a bumped-up or zero-amount order. Leverage
// changes copy the leader's value and margin mode verbatim.
//
// Scale is pure: identical inputs produce identical output. The skip reason
// is empty when the order should be submitted.
func Scale(action LeaderAction, leaderEquity, followerEquity, multiplier decimal.Decimal, lim Limits) (ReplicaOrder, string, error) {
	switch action.Kind {
	case LeverageChanged:
		return ReplicaOrder{
			Kind:       LeverageChanged,
			Symbol:     action.Symbol,
			Leverage:   action.Leverage,
			MarginMode: action.MarginMode,
		}, "", nil
	case PositionClosed:
		return ReplicaOrder{}, "", fmt.Errorf("scale: position_closed amounts derive from the follower position")
	}

	if !leaderEquity.IsPositive() {
		return ReplicaOrder{}, "", exchange.NewError(exchange.KindInvalidEquity, "scale",
			fmt.Errorf("leader equity %s is not positive", leaderEquity))
	}
	if !followerEquity.IsPositive() {
		return ReplicaOrder{}, "", exchange.NewError(exchange.KindInvalidEquity, "scale",
			fmt.Errorf("follower equity %s is not positive", followerEquity))
	}

	amount := action.Amount.Mul(followerEquity).Mul(multiplier).Div(leaderEquity)
	if lim.Max.IsPositive() && amount.GreaterThan(lim.Max) {
		amount = lim.Max
	}
	amount = StepDown(amount, lim.Step)

	if !amount.IsPositive() {
		return ReplicaOrder{}, "scaled amount is zero", nil
	}
	floor := lim.Min
	if lim.MinQty.GreaterThan(floor) {
		floor = lim.MinQty
	}
	if floor.IsPositive() && amount.LessThan(floor) {
		return ReplicaOrder{}, "below minimum position size", nil
	}

	return ReplicaOrder{
		Kind:   action.Kind,
		Symbol: action.Symbol,
		Side:   action.Side,
		Type:   action.OrderType,
		Amount: amount,
		Price:  action.Price,
	}, "", nil
}

// ScaleClose sizes the reduce-only order that flattens part or all of a
// follower's own position. Close amounts come from the follower's book, not
// the leader's, so equity scaling does not apply; only the venue lot filters
// do. The order always takes the opposite side of the held position.
func ScaleClose(action LeaderAction, pos exchange.Position, filters exchange.Filters) (ReplicaOrder, string) {
	amount := StepDown(pos.Amount.Mul(action.fraction()), filters.StepSize)
	if !amount.IsPositive() {
		return ReplicaOrder{}, "no position to close"
	}
	if filters.MinQty.IsPositive() && amount.LessThan(filters.MinQty) {
		return ReplicaOrder{}, "close amount below venue minimum"
	}

	return ReplicaOrder{
		Kind:       PositionClosed,
		Symbol:     pos.Symbol,
		Side:       pos.Side.Opposite(),
		Type:       exchange.Market,
		Amount:     amount,
		ReduceOnly: true,
	}, ""
}
