package replicator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/copytrader/exchange"
)

// ActionKind is the variant tag of a leader action.
type ActionKind string

const (
	NewOrder        ActionKind = "new_order"
	OrderFilled     ActionKind = "order_filled"
	LeverageChanged ActionKind = "leverage_changed"
	PositionClosed  ActionKind = "position_closed"
)

// LeaderAction is one detected event on the leader account. It is immutable
// once constructed; ActionID is the idempotency key, so replaying the same
// event must reuse the same id.
type LeaderAction struct {
	ActionID string     `json:"action_id"`
	Kind     ActionKind `json:"kind"`
	Symbol   string     `json:"symbol"`

	// Order fields, used by NewOrder and OrderFilled. Price is zero for
	// market orders.
	Side      exchange.Side      `json:"side,omitempty"`
	OrderType exchange.OrderType `json:"order_type,omitempty"`
	Amount    decimal.Decimal    `json:"amount,omitempty"`
	Price     decimal.Decimal    `json:"price,omitempty"`

	// Leverage fields, used by LeverageChanged.
	Leverage   int                 `json:"leverage,omitempty"`
	MarginMode exchange.MarginMode `json:"margin_mode,omitempty"`

	// CloseFraction is how much of the position the leader closed, in
	// (0, 1]. Zero means the whole position. Used by PositionClosed.
	CloseFraction decimal.Decimal `json:"close_fraction,omitempty"`
}

// Validate rejects malformed actions before any dispatch. This is the only
// error a replication call can return.
func (a LeaderAction) Validate() error {
	if a.ActionID == "" {
		return fmt.Errorf("leader action: action_id is required")
	}
	if a.Symbol == "" {
		return fmt.Errorf("leader action %s: symbol is required", a.ActionID)
	}

	switch a.Kind {
	case NewOrder, OrderFilled:
		if a.Side != exchange.Buy && a.Side != exchange.Sell {
			return fmt.Errorf("leader action %s: side %q is not valid", a.ActionID, a.Side)
		}
		switch a.OrderType {
		case exchange.Market:
		case exchange.Limit, exchange.PostOnly:
			if !a.Price.IsPositive() {
				return fmt.Errorf("leader action %s: %s orders require a positive price", a.ActionID, a.OrderType)
			}
		default:
			return fmt.Errorf("leader action %s: order type %q is not valid", a.ActionID, a.OrderType)
		}
		if !a.Amount.IsPositive() {
			return fmt.Errorf("leader action %s: amount must be positive", a.ActionID)
		}
	case LeverageChanged:
		if a.Leverage < 1 {
			return fmt.Errorf("leader action %s: leverage must be at least 1", a.ActionID)
		}
		if a.MarginMode != exchange.MarginCross && a.MarginMode != exchange.MarginIsolated {
			return fmt.Errorf("leader action %s: margin mode %q is not valid", a.ActionID, a.MarginMode)
		}
	case PositionClosed:
		if a.CloseFraction.IsNegative() || a.CloseFraction.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("leader action %s: close_fraction must be in (0, 1]", a.ActionID)
		}
	default:
		return fmt.Errorf("leader action %s: unknown kind %q", a.ActionID, a.Kind)
	}
	return nil
}

// needsEquity reports whether replicating this action scales by account
// equity. Leverage copies verbatim and closes size off the follower's own
// position, so neither touches the leader's equity.
func (a LeaderAction) needsEquity() bool {
	return a.Kind == NewOrder || a.Kind == OrderFilled
}

// fraction returns the share of the position a PositionClosed action closes.
func (a LeaderAction) fraction() decimal.Decimal {
	if a.CloseFraction.IsPositive() {
		return a.CloseFraction
	}
	return decimal.NewFromInt(1)
}
