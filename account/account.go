package account

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Supported venues. The engine itself never looks at these; they select the
// adapter the Manager's factory builds for an account.
const (
	ExchangeBinance = "binance"
	ExchangePaper   = "paper"
)

// Account describes one trading account, leader or follower. Accounts are
// built from configuration at startup and never change afterward, except for
// Enabled which is toggled through Registry.SetEnabled.
type Account struct {
	UserID    string
	Exchange  string
	APIKey    string
	APISecret string
	Testnet   bool

	// Follower-only settings. The leader trades at identity scale and
	// carries no copy flag.
	Enabled        bool
	RiskMultiplier decimal.Decimal
	MinPosition    decimal.Decimal // zero means no lower bound beyond the venue minimum
	MaxPosition    decimal.Decimal // zero means unbounded

	// PaperEquity seeds the simulated venue; ignored for real exchanges.
	PaperEquity decimal.Decimal
}

// Validate checks the fields common to leaders and followers.
func (a Account) Validate() error {
	if a.UserID == "" {
		return fmt.Errorf("account user_id is required")
	}
	switch a.Exchange {
	case ExchangeBinance:
		if a.APIKey == "" || a.APISecret == "" {
			return fmt.Errorf("account %s: api_key and api_secret are required for binance", a.UserID)
		}
	case ExchangePaper:
		if !a.PaperEquity.IsPositive() {
			return fmt.Errorf("account %s: paper_equity must be positive for paper accounts", a.UserID)
		}
	default:
		return fmt.Errorf("account %s: unknown exchange %q", a.UserID, a.Exchange)
	}
	if a.MinPosition.IsNegative() || a.MaxPosition.IsNegative() {
		return fmt.Errorf("account %s: position bounds must not be negative", a.UserID)
	}
	if a.MinPosition.IsPositive() && a.MaxPosition.IsPositive() && a.MinPosition.GreaterThan(a.MaxPosition) {
		return fmt.Errorf("account %s: min_position exceeds max_position", a.UserID)
	}
	return nil
}

// ValidateFollower checks follower-specific fields on top of Validate.
func (a Account) ValidateFollower() error {
	if err := a.Validate(); err != nil {
		return err
	}
	if !a.RiskMultiplier.IsPositive() {
		return fmt.Errorf("follower %s: risk_multiplier must be positive", a.UserID)
	}
	return nil
}
