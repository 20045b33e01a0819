package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/copytrader/account"
	"github.com/rustyeddy/copytrader/config"
	"github.com/rustyeddy/copytrader/exchange"
	"github.com/rustyeddy/copytrader/exchange/paper"
	"github.com/rustyeddy/copytrader/journal"
	"github.com/rustyeddy/copytrader/pkg/id"
	"github.com/rustyeddy/copytrader/replicator"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a replication round trip on paper accounts",
	Long: `Demo runs a complete replication round trip on simulated venues. No
configuration, credentials or network access required.

It builds a leader with 10,000 equity and two followers, a 5,000 account
copying at full size and a 10,000 account copying at a tenth, replicates
a 1.0 BTC market sell, replays the same action to show idempotency, then
closes half the position.`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Copy Trading Demo ===")
	fmt.Println()

	log, err := buildLogger(config.LogConfig{Level: "warn", Format: "console"})
	if err != nil {
		return err
	}
	defer log.Sync()

	leader := account.Account{
		UserID:      "leader",
		Exchange:    account.ExchangePaper,
		PaperEquity: decimal.NewFromInt(10000),
	}
	followers := []account.Account{
		{
			UserID:         "follower-1",
			Exchange:       account.ExchangePaper,
			Enabled:        true,
			RiskMultiplier: decimal.NewFromInt(1),
			PaperEquity:    decimal.NewFromInt(5000),
		},
		{
			UserID:         "follower-2",
			Exchange:       account.ExchangePaper,
			Enabled:        true,
			RiskMultiplier: decimal.RequireFromString("0.1"),
			MinPosition:    decimal.RequireFromString("0.001"),
			PaperEquity:    decimal.NewFromInt(10000),
		},
	}
	reg, err := account.NewRegistry(leader, followers)
	if err != nil {
		return err
	}

	filters := exchange.Filters{
		StepSize: decimal.RequireFromString("0.001"),
		MinQty:   decimal.RequireFromString("0.001"),
	}
	mgr := exchange.NewManager(func(acct account.Account) (exchange.Exchange, error) {
		return paper.New(acct.UserID,
			paper.WithEquity(acct.PaperEquity),
			paper.WithFilters("BTCUSDT", filters),
			paper.WithMark("BTCUSDT", decimal.NewFromInt(50000)),
		), nil
	}, log)
	defer mgr.CloseAll()

	eng := replicator.NewEngine(replicator.Config{}, reg, mgr, journal.Nop{}, log)
	ctx := context.Background()

	sell := replicator.LeaderAction{
		ActionID:  id.New(),
		Kind:      replicator.NewOrder,
		Symbol:    "BTCUSDT",
		Side:      exchange.Sell,
		OrderType: exchange.Market,
		Amount:    decimal.NewFromInt(1),
	}

	fmt.Printf("Leader sells 1.0 BTCUSDT at market (action %s)\n\n", sell.ActionID)
	rep, err := eng.Replicate(ctx, sell)
	if err != nil {
		return err
	}
	printReport(rep)

	fmt.Println()
	fmt.Println("Replaying the same action id...")
	again, err := eng.Replicate(ctx, sell)
	if err != nil {
		return err
	}
	if again == rep {
		fmt.Println("  Same report returned, no orders re-sent")
	}

	fmt.Println()
	fmt.Println("Leader closes half the position...")
	fmt.Println()
	half := replicator.LeaderAction{
		ActionID:      id.New(),
		Kind:          replicator.PositionClosed,
		Symbol:        "BTCUSDT",
		CloseFraction: decimal.RequireFromString("0.5"),
	}
	rep, err = eng.Replicate(ctx, half)
	if err != nil {
		return err
	}
	printReport(rep)

	return eng.Shutdown(5 * time.Second)
}
