package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/copytrader/exchange"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show equity and open positions for every account",
	Long: `Status connects to each configured account, leader first, and prints
its equity and open positions. Accounts that cannot be reached are
reported and skipped.

Examples:
  copytrader status
  copytrader status -f prod.yaml`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	mgr := newManager(log)
	defer mgr.CloseAll()

	ctx, stop := signalContext()
	defer stop()

	leaderID := reg.Leader().UserID
	for _, acct := range reg.Accounts() {
		role := "follower"
		switch {
		case acct.UserID == leaderID:
			role = "leader"
		case !acct.Enabled:
			role = "follower, disabled"
		}
		fmt.Printf("%s (%s on %s)\n", acct.UserID, role, acct.Exchange)

		ex, err := mgr.GetHandle(ctx, acct)
		if err != nil {
			fmt.Printf("  unreachable: %v\n\n", err)
			continue
		}

		if eq, err := ex.GetEquity(ctx); err != nil {
			fmt.Printf("  equity unavailable: %v\n", err)
		} else {
			fmt.Printf("  Equity: %s\n", eq)
		}

		positions, err := ex.GetPositions(ctx)
		switch {
		case err != nil:
			fmt.Printf("  positions unavailable: %v\n", err)
		case len(positions) == 0:
			fmt.Println("  No open positions")
		default:
			for _, p := range positions {
				fmt.Printf("  %-10s %-5s amount=%s entry=%s mark=%s upnl=%s\n",
					exchange.DisplaySymbol(p.Symbol), p.Side, p.Amount, p.EntryPrice, p.MarkPrice, p.UnrealizedPnL)
			}
		}
		fmt.Println()
	}
	return nil
}
