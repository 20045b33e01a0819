package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/copytrader/config"
	"github.com/rustyeddy/copytrader/exchange"
	"github.com/rustyeddy/copytrader/pkg/id"
	"github.com/rustyeddy/copytrader/replicator"
)

var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Replicate one leader action onto all enabled followers",
	Long: `Replicate scales a single leader action by each follower's equity and
risk multiplier, submits the resulting orders concurrently, and prints a
per-follower report. Repeating an action id is safe; the engine returns
the original report without touching the venues again.

Examples:
  copytrader replicate --kind new_order --symbol BTCUSDT --side sell --amount 1.0
  copytrader replicate --kind leverage_changed --symbol ETHUSDT --leverage 10 --margin-mode cross
  copytrader replicate --kind position_closed --symbol BTCUSDT --close-fraction 0.5
  copytrader replicate --action-file action.json --only-exchange binance`,
	RunE: runReplicate,
}

var (
	replicateActionFile string
	replicateActionID   string
	replicateKind       string
	replicateSymbol     string
	replicateSide       string
	replicateOrderType  string
	replicateAmount     string
	replicatePrice      string
	replicateLeverage   int
	replicateMargin     string
	replicateFraction   string
	replicateOnly       string
)

func init() {
	rootCmd.AddCommand(replicateCmd)

	replicateCmd.Flags().StringVar(&replicateActionFile, "action-file", "", "read the leader action from a JSON file instead of flags")
	replicateCmd.Flags().StringVar(&replicateActionID, "action-id", "", "idempotency key (generated when empty)")
	replicateCmd.Flags().StringVar(&replicateKind, "kind", "new_order", "action kind: new_order, order_filled, leverage_changed, position_closed")
	replicateCmd.Flags().StringVar(&replicateSymbol, "symbol", "", "trading symbol, e.g. BTCUSDT")
	replicateCmd.Flags().StringVar(&replicateSide, "side", "", "order side: buy or sell")
	replicateCmd.Flags().StringVar(&replicateOrderType, "type", "market", "order type: market, limit, post_only")
	replicateCmd.Flags().StringVar(&replicateAmount, "amount", "", "leader order amount in base units")
	replicateCmd.Flags().StringVar(&replicatePrice, "price", "", "limit price")
	replicateCmd.Flags().IntVar(&replicateLeverage, "leverage", 0, "target leverage for leverage_changed")
	replicateCmd.Flags().StringVar(&replicateMargin, "margin-mode", "", "margin mode: cross or isolated")
	replicateCmd.Flags().StringVar(&replicateFraction, "close-fraction", "", "fraction of the position to close, in (0, 1]")
	replicateCmd.Flags().StringVar(&replicateOnly, "only-exchange", "", "replicate only to followers on this exchange (binance or paper)")
}

func runReplicate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	action, err := buildAction()
	if err != nil {
		return err
	}

	if replicateOnly != "" {
		var kept []config.AccountConfig
		for _, f := range cfg.Followers {
			if f.Exchange == replicateOnly {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			return fmt.Errorf("no followers on exchange %q", replicateOnly)
		}
		cfg.Followers = kept
	}

	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	jnl, err := buildJournal(cfg.Journal)
	if err != nil {
		return err
	}
	defer jnl.Close()

	mgr := newManager(log)
	defer mgr.CloseAll()

	eng := replicator.NewEngine(engineCfg, reg, mgr, jnl, log)

	ctx, stop := signalContext()
	defer stop()

	rep, err := eng.Replicate(ctx, action)
	if err != nil {
		return err
	}
	printReport(rep)

	return eng.Shutdown(5 * time.Second)
}

func buildAction() (replicator.LeaderAction, error) {
	if replicateActionFile != "" {
		data, err := os.ReadFile(replicateActionFile)
		if err != nil {
			return replicator.LeaderAction{}, fmt.Errorf("read action file: %w", err)
		}
		var action replicator.LeaderAction
		if err := json.Unmarshal(data, &action); err != nil {
			return replicator.LeaderAction{}, fmt.Errorf("parse action file: %w", err)
		}
		if action.ActionID == "" {
			action.ActionID = id.New()
		}
		return action, nil
	}

	action := replicator.LeaderAction{
		ActionID:   replicateActionID,
		Kind:       replicator.ActionKind(replicateKind),
		Symbol:     replicateSymbol,
		Side:       exchange.Side(replicateSide),
		OrderType:  exchange.OrderType(replicateOrderType),
		Leverage:   replicateLeverage,
		MarginMode: exchange.MarginMode(replicateMargin),
	}
	if action.ActionID == "" {
		action.ActionID = id.New()
	}

	var err error
	if replicateAmount != "" {
		if action.Amount, err = decimal.NewFromString(replicateAmount); err != nil {
			return action, fmt.Errorf("amount: %w", err)
		}
	}
	if replicatePrice != "" {
		if action.Price, err = decimal.NewFromString(replicatePrice); err != nil {
			return action, fmt.Errorf("price: %w", err)
		}
	}
	if replicateFraction != "" {
		if action.CloseFraction, err = decimal.NewFromString(replicateFraction); err != nil {
			return action, fmt.Errorf("close-fraction: %w", err)
		}
	}
	return action, nil
}

func printReport(rep *replicator.ReplicationReport) {
	elapsed := rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond)
	fmt.Printf("Replication %s (%s %s)\n", rep.ActionID, rep.Kind, exchange.DisplaySymbol(rep.Symbol))
	fmt.Printf("  Succeeded: %d  Failed: %d  Skipped: %d  Elapsed: %s\n", rep.Succeeded, rep.Failed, rep.Skipped, elapsed)
	fmt.Println()
	for _, res := range rep.Results {
		switch res.Status {
		case replicator.StatusSucceeded:
			fmt.Printf("  %-14s succeeded  amount=%s order=%s attempts=%d\n",
				res.UserID, res.ScaledAmount, res.OrderID, res.Attempts)
		case replicator.StatusSkipped:
			fmt.Printf("  %-14s skipped    %s\n", res.UserID, res.SkipReason)
		default:
			fmt.Printf("  %-14s failed     [%s] %s (attempts=%d)\n",
				res.UserID, res.ErrorKind, res.Error, res.Attempts)
		}
	}
}
