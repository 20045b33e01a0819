package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rustyeddy/copytrader/account"
	"github.com/rustyeddy/copytrader/config"
	"github.com/rustyeddy/copytrader/exchange"
	"github.com/rustyeddy/copytrader/exchange/binance"
	"github.com/rustyeddy/copytrader/exchange/paper"
	"github.com/rustyeddy/copytrader/journal"
)

var rootCmd = &cobra.Command{
	Use:   "copytrader",
	Short: "Mirror a leader account's trades onto follower accounts",
	Long: `Copytrader replicates one leader trading account onto any number of
followers, scaling every order by account equity and per-follower risk
settings.

It provides tools for:
  - Replicating individual leader actions onto all enabled followers
  - Continuously reconciling follower positions against the leader
  - Inspecting account equity and open positions
  - Querying the journal of past replications
  - Validating configuration before going live`,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

var (
	cfgPath  string
	logLevel string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "f", "copytrader.yaml", "path to configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func buildLogger(cfg config.LogConfig) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	zcfg := zap.NewDevelopmentConfig()
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}

func buildJournal(cfg config.JournalConfig) (journal.Journal, error) {
	switch cfg.Type {
	case "sqlite":
		return journal.NewSQLite(cfg.DBPath)
	case "csv":
		return journal.NewCSV(cfg.ReportsFile, cfg.ResultsFile)
	default:
		return journal.Nop{}, nil
	}
}

// newManager wires the per-venue adapters behind a shared handle cache.
// Binance clients share the process-wide testnet switch, which Validate
// guarantees is consistent across the configured accounts.
func newManager(log *zap.SugaredLogger) *exchange.Manager {
	return exchange.NewManager(func(acct account.Account) (exchange.Exchange, error) {
		switch acct.Exchange {
		case account.ExchangeBinance:
			return binance.New(binance.Config{
				UserID:    acct.UserID,
				APIKey:    acct.APIKey,
				APISecret: acct.APISecret,
				Testnet:   acct.Testnet,
			}, log), nil
		case account.ExchangePaper:
			return paper.New(acct.UserID, paper.WithEquity(acct.PaperEquity)), nil
		default:
			return nil, fmt.Errorf("no adapter for exchange %q", acct.Exchange)
		}
	}, log)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
