package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/copytrader/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate loads the configuration, checks every account and setting, and
prints a summary. By default it never connects to an exchange, so it is
safe to run against production credentials; --connect additionally dials
every account and reports which ones are reachable.

Examples:
  copytrader validate
  copytrader validate -f prod.yaml
  copytrader validate -f prod.yaml --connect`,
	RunE: runValidate,
}

var validateConnect bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateConnect, "connect", false, "also dial every account to verify credentials and reachability")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	leader := reg.Leader()
	enabled := len(reg.Followers(true))

	fmt.Printf("Configuration OK: %s\n", cfgPath)
	fmt.Printf("  Leader:    %s on %s\n", leader.UserID, leader.Exchange)
	fmt.Printf("  Followers: %d configured, %d enabled\n", len(cfg.Followers), enabled)
	fmt.Printf("  Journal:   %s\n", journalSummary(cfg.Journal))
	if cfg.Sync.Enabled {
		fmt.Printf("  Sync:      every %s\n", orDefault(cfg.Sync.Interval, "20s"))
	} else {
		fmt.Printf("  Sync:      disabled\n")
	}

	if !validateConnect {
		return nil
	}
	return checkConnectivity(cfg)
}

func checkConnectivity(cfg *config.Config) error {
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

	fmt.Println()
	unreachable := 0
	for _, acct := range reg.Accounts() {
		if _, err := mgr.GetHandle(ctx, acct); err != nil {
			fmt.Printf("  %-14s unreachable: %v\n", acct.UserID, err)
			unreachable++
			continue
		}
		fmt.Printf("  %-14s reachable\n", acct.UserID)
	}
	if unreachable > 0 {
		return fmt.Errorf("%d account(s) unreachable", unreachable)
	}
	return nil
}

func journalSummary(cfg config.JournalConfig) string {
	switch cfg.Type {
	case "sqlite":
		return fmt.Sprintf("sqlite at %s", cfg.DBPath)
	case "csv":
		return fmt.Sprintf("csv at %s, %s", cfg.ReportsFile, cfg.ResultsFile)
	default:
		return "disabled"
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
