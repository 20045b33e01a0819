package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/copytrader/exchange"
	"github.com/rustyeddy/copytrader/journal"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Query the journal of past replications",
	Long: `Report reads the sqlite journal and prints past replications. With no
flags it lists the most recent ones.

Examples:
  copytrader report
  copytrader report --recent 25
  copytrader report --action-id 01J9ZK3V7R8Q4N2M6P0XWT5YEB
  copytrader report --failed-since 24h`,
	RunE: runReport,
}

var (
	reportActionID    string
	reportRecent      int
	reportFailedSince string
)

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportActionID, "action-id", "", "show one replication in full")
	reportCmd.Flags().IntVar(&reportRecent, "recent", 10, "how many recent replications to list")
	reportCmd.Flags().StringVar(&reportFailedSince, "failed-since", "", "list failed follower results newer than this duration, e.g. 24h")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Journal.Type != "sqlite" {
		return fmt.Errorf("report needs the sqlite journal, configured type is %q", cfg.Journal.Type)
	}

	j, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return err
	}
	defer j.Close()

	switch {
	case reportActionID != "":
		return printOneReport(j, reportActionID)
	case reportFailedSince != "":
		return printFailedResults(j, reportFailedSince)
	default:
		return printRecentReports(j, reportRecent)
	}
}

func printOneReport(j *journal.SQLite, actionID string) error {
	rep, results, err := j.GetReport(actionID)
	if err != nil {
		return err
	}

	fmt.Printf("Replication %s (%s %s)\n", rep.ActionID, rep.Kind, exchange.DisplaySymbol(rep.Symbol))
	fmt.Printf("  Started:  %s\n", rep.StartedAt.Local().Format(time.RFC3339))
	fmt.Printf("  Finished: %s\n", rep.FinishedAt.Local().Format(time.RFC3339))
	fmt.Printf("  Succeeded: %d  Failed: %d  Skipped: %d\n", rep.Succeeded, rep.Failed, rep.Skipped)
	fmt.Println()
	for _, r := range results {
		switch r.Status {
		case "succeeded":
			fmt.Printf("  %-14s succeeded  amount=%s order=%s attempts=%d latency=%dms\n",
				r.UserID, r.ScaledAmount, r.OrderID, r.Attempts, r.LatencyMs)
		case "skipped":
			fmt.Printf("  %-14s skipped    %s\n", r.UserID, r.SkipReason)
		default:
			fmt.Printf("  %-14s failed     [%s] %s (attempts=%d)\n",
				r.UserID, r.ErrorKind, r.Error, r.Attempts)
		}
	}
	return nil
}

func printFailedResults(j *journal.SQLite, since string) error {
	d, err := time.ParseDuration(since)
	if err != nil {
		return fmt.Errorf("failed-since: %w", err)
	}

	results, err := j.ListFailedResults(time.Now().UTC().Add(-d))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Printf("No failed results in the last %s\n", d)
		return nil
	}
	for _, r := range results {
		fmt.Printf("%-28s %-14s [%s] %s\n", r.ActionID, r.UserID, r.ErrorKind, r.Error)
	}
	return nil
}

func printRecentReports(j *journal.SQLite, limit int) error {
	reps, err := j.ListRecent(limit)
	if err != nil {
		return err
	}
	if len(reps) == 0 {
		fmt.Println("Journal is empty")
		return nil
	}
	for _, rep := range reps {
		fmt.Printf("%s  %-28s %-16s %-10s ok=%d fail=%d skip=%d\n",
			rep.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			rep.ActionID, rep.Kind, exchange.DisplaySymbol(rep.Symbol),
			rep.Succeeded, rep.Failed, rep.Skipped)
	}
	return nil
}
