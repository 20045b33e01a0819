package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/copytrader/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Init writes a starter configuration with a paper leader and one paper
follower to the path given by --config. Edit the accounts and point them
at real venues when ready.

Examples:
  copytrader init
  copytrader init -f prod.yaml`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists, remove it first", cfgPath)
	}
	if err := config.Default().SaveToFile(cfgPath); err != nil {
		return err
	}
	fmt.Printf("Wrote starter configuration to %s\n", cfgPath)
	fmt.Println("Edit the accounts, then run 'copytrader validate' to check it.")
	return nil
}
