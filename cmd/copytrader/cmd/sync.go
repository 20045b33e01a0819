package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/copytrader/replicator"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile follower positions against the leader",
	Long: `Sync sweeps every follower's open positions and corrects drift from the
leader: positions the leader no longer holds are closed, and positions a
follower is missing are joined late, as long as the mark price has not
drifted too far from the leader's entry.

Without --once it keeps sweeping at the configured interval until
interrupted.

Examples:
  copytrader sync
  copytrader sync --once`,
	RunE: runSync,
}

var syncOnce bool

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncOnce, "once", false, "run a single sweep and exit")
}

func runSync(cmd *cobra.Command, args []string) error {
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
	syncCfg, err := cfg.SyncConfig()
	if err != nil {
		return err
	}

	mgr := newManager(log)
	defer mgr.CloseAll()

	rec := replicator.NewReconciler(syncCfg, reg, mgr, log)

	ctx, stop := signalContext()
	defer stop()

	if syncOnce {
		sum, err := rec.ReconcileOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Println("Sweep complete:")
		fmt.Printf("  Orphans closed: %d\n", sum.OrphansClosed)
		fmt.Printf("  Late joins:     %d\n", sum.Joins)
		fmt.Printf("  Skipped:        %d\n", sum.Skipped)
		fmt.Printf("  Errors:         %d\n", sum.Errors)
		return nil
	}

	if !cfg.Sync.Enabled {
		return fmt.Errorf("sync is disabled in %s; enable it or use --once", cfgPath)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rec.Run(gctx)
	})

	fmt.Printf("Syncing every %s, Ctrl-C to stop\n", rec.Interval())
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("sync stopped")
	return nil
}
