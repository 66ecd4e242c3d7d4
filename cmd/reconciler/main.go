// cmd/reconciler is the repair service: it drains the partial-apply outbox and
// scans for pairs whose documents disagree.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/app"
	"github.com/jason-s-yu/socialgraph/internal/config"
	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/jason-s-yu/socialgraph/internal/reconciler"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// errLocalLock is returned when a command would repair pairs while holding
// only an in-process lock, which does not exclude the server's operations.
var errLocalLock = errors.New("repairs need PAIR_LOCK=redis so they serialize with the server; pass --allow-local-lock if no server is running")

func newRootCmd() *cobra.Command {
	var allowLocal bool
	root := &cobra.Command{
		Use:          "reconciler",
		Short:        "Repairs friend pairs left inconsistent by partial applies",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&allowLocal, "allow-local-lock", false,
		"repair with an in-process pair lock (only safe while no server writes to the store)")
	root.AddCommand(newRunCmd(&allowLocal), newScanCmd(&allowLocal), newRepairCmd(&allowLocal))
	return root
}

// setup loads config and opens the app under a signal-aware context. When
// repairs is set it refuses a local pair lock unless allowLocal is.
func setup(repairs, allowLocal bool) (context.Context, *app.App, *reconciler.Service, func(), error) {
	logger := logrus.New()
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	if repairs && cfg.PairLock != "redis" {
		if !allowLocal {
			return nil, nil, nil, nil, errLocalLock
		}
		logger.Warn("repairing with an in-process pair lock")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		stop()
		return nil, nil, nil, nil, err
	}

	var queue reconciler.Queue
	if a.Outbox != nil {
		queue = a.Outbox
	}
	svc := reconciler.New(a.Engine, queue, reconciler.Options{
		MaxAttempts:  cfg.ReconcileMaxAttempts,
		ScanInterval: cfg.ReconcileScanInterval,
		Concurrency:  cfg.ReconcileConcurrency,
	}, logger)

	cleanup := func() {
		a.Close()
		stop()
	}
	return ctx, a, svc, cleanup, nil
}

func newRunCmd(allowLocal *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Drain the outbox and run periodic scans until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, svc, cleanup, err := setup(true, *allowLocal)
			if err != nil {
				return err
			}
			defer cleanup()

			if a.Outbox == nil && a.Config.ReconcileScanInterval == 0 {
				return errors.New("nothing to do: set REDIS_ADDR or RECONCILE_SCAN_INTERVAL")
			}
			return svc.Run(ctx)
		},
	}
}

func newScanCmd(allowLocal *bool) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one full scan and print a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, _, svc, cleanup, err := setup(!dryRun, *allowLocal)
			if err != nil {
				return err
			}
			defer cleanup()

			scan := svc.Scan
			if dryRun {
				scan = svc.Detect
			}
			sum, err := scan(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report inconsistencies without repairing them")
	return cmd
}

func newRepairCmd(allowLocal *bool) *cobra.Command {
	var hint string
	cmd := &cobra.Command{
		Use:   "repair <uidA> <uidB>",
		Short: "Repair a single pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid uidA: %w", err)
			}
			b, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid uidB: %w", err)
			}

			ctx, inst, _, cleanup, err := setup(true, *allowLocal)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := inst.Engine.RepairPair(ctx, a, b, friends.Op(hint))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !report.Changed() {
				fmt.Fprintln(out, "pair already consistent")
				return nil
			}
			for _, st := range report.Steps {
				fmt.Fprintf(out, "%s\t%s\n", st.Action, st.Mutation)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&hint, "hint", "", "operation that was interrupted (send_request, confirm, unfriend, ...)")
	return cmd
}
