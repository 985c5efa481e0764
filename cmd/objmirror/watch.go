package main

import (
	"errors"
	"log/slog"
	"time"

	"github.com/openmined/objmirror/internal/pathlock"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		every       time.Duration
		passes      int
		lockTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reconcile repeatedly until interrupted",
		Long: `Run a pass immediately and then on every tick. A failed pass is logged
and retried on the next tick.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if every <= 0 {
				return errors.New("--every must be positive")
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			ctx := cmd.Context()
			p, err := a.newPasser(ctx, lockTimeout)
			if err != nil {
				return err
			}
			defer p.close()

			slog.Info("watching", "bucket", a.cfg.Bucket, "key", a.cfg.Key, "path", a.cfg.LocalPath, "every", every)

			ticker := time.NewTicker(every)
			defer ticker.Stop()

			for n := 1; ; n++ {
				res, err := p.pass(ctx)
				if errors.Is(err, pathlock.ErrLocked) {
					slog.Warn("another pass holds the lock, skipping tick")
				} else if res != nil && err == nil {
					printSummary(cmd.OutOrStdout(), res, nil)
				}

				if passes > 0 && n >= passes {
					return nil
				}

				select {
				case <-ctx.Done():
					slog.Info("watch stopped")
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&every, "every", 30*time.Minute, "interval between passes")
	cmd.Flags().IntVar(&passes, "passes", 0, "stop after this many passes, 0 runs until interrupted")
	cmd.Flags().DurationVar(&lockTimeout, "lock-timeout", 0, "wait this long for a concurrent pass to finish")
	return cmd
}
