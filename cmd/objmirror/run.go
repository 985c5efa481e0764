package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/objmirror/internal/journal"
	"github.com/openmined/objmirror/internal/pathlock"
	"github.com/openmined/objmirror/internal/reconcile"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var lockTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile the local file with the remote object once",
		Long: `Run one reconciliation pass.

Exit status is 0 when local and remote are consistent, 1 on error, 3 when the
remote body contradicts its recorded digest and 4 when another pass holds the
lock on the local path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			p, err := a.newPasser(cmd.Context(), lockTimeout)
			if err != nil {
				return err
			}
			defer p.close()

			res, err := p.pass(cmd.Context())
			if res != nil {
				printSummary(cmd.OutOrStdout(), res, err)
			}
			if err != nil {
				return err
			}
			if res.Anomaly != nil {
				return fmt.Errorf("%w: %v", errAnomaly, res.Anomaly)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&lockTimeout, "lock-timeout", 0, "wait this long for a concurrent pass to finish")
	return cmd
}

// passer runs locked, journaled passes with one store and reconciler.
type passer struct {
	reconciler  *reconcile.Reconciler
	journal     *journal.Journal
	lock        *pathlock.Lock
	lockTimeout time.Duration
}

func (a *app) newPasser(ctx context.Context, lockTimeout time.Duration) (*passer, error) {
	st, err := a.newStore(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create object store: %w", err)
	}

	r, err := reconcile.New(st, a.cfg.Reconcile())
	if err != nil {
		return nil, err
	}

	p := &passer{
		reconciler:  r,
		lock:        pathlock.New(a.cfg.LocalPath),
		lockTimeout: lockTimeout,
	}

	if a.cfg.JournalPath != "" {
		j, err := journal.Open(a.cfg.JournalPath)
		if err != nil {
			slog.Warn("pass history disabled", "path", a.cfg.JournalPath, "error", err)
		} else {
			p.journal = j
		}
	}

	return p, nil
}

// pass takes the path lock, runs one pass and records it.
func (p *passer) pass(ctx context.Context) (*reconcile.Result, error) {
	if err := p.lock.Acquire(ctx, p.lockTimeout); err != nil {
		return nil, err
	}
	defer func() {
		if err := p.lock.Unlock(); err != nil {
			slog.Warn("failed to release lock", "path", p.lock.Path(), "error", err)
		}
	}()

	res, err := p.reconciler.Run(ctx)

	attrs := []any{"action", res.Action, "state", res.State.String(), "took", res.Duration.Round(time.Millisecond)}
	switch {
	case err != nil:
		slog.Error("pass failed", append(attrs, "error", err)...)
	case res.Anomaly != nil:
		slog.Error("pass found a digest anomaly", append(attrs, "error", res.Anomaly)...)
	default:
		slog.Info("pass complete", attrs...)
	}

	if p.journal != nil {
		if _, jerr := p.journal.Record(res, err); jerr != nil {
			slog.Warn("failed to record pass", "error", jerr)
		}
	}
	return res, err
}

func (p *passer) close() {
	if p.journal == nil {
		return
	}
	if err := p.journal.Close(); err != nil {
		slog.Warn("failed to close pass history", "error", err)
	}
}
