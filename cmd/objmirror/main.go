package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/openmined/objmirror/internal/config"
	"github.com/openmined/objmirror/internal/logging"
	"github.com/openmined/objmirror/internal/pathlock"
	"github.com/openmined/objmirror/internal/store"
	"github.com/openmined/objmirror/internal/version"
	"github.com/spf13/cobra"
)

const (
	exitOK      = 0
	exitError   = 1
	exitAnomaly = 3
	exitLocked  = 4
)

// errAnomaly marks a pass that completed but found a remote body contradicting
// its recorded digest.
var errAnomaly = errors.New("digest anomaly")

// storeFactory builds the object store for a validated config.
type storeFactory func(ctx context.Context, cfg *config.Config) (store.ObjectStore, error)

func newS3Store(ctx context.Context, cfg *config.Config) (store.ObjectStore, error) {
	return store.NewS3Store(ctx, cfg.S3())
}

// app carries state shared by the commands of one invocation.
type app struct {
	cfg      *config.Config
	newStore storeFactory
	closeLog func() error
}

func (a *app) close() {
	if a.closeLog == nil {
		return
	}
	if err := a.closeLog(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
	a.closeLog = nil
}

func newRootCmd(newStore storeFactory) (*cobra.Command, *app) {
	a := &app{newStore: newStore}

	cmd := &cobra.Command{
		Use:           "objmirror",
		Short:         "Keep a local file mirroring an S3 object",
		Version:       version.Detailed(),
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			level, err := logging.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			closer, err := logging.Setup(logging.Options{
				Level:    level,
				Console:  cmd.ErrOrStderr(),
				FilePath: cfg.LogFile,
			})
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.closeLog = closer
			slog.Debug("config loaded", "config", cfg)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("config", "c", config.DefaultConfigPath, "config file")
	flags.String("env-file", ".env", "dotenv file loaded into the environment if present")
	flags.StringP("bucket", "b", "", "S3 bucket")
	flags.StringP("key", "k", "", "S3 object key")
	flags.StringP("local-path", "l", "", "local file mirroring the object")
	flags.String("region", "", "S3 region")
	flags.String("endpoint", "", "S3 endpoint for S3 compatible stores")
	flags.Bool("path-style", false, "use path-style addressing")
	flags.Bool("metadata-copy", true, "record baselines with a metadata-only copy when possible")
	flags.String("metadata-field", "sha512", "object metadata key holding the digest")
	flags.String("backup-policy", "rotate", "what to do with an existing .bak: rotate, overwrite or fail")
	flags.Bool("seed-remote", false, "upload the local file when the remote object is missing")
	flags.String("journal", config.DefaultJournalPath, "pass history database, empty to disable")
	flags.String("log-file", "", "also write debug logs to this file")
	flags.String("log-level", "info", "console log level")

	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newWatchCmd(a))
	cmd.AddCommand(newDigestCmd())
	cmd.AddCommand(newHistoryCmd(a))
	cmd.AddCommand(newInitCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd, a
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errAnomaly):
		return exitAnomaly
	case errors.Is(err, pathlock.ErrLocked):
		return exitLocked
	default:
		return exitError
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd, a := newRootCmd(newS3Store)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		slog.Error("objmirror failed", "error", err)
		fmt.Fprintf(os.Stderr, "%s %v\n", red.Render("ERROR"), err)
	}

	a.close()
	stop()
	os.Exit(exitCode(err))
}
