package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowjay/drkit/internal/artifact"
	"github.com/rowjay/drkit/internal/metrics"
	"github.com/rowjay/drkit/internal/restore"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newBackupCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var cadence string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Take one backup of every source now",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := artifact.ParseCadence(cadence)
			if err != nil {
				return err
			}
			_, logger, appSvc, err := setup(root, overrides, metrics.Noop{})
			if err != nil {
				return err
			}
			defer appSvc.Close()

			ctx, cancel := signalContext()
			defer cancel()
			run, err := appSvc.Backup(ctx, c)
			if err != nil {
				return err
			}
			if err := printJSON(run); err != nil {
				return err
			}
			if !run.Success() {
				return fmt.Errorf("backup %s: %s", run.ID, run.Status())
			}
			logger.Info().Str("run_id", run.ID).Msg("backup completed")
			return nil
		},
	}
	cmd.Flags().StringVar(&cadence, "cadence", string(artifact.Manual), "Cadence to record the backup under")
	return cmd
}

func newPruneCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Apply local retention to every cadence",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, appSvc, err := setup(root, overrides, metrics.Noop{})
			if err != nil {
				return err
			}
			defer appSvc.Close()

			ctx, cancel := signalContext()
			defer cancel()
			list, err := appSvc.Prune(ctx, dryRun)
			if err != nil {
				return err
			}
			logger.Info().Int("count", len(list)).Bool("dry_run", dryRun).Msg("prune completed")
			return printJSON(list)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only report what would be deleted")
	return cmd
}

func newListCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available backups, local and remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, appSvc, err := setup(root, overrides, metrics.Noop{})
			if err != nil {
				return err
			}
			defer appSvc.Close()

			ctx, cancel := signalContext()
			defer cancel()
			items, err := appSvc.List(ctx)
			if err != nil {
				if items == nil {
					return err
				}
				logger.Warn().Err(err).Msg("remote listing failed")
			}
			return printJSON(items)
		},
	}
}

func newQuickCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "quick",
		Short: "Restore the newest backup of every source",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, appSvc, err := setup(root, overrides, metrics.Noop{})
			if err != nil {
				return err
			}
			defer appSvc.Close()

			ctx, cancel := signalContext()
			defer cancel()
			return finishRestore(appSvc.QuickRollback(ctx))
		},
	}
}

func newRestoreCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var key string
	var src string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore one backup by key, or the newest of one source",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (key == "") == (src == "") {
				return errors.New("exactly one of --key or --source is required")
			}
			_, _, appSvc, err := setup(root, overrides, metrics.Noop{})
			if err != nil {
				return err
			}
			defer appSvc.Close()

			ctx, cancel := signalContext()
			defer cancel()
			if key != "" {
				return finishRestore(appSvc.Restore(ctx, key))
			}
			kind, err := artifact.ParseSource(src)
			if err != nil {
				return err
			}
			return finishRestore(appSvc.RestoreLatest(ctx, kind))
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Artifact file name or remote key")
	cmd.Flags().StringVar(&src, "source", "", "Restore the newest artifact of this source (postgres, redis)")
	return cmd
}

func finishRestore(run artifact.Run, outcomes []restore.Outcome, err error) error {
	if err != nil {
		return err
	}
	if perr := printJSON(map[string]any{"run": run, "outcomes": outcomes}); perr != nil {
		return perr
	}
	if !run.Success() {
		return fmt.Errorf("restore %s: %s", run.ID, run.Status())
	}
	return nil
}

func newValidateCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, appSvc, err := setup(root, overrides, metrics.Noop{})
			if err != nil {
				return err
			}
			defer appSvc.Close()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectionTimeout+cfg.Cache.DialTimeout+30*time.Second)
			defer cancel()
			if err := appSvc.Validate(ctx); err != nil {
				return err
			}
			logger.Info().Msg("validation succeeded")
			return nil
		},
	}
}
