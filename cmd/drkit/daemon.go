package main

import (
	"github.com/spf13/cobra"

	"github.com/rowjay/drkit/internal/logging"
	"github.com/rowjay/drkit/internal/metrics"
	"github.com/rowjay/drkit/internal/scheduler"
	"github.com/rowjay/drkit/internal/server"
)

func newDaemonCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var noServer bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled backups and serve health, metrics and the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, appSvc, err := setup(root, overrides, metrics.NewProm("drkit"))
			if err != nil {
				return err
			}
			defer appSvc.Close()

			ctx, cancel := signalContext()
			defer cancel()

			var srv *server.Server
			if !noServer {
				srv = server.New(cfg.Server.Addr, appSvc)
				if err := srv.Start(); err != nil {
					return err
				}
				defer srv.Stop()
				logger.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
			}

			if cfg.Schedule.Enabled {
				settings, err := scheduler.SettingsFromConfig(cfg.Schedule)
				if err != nil {
					return err
				}
				onResult := func(res scheduler.Result) {
					if srv != nil && res.Err == nil {
						srv.Observe(res.Run)
					}
				}
				sched := scheduler.New(settings, appSvc.Backup, onResult, logging.Component(logger, "scheduler"))
				if err := sched.Start(ctx); err != nil {
					return err
				}
				defer sched.Stop()
			} else {
				logger.Warn().Msg("schedule disabled; only API triggered runs will happen")
			}

			<-ctx.Done()
			logger.Info().Msg("shutting down")
			return nil
		},
	}
	cmd.Flags().BoolVar(&noServer, "no-server", false, "Do not start the HTTP server")
	return cmd
}
