package cli

import (
	"challenge-service/internal/config"
	"challenge-service/internal/logger"

	"github.com/spf13/cobra"
)

// NewSweepCmd expires stale pending challenges once and exits. Useful from an external cron.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire pending challenges past their acceptance deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.New(serviceName, cfg.Log.Level)

			deps, err := buildComponents(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer deps.close()

			n, err := deps.service.ExpireStale(cmd.Context())
			if err != nil {
				return err
			}
			log.WithField("expired", n).Info("sweep finished")
			deps.wait()
			return nil
		},
	}
}
