package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/student-support/internal/config"
	"github.com/spec-kit/student-support/internal/observability"
	"github.com/spec-kit/student-support/internal/persistence"
)

func newMigrateCmd(load func() (*config.Config, error)) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the bundled SQL migrations to POSTGRES_DSN",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				for _, name := range persistence.MigrationNames() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Postgres.DSN == "" {
				return errors.New("POSTGRES_DSN is required")
			}
			logger, err := observability.NewLogger(cfg.Logger)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			ctx := cmd.Context()
			pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pg.Close()

			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				logger.Error("migration failed", zap.Error(err))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list bundled migrations without applying them")
	return cmd
}
