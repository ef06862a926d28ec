package db

import (
	"context"

	"github.com/clrfund/setup-mpc-ui/internal/config"
	"github.com/clrfund/setup-mpc-ui/internal/persistence"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrate() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runMigrate(cmd.Context()); err != nil {
				log.Fatal().Err(err).Msg("Failed to migrate database")
			}
		},
	}
}

func runMigrate(ctx context.Context) error {
	cfg := config.DefaultServiceConfigFromEnv()
	config.InitLogger(cfg)

	db, err := persistence.NewDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := persistence.Migrate(ctx, db); err != nil {
		return err
	}

	log.Info().Msg("Database schema up to date")
	return nil
}
