package db

import (
	"context"
	"fmt"
	"time"

	"github.com/clrfund/setup-mpc-ui/internal/ceremony"
	"github.com/clrfund/setup-mpc-ui/internal/config"
	"github.com/clrfund/setup-mpc-ui/internal/persistence"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newSeed() *cobra.Command {
	var circuits int

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a development ceremony series",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runSeed(cmd.Context(), circuits); err != nil {
				log.Fatal().Err(err).Msg("Failed to seed database")
			}
		},
	}

	cmd.Flags().IntVar(&circuits, "circuits", 3, "Number of circuits to create")

	return cmd
}

func runSeed(ctx context.Context, circuits int) error {
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

	store := ceremony.NewPostgresStore(db)
	now := time.Now()

	for i := 1; i <= circuits; i++ {
		c := &ceremony.Ceremony{
			ID:           uuid.New().String(),
			Title:        fmt.Sprintf("circuit-%d", i),
			State:        ceremony.StatePreselection,
			StartTime:    now,
			CurrentIndex: 1,
		}
		if err := store.SaveCeremony(ctx, c); err != nil {
			return err
		}
		log.Info().Str("ceremony_id", c.ID).Str("title", c.Title).Msg("Seeded ceremony")
	}

	return nil
}
