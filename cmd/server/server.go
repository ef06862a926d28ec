package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clrfund/setup-mpc-ui/internal/api"
	"github.com/clrfund/setup-mpc-ui/internal/api/router"
	"github.com/clrfund/setup-mpc-ui/internal/config"
	"github.com/clrfund/setup-mpc-ui/internal/persistence"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the ceremony coordination server",
		Run: func(cmd *cobra.Command, args []string) {
			runServer(migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply the database schema before serving")

	return cmd
}

func runServer(migrate bool) {
	cfg := config.DefaultServiceConfigFromEnv()
	config.InitLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := api.InitNewServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	if migrate {
		if err := persistence.Migrate(ctx, s.DB); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}
	}

	router.Init(s)

	go func() {
		if err := s.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Str("listen_address", cfg.Echo.ListenAddress).Msg("Server started")

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down server cleanly")
	}
}
