// Package contribute implements the participant-side client. It walks each
// circuit through the full contribution lifecycle: join the queue, wait for
// the turn, download, compute, upload, then move to the next circuit until
// the whole series is done.
package contribute

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/clrfund/setup-mpc-ui/internal/api"
	"github.com/clrfund/setup-mpc-ui/internal/ceremony"
	"github.com/clrfund/setup-mpc-ui/internal/config"
	"github.com/clrfund/setup-mpc-ui/internal/contrib"
	"github.com/clrfund/setup-mpc-ui/internal/metrics"
	"github.com/clrfund/setup-mpc-ui/internal/persistence"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	var participantID string
	var authID string

	cmd := &cobra.Command{
		Use:   "contribute",
		Short: "Run the participant contribution client",
		Run: func(cmd *cobra.Command, args []string) {
			if participantID == "" {
				log.Fatal().Msg("--participant-id is required")
			}
			if err := runContribute(participantID, authID); err != nil {
				log.Fatal().Err(err).Msg("Contribution client failed")
			}
		},
	}

	cmd.Flags().StringVar(&participantID, "participant-id", "", "Stable participant identifier")
	cmd.Flags().StringVar(&authID, "auth-id", "", "Identity provider subject for the participant")

	return cmd
}

func runContribute(participantID, authID string) error {
	cfg := config.DefaultServiceConfigFromEnv()
	config.InitLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := persistence.NewDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := api.NewRedisClient(cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	redisQueue := api.NewRedisQueue(redisClient)
	store := api.NewPostgresStore(db)
	clock := api.NewClock()

	params, err := api.NewParamsStore(cfg)
	if err != nil {
		return err
	}

	participant, err := store.GetParticipant(ctx, participantID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		participant = ceremony.NewParticipant(participantID, authID, clock.Now())
	}
	participant.Online = true
	if err := store.SaveParticipant(ctx, participant); err != nil {
		return err
	}

	m := metrics.New()
	machine := contrib.NewMachine(store, store, params, contrib.NewDevComputer(), redisQueue, redisQueue, clock, m.ContributionDuration, participant)

	if err := machine.Acknowledge(); err != nil {
		return err
	}
	if err := machine.Initialise(); err != nil {
		return err
	}

	for {
		circuit, err := nextCircuit(ctx, store, participantID)
		if err != nil {
			return err
		}
		if circuit == nil {
			done, err := machine.FinishSeries(ctx)
			if err != nil {
				return err
			}
			if done {
				log.Info().Str("participant_id", participantID).Msg("All circuits contributed")
			} else {
				log.Info().Str("participant_id", participantID).Msg("No runnable circuits left")
			}
			return nil
		}

		if err := runCircuit(ctx, machine, circuit.ID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A failed circuit is skipped, not retried. Turn failures
			// were already routed through Abort inside the machine; a
			// failure before the turn existed just resets the pipeline.
			log.Error().Err(err).Str("ceremony_id", circuit.ID).Msg("Circuit failed, moving on")
			if abortErr := machine.Abort(ctx, err.Error()); errors.Is(abortErr, contrib.ErrNoActiveTurn) {
				machine.Reset()
			}
		}
	}
}

// runCircuit drives one circuit end to end.
func runCircuit(ctx context.Context, machine *contrib.Machine, ceremonyID string) error {
	if err := machine.CollectEntropy(); err != nil {
		return err
	}
	if err := machine.Wait(); err != nil {
		return err
	}
	if err := machine.EnterQueue(ctx, ceremonyID); err != nil {
		return err
	}
	if machine.State().Step == contrib.StepQueued {
		if err := machine.AwaitTurn(ctx); err != nil {
			return err
		}
	}
	return machine.RunTurn(ctx)
}

// nextCircuit returns the first running ceremony the participant has not
// yet contributed to, or nil when none remain.
func nextCircuit(ctx context.Context, store ceremony.Store, participantID string) (*ceremony.Ceremony, error) {
	circuits, err := store.ListCeremonies(ctx, &ceremony.Filter{State: ceremony.StateRunning})
	if err != nil {
		return nil, err
	}

	for _, c := range circuits {
		existing, err := store.GetContribution(ctx, c.ID, participantID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return c, nil
			}
			return nil, err
		}
		if !existing.Status.Terminal() {
			return c, nil
		}
	}

	return nil, nil
}
