package ceremonies

import (
	"database/sql"
	"net/http"

	"github.com/clrfund/setup-mpc-ui/internal/api"
	"github.com/clrfund/setup-mpc-ui/internal/api/httperrors"
	"github.com/clrfund/setup-mpc-ui/internal/auth"
	"github.com/clrfund/setup-mpc-ui/internal/types"
	"github.com/clrfund/setup-mpc-ui/internal/util"
	"github.com/go-openapi/swag"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func PostJoinCeremonyRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Auth.POST("/ceremonies/:id/join", postJoinCeremonyHandler(s))
}

// postJoinCeremonyHandler reserves the caller's place in a ceremony queue.
// Joining is idempotent: a repeat call returns the assignment the caller
// already holds, whether or not the turn has started.
func postJoinCeremonyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		res, ok := auth.ResultFromContext(ctx)
		if !ok {
			return httperrors.NewHTTPError(http.StatusUnauthorized, types.PublicHTTPErrorTypeGeneric, "Missing participant identity")
		}

		ceremonyID := c.Param("id")

		contribution, err := s.Store.JoinQueue(ctx, ceremonyID, res.ParticipantID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return httperrors.NewNotFound(types.PublicHTTPErrorTypeGeneric, "Ceremony not found")
			}
			return err
		}

		log.Info().
			Str("ceremony_id", ceremonyID).
			Str("participant_id", res.ParticipantID).
			Int("queue_index", contribution.QueueIndex).
			Msg("Participant joined ceremony queue")

		cer, err := s.Store.GetCeremony(ctx, ceremonyID)
		if err != nil {
			return err
		}

		response := &types.JoinCeremonyResponse{
			CeremonyID:   swag.String(ceremonyID),
			QueueIndex:   util.IntPtr(contribution.QueueIndex),
			PriorIndex:   util.IntPtr(contribution.PriorIndex),
			CurrentIndex: util.IntPtr(cer.CurrentIndex),
		}

		return util.ValidateAndReturn(c, http.StatusCreated, response)
	}
}
