package participants

import (
	"database/sql"
	"net/http"

	"github.com/clrfund/setup-mpc-ui/internal/api"
	"github.com/clrfund/setup-mpc-ui/internal/api/httperrors"
	"github.com/clrfund/setup-mpc-ui/internal/auth"
	"github.com/clrfund/setup-mpc-ui/internal/ceremony"
	"github.com/clrfund/setup-mpc-ui/internal/types"
	"github.com/clrfund/setup-mpc-ui/internal/util"
	"github.com/go-openapi/swag"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func PostParticipantRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Auth.POST("/participants", postParticipantHandler(s))
}

// postParticipantHandler upserts the caller's participant record, keeping
// their online flag current. The identity comes from the bearer token, not
// the body.
func postParticipantHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		res, ok := auth.ResultFromContext(ctx)
		if !ok {
			return httperrors.NewHTTPError(http.StatusUnauthorized, types.PublicHTTPErrorTypeGeneric, "Missing participant identity")
		}

		var body types.PostParticipantPayload
		if err := util.BindAndValidateBody(c, &body); err != nil {
			return err
		}

		p, err := s.Store.GetParticipant(ctx, res.ParticipantID)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			p = ceremony.NewParticipant(res.ParticipantID, res.AuthID, s.Clock.Now())
			log.Info().Str("participant_id", p.UID).Msg("Registering new participant")
		}

		p.Online = swag.BoolValue(body.Online)

		if err := s.Store.SaveParticipant(ctx, p); err != nil {
			return err
		}

		response := &types.PostParticipantResponse{
			UID:    swag.String(p.UID),
			AuthID: swag.String(p.AuthID),
			State:  swag.String(string(p.State)),
			Online: p.Online,
		}

		return util.ValidateAndReturn(c, http.StatusOK, response)
	}
}
