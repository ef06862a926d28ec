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

func GetQueueStatusRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Auth.GET("/ceremonies/:id/queue", getQueueStatusHandler(s))
}

func getQueueStatusHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		res, ok := auth.ResultFromContext(ctx)
		if !ok {
			return httperrors.NewHTTPError(http.StatusUnauthorized, types.PublicHTTPErrorTypeGeneric, "Missing participant identity")
		}

		ceremonyID := c.Param("id")

		contribution, err := s.Store.GetContribution(ctx, ceremonyID, res.ParticipantID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return httperrors.NewNotFound(types.PublicHTTPErrorTypeGeneric, "Not queued for this ceremony")
			}
			return err
		}

		// The cached index avoids a ceremony row read on every poll.
		currentIndex, err := s.Queue.CurrentIndex(ctx, ceremonyID)
		if err != nil {
			return err
		}
		if currentIndex == 0 {
			cer, err := s.Store.GetCeremony(ctx, ceremonyID)
			if err != nil {
				return err
			}
			currentIndex = cer.CurrentIndex
		}

		position := contribution.QueueIndex - currentIndex
		if position < 0 {
			position = 0
		}

		response := &types.QueueStatusResponse{
			CeremonyID:   swag.String(ceremonyID),
			QueueIndex:   util.IntPtr(contribution.QueueIndex),
			CurrentIndex: util.IntPtr(currentIndex),
			Position:     util.IntPtr(position),
			Status:       string(contribution.Status),
		}

		return util.ValidateAndReturn(c, http.StatusOK, response)
	}
}
