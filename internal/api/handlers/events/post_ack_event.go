package events

import (
	"database/sql"
	"net/http"

	"github.com/clrfund/setup-mpc-ui/internal/api"
	"github.com/clrfund/setup-mpc-ui/internal/api/httperrors"
	"github.com/clrfund/setup-mpc-ui/internal/types"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func PostAckEventRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Auth.POST("/events/:id/ack", postAckEventHandler(s))
}

func postAckEventHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		if err := s.EventLog.Acknowledge(ctx, c.Param("id")); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return httperrors.NewNotFound(types.PublicHTTPErrorTypeGeneric, "Event not found")
			}
			return err
		}

		return c.NoContent(http.StatusNoContent)
	}
}
