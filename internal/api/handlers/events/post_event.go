package events

import (
	"database/sql"
	"net/http"

	"github.com/clrfund/setup-mpc-ui/internal/api"
	"github.com/clrfund/setup-mpc-ui/internal/api/httperrors"
	"github.com/clrfund/setup-mpc-ui/internal/ceremony"
	"github.com/clrfund/setup-mpc-ui/internal/types"
	"github.com/clrfund/setup-mpc-ui/internal/util"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func PostEventRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Auth.POST("/ceremonies/:id/events", postEventHandler(s))
}

func postEventHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var body types.PostEventPayload
		if err := util.BindAndValidateBody(c, &body); err != nil {
			return err
		}

		ceremonyID := c.Param("id")
		if _, err := s.Store.GetCeremony(ctx, ceremonyID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return httperrors.NewNotFound(types.PublicHTTPErrorTypeGeneric, "Ceremony not found")
			}
			return err
		}

		var index *int
		if body.Index != nil {
			i := int(*body.Index)
			index = &i
		}

		event := ceremony.NewEvent(ceremonyID, *body.EventType, body.Message, index, s.Clock.Now())
		if err := s.EventLog.Append(ctx, event); err != nil {
			return err
		}

		response := &types.EventResponse{
			ID:           swag.String(event.ID),
			Sender:       swag.String(event.Sender),
			EventType:    swag.String(event.EventType),
			Message:      event.Message,
			Timestamp:    strfmt.DateTime(event.Timestamp),
			Acknowledged: event.Acknowledged,
		}
		if event.Index != nil {
			response.Index = util.IntPtr(*event.Index)
		}

		return util.ValidateAndReturn(c, http.StatusCreated, response)
	}
}
