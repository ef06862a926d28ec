package events

import (
	"net/http"
	"strconv"

	"github.com/clrfund/setup-mpc-ui/internal/api"
	"github.com/clrfund/setup-mpc-ui/internal/types"
	"github.com/clrfund/setup-mpc-ui/internal/util"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"
	"github.com/labstack/echo/v4"
)

func GetListEventsRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/ceremonies/:id/events", getListEventsHandler(s))
}

func getListEventsHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		limit := 100
		if limitStr := c.QueryParam("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil {
				limit = l
			}
		}

		list, err := s.EventLog.List(ctx, c.Param("id"), limit)
		if err != nil {
			return err
		}

		response := &types.EventListResponse{
			Events: make([]*types.EventResponse, len(list)),
		}
		for i, e := range list {
			res := &types.EventResponse{
				ID:           swag.String(e.ID),
				Sender:       swag.String(e.Sender),
				EventType:    swag.String(e.EventType),
				Message:      e.Message,
				Timestamp:    strfmt.DateTime(e.Timestamp),
				Acknowledged: e.Acknowledged,
			}
			if e.Index != nil {
				res.Index = util.IntPtr(*e.Index)
			}
			response.Events[i] = res
		}

		return util.ValidateAndReturn(c, http.StatusOK, response)
	}
}
