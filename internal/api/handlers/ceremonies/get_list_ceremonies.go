package ceremonies

import (
	"net/http"
	"strconv"

	"github.com/clrfund/setup-mpc-ui/internal/api"
	"github.com/clrfund/setup-mpc-ui/internal/ceremony"
	"github.com/clrfund/setup-mpc-ui/internal/types"
	"github.com/clrfund/setup-mpc-ui/internal/util"
	"github.com/labstack/echo/v4"
)

func GetListCeremoniesRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/ceremonies", getListCeremoniesHandler(s))
}

func getListCeremoniesHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		state := c.QueryParam("state")
		limit := 50
		offset := 0

		if limitStr := c.QueryParam("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil {
				limit = l
			}
		}

		if offsetStr := c.QueryParam("offset"); offsetStr != "" {
			if o, err := strconv.Atoi(offsetStr); err == nil {
				offset = o
			}
		}

		filter := &ceremony.Filter{
			State:  ceremony.State(state),
			Limit:  limit,
			Offset: offset,
		}

		list, err := s.Store.ListCeremonies(ctx, filter)
		if err != nil {
			return err
		}

		response := &types.CeremonyListResponse{
			Ceremonies: make([]*types.CeremonyResponse, len(list)),
		}
		for i, cer := range list {
			response.Ceremonies[i] = ceremonyResponse(cer)
		}

		return util.ValidateAndReturn(c, http.StatusOK, response)
	}
}
