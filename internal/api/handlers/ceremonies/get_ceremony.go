package ceremonies

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

func GetCeremonyRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/ceremonies/:id", getCeremonyHandler(s))
}

func getCeremonyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		cer, err := s.Store.GetCeremony(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return httperrors.NewNotFound(types.PublicHTTPErrorTypeGeneric, "Ceremony not found")
			}
			return err
		}

		return util.ValidateAndReturn(c, http.StatusOK, ceremonyResponse(cer))
	}
}

func ceremonyResponse(cer *ceremony.Ceremony) *types.CeremonyResponse {
	res := &types.CeremonyResponse{
		ID:           swag.String(cer.ID),
		Title:        swag.String(cer.Title),
		State:        swag.String(string(cer.State)),
		StartTime:    strfmt.DateTime(cer.StartTime),
		Completed:    cer.Completed,
		Hash:         cer.Hash,
		CurrentIndex: util.IntPtr(cer.CurrentIndex),
	}
	if cer.CompletedAt != nil {
		dt := strfmt.DateTime(*cer.CompletedAt)
		res.CompletedAt = &dt
	}
	return res
}
