package router

import (
	"net/http"

	"github.com/clrfund/setup-mpc-ui/internal/api"
	"github.com/clrfund/setup-mpc-ui/internal/api/handlers"
	"github.com/clrfund/setup-mpc-ui/internal/api/httperrors"
	"github.com/clrfund/setup-mpc-ui/internal/api/middleware"
	"github.com/clrfund/setup-mpc-ui/internal/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
)

// Init builds the echo instance, the route groups and attaches all
// handlers. Must run before Server.Start.
func Init(s *api.Server) {
	s.Echo = echo.New()
	s.Echo.Debug = false
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.HTTPErrorHandler = HTTPErrorHandler

	s.Echo.Pre(echomiddleware.RemoveTrailingSlash())
	s.Echo.Use(echomiddleware.Recover())
	s.Echo.Use(echomiddleware.RequestID())
	s.Echo.Use(middleware.Logger(s))

	s.Router = &api.Router{
		Root:      s.Echo.Group(""),
		APIV1:     s.Echo.Group("/api/v1"),
		APIV1Auth: s.Echo.Group("/api/v1", middleware.Auth(s)),
	}

	handlers.AttachAllRoutes(s)
}

// HTTPErrorHandler renders every error as the public error shape. Internal
// error details never leak to the response body.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var payload *httperrors.HTTPError

	var he *httperrors.HTTPError
	var ee *echo.HTTPError
	switch {
	case errors.As(err, &he):
		payload = he
	case errors.As(err, &ee):
		payload = httperrors.NewHTTPError(ee.Code, types.PublicHTTPErrorTypeGeneric, http.StatusText(ee.Code))
	default:
		log.Error().Err(err).Msg("Unhandled error while serving request")
		payload = httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, http.StatusText(http.StatusInternalServerError))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(payload.Code)
	} else {
		err = c.JSON(payload.Code, payload)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to write error response")
	}
}
