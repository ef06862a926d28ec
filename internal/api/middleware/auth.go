package middleware

import (
	"net/http"
	"strings"

	"github.com/clrfund/setup-mpc-ui/internal/api"
	"github.com/clrfund/setup-mpc-ui/internal/api/httperrors"
	"github.com/clrfund/setup-mpc-ui/internal/auth"
	"github.com/clrfund/setup-mpc-ui/internal/types"
	"github.com/clrfund/setup-mpc-ui/internal/util"
	"github.com/labstack/echo/v4"
)

// Auth validates the bearer token and stores the participant identity in
// the request context.
func Auth(s *api.Server) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			log := util.LogFromContext(ctx)

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return httperrors.NewHTTPError(http.StatusUnauthorized, types.PublicHTTPErrorTypeGeneric, "Missing bearer token")
			}

			claims, err := s.JWT.Validate(token)
			if err != nil {
				log.Debug().Err(err).Msg("Rejecting invalid bearer token")
				return httperrors.NewHTTPError(http.StatusUnauthorized, types.PublicHTTPErrorTypeGeneric, "Invalid bearer token")
			}

			res := auth.Result{
				ParticipantID: claims.Subject,
				AuthID:        claims.AuthID,
				Provider:      claims.Provider,
			}
			if claims.ExpiresAt != nil {
				res.ValidUntil = claims.ExpiresAt.Time
			}

			c.SetRequest(c.Request().WithContext(auth.WithResult(ctx, res)))

			return next(c)
		}
	}
}
