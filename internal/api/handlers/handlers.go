package handlers

import (
	"github.com/clrfund/setup-mpc-ui/internal/api"
	"github.com/clrfund/setup-mpc-ui/internal/api/handlers/ceremonies"
	"github.com/clrfund/setup-mpc-ui/internal/api/handlers/common"
	"github.com/clrfund/setup-mpc-ui/internal/api/handlers/events"
	"github.com/clrfund/setup-mpc-ui/internal/api/handlers/participants"
	"github.com/labstack/echo/v4"
)

// AttachAllRoutes attaches all registered routes to the server.
func AttachAllRoutes(s *api.Server) {
	s.Router.Routes = []*echo.Route{
		ceremonies.GetCeremonyRoute(s),
		ceremonies.GetListCeremoniesRoute(s),
		ceremonies.GetQueueStatusRoute(s),
		ceremonies.PostJoinCeremonyRoute(s),
		common.GetMetricsRoute(s),
		common.GetReadyRoute(s),
		events.GetListEventsRoute(s),
		events.PostAckEventRoute(s),
		events.PostEventRoute(s),
		participants.PostParticipantRoute(s),
	}
}
