// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/ardanlabs/mixnode/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/mixnode/foundation/events"
	"github.com/ardanlabs/mixnode/foundation/mixnet/database"
	"github.com/ardanlabs/mixnode/foundation/mixnet/tickets"
	"github.com/ardanlabs/mixnode/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log     *zap.SugaredLogger
	DB      *database.DB
	Tickets *tickets.Manager
	Evts    *events.Events[public.Event]
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:     cfg.Log,
		DB:      cfg.DB,
		Tickets: cfg.Tickets,
		WS:      websocket.Upgrader{},
		Evts:    cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/channels", pbl.Channels)
	app.Handle(http.MethodPost, version, "/channels", pbl.UpsertChannel)
	app.Handle(http.MethodGet, version, "/channels/:id", pbl.Channel)
	app.Handle(http.MethodDelete, version, "/channels/:id", pbl.DeleteChannel)
	app.Handle(http.MethodGet, version, "/channels/:id/unrealized", pbl.Unrealized)
	app.Handle(http.MethodGet, version, "/channels/:id/tickets", pbl.ChannelTickets)
	app.Handle(http.MethodPost, version, "/channels/:id/aggregation", pbl.PrepareAggregation)
	app.Handle(http.MethodDelete, version, "/channels/:id/aggregation", pbl.RollbackAggregation)
	app.Handle(http.MethodPost, version, "/tickets", pbl.SubmitTicket)
}
