package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/epicsales/coach/internal/api/v1"
	"github.com/epicsales/coach/internal/api/ws"
	"github.com/epicsales/coach/internal/engine"
)

func registerAPIRoutes(api huma.API, store v1.DataStore, eng *engine.Engine) {
	v1.RegisterSessionRoutes(api, eng)
	v1.RegisterConflictRoutes(api, store)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/sessions/{sessionID}", hub.ServeSession)
	r.Get("/conflicts", hub.ServeConflicts)
}
