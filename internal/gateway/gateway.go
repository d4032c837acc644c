// Package gateway is the transport edge: it upgrades WebSocket
// sessions, authenticates bearer tokens, and serves the REST surface
// for relationships, message history, and profiles.
package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/huddle-chat/huddle/internal/auth"
	"github.com/huddle-chat/huddle/internal/config"
	"github.com/huddle-chat/huddle/internal/ledger"
	"github.com/huddle-chat/huddle/internal/registry"
	"github.com/huddle-chat/huddle/internal/relation"
	"github.com/huddle-chat/huddle/internal/signaling"
	"github.com/huddle-chat/huddle/internal/store"
)

// Gateway wires the HTTP surface to the coordination services.
type Gateway struct {
	cfg       *config.Config
	auth      auth.Authenticator
	db        *store.DB
	reg       *registry.Registry
	relations *relation.Store
	messages  *ledger.Ledger
	relay     *signaling.Relay
	promReg   *prometheus.Registry
	logger    *zap.Logger
}

func New(cfg *config.Config, a auth.Authenticator, db *store.DB, reg *registry.Registry, relations *relation.Store, messages *ledger.Ledger, relay *signaling.Relay, promReg *prometheus.Registry, logger *zap.Logger) *Gateway {
	return &Gateway{
		cfg:       cfg,
		auth:      a,
		db:        db,
		reg:       reg,
		relations: relations,
		messages:  messages,
		relay:     relay,
		promReg:   promReg,
		logger:    logger.Named("gateway"),
	}
}

// Router builds the full route tree.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", g.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(g.promReg, promhttp.HandlerOpts{}))
	r.Get("/ws", g.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(g.requireAuth)

		r.Get("/users/me", g.handleMe)

		r.Route("/friends", func(r chi.Router) {
			r.Get("/", g.handleFriends)
			r.Get("/requests", g.handleRequests)
			r.Get("/search", g.handleSearch)
			r.Post("/request/{id}", g.handleRequest)
			r.Post("/accept/{id}", g.handleAccept)
			r.Post("/decline/{id}", g.handleDecline)
			r.Delete("/{id}", g.handleRemove)
		})

		r.Get("/messages/{id}", g.handleHistory)
		r.Post("/messages/{id}", g.handleSendMessage)
	})

	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
