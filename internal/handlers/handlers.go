// Package handlers exposes the HTTP API and the WebSocket endpoint.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tariel-x/callrelay/internal/auth"
	"github.com/tariel-x/callrelay/internal/config"
	"github.com/tariel-x/callrelay/internal/history"
	"github.com/tariel-x/callrelay/internal/hub"
	"github.com/tariel-x/callrelay/internal/session"
	"github.com/tariel-x/callrelay/internal/turn"
)

type Handlers struct {
	config   *config.Config
	core     *session.Core
	hub      *hub.Hub
	auth     *auth.Authenticator
	store    *history.Store
	turn     *turn.Issuer
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

type Option func(*Handlers)

// WithHistory enables the history and push subscription endpoints.
func WithHistory(store *history.Store) Option {
	return func(h *Handlers) {
		h.store = store
	}
}

// WithTURN adds the embedded relay to the ICE configuration.
func WithTURN(issuer *turn.Issuer) Option {
	return func(h *Handlers) {
		h.turn = issuer
	}
}

func New(cfg *config.Config, core *session.Core, hb *hub.Hub, authenticator *auth.Authenticator, opts ...Option) *Handlers {
	h := &Handlers{
		config: cfg,
		core:   core,
		hub:    hb,
		auth:   authenticator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: log.With().Str("module", "handlers").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handlers) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), accessLogger(h.logger), h.cors())

	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/client-config", h.GetClientConfig)
		api.GET("/push/vapid-public-key", h.GetVAPIDPublicKey)
		api.GET("/ws", h.HandleWebSocket)
	}

	authed := api.Group("", h.auth.Middleware())
	{
		authed.GET("/ice-config", h.GetICEConfig)
		authed.GET("/sessions", h.ListSessions)
		authed.GET("/sessions/:session_id", h.GetSession)
		authed.GET("/sessions/:session_id/history", h.GetSessionHistory)
		authed.GET("/participants/:participant_id/sessions", h.GetParticipantSessions)
		authed.POST("/push/subscriptions", h.Subscribe)
		authed.DELETE("/push/subscriptions", h.Unsubscribe)
	}
	return router
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"sessions":    h.core.Registry().Len(),
		"connections": h.hub.Count(),
	})
}

// cors allows the configured origin with credentials. With no origin, or
// "*", the request origin is echoed, since browsers refuse a wildcard on
// credentialed requests.
func (h *Handlers) cors() gin.HandlerFunc {
	allowed := h.config.HTTP.CORSOrigin
	return func(c *gin.Context) {
		header := c.Writer.Header()
		origin := allowed
		if origin == "" || origin == "*" {
			origin = c.GetHeader("Origin")
			header.Add("Vary", "Origin")
		}
		if origin != "" {
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
		} else {
			header.Set("Access-Control-Allow-Origin", "*")
		}
		header.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		header.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
