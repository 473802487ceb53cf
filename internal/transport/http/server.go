package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// NewServer builds the HTTP server: WebSocket relay, auth endpoints and read views.
func NewServer(hub *core.Hub, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(hub, authService, st, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers every route on a fresh gin engine.
func NewRouter(hub *core.Hub, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	wsHandler := NewWSHandler(hub, cfg, logger)
	router.GET("/ws", AuthMiddleware(authService, logger, true), hijackable(wsHandler))

	apiHandlers := NewAPIHandlers(authService, logger)
	chatHandlers := NewChatHandlers(st, cfg.HistoryLimit, logger)

	api := router.Group("/api")
	{
		api.POST("/register", apiHandlers.Register)
		api.POST("/login", apiHandlers.Login)
		api.POST("/guest", apiHandlers.GuestLogin)

		chat := api.Group("/chat")
		chat.GET("/count", chatHandlers.CountChats)
		chat.GET("/users/count", chatHandlers.CountUsers)
		chat.GET("/history", AuthMiddleware(authService, logger, false), chatHandlers.History)
	}

	return router
}

// hijackable hands h the connection's own writer. gin's wrapper marks the
// response as written on WriteHeader, after which it refuses to hijack.
func hijackable(h stdhttp.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var w stdhttp.ResponseWriter = c.Writer
		if u, ok := w.(interface{ Unwrap() stdhttp.ResponseWriter }); ok {
			w = u.Unwrap()
		}
		h.ServeHTTP(w, c.Request)
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
