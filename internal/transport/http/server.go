package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/chatrelay/chatrelay-server/internal/auth"
	"github.com/chatrelay/chatrelay-server/internal/config"
	"github.com/chatrelay/chatrelay-server/internal/core"
	"github.com/chatrelay/chatrelay-server/internal/store"
)

// NewServer builds the HTTP server: identity and room APIs, health, and the
// websocket endpoint.
func NewServer(hub *core.Hub, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	api := NewAPIHandlers(authService, logger)
	router.POST("/api/register", api.Register)
	router.POST("/api/login", api.Login)
	router.POST("/api/guest", api.GuestLogin)

	rooms := NewRoomHandlers(st, logger)
	authed := router.Group("/api", AuthMiddleware(authService, logger))
	authed.GET("/rooms", rooms.ListRooms)
	authed.POST("/rooms", rooms.CreateRoom)
	authed.POST("/rooms/:id/join", rooms.JoinRoom)
	authed.POST("/rooms/:id/leave", rooms.LeaveRoom)

	// The websocket carries its credential in the query string, not a header.
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, authService, st, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
