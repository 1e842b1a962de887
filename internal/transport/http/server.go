package http

import (
	"encoding/json"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/auth"
	"github.com/vovakirdan/relaychat-server/internal/config"
	"github.com/vovakirdan/relaychat-server/internal/metrics"
	"github.com/vovakirdan/relaychat-server/internal/service/chats"
	"github.com/vovakirdan/relaychat-server/internal/service/users"
)

// Services are the application services exposed over HTTP.
type Services struct {
	Auth    *auth.Service
	Users   *users.Service
	Chats   *chats.Service
	Metrics *metrics.Metrics // nil disables /metrics
}

// NewServer builds the HTTP server: REST API and health checks on gin, the websocket endpoint beside it.
func NewServer(hub Hub, svc Services, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	if svc.Metrics != nil {
		router.Use(svc.Metrics.GinMiddleware())
		router.GET("/metrics", gin.WrapH(svc.Metrics.Handler()))
	}

	router.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(svc.Auth, logger)
	userHandlers := NewUserHandlers(svc.Users, hub, logger)
	chatHandlers := NewChatHandlers(svc.Chats, logger)
	authRequired := AuthMiddleware(svc.Auth, logger)

	api := router.Group("/api")
	{
		authGroup := api.Group("/auth")
		authGroup.POST("/register", apiHandlers.Register)
		authGroup.POST("/login", apiHandlers.Login)
		authGroup.POST("/logout", authRequired, apiHandlers.Logout)
		authGroup.GET("/me", authRequired, apiHandlers.Me)

		protected := api.Group("")
		protected.Use(authRequired)

		protected.GET("/presence", userHandlers.OnlineUsers)

		protected.GET("/users/search", userHandlers.SearchUsers)
		protected.PUT("/users/me", userHandlers.UpdateMe)
		protected.GET("/users/:userId", userHandlers.GetUser)

		protected.GET("/chats", chatHandlers.ListChats)
		protected.POST("/chats/direct", chatHandlers.CreateDirect)
		protected.POST("/chats/group", chatHandlers.CreateGroup)
		protected.POST("/chats/channel", chatHandlers.CreateChannel)
		protected.PUT("/chats/messages/:messageId", chatHandlers.EditMessage)
		protected.DELETE("/chats/messages/:messageId", chatHandlers.DeleteMessage)
		protected.GET("/chats/:chatId", chatHandlers.GetChat)
		protected.DELETE("/chats/:chatId", chatHandlers.DeleteChat)
		protected.GET("/chats/:chatId/messages", chatHandlers.ListMessages)
		protected.POST("/chats/:chatId/messages", chatHandlers.SendMessage)
		protected.POST("/chats/:chatId/seen", chatHandlers.MarkSeen)
	}

	// gin refuses to hijack once a status is written, so the upgrade stays on the plain mux.
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, cfg.MaxMessageBytes, cfg.CommandsPerMinute, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

func writeJSONError(w stdhttp.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
