package routes

import (
	"time"

	"streamguard/internal/api/handlers"
	"streamguard/internal/api/middleware"
	"streamguard/internal/auth"
	"streamguard/internal/services"
	"streamguard/internal/websocket"

	"github.com/gin-gonic/gin"
)

type Router struct {
	engine      *gin.Engine
	wsHandler   *handlers.WSHandler
	chatHandler *handlers.ChatHandler
	authMW      *middleware.AuthMiddleware
	rateLimitMW *middleware.RateLimitMiddleware
}

func NewRouter(
	registry websocket.StreamRegistry,
	verifier *auth.Verifier,
	chatService *services.ChatService,
	redisService *services.RedisService,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// Add middlewares
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.LogApi())

	var rateLimitMW *middleware.RateLimitMiddleware
	if redisService != nil {
		rateLimitMW = middleware.NewRateLimitMiddleware(redisService)
	}

	return &Router{
		engine:      engine,
		wsHandler:   handlers.NewWSHandler(registry, verifier, chatService),
		chatHandler: handlers.NewChatHandler(chatService),
		authMW:      middleware.NewAuthMiddleware(verifier),
		rateLimitMW: rateLimitMW,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthcheck", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.engine.Group("/api/v1")

	// WebSocket endpoint; join authentication happens in the frame protocol
	ws := api.Group("/ws")
	if r.rateLimitMW != nil {
		ws.Use(r.rateLimitMW.WebSocketRateLimit(5, time.Minute)) // 5 connections per minute per IP
	}
	ws.GET("", r.wsHandler.HandleWebSocket)

	// Authenticated routes
	authed := api.Group("/")
	authed.Use(r.authMW.RequireAuth())
	if r.rateLimitMW != nil {
		authed.Use(r.rateLimitMW.RateLimit(100, time.Minute)) // 100 requests per minute
	}
	{
		authed.GET("/streams/:streamId/messages", r.chatHandler.GetMessages)
		authed.POST("/messages", r.chatHandler.SendMessage)
		authed.DELETE("/messages/:messageId", r.chatHandler.DeleteMessage)
		authed.POST("/messages/:messageId/report", r.chatHandler.ReportMessage)
		authed.GET("/chat/stats", r.chatHandler.GetStats)
		authed.POST("/analyze", r.chatHandler.Analyze)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
