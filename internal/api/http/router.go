package http

import (
	"net/http"

	"github.com/EternisAI/silo-hub/internal/api/http/handler"
	"github.com/EternisAI/silo-hub/internal/api/http/middleware"
	"github.com/EternisAI/silo-hub/internal/hub"
	"github.com/EternisAI/silo-hub/internal/messaging"
	"github.com/EternisAI/silo-hub/internal/presence"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Presence  *presence.Service
	Messages  *messaging.Router
	Registry  *hub.Registry
	Websocket http.Handler
	Metrics   http.Handler
	Version   string
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.Version)
	engine.GET("/health", healthHandler.Check)

	if srvs.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(srvs.Metrics))
	}
	if srvs.Websocket != nil {
		engine.GET("/ws", gin.WrapH(srvs.Websocket))
	}

	api := engine.Group("/api")

	agentsHandler := handler.NewAgentsHandler(srvs.Presence)
	agents := api.Group("/agents")
	{
		agents.POST("", agentsHandler.RegisterAgent)
		agents.GET("", agentsHandler.ListAgents)
		agents.GET("/:id", agentsHandler.GetAgent)
		agents.DELETE("/:id", agentsHandler.DeleteAgent)
		agents.POST("/:id/heartbeat", agentsHandler.Heartbeat)
		agents.PUT("/:id/status", agentsHandler.UpdateStatus)
	}

	messagesHandler := handler.NewMessagesHandler(srvs.Messages)
	messages := api.Group("/messages")
	{
		messages.POST("", messagesHandler.SendMessage)
		messages.GET("", messagesHandler.ListMessages)
		messages.GET("/:id", messagesHandler.GetMessage)
		messages.POST("/:id/read", messagesHandler.MarkRead)
	}
	api.GET("/conversations/:a/:b", messagesHandler.Conversation)

	if srvs.Registry != nil {
		connectionsHandler := handler.NewConnectionsHandler(srvs.Registry)
		api.GET("/connections", connectionsHandler.ListConnections)
	}
}
