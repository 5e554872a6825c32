package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thereayou/voxus/internal/handlers"
)

type Endpoints struct {
	Auth      *handlers.AuthHandler
	Messages  *handlers.HTTPMessageHandler
	Rooms     *handlers.RoomHandler
	WebSocket *handlers.WebSocketHandler

	RequireAuth gin.HandlerFunc
	// RateLimit может отсутствовать, если Redis не настроен
	RateLimit gin.HandlerFunc
}

func APIEndpoints(r *gin.Engine, e Endpoints) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Auth endpoints
	auth := r.Group("/auth")
	{
		auth.POST("/register", e.Auth.Register)
		auth.POST("/login", e.Auth.Login)
		auth.POST("/logout", e.Auth.Logout)
	}

	// API endpoints
	api := r.Group("/api/v1", e.RequireAuth)
	{
		api.GET("/ws", e.WebSocket.HandleWebSocket)

		api.POST("/rooms", e.Rooms.CreateRoom)
		api.POST("/rooms/direct", e.Rooms.CreateDirectRoom)
		api.GET("/rooms", e.Rooms.GetMyRooms)
		api.GET("/rooms/:id", e.Rooms.GetRoom)
		api.GET("/rooms/:id/messages", e.Messages.GetRoomMessages)
		api.POST("/rooms/:id/messages", e.Messages.SendMessage)

		api.GET("/messages/:id/eligibility", e.Messages.Eligibility)
		api.GET("/messages/:id/history", e.Messages.GetHistory)

		// Правки ограничены по частоте
		edits := api.Group("")
		if e.RateLimit != nil {
			edits.Use(e.RateLimit)
		}
		edits.PATCH("/messages/:id", e.Messages.UpdateMessage)
		edits.DELETE("/messages/:id", e.Messages.DeleteMessage)
		edits.POST("/messages/:id/restore", e.Messages.RestoreMessage)
	}
}
