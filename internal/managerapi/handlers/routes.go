package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thrillee/epccore/internal/auth"
)

const APIKeyHeader = "X-API-Key"

// SetupRoutes configures the Gin engine with all API routes. An empty
// apiKeyHash leaves the routes open.
func SetupRoutes(router gin.IRouter, loader CheckpointLoader, apiKeyHash string) {
	checkpointHandler := NewCheckpointHandler(loader)

	if apiKeyHash != "" {
		router.Use(apiKeyMiddleware(apiKeyHash))
	}

	router.GET("/checkpoint", checkpointHandler.GetCheckpoint)

	subscriberGroup := router.Group("/subscribers")
	{
		subscriberGroup.GET("", checkpointHandler.ListSubscribers)
		subscriberGroup.GET("/:mme_ue_id", checkpointHandler.GetSubscriber)
	}
}

func apiKeyMiddleware(hash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" || !auth.CheckAPIKey(key, hash) {
			slog.WarnContext(c.Request.Context(), "Rejected API request", slog.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing API key"})
			return
		}
		c.Next()
	}
}
