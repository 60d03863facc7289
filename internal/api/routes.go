package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"gradeflow/internal/api/handlers"
	"gradeflow/internal/api/middleware"
)

// SetupRouter initializes all API routes.
func SetupRouter(deps handlers.Deps) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Hub-Signature-256", "X-GitHub-Event"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))
	router.Use(middleware.RequestTimeout(10 * time.Second))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Both webhook routes authenticate themselves (HMAC / runner JWT) and
	// are registered raw, the way the teacher's /auth/register and
	// /auth/login bypass middleware.AuthMiddleware.
	webhooks := router.Group("/webhook")
	{
		webhooks.POST("/github", handlers.GitHubWebhook(deps))
		webhooks.POST("/github/runner", handlers.RunnerWebhook(deps))
	}

	return router
}
