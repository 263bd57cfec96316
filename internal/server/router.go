package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/saathi-app/saathi-backend/internal/handlers"
	"github.com/saathi-app/saathi-backend/internal/middleware"
)

type RouterConfig struct {
	Mode             string
	SchedulerSecret  string
	WebhookHandler   *handlers.WebhookHandler
	StatsHandler     *handlers.StatsHandler
	SummariesHandler *handlers.SummariesHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode == "prod" || cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	// Public
	router.GET("/healthcheck", handlers.HealthCheck)
	router.GET("/webhook", cfg.WebhookHandler.Verify)
	router.POST("/webhook", cfg.WebhookHandler.Receive)

	// Operator
	ops := router.Group("/")
	ops.Use(middleware.RequireSchedulerSecret(cfg.SchedulerSecret))
	ops.POST("/trigger-summaries", cfg.SummariesHandler.TriggerSummaries)
	ops.GET("/stats/:phone", cfg.StatsHandler.GetUserStats)

	return router
}
