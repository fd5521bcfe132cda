package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/aurafin/underwriting-engine/internal/handlers"
)

type RouterConfig struct {
	EngineHandler       *handlers.EngineHandler
	FactorHandler       *handlers.FactorHandler
	SubscriptionHandler *handlers.SubscriptionHandler
	AllowOrigins        []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Subscriptions
		api.POST("/orgs/:orgID/subscriptions", cfg.SubscriptionHandler.Subscribe)
		api.POST("/cases/:caseID/attach", cfg.SubscriptionHandler.AttachCase)
		api.POST("/cases/:caseID/processors/:processor/attach", cfg.SubscriptionHandler.AttachProcessor)
		api.PATCH("/cases/:caseID/processors/:processor", cfg.SubscriptionHandler.SetProcessorEnabled)

		// Engine
		api.POST("/cases/:caseID/run", cfg.EngineHandler.RunCase)
		api.POST("/cases/:caseID/filtrate", cfg.EngineHandler.Filtrate)
		api.POST("/cases/:caseID/processors/:processor/run", cfg.EngineHandler.RunProcessor)
		api.GET("/cases/:caseID/executions", cfg.EngineHandler.ListExecutions)
		api.GET("/executions/:executionID", cfg.EngineHandler.GetExecution)
		api.POST("/executions/:executionID/run", cfg.EngineHandler.RunExecution)
		api.POST("/executions/:executionID/cancel", cfg.EngineHandler.CancelExecution)
		api.POST("/executions/:executionID/deactivate", cfg.EngineHandler.DeactivateExecution)
		api.POST("/executions/:executionID/activate", cfg.EngineHandler.ActivateExecution)
		api.POST("/configs/:configID/consolidate", cfg.EngineHandler.Consolidate)
		api.POST("/configs/:configID/rollback", cfg.EngineHandler.Rollback)

		// Factors
		api.GET("/cases/:caseID/factors", cfg.FactorHandler.ListActive)
		api.GET("/cases/:caseID/factors/history", cfg.FactorHandler.History)
		api.POST("/cases/:caseID/factors", cfg.FactorHandler.CreateManual)
	}

	return router
}
