package app

import (
	"github.com/gin-gonic/gin"

	"github.com/aurafin/underwriting-engine/internal/server"
)

func wireRouter(cfg Config, h Handlers) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		EngineHandler:       h.Engine,
		FactorHandler:       h.Factor,
		SubscriptionHandler: h.Subscription,
		AllowOrigins:        cfg.AllowOrigins,
	})
}
