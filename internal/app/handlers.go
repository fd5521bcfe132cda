package app

import (
	"github.com/aurafin/underwriting-engine/internal/handlers"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
)

type Handlers struct {
	Engine       *handlers.EngineHandler
	Factor       *handlers.FactorHandler
	Subscription *handlers.SubscriptionHandler
}

func wireHandlers(log *logger.Logger, s Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Engine:       handlers.NewEngineHandler(log, s.Orchestrator, s.Filtration, s.Dispatcher, s.Consolidation, s.ExecutionStore),
		Factor:       handlers.NewFactorHandler(log, s.Factors),
		Subscription: handlers.NewSubscriptionHandler(log, s.Subscriptions),
	}
}
