package app

import (
	"gorm.io/gorm"

	redisclient "github.com/aurafin/underwriting-engine/internal/clients/redis"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
	"github.com/aurafin/underwriting-engine/internal/processors"
	"github.com/aurafin/underwriting-engine/internal/services"
)

type Services struct {
	ConfigResolver services.ConfigResolver
	Filtration     services.FiltrationService
	Dispatcher     services.Dispatcher
	Consolidation  services.ConsolidationEngine
	ExecutionStore services.ExecutionStore
	Subscriptions  services.SubscriptionService
	Factors        services.FactorService
	Orchestrator   services.Orchestrator
	EventBus       redisclient.EventBus
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, registry *processors.Registry, r Repos) Services {
	log.Info("Wiring services...")

	// Redis is optional; without it execution events are dropped.
	var notifier services.ExecutionNotifier
	bus, err := redisclient.NewEventBus(log)
	if err != nil {
		log.Warn("redis event bus unavailable, execution events disabled", "error", err)
		notifier = services.NewNopNotifier()
	} else {
		notifier = bus
	}

	resolver := services.NewConfigResolver(log)
	filtration := services.NewFiltrationService(db, log, registry, resolver, r.Case, r.Subscription, r.ProcessorConfig, r.Execution)
	dispatcher := services.NewDispatcher(db, log, registry, r.ProcessorConfig, r.Execution, notifier, services.DispatcherOptions{
		MaxConcurrency:   cfg.MaxConcurrency,
		ExecutionTimeout: cfg.ExecutionTimeout,
	})
	consolidation := services.NewConsolidationEngine(db, log, registry, r.ProcessorConfig, r.Execution, r.Factor)
	store := services.NewExecutionStore(db, log, r.ProcessorConfig, r.Execution)
	subscriptions := services.NewSubscriptionService(db, log, registry, resolver, r.Case, r.Subscription, r.ProcessorConfig)
	factors := services.NewFactorService(db, log, r.Case, r.Factor)
	orchestrator := services.NewOrchestrator(log, filtration, dispatcher, consolidation, store)

	return Services{
		ConfigResolver: resolver,
		Filtration:     filtration,
		Dispatcher:     dispatcher,
		Consolidation:  consolidation,
		ExecutionStore: store,
		Subscriptions:  subscriptions,
		Factors:        factors,
		Orchestrator:   orchestrator,
		EventBus:       bus,
	}
}
