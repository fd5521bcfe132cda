package app

import (
	"github.com/aurafin/underwriting-engine/internal/data/repos"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
)

type Repos struct {
	Case            repos.CaseRepo
	Subscription    repos.SubscriptionRepo
	ProcessorConfig repos.ProcessorConfigRepo
	Execution       repos.ExecutionRepo
	Factor          repos.FactorRepo
}

func wireRepos(log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Case:            repos.NewCaseRepo(log),
		Subscription:    repos.NewSubscriptionRepo(log),
		ProcessorConfig: repos.NewProcessorConfigRepo(log),
		Execution:       repos.NewExecutionRepo(log),
		Factor:          repos.NewFactorRepo(log),
	}
}
