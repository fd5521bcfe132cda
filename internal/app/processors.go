package app

import (
	"fmt"

	"github.com/aurafin/underwriting-engine/internal/processors"
)

// wireProcessors registers every shipped processor. New processors are added
// here and become dispatchable once a tenant subscribes.
func wireProcessors() (*processors.Registry, error) {
	registry := processors.NewRegistry()
	for _, p := range []processors.Processor{
		processors.NewMerchantProfile(),
		processors.NewBankStatement(),
		processors.NewDriversLicense(),
	} {
		if err := registry.Register(p); err != nil {
			return nil, fmt.Errorf("register processor: %w", err)
		}
	}
	return registry, nil
}
