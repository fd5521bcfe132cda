package services

import (
	"context"

	"github.com/aurafin/underwriting-engine/internal/domain"
)

// ExecutionNotifier publishes execution status transitions. Delivery is best
// effort; the engine never blocks or fails on a notification.
type ExecutionNotifier interface {
	NotifyExecution(ctx context.Context, evt domain.ExecutionEvent)
}

type nopNotifier struct{}

func (nopNotifier) NotifyExecution(context.Context, domain.ExecutionEvent) {}

// NewNopNotifier returns a notifier that drops everything, for tests and for
// deployments without a broker.
func NewNopNotifier() ExecutionNotifier { return nopNotifier{} }
