package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/envutil"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
)

// EventBus publishes execution events on a redis channel and lets consumers
// subscribe to them. It satisfies services.ExecutionNotifier.
type EventBus interface {
	NotifyExecution(ctx context.Context, evt domain.ExecutionEvent)
	StartForwarder(ctx context.Context, onEvent func(evt domain.ExecutionEvent)) error
	Close() error
}

type eventBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewEventBus(log *logger.Logger) (EventBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	channel := envutil.String("REDIS_EXECUTION_CHANNEL", "executions")

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &eventBus{
		log:     log.With("service", "RedisEventBus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

// NotifyExecution is best effort: a broker outage must never fail the
// execution it reports on.
func (b *eventBus) NotifyExecution(ctx context.Context, evt domain.ExecutionEvent) {
	if b == nil || b.rdb == nil {
		return
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		b.log.Warn("unmarshalable execution event", "execution_id", evt.ExecutionID, "error", err)
		return
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		b.log.Warn("failed to publish execution event", "execution_id", evt.ExecutionID, "error", err)
	}
}

func (b *eventBus) StartForwarder(ctx context.Context, onEvent func(evt domain.ExecutionEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis event bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var evt domain.ExecutionEvent
				if err := json.Unmarshal([]byte(m.Payload), &evt); err != nil {
					b.log.Warn("bad execution event payload", "error", err)
					continue
				}
				onEvent(evt)
			}
		}
	}()

	return nil
}

func (b *eventBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
