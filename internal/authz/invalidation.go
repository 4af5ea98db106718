package authz

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// InvalidationChannel is the Redis channel carrying membership invalidations.
const InvalidationChannel = "authz.invalidate"

// Invalidation names the membership whose permissions changed.
type Invalidation struct {
	IdentityID int64 `json:"identity_id"`
	AccountID  int64 `json:"account_id"`
}

// InvalidationBus publishes membership invalidations over Redis and fans them
// out to local subscribers.
type InvalidationBus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger

	mu          sync.Mutex
	subscribers map[int]func(Invalidation)
	nextID      int
}

// NewInvalidationBus constructs the bus. A nil client yields a local-only bus.
func NewInvalidationBus(client *redis.Client, logger *slog.Logger) *InvalidationBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvalidationBus{
		client:      client,
		channel:     InvalidationChannel,
		logger:      logger,
		subscribers: make(map[int]func(Invalidation)),
	}
}

// Publish announces an invalidation. Without Redis it is delivered locally.
func (b *InvalidationBus) Publish(ctx context.Context, inv Invalidation) error {
	if b == nil {
		return errors.New("authz: invalidation bus not configured")
	}
	if b.client == nil {
		b.dispatch(inv)
		return nil
	}
	payload, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe registers fn for invalidations received by Run.
func (b *InvalidationBus) Subscribe(fn func(Invalidation)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Run subscribes to the Redis channel until ctx is done. The subscription is
// confirmed before Run returns.
func (b *InvalidationBus) Run(ctx context.Context) error {
	if b == nil || b.client == nil {
		return nil
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv Invalidation
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					b.logger.Warn("authz invalidation payload", slog.Any("error", err))
					continue
				}
				b.dispatch(inv)
			}
		}
	}()
	return nil
}

func (b *InvalidationBus) dispatch(inv Invalidation) {
	b.mu.Lock()
	subs := make([]func(Invalidation), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subs = append(subs, fn)
	}
	b.mu.Unlock()
	for _, fn := range subs {
		fn(inv)
	}
}
