package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Envelope is one fan-out event in transit between a publisher and the hubs
// that deliver it.
type Envelope struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Frame json.RawMessage `json:"frame"`
}

// Broker moves envelopes from publishers to every process that holds
// subscribers. Delivery is best effort.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, deliver func(Envelope)) error
	Close() error
}

// LocalBroker delivers envelopes synchronously inside the current process.
// It is the default for single-instance deployments.
type LocalBroker struct {
	mu      sync.RWMutex
	deliver func(Envelope)
}

var _ Broker = (*LocalBroker)(nil)

// NewLocalBroker returns an in-memory broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

// Publish hands env to the subscribed deliver func, if any.
func (b *LocalBroker) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	deliver := b.deliver
	b.mu.RUnlock()

	if deliver != nil {
		deliver(env)
	}
	return nil
}

// Subscribe registers deliver. Only one subscriber is supported.
func (b *LocalBroker) Subscribe(_ context.Context, deliver func(Envelope)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deliver != nil {
		return errors.New("local broker: already subscribed")
	}
	b.deliver = deliver
	return nil
}

// Close drops the subscriber.
func (b *LocalBroker) Close() error {
	b.mu.Lock()
	b.deliver = nil
	b.mu.Unlock()
	return nil
}

// RedisBroker fans envelopes out through a single Redis pub/sub channel so
// that every instance sees every event. One channel keeps per-room order.
type RedisBroker struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker returns a broker publishing on channel.
func NewRedisBroker(client *redis.Client, channel string, logger zerolog.Logger) *RedisBroker {
	return &RedisBroker{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "redis_broker").Logger(),
	}
}

// Publish sends env to all instances, including this one.
func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe waits for the subscription to be confirmed and then delivers
// incoming envelopes from a background goroutine until Close.
func (b *RedisBroker) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis broker: subscribe %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.pubsub = pubsub
	b.mu.Unlock()

	go func() {
		for msg := range pubsub.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn().Err(err).Msg("dropping malformed envelope")
				continue
			}
			deliver(env)
		}
	}()

	b.logger.Info().Str("channel", b.channel).Msg("subscribed to fan-out channel")
	return nil
}

// Close ends the subscription.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	b.pubsub = nil
	return err
}
