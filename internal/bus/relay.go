package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pkordes/fleetcore/internal/domain"
	"github.com/pkordes/fleetcore/internal/metrics"
)

// relayQueueSize bounds the ordinary events waiting for the forwarder.
const relayQueueSize = 1024

// RedisRelay shares events between instances over a Redis pub/sub channel.
// Every instance forwards its local events and injects the events of the
// other instances into its own bus; events are tagged with an origin so an
// instance ignores its own echoes.
//
// Ordinary events are queued and published by a forwarder goroutine started
// by Run, so a slow Redis never stalls the caller. Critical events are
// published inline through Forward.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	bus     *Bus
	log     *slog.Logger
	queue   chan domain.Event

	readyOnce sync.Once
	ready     chan struct{}
}

// NewRedisRelay constructs a relay. It does not subscribe until Run is called.
func NewRedisRelay(client *redis.Client, channel, origin string, b *Bus, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  origin,
		bus:     b,
		log:     logger,
		queue:   make(chan domain.Event, relayQueueSize),
		ready:   make(chan struct{}),
	}
}

// Forward publishes ev to the shared channel. For critical events the Redis
// PUBLISH reply is the acknowledgement the delivery waits for.
func (r *RedisRelay) Forward(ctx context.Context, ev domain.Event) error {
	data, err := encodeEvent(r.origin, ev)
	if err != nil {
		return fmt.Errorf("bus.RedisRelay.Forward: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("bus.RedisRelay.Forward: %w", err)
	}
	return nil
}

// Enqueue queues ev for the forwarder. It returns false without blocking when
// the queue is full.
func (r *RedisRelay) Enqueue(ev domain.Event) bool {
	select {
	case r.queue <- ev:
		return true
	default:
		return false
	}
}

// forwardQueued publishes queued events in order until ctx is done.
func (r *RedisRelay) forwardQueued(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			if ctx.Err() != nil {
				return
			}
			if err := r.Forward(ctx, ev); err != nil {
				metrics.IncRelayError("publish")
				r.log.WarnContext(ctx, "relay forward failed", "type", ev.Type, "error", err)
			}
		}
	}
}

// Ready is closed once the Redis subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} { return r.ready }

// Run starts the forwarder, subscribes to the shared channel and injects
// remote events into the local bus until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.forwardQueued(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		metrics.IncRelayError("subscribe")
		return fmt.Errorf("bus.RedisRelay.Run: subscribe %q: %w", r.channel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.log.Info("event relay subscribed", "channel", r.channel, "origin", r.origin)

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			origin, ev, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				metrics.IncRelayError("decode")
				r.log.Warn("dropping undecodable relay message", "error", err)
				continue
			}
			if origin == r.origin {
				continue
			}
			r.bus.Inject(ctx, ev)
		}
	}
}
