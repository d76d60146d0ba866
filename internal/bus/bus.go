// Package bus implements the in-process event bus and the subscription
// registry that fans domain events out to connected observers.
//
// Ordinary events are delivered best-effort: a subscriber whose queue is full
// simply misses the event and its drop counter grows. Emergency events go
// through a Delivery, which never drops and is retried with backoff until
// every subscriber connected at publish time has the event queued.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/pkordes/fleetcore/internal/domain"
	"github.com/pkordes/fleetcore/internal/metrics"
)

// ErrUndelivered is returned when a critical event could not be queued for
// every target before the delivery deadline.
var ErrUndelivered = errors.New("event not delivered to all subscribers")

const dropLogEvery = 100

// Relay forwards locally published events to other instances.
type Relay interface {
	// Forward sends ev and waits for the acknowledgement. Critical
	// deliveries use it.
	Forward(ctx context.Context, ev domain.Event) error
	// Enqueue hands an ordinary event to the relay without blocking and
	// reports false if it had to be dropped.
	Enqueue(ev domain.Event) bool
}

// Options tunes critical delivery. Zero values take the defaults below.
type Options struct {
	// CriticalTimeout bounds how long a critical delivery keeps retrying.
	CriticalTimeout time.Duration
	// RetryBase is the first backoff interval between critical attempts.
	RetryBase time.Duration
	// RetryCap caps the exponential backoff interval.
	RetryCap time.Duration
}

func (o Options) withDefaults() Options {
	if o.CriticalTimeout <= 0 {
		o.CriticalTimeout = 10 * time.Second
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 10 * time.Millisecond
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 500 * time.Millisecond
	}
	return o
}

// Bus publishes domain events to the subscriptions of a Registry.
type Bus struct {
	registry *Registry
	opts     Options
	log      *slog.Logger

	relayMu sync.RWMutex
	relay   Relay

	dropped      atomic.Uint64
	relayDropped atomic.Uint64
}

// New constructs a Bus over registry. A nil logger falls back to slog.Default().
func New(registry *Registry, opts Options, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{registry: registry, opts: opts.withDefaults(), log: logger}
}

// Registry returns the registry the bus delivers to.
func (b *Bus) Registry() *Registry { return b.registry }

// SetRelay installs the cross-instance relay. Pass nil to remove it.
func (b *Bus) SetRelay(r Relay) {
	b.relayMu.Lock()
	b.relay = r
	b.relayMu.Unlock()
}

func (b *Bus) currentRelay() Relay {
	b.relayMu.RLock()
	defer b.relayMu.RUnlock()
	return b.relay
}

// Dropped returns the total number of per-subscriber drops since start.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// RelayDropped returns how many ordinary events never reached the relay.
func (b *Bus) RelayDropped() uint64 { return b.relayDropped.Load() }

// Publish delivers an ordinary event to every matching subscriber and queues
// it for the relay, never blocking on either. A full relay queue drops the
// event for other instances only. Critical events are routed through
// DeliverCritical so they are never dropped.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) {
	if ev.Type.Critical() {
		if _, err := b.DeliverCritical(ctx, ev); err != nil {
			b.log.ErrorContext(ctx, "critical event not fully delivered", "type", ev.Type, "error", err)
		}
		return
	}
	b.deliverLocal(ev)
	if r := b.currentRelay(); r != nil && !r.Enqueue(ev) {
		metrics.IncRelayError("queue_full")
		if n := b.relayDropped.Add(1); n%dropLogEvery == 1 {
			b.log.WarnContext(ctx, "relay queue full, dropping event", "type", ev.Type, "dropped_total", n)
		}
	}
}

// Inject delivers an event received from another instance to local
// subscribers only. Critical events still get the retrying delivery.
func (b *Bus) Inject(ctx context.Context, ev domain.Event) {
	if ev.Type.Critical() {
		d := b.newDelivery(ev, false)
		if err := d.settle(ctx, b.backoff()); err != nil {
			b.log.ErrorContext(ctx, "relayed critical event not fully delivered", "type", ev.Type, "error", err)
		}
		return
	}
	b.deliverLocal(ev)
}

// DeliverCritical queues ev for every subscriber matching it at call time,
// retrying with capped exponential backoff until all are served, the
// CriticalTimeout elapses, or ctx is done. The returned Delivery reports which
// observers received the event even when an error is returned.
func (b *Bus) DeliverCritical(ctx context.Context, ev domain.Event) (*Delivery, error) {
	d := b.newDelivery(ev, true)
	if err := d.settle(ctx, b.backoff()); err != nil {
		return d, fmt.Errorf("bus.Bus.DeliverCritical: %w", err)
	}
	return d, nil
}

func (b *Bus) backoff() retry.Backoff {
	bo := retry.NewExponential(b.opts.RetryBase)
	bo = retry.WithCappedDuration(b.opts.RetryCap, bo)
	return retry.WithMaxDuration(b.opts.CriticalTimeout, bo)
}

func (b *Bus) deliverLocal(ev domain.Event) {
	for _, s := range b.registry.matching(ev) {
		switch s.trySend(ev) {
		case sendOK:
			metrics.IncDelivered(string(ev.Type))
		case sendFull:
			s.dropped.Add(1)
			metrics.IncDropped(string(ev.Type))
			if n := b.dropped.Add(1); n%dropLogEvery == 1 {
				b.log.Warn("subscriber queue full, dropping event",
					"type", ev.Type,
					"observer", s.ObserverID(),
					"dropped_total", n,
				)
			}
		case sendClosed:
		}
	}
}

func (b *Bus) newDelivery(ev domain.Event, forward bool) *Delivery {
	d := &Delivery{
		event:   ev,
		pending: b.registry.matching(ev),
	}
	if forward {
		d.relay = b.currentRelay()
	}
	return d
}

// Delivery tracks one critical event across retry attempts.
type Delivery struct {
	event domain.Event

	mu        sync.Mutex
	pending   []*Subscription
	delivered []string
	relay     Relay
	attempts  int
}

// Delivered returns the observer IDs that have the event queued.
func (d *Delivery) Delivered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.delivered...)
}

// Pending returns how many targets (subscribers plus relay) are still unserved.
func (d *Delivery) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remaining()
}

// Attempts returns how many delivery attempts have been made.
func (d *Delivery) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *Delivery) remaining() int {
	n := len(d.pending)
	if d.relay != nil {
		n++
	}
	return n
}

// attempt makes one pass over the unserved targets and returns how many remain.
// Subscribers that closed in the meantime are settled: they are gone, not failed.
func (d *Delivery) attempt(ctx context.Context) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++

	still := d.pending[:0]
	for _, s := range d.pending {
		switch s.trySend(d.event) {
		case sendOK:
			d.delivered = append(d.delivered, s.ObserverID())
			metrics.IncDelivered(string(d.event.Type))
		case sendFull:
			still = append(still, s)
		case sendClosed:
		}
	}
	d.pending = still

	if d.relay != nil {
		if err := d.relay.Forward(ctx, d.event); err == nil {
			d.relay = nil
		} else {
			metrics.IncRelayError("publish")
		}
	}
	return d.remaining()
}

func (d *Delivery) settle(ctx context.Context, bo retry.Backoff) error {
	return retry.Do(ctx, bo, func(ctx context.Context) error {
		if d.Attempts() > 0 {
			metrics.AlertDeliveryRetriesTotal.Inc()
		}
		if n := d.attempt(ctx); n > 0 {
			return retry.RetryableError(fmt.Errorf("%w: %d targets pending", ErrUndelivered, n))
		}
		return nil
	})
}
