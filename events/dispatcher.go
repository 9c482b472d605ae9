package events

import (
	"context"
	"sync"

	"github.com/breez/quiz-sync/logger"
	"github.com/breez/quiz-sync/metrics"
	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Relay forwards serialized events to other server instances.
type Relay interface {
	Forward(ctx context.Context, msg []byte) error
}

// Events waiting for the relay beyond this are dropped.
const relayQueueSize = 256

type Dispatcher struct {
	registry *Registry
	clock    clockwork.Clock
	log      *logger.Logger
	metrics  *metrics.Metrics

	relay      Relay
	relayQueue chan []byte
	quit       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

func NewDispatcher(registry *Registry, clock clockwork.Clock, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		clock:    clock,
		log:      log.With(zap.String("component", "dispatcher")),
		metrics:  m,
		quit:     make(chan struct{}),
	}
}

// SetRelay must be called before the first Publish. Events are forwarded
// in publish order by a single goroutine until Close is called.
func (d *Dispatcher) SetRelay(relay Relay) {
	d.relay = relay
	d.relayQueue = make(chan []byte, relayQueueSize)
	d.wg.Add(1)
	go d.forwardLoop()
}

// Close stops relay forwarding after flushing the events already queued.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
	})
	d.wg.Wait()
}

// Publish stamps event with the dispatch time and delivers it to every
// registered handle, then queues it for the relay if one is set; relay
// forwarding never delays the caller. It returns
// the number of local handles that accepted the event. Delivery failures
// are logged and never returned.
func (d *Dispatcher) Publish(ctx context.Context, event SyncEvent) int {
	event.Timestamp = d.clock.Now().UnixMilli()
	msg, err := json.Marshal(event)
	if err != nil {
		d.log.Error("failed to marshal event", err, zap.String("kind", string(event.Kind)))
		return 0
	}
	if d.metrics != nil {
		d.metrics.EventsPublished.WithLabelValues(string(event.Kind)).Inc()
	}

	delivered := d.Deliver(msg)
	d.log.Debug("event published",
		zap.String("kind", string(event.Kind)),
		zap.Int("delivered", delivered),
	)

	if d.relayQueue != nil {
		select {
		case d.relayQueue <- msg:
		default:
			d.log.Warn("relay queue full, dropping event", zap.String("kind", string(event.Kind)))
			if d.metrics != nil {
				d.metrics.RelayMessages.WithLabelValues("overflow").Inc()
			}
		}
	}
	return delivered
}

func (d *Dispatcher) forwardLoop() {
	defer d.wg.Done()
	for {
		select {
		case msg := <-d.relayQueue:
			d.forward(msg)
		case <-d.quit:
			for {
				select {
				case msg := <-d.relayQueue:
					d.forward(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) forward(msg []byte) {
	if err := d.relay.Forward(context.Background(), msg); err != nil {
		d.log.Warn("failed to relay event", zap.Error(err))
	}
}

// Deliver sends an already serialized event to every registered handle,
// dropping the handles that fail.
func (d *Dispatcher) Deliver(msg []byte) int {
	delivered := 0
	for _, h := range d.registry.Snapshot() {
		if err := h.Send(msg); err != nil {
			d.prune(h, err)
			continue
		}
		delivered++
		if d.metrics != nil {
			d.metrics.Deliveries.WithLabelValues("delivered").Inc()
		}
	}
	return delivered
}

func (d *Dispatcher) prune(h Handle, err error) {
	d.log.Warn("dropping subscriber", zap.Error(&DispatchError{HandleID: h.ID(), Err: err}))
	if d.metrics != nil {
		d.metrics.Deliveries.WithLabelValues("failed").Inc()
	}
	if d.registry.Unregister(h) && d.metrics != nil {
		d.metrics.PrunedHandles.Inc()
	}
	if err := h.Close(); err != nil {
		d.log.Debug("failed to close subscriber", zap.String("handle", h.ID()), zap.Error(err))
	}
}
