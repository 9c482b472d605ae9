package events

import (
	"context"
	"fmt"
	"time"

	"github.com/breez/quiz-sync/logger"
	"github.com/breez/quiz-sync/metrics"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultRelayChannel = "quiz-sync:events"
	relayPublishTimeout = 2 * time.Second
)

type envelope struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// RedisRelay shares published events between server instances over Redis
// Pub/Sub. Each instance delivers the events of the other instances to its
// own subscribers; its own events come back tagged with its origin id and
// are skipped. Like local delivery this is best effort with no replay.
type RedisRelay struct {
	rdb        *redis.Client
	channel    string
	instanceID string
	dispatcher *Dispatcher
	log        *logger.Logger
	metrics    *metrics.Metrics

	sub    *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRedisRelay(rdb *redis.Client, channel string, dispatcher *Dispatcher, log *logger.Logger, m *metrics.Metrics) *RedisRelay {
	instanceID := uuid.New().String()
	return &RedisRelay{
		rdb:        rdb,
		channel:    channel,
		instanceID: instanceID,
		dispatcher: dispatcher,
		log:        log.With(zap.String("component", "relay"), zap.String("instance", instanceID)),
		metrics:    m,
		done:       make(chan struct{}),
	}
}

func (r *RedisRelay) Forward(ctx context.Context, msg []byte) error {
	data, err := json.Marshal(envelope{Origin: r.instanceID, Event: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relayPublishTimeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %v: %w", r.channel, err)
	}
	r.count("sent")
	return nil
}

// Start subscribes to the relay channel and returns once the subscription is
// confirmed. Incoming events are delivered until Close is called.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to %v: %w", r.channel, err)
	}
	r.sub = sub

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(runCtx, sub.Channel())
	r.log.Info("relay subscribed", zap.String("channel", r.channel))
	return nil
}

func (r *RedisRelay) run(ctx context.Context, messages <-chan *redis.Message) {
	defer close(r.done)
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("dropping malformed relay message", zap.Error(err))
				r.count("dropped")
				continue
			}
			if env.Origin == r.instanceID {
				continue
			}
			r.count("received")
			r.dispatcher.Deliver(env.Event)
		case <-ctx.Done():
			return
		}
	}
}

func (r *RedisRelay) Close() error {
	if r.sub == nil {
		return nil
	}
	r.cancel()
	err := r.sub.Close()
	<-r.done
	return err
}

func (r *RedisRelay) count(direction string) {
	if r.metrics != nil {
		r.metrics.RelayMessages.WithLabelValues(direction).Inc()
	}
}
