// Package pipeline moves tracking events through JetStream: publishing with a
// Redis retry list, replaying parked events, and consuming into aggregates.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/store"
	metrics "github.com/sifan077/PowerTrack/internal/infra/prometheus"
	"go.uber.org/zap"
)

// Broker is the JetStream publishing surface used by Publisher.
type Broker interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// FailedEvent is an event parked on the retry list.
type FailedEvent struct {
	Topic     string          `json:"topic"`
	EventID   string          `json:"event_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

// PublisherDeps groups the collaborators of Publisher.
type PublisherDeps struct {
	Broker     Broker
	Redis      redis.Cmdable
	Timeout    time.Duration
	MaxEntries int64
	Logger     *zap.Logger
	Now        func() time.Time
}

// Publisher publishes events with broker-side dedup by event id. Events the
// broker does not accept in time are parked on the retry list.
type Publisher struct {
	broker     Broker
	rdb        redis.Cmdable
	timeout    time.Duration
	maxEntries int64
	logger     *zap.Logger
	now        func() time.Time
}

func NewPublisher(deps PublisherDeps) *Publisher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Publisher{
		broker:     deps.Broker,
		rdb:        deps.Redis,
		timeout:    deps.Timeout,
		maxEntries: deps.MaxEntries,
		logger:     logger.With(zap.String("component", "pipeline.publisher")),
		now:        now,
	}
}

// Publish encodes payload and sends it on topic. When the broker fails the
// event is parked and an error wrapping apperr.ErrBrokerUnavailable is
// returned; the event is not lost.
func (p *Publisher) Publish(ctx context.Context, topic, eventID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "pipeline: encode %s event %s", topic, eventID)
	}

	if err := p.send(ctx, topic, eventID, data); err != nil {
		metrics.EventsPublished.WithLabelValues(topic, "parked").Inc()
		parked := FailedEvent{
			Topic:     topic,
			EventID:   eventID,
			Payload:   data,
			Timestamp: p.now().UTC(),
			LastError: err.Error(),
		}
		if parkErr := p.park(context.WithoutCancel(ctx), parked); parkErr != nil {
			p.logger.Error("failed to park event, event lost",
				zap.String("topic", topic),
				zap.String("event_id", eventID),
				zap.Error(parkErr),
			)
		}
		return eris.Wrapf(apperr.ErrBrokerUnavailable, "publish %s event %s: %v", topic, eventID, err)
	}

	metrics.EventsPublished.WithLabelValues(topic, "published").Inc()
	return nil
}

// send publishes already encoded data under the publish timeout.
func (p *Publisher) send(ctx context.Context, topic, eventID string, data []byte) error {
	if p.broker == nil {
		return eris.New("pipeline: broker not connected")
	}

	pubCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if _, err := p.broker.Publish(topic, data, nats.Context(pubCtx), nats.MsgId(eventID)); err != nil {
		return err
	}
	return nil
}

func (p *Publisher) park(ctx context.Context, event FailedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, store.KeyFailedEvents, data)
		if p.maxEntries > 0 {
			pipe.LTrim(ctx, store.KeyFailedEvents, 0, p.maxEntries-1)
		}
		return nil
	})
	return err
}
