package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerTrack/internal/app/model"
	natsclient "github.com/sifan077/PowerTrack/internal/infra/nats"
	metrics "github.com/sifan077/PowerTrack/internal/infra/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const fetchErrorBackoff = time.Second

// EventHandler applies decoded tracking events.
type EventHandler interface {
	HandleClick(ctx context.Context, event model.ClickEvent) error
	HandleConversion(ctx context.Context, event model.ConversionEvent) error
}

// ConsumerDeps groups the collaborators of Consumer.
type ConsumerDeps struct {
	JetStream  nats.JetStreamContext
	Handler    EventHandler
	Failures   *FailureLog
	FetchBatch int
	FetchWait  time.Duration
	Logger     *zap.Logger
}

// Consumer drains the click and conversion subjects through durable pull
// consumers. A message that cannot be handled is dead-lettered and acked, so
// one bad event never stalls the stream.
type Consumer struct {
	js         nats.JetStreamContext
	handler    EventHandler
	failures   *FailureLog
	fetchBatch int
	fetchWait  time.Duration
	logger     *zap.Logger
}

func NewConsumer(deps ConsumerDeps) *Consumer {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batch := deps.FetchBatch
	if batch <= 0 {
		batch = 10
	}
	wait := deps.FetchWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Consumer{
		js:         deps.JetStream,
		handler:    deps.Handler,
		failures:   deps.Failures,
		fetchBatch: batch,
		fetchWait:  wait,
		logger:     logger.With(zap.String("component", "pipeline.consumer")),
	}
}

// Run sets up the stream and consumers and blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := natsclient.EnsureStream(c.js, natsclient.StreamSpec{
		Name:     model.TrackingStreamName,
		Subjects: []string{model.TrackingStreamSubjects},
		MaxBytes: model.TrackingStreamMaxBytes,
	}); err != nil {
		return err
	}

	subs := map[string]string{
		model.TopicClick:      model.ClickConsumerName,
		model.TopicConversion: model.ConversionConsumerName,
	}

	g, gctx := errgroup.WithContext(ctx)
	for topic, durable := range subs {
		sub, err := c.subscribe(topic, durable)
		if err != nil {
			return err
		}
		g.Go(func() error {
			c.consume(gctx, topic, sub)
			return nil
		})
	}
	return g.Wait()
}

func (c *Consumer) subscribe(topic, durable string) (*nats.Subscription, error) {
	if _, err := c.js.ConsumerInfo(model.TrackingStreamName, durable); err != nil {
		if !errors.Is(err, nats.ErrConsumerNotFound) {
			return nil, fmt.Errorf("pipeline: consumer info %s: %w", durable, err)
		}
		_, err = c.js.AddConsumer(model.TrackingStreamName, &nats.ConsumerConfig{
			Durable:       durable,
			FilterSubject: topic,
			AckPolicy:     nats.AckExplicitPolicy,
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: create consumer %s: %w", durable, err)
		}
	}

	sub, err := c.js.PullSubscribe(topic, durable, nats.Bind(model.TrackingStreamName, durable))
	if err != nil {
		return nil, fmt.Errorf("pipeline: subscribe %s: %w", topic, err)
	}
	return sub, nil
}

func (c *Consumer) consume(ctx context.Context, topic string, sub *nats.Subscription) {
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Warn("failed to unsubscribe", zap.String("topic", topic), zap.Error(err))
		}
	}()

	for ctx.Err() == nil {
		msgs, err := sub.Fetch(c.fetchBatch, nats.MaxWait(c.fetchWait))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			c.logger.Error("failed to fetch messages", zap.String("topic", topic), zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(fetchErrorBackoff):
			}
			continue
		}

		for _, msg := range msgs {
			if c.process(ctx, topic, msg.Data) {
				_ = msg.Ack()
			} else {
				_ = msg.Nak()
			}
		}
	}
	c.logger.Info("consumer stopped", zap.String("topic", topic))
}

// process handles one message and reports whether it may be acked.
func (c *Consumer) process(ctx context.Context, topic string, data []byte) bool {
	err := c.dispatch(ctx, topic, data)
	if err == nil {
		metrics.EventsConsumed.WithLabelValues(topic, "ok").Inc()
		return true
	}

	c.logger.Error("failed to handle event", zap.String("topic", topic), zap.Error(err))
	metrics.EventsConsumed.WithLabelValues(topic, "failed").Inc()
	if c.failures == nil {
		return false
	}
	if recErr := c.failures.Record(ctx, ProcessingFailure{
		Source:  "consumer",
		Topic:   topic,
		Payload: data,
		Error:   err.Error(),
	}); recErr != nil {
		c.logger.Error("failed to dead-letter event, requesting redelivery", zap.String("topic", topic), zap.Error(recErr))
		return false
	}
	return true
}

func (c *Consumer) dispatch(ctx context.Context, topic string, data []byte) error {
	switch topic {
	case model.TopicClick:
		var event model.ClickEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("decode click event: %w", err)
		}
		return c.handler.HandleClick(ctx, event)
	case model.TopicConversion:
		var event model.ConversionEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("decode conversion event: %w", err)
		}
		return c.handler.HandleConversion(ctx, event)
	default:
		return fmt.Errorf("unknown topic %q", topic)
	}
}
