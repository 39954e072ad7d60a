package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/store"
	metrics "github.com/sifan077/PowerTrack/internal/infra/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetrySweeperDeps groups the collaborators of RetrySweeper.
type RetrySweeperDeps struct {
	Publisher *Publisher
	Redis     redis.Cmdable
	Failures  *FailureLog
	Interval  time.Duration
	Batch     int64
	Rate      float64
	Logger    *zap.Logger
}

// RetrySweeper periodically replays parked events, oldest first. An entry is
// removed only after the broker accepted it.
type RetrySweeper struct {
	publisher *Publisher
	rdb       redis.Cmdable
	failures  *FailureLog
	interval  time.Duration
	batch     int64
	limiter   *rate.Limiter
	logger    *zap.Logger
}

func NewRetrySweeper(deps RetrySweeperDeps) *RetrySweeper {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batch := deps.Batch
	if batch <= 0 {
		batch = 100
	}
	limit := rate.Inf
	if deps.Rate > 0 {
		limit = rate.Limit(deps.Rate)
	}

	return &RetrySweeper{
		publisher: deps.Publisher,
		rdb:       deps.Redis,
		failures:  deps.Failures,
		interval:  interval,
		batch:     batch,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger.With(zap.String("component", "pipeline.retry_sweeper")),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *RetrySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			replayed, err := s.SweepOnce(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("retry sweep stopped early", zap.Int("replayed", replayed), zap.Error(err))
			} else if replayed > 0 {
				s.logger.Info("replayed parked events", zap.Int("count", replayed))
			}
		case <-ctx.Done():
			s.logger.Info("retry sweeper stopped")
			return nil
		}
	}
}

// SweepOnce replays up to one batch. It stops at the first broker failure and
// reports how many events were replayed.
func (s *RetrySweeper) SweepOnce(ctx context.Context) (int, error) {
	entries, err := s.rdb.LRange(ctx, store.KeyFailedEvents, -s.batch, -1).Result()
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: read retry list")
	}

	replayed := 0
	// LPUSH puts the newest entry at the head, so walk from the tail.
	for i := len(entries) - 1; i >= 0; i-- {
		raw := entries[i]
		if err := s.limiter.Wait(ctx); err != nil {
			return replayed, err
		}

		var event FailedEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil || event.Topic == "" {
			s.quarantine(ctx, raw, err)
			continue
		}

		if err := s.publisher.send(ctx, event.Topic, event.EventID, event.Payload); err != nil {
			metrics.EventsReplayed.WithLabelValues("failed").Inc()
			s.bumpAttempts(ctx, raw, event, err)
			return replayed, eris.Wrapf(err, "pipeline: replay %s event %s", event.Topic, event.EventID)
		}

		if err := s.rdb.LRem(ctx, store.KeyFailedEvents, 1, raw).Err(); err != nil {
			// the event will be replayed again; broker dedup by msg id absorbs it
			s.logger.Warn("failed to remove replayed event", zap.String("event_id", event.EventID), zap.Error(err))
		}
		metrics.EventsReplayed.WithLabelValues("replayed").Inc()
		replayed++
	}
	return replayed, nil
}

// bumpAttempts rewrites the entry in place at the tail so it stays oldest.
func (s *RetrySweeper) bumpAttempts(ctx context.Context, raw string, event FailedEvent, cause error) {
	event.Attempts++
	event.LastError = cause.Error()
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, store.KeyFailedEvents, 1, raw)
		pipe.RPush(ctx, store.KeyFailedEvents, data)
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to update retry attempts", zap.String("event_id", event.EventID), zap.Error(err))
	}
}

func (s *RetrySweeper) quarantine(ctx context.Context, raw string, cause error) {
	reason := "missing topic"
	if cause != nil {
		reason = cause.Error()
	}
	if s.failures != nil {
		if err := s.failures.Record(ctx, ProcessingFailure{Source: "retry_sweeper", Payload: json.RawMessage(raw), Error: reason}); err != nil {
			s.logger.Warn("failed to quarantine malformed retry entry", zap.Error(err))
			return
		}
	}
	if err := s.rdb.LRem(ctx, store.KeyFailedEvents, 1, raw).Err(); err != nil {
		s.logger.Warn("failed to drop malformed retry entry", zap.Error(err))
	}
	metrics.EventsReplayed.WithLabelValues("malformed").Inc()
}
