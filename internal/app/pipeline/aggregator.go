package pipeline

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/store"
	"go.uber.org/zap"
)

// Aggregate scopes.
const (
	ScopeCampaign  = "campaign"
	ScopeAffiliate = "affiliate"
)

const (
	fieldClicks             = "clicks"
	fieldBlockedClicks      = "blocked_clicks"
	fieldConversions        = "conversions"
	fieldBlockedConversions = "blocked_conversions"
	fieldRevenue            = "revenue"
)

const defaultSeriesRetention = 30 * 24 * time.Hour

// Counters are the running totals of a campaign or affiliate.
type Counters struct {
	Scope              string  `json:"scope"`
	ID                 string  `json:"id"`
	Clicks             int64   `json:"clicks"`
	BlockedClicks      int64   `json:"blocked_clicks"`
	Conversions        int64   `json:"conversions"`
	BlockedConversions int64   `json:"blocked_conversions"`
	Revenue            float64 `json:"revenue"`
	RecentClicks       int64   `json:"recent_clicks"`
	RecentConversions  int64   `json:"recent_conversions"`
}

// QueueStats reports the depth of the pipeline's Redis lists.
type QueueStats struct {
	FailedEvents            int64 `json:"failed_events"`
	FailedProcessing        int64 `json:"failed_processing"`
	PendingCommissions      int64 `json:"pending_commissions"`
	UnattributedConversions int64 `json:"unattributed_conversions"`
}

// Aggregator folds click and conversion events into counters and queues
// commissionable conversions for settlement. Each event id is applied once.
// Time series keep only the trailing seriesRetention of events.
type Aggregator struct {
	rdb             redis.Cmdable
	processedTTL    time.Duration
	seriesRetention time.Duration
	logger          *zap.Logger
	now             func() time.Time
}

func NewAggregator(rdb redis.Cmdable, processedTTL, seriesRetention time.Duration, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if seriesRetention <= 0 {
		seriesRetention = defaultSeriesRetention
	}
	return &Aggregator{
		rdb:             rdb,
		processedTTL:    processedTTL,
		seriesRetention: seriesRetention,
		logger:          logger.With(zap.String("component", "pipeline.aggregator")),
		now:             time.Now,
	}
}

// HandleClick counts a click event.
func (a *Aggregator) HandleClick(ctx context.Context, event model.ClickEvent) error {
	if event.EventID == "" {
		return eris.New("pipeline: click event without id")
	}
	click := event.Click

	return a.once(ctx, event.EventID, func(pipe redis.Pipeliner) {
		score := float64(click.Timestamp.UnixMilli())
		for _, scope := range scopesOf(click.CampaignID, click.AffiliateID) {
			pipe.HIncrBy(ctx, scope.key, fieldClicks, 1)
			if click.Blocked() {
				pipe.HIncrBy(ctx, scope.key, fieldBlockedClicks, 1)
			}
			a.appendSeries(ctx, pipe, store.SeriesKey(scope.name, scope.id, fieldClicks), score, event.EventID)
		}
	})
}

// HandleConversion counts a conversion and routes it: commissionable ones to
// the pending commission queue, unattributed ones to their own list.
func (a *Aggregator) HandleConversion(ctx context.Context, event model.ConversionEvent) error {
	if event.EventID == "" {
		return eris.New("pipeline: conversion event without id")
	}

	var pending, unattributed []byte
	var err error
	switch {
	case event.Commissionable():
		pending, err = json.Marshal(model.PendingCommission{
			EventID:      event.EventID,
			ConversionID: event.ConversionID,
			AffiliateID:  event.AffiliateID,
			CampaignID:   event.CampaignID,
			Value:        event.Value,
			Currency:     event.Currency,
			Type:         event.Type,
			Period:       event.Period,
			QueuedAt:     a.now().UTC(),
		})
	case !event.Attribution.Attributed:
		unattributed, err = json.Marshal(event)
	}
	if err != nil {
		return eris.Wrapf(err, "pipeline: encode conversion %s", event.ConversionID)
	}

	return a.once(ctx, event.EventID, func(pipe redis.Pipeliner) {
		score := float64(event.Timestamp.UnixMilli())
		if event.Attribution.Attributed {
			for _, scope := range scopesOf(event.CampaignID, event.AffiliateID) {
				if event.Fraud.Action == model.FraudActionBlock {
					pipe.HIncrBy(ctx, scope.key, fieldBlockedConversions, 1)
					continue
				}
				pipe.HIncrBy(ctx, scope.key, fieldConversions, 1)
				pipe.HIncrByFloat(ctx, scope.key, fieldRevenue, event.Value)
				a.appendSeries(ctx, pipe, store.SeriesKey(scope.name, scope.id, fieldConversions), score, event.EventID)
			}
		}
		if pending != nil {
			pipe.LPush(ctx, store.KeyPendingCommissions, pending)
		}
		if unattributed != nil {
			pipe.LPush(ctx, store.KeyUnattributedConversions, unattributed)
		}
	})
}

// appendSeries adds the event to a time series, drops members older than the
// retention and refreshes the key's expiry so idle series disappear.
func (a *Aggregator) appendSeries(ctx context.Context, pipe redis.Pipeliner, key string, score float64, eventID string) {
	cutoff := strconv.FormatInt(a.now().Add(-a.seriesRetention).UnixMilli(), 10)
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: eventID})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
	pipe.PExpire(ctx, key, a.seriesRetention)
}

// once claims eventID and applies fn atomically. The claim is released when
// the transaction fails so a redelivery can retry.
func (a *Aggregator) once(ctx context.Context, eventID string, fn func(pipe redis.Pipeliner)) error {
	claimKey := store.ProcessedEventKey(eventID)
	claimed, err := a.rdb.SetNX(ctx, claimKey, a.now().UnixMilli(), a.processedTTL).Result()
	if err != nil {
		return eris.Wrapf(err, "pipeline: claim event %s", eventID)
	}
	if !claimed {
		a.logger.Debug("skipping already processed event", zap.String("event_id", eventID))
		return nil
	}

	_, err = a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(pipe)
		return nil
	})
	if err != nil {
		if delErr := a.rdb.Del(context.WithoutCancel(ctx), claimKey).Err(); delErr != nil {
			a.logger.Warn("failed to release event claim", zap.String("event_id", eventID), zap.Error(delErr))
		}
		return eris.Wrapf(err, "pipeline: apply event %s", eventID)
	}
	return nil
}

// Counters returns the totals of scope/id plus activity within the trailing
// window (zero window skips the recent counts).
func (a *Aggregator) Counters(ctx context.Context, scope, id string, window time.Duration) (Counters, error) {
	key := scopeKey(scope, id)
	values, err := a.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Counters{}, eris.Wrapf(err, "pipeline: read %s counters", key)
	}

	c := Counters{
		Scope:              scope,
		ID:                 id,
		Clicks:             atoi(values[fieldClicks]),
		BlockedClicks:      atoi(values[fieldBlockedClicks]),
		Conversions:        atoi(values[fieldConversions]),
		BlockedConversions: atoi(values[fieldBlockedConversions]),
		Revenue:            atof(values[fieldRevenue]),
	}

	if window > 0 {
		since := strconv.FormatInt(a.now().Add(-window).UnixMilli(), 10)
		if c.RecentClicks, err = a.rdb.ZCount(ctx, store.SeriesKey(scope, id, fieldClicks), since, "+inf").Result(); err != nil {
			return Counters{}, eris.Wrap(err, "pipeline: count recent clicks")
		}
		if c.RecentConversions, err = a.rdb.ZCount(ctx, store.SeriesKey(scope, id, fieldConversions), since, "+inf").Result(); err != nil {
			return Counters{}, eris.Wrap(err, "pipeline: count recent conversions")
		}
	}
	return c, nil
}

// Stats reports the depth of every pipeline list.
func (a *Aggregator) Stats(ctx context.Context) (QueueStats, error) {
	var failed, processing, pending, unattributed *redis.IntCmd
	_, err := a.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		failed = pipe.LLen(ctx, store.KeyFailedEvents)
		processing = pipe.LLen(ctx, store.KeyFailedProcessing)
		pending = pipe.LLen(ctx, store.KeyPendingCommissions)
		unattributed = pipe.LLen(ctx, store.KeyUnattributedConversions)
		return nil
	})
	if err != nil {
		return QueueStats{}, eris.Wrap(err, "pipeline: read queue depths")
	}
	return QueueStats{
		FailedEvents:            failed.Val(),
		FailedProcessing:        processing.Val(),
		PendingCommissions:      pending.Val(),
		UnattributedConversions: unattributed.Val(),
	}, nil
}

type scopeRef struct {
	name string
	id   string
	key  string
}

func scopesOf(campaignID, affiliateID string) []scopeRef {
	var out []scopeRef
	if campaignID != "" {
		out = append(out, scopeRef{name: ScopeCampaign, id: campaignID, key: store.CampaignMetricsKey(campaignID)})
	}
	if affiliateID != "" {
		out = append(out, scopeRef{name: ScopeAffiliate, id: affiliateID, key: store.AffiliateMetricsKey(affiliateID)})
	}
	return out
}

func scopeKey(scope, id string) string {
	if scope == ScopeAffiliate {
		return store.AffiliateMetricsKey(id)
	}
	return store.CampaignMetricsKey(id)
}

func atoi(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
