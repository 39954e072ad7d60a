package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/commission"
	"github.com/sifan077/PowerTrack/internal/app/fraud"
	"github.com/sifan077/PowerTrack/internal/app/pipeline"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/sifan077/PowerTrack/internal/app/store"
	"github.com/sifan077/PowerTrack/internal/app/tracking"
	"github.com/sifan077/PowerTrack/internal/app/useragent"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	infraNATS "github.com/sifan077/PowerTrack/internal/infra/nats"
	infraPostgres "github.com/sifan077/PowerTrack/internal/infra/postgres"
	infraRedis "github.com/sifan077/PowerTrack/internal/infra/redis"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// infra holds the live connections of one process.
type infra struct {
	gorm  *gorm.DB
	pool  *pgxpool.Pool
	redis *redis.Client
	nats  *nats.Conn
	js    nats.JetStreamContext
}

// connectRedisNATS opens only what the retry tooling needs.
func connectRedisNATS(ctx context.Context) (*infra, error) {
	rt := &infra{}

	rdb, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, eris.Wrap(err, "connect redis")
	}
	rt.redis = rdb
	log.Info("Connected to Redis successfully")

	conn, js, err := infraNATS.Connect(cfg.NATS, logger.Component("nats"))
	if err != nil {
		rt.Close()
		return nil, eris.Wrap(err, "connect nats")
	}
	rt.nats, rt.js = conn, js
	log.Info("Connected to NATS successfully", zap.Bool("jetstream_ready", js != nil))

	return rt, nil
}

func connectAll(ctx context.Context) (*infra, error) {
	rt, err := connectRedisNATS(ctx)
	if err != nil {
		return nil, err
	}

	rt.gorm, err = infraPostgres.NewGorm(cfg.Postgres, log)
	if err != nil {
		rt.Close()
		return nil, eris.Wrap(err, "open gorm connection")
	}

	rt.pool, err = infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		rt.Close()
		return nil, eris.Wrap(err, "connect postgres")
	}
	log.Info("Connected to Postgres successfully",
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.String("postgres_db", cfg.Postgres.Database),
	)

	return rt, nil
}

func (rt *infra) Close() {
	if rt.nats != nil {
		_ = rt.nats.Drain()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
	if rt.gorm != nil {
		if sqlDB, err := rt.gorm.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func newPublisher(rt *infra) (*pipeline.Publisher, *pipeline.FailureLog) {
	publisher := pipeline.NewPublisher(pipeline.PublisherDeps{
		Broker:     rt.js,
		Redis:      rt.redis,
		Timeout:    cfg.Tracking.PublishTimeout,
		MaxEntries: cfg.Pipeline.MaxRetryEntries,
		Logger:     logger.Component("publisher"),
	})
	return publisher, pipeline.NewFailureLog(rt.redis, cfg.Pipeline.MaxRetryEntries)
}

func newRetrySweeper(rt *infra, publisher *pipeline.Publisher, failures *pipeline.FailureLog) *pipeline.RetrySweeper {
	return pipeline.NewRetrySweeper(pipeline.RetrySweeperDeps{
		Publisher: publisher,
		Redis:     rt.redis,
		Failures:  failures,
		Interval:  cfg.Pipeline.RetryInterval,
		Batch:     cfg.Pipeline.RetryBatch,
		Rate:      cfg.Pipeline.RetryRate,
		Logger:    logger.Component("retry"),
	})
}

// services is the fully wired application graph.
type services struct {
	issuer      *tracking.LinkIssuer
	clicks      *tracking.ClickRecorder
	conversions *tracking.ConversionService
	detector    *fraud.Detector
	aggregator  *pipeline.Aggregator
	consumer    *pipeline.Consumer
	sweeper     *pipeline.RetrySweeper
	settlement  *commission.Settlement
	commissions repository.CommissionRepository
	failures    *pipeline.FailureLog
}

func buildServices(rt *infra) *services {
	campaigns := repository.NewCampaignRepository(rt.gorm)
	affiliates := repository.NewAffiliateRepository(rt.gorm)
	commissions := repository.NewCommissionRepository(rt.gorm)
	conversions := repository.NewConversionRepository(rt.pool)

	links := store.NewLinkStore(rt.redis)
	clicks := store.NewClickStore(rt.redis)

	userAgents := useragent.NewParser()
	fingerprinter := tracking.NewFingerprinter(userAgents)
	detector := fraud.NewDetector(fraud.Options{
		Redis:      rt.redis,
		Config:     cfg.Fraud,
		UserAgents: userAgents,
		Logger:     logger.Component("fraud"),
	})

	publisher, failures := newPublisher(rt)

	issuer := tracking.NewLinkIssuer(tracking.LinkIssuerDeps{
		Links:         links,
		Campaigns:     campaigns,
		Affiliates:    affiliates,
		PublicBaseURL: cfg.App.PublicBaseURL,
		Retention:     cfg.Tracking.LinkRetention,
		LookupTimeout: cfg.Tracking.LookupTimeout,
	})
	resolver := tracking.NewResolver(tracking.ResolverDeps{
		Clicks:    clicks,
		Campaigns: campaigns,
		Config:    cfg.Tracking,
		Logger:    logger.Component("resolver"),
	})
	aggregator := pipeline.NewAggregator(rt.redis, cfg.Pipeline.ProcessedEventTTL, cfg.Pipeline.SeriesRetention, logger.Component("aggregator"))

	return &services{
		issuer: issuer,
		clicks: tracking.NewClickRecorder(tracking.ClickRecorderDeps{
			Links:         links,
			Clicks:        clicks,
			Campaigns:     campaigns,
			Issuer:        issuer,
			Fraud:         detector,
			Publisher:     publisher,
			Fingerprinter: fingerprinter,
			Config:        cfg.Tracking,
			Logger:        logger.Component("clicks"),
		}),
		conversions: tracking.NewConversionService(tracking.ConversionServiceDeps{
			Resolver:      resolver,
			Fraud:         detector,
			Conversions:   conversions,
			Publisher:     publisher,
			Fingerprinter: fingerprinter,
			Logger:        logger.Component("conversions"),
		}),
		detector:   detector,
		aggregator: aggregator,
		consumer: pipeline.NewConsumer(pipeline.ConsumerDeps{
			JetStream:  rt.js,
			Handler:    aggregator,
			Failures:   failures,
			FetchBatch: cfg.Pipeline.FetchBatch,
			FetchWait:  cfg.Pipeline.FetchWait,
			Logger:     logger.Component("consumer"),
		}),
		sweeper:     newRetrySweeper(rt, publisher, failures),
		commissions: commissions,
		failures:    failures,
		settlement: commission.NewSettlement(commission.SettlementDeps{
			Service:     commission.NewService(campaigns),
			Commissions: commissions,
			Redis:       rt.redis,
			Failures:    failures,
			Interval:    cfg.Commission.SettlementInterval,
			Batch:       cfg.Commission.SettlementBatch,
			Logger:      logger.Component("settlement"),
		}),
	}
}
