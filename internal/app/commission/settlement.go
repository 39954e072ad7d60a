package commission

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/pipeline"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/sifan077/PowerTrack/internal/app/store"
	metrics "github.com/sifan077/PowerTrack/internal/infra/prometheus"
	"go.uber.org/zap"
)

// SettlementDeps groups the collaborators of Settlement.
type SettlementDeps struct {
	Service     *Service
	Commissions repository.CommissionRepository
	Redis       redis.Cmdable
	Failures    *pipeline.FailureLog
	Interval    time.Duration
	Batch       int
	Logger      *zap.Logger
}

// Settlement drains the pending commission queue into the commissions table.
type Settlement struct {
	service     *Service
	commissions repository.CommissionRepository
	rdb         redis.Cmdable
	failures    *pipeline.FailureLog
	interval    time.Duration
	batch       int
	logger      *zap.Logger
}

func NewSettlement(deps SettlementDeps) *Settlement {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	batch := deps.Batch
	if batch <= 0 {
		batch = 50
	}

	return &Settlement{
		service:     deps.Service,
		commissions: deps.Commissions,
		rdb:         deps.Redis,
		failures:    deps.Failures,
		interval:    interval,
		batch:       batch,
		logger:      logger.With(zap.String("component", "commission.settlement")),
	}
}

// Run settles on every tick until ctx is cancelled.
func (s *Settlement) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			settled, err := s.SettleOnce(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("settlement stopped early", zap.Int("settled", settled), zap.Error(err))
			} else if settled > 0 {
				s.logger.Info("settled commissions", zap.Int("count", settled))
			}
		case <-ctx.Done():
			s.logger.Info("settlement stopped")
			return nil
		}
	}
}

// SettleOnce drains up to one batch, oldest first. Entries that can never
// settle go to the failure log; a transient failure puts the entry back at
// the tail and stops the batch.
func (s *Settlement) SettleOnce(ctx context.Context) (int, error) {
	settled := 0
	for i := 0; i < s.batch; i++ {
		raw, err := s.rdb.RPop(ctx, store.KeyPendingCommissions).Result()
		if errors.Is(err, redis.Nil) {
			return settled, nil
		}
		if err != nil {
			return settled, eris.Wrap(err, "commission: pop pending")
		}

		var pending model.PendingCommission
		if err := json.Unmarshal([]byte(raw), &pending); err != nil || pending.ConversionID == "" {
			if err == nil {
				err = eris.New("missing conversion id")
			}
			s.reject(ctx, raw, err)
			continue
		}

		created, err := s.settle(ctx, pending)
		switch {
		case err == nil:
		case apperr.IsNotFound(err) || errors.Is(err, apperr.ErrInvalidCommissionConfig) || errors.Is(err, apperr.ErrInvalidInput):
			s.reject(ctx, raw, err)
			continue
		default:
			if pushErr := s.rdb.RPush(context.WithoutCancel(ctx), store.KeyPendingCommissions, raw).Err(); pushErr != nil {
				s.logger.Error("lost pending commission", zap.String("conversion_id", pending.ConversionID), zap.Error(pushErr))
			}
			metrics.CommissionsSettled.WithLabelValues("retry").Inc()
			return settled, eris.Wrapf(err, "commission: settle %s", pending.ConversionID)
		}

		if !created {
			s.logger.Debug("commission already settled", zap.String("conversion_id", pending.ConversionID))
			metrics.CommissionsSettled.WithLabelValues("duplicate").Inc()
			continue
		}
		metrics.CommissionsSettled.WithLabelValues("settled").Inc()
		settled++
	}
	return settled, nil
}

func (s *Settlement) settle(ctx context.Context, pending model.PendingCommission) (bool, error) {
	commission, err := s.service.ForConversion(ctx, pending)
	if err != nil {
		return false, err
	}
	return s.commissions.Create(ctx, commission)
}

func (s *Settlement) reject(ctx context.Context, raw string, cause error) {
	metrics.CommissionsSettled.WithLabelValues("rejected").Inc()
	s.logger.Warn("pending commission rejected", zap.Error(cause))
	if s.failures == nil {
		return
	}
	err := s.failures.Record(ctx, pipeline.ProcessingFailure{
		Source:  "settlement",
		Payload: json.RawMessage(raw),
		Error:   cause.Error(),
	})
	if err != nil {
		s.logger.Error("failed to record rejected commission", zap.Error(err))
	}
}
