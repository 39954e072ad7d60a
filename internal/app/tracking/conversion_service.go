package tracking

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/fraud"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	metrics "github.com/sifan077/PowerTrack/internal/infra/prometheus"
	"go.uber.org/zap"
)

const defaultCurrency = "USD"

// ConversionRequest is a conversion as reported by the merchant, plus the
// attribution signals of the request that carried it.
type ConversionRequest struct {
	ClickID        string
	VisitorID      string
	UserID         string
	OrderID        string
	Amount         float64
	Currency       string
	Type           string
	Period         int
	Products       []string
	ConversionPath []string

	IP             string
	UserAgent      string
	AcceptLanguage string
	Cookie         *model.TrackingCookie
}

// ConversionOutcome is the recorded event plus which tracking methods were
// available for it.
type ConversionOutcome struct {
	Event               model.ConversionEvent
	CookieTracking      bool
	FingerprintTracking bool
}

// ConversionServiceDeps groups the collaborators of ConversionService.
type ConversionServiceDeps struct {
	Resolver      *Resolver
	Fraud         ConversionScorer
	Conversions   repository.ConversionRepository
	Publisher     EventPublisher
	Fingerprinter *Fingerprinter
	Logger        *zap.Logger
	Now           func() time.Time
}

// ConversionService validates, attributes, scores and persists conversions.
type ConversionService struct {
	resolver     *Resolver
	fraud        ConversionScorer
	conversions  repository.ConversionRepository
	publisher    EventPublisher
	fingerprints *Fingerprinter
	logger       *zap.Logger
	now          func() time.Time
}

func NewConversionService(deps ConversionServiceDeps) *ConversionService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	fp := deps.Fingerprinter
	if fp == nil {
		fp = NewFingerprinter(nil)
	}

	return &ConversionService{
		resolver:     deps.Resolver,
		fraud:        deps.Fraud,
		conversions:  deps.Conversions,
		publisher:    deps.Publisher,
		fingerprints: fp,
		logger:       logger.With(zap.String("component", "tracking.conversion_service")),
		now:          now,
	}
}

// Record processes one conversion. Duplicate order ids fail with
// apperr.ErrDuplicateConversion; attribution lookups that time out fail with
// apperr.ErrLookupTimeout. Fraud scoring and publishing never fail the call.
func (s *ConversionService) Record(ctx context.Context, req ConversionRequest) (*ConversionOutcome, error) {
	event, err := s.newEvent(req)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("conversion_id", event.ConversionID))

	sig := fraud.ConversionSignal{
		ConversionID: event.ConversionID,
		IP:           event.IP,
		Fingerprint:  event.Fingerprint,
		Value:        event.Value,
		Timestamp:    event.Timestamp,
	}

	if err := s.fraud.ClaimOrder(ctx, event.OrderID, sig); err != nil {
		if errors.Is(err, apperr.ErrDuplicateConversion) {
			return nil, err
		}
		log.Warn("order claim failed, relying on durable uniqueness", zap.Error(err))
	}

	attribution, err := s.resolver.Resolve(ctx, AttributionRequest{
		Cookie:      req.Cookie,
		ClickID:     req.ClickID,
		Fingerprint: event.Fingerprint,
		UserID:      event.UserID,
		At:          event.Timestamp,
	})
	if err != nil {
		s.release(ctx, event.OrderID, log)
		return nil, eris.Wrap(err, "record conversion: resolve attribution")
	}
	event.Attribution = attribution
	event.AffiliateID = attribution.AffiliateID
	event.CampaignID = attribution.CampaignID

	sig.CampaignID = event.CampaignID
	sig.AffiliateID = event.AffiliateID
	verdict, err := s.fraud.ScoreConversion(ctx, sig)
	if err != nil {
		log.Warn("fraud scoring failed, allowing conversion", zap.Error(err))
		metrics.FraudScoringFailures.WithLabelValues("conversion").Inc()
		verdict = fraud.Allow()
	}
	event.Fraud = verdict

	if err := s.conversions.Create(ctx, &event); err != nil {
		if !errors.Is(err, apperr.ErrDuplicateConversion) {
			s.release(ctx, event.OrderID, log)
		}
		return nil, eris.Wrap(err, "record conversion: persist")
	}

	if err := s.publisher.Publish(ctx, model.TopicConversion, event.EventID, event); err != nil {
		log.Warn("conversion event parked for retry", zap.String("event_id", event.EventID), zap.Error(err))
	}

	metrics.ConversionsRecorded.WithLabelValues(string(attribution.Source)).Inc()
	log.Info("conversion recorded",
		zap.Bool("attributed", attribution.Attributed),
		zap.String("source", string(attribution.Source)),
		zap.String("fraud_action", string(verdict.Action)),
	)

	return &ConversionOutcome{
		Event:               event,
		CookieTracking:      req.Cookie != nil,
		FingerprintTracking: attribution.Source == model.AttributionSourceFingerprint || req.Cookie == nil,
	}, nil
}

// Lookup returns the stored conversion; unknown ids yield apperr.ErrNotFound.
func (s *ConversionService) Lookup(ctx context.Context, conversionID string) (*model.ConversionEvent, error) {
	event, err := s.conversions.GetByID(ctx, conversionID)
	if err != nil {
		return nil, eris.Wrap(err, "lookup conversion")
	}
	return event, nil
}

func (s *ConversionService) newEvent(req ConversionRequest) (model.ConversionEvent, error) {
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount < 0 {
		return model.ConversionEvent{}, eris.Wrapf(apperr.ErrInvalidInput, "amount %v", req.Amount)
	}

	conversionType := model.ConversionType(strings.ToLower(strings.TrimSpace(req.Type)))
	switch conversionType {
	case "":
		conversionType = model.ConversionSale
	case model.ConversionSale, model.ConversionLead, model.ConversionSubscription:
	default:
		return model.ConversionEvent{}, eris.Wrapf(apperr.ErrInvalidInput, "conversion type %q", req.Type)
	}

	period := req.Period
	if period < 0 {
		return model.ConversionEvent{}, eris.Wrapf(apperr.ErrInvalidInput, "period %d", req.Period)
	}
	if period == 0 {
		period = 1
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if len(currency) != 3 {
		return model.ConversionEvent{}, eris.Wrapf(apperr.ErrInvalidInput, "currency %q", req.Currency)
	}

	orderID := strings.TrimSpace(req.OrderID)
	conversionID := orderID
	if conversionID == "" {
		conversionID = "conv_" + uuid.NewString()
	}

	fingerprint := s.fingerprints.Fingerprint(FingerprintSignals{
		VisitorID:      req.VisitorID,
		UserAgent:      req.UserAgent,
		AcceptLanguage: req.AcceptLanguage,
		IP:             req.IP,
	})

	return model.ConversionEvent{
		EventID:        uuid.NewString(),
		ConversionID:   conversionID,
		OrderID:        orderID,
		Value:          req.Amount,
		Currency:       currency,
		Type:           conversionType,
		Period:         period,
		IP:             req.IP,
		Fingerprint:    fingerprint,
		UserID:         req.UserID,
		Products:       req.Products,
		ConversionPath: req.ConversionPath,
		Timestamp:      s.now().UTC(),
		Attribution:    model.Unattributed(),
		Fraud:          fraud.Allow(),
	}, nil
}

func (s *ConversionService) release(ctx context.Context, orderID string, log *zap.Logger) {
	if err := s.fraud.ReleaseOrder(context.WithoutCancel(ctx), orderID); err != nil {
		log.Warn("failed to release order claim", zap.Error(err))
	}
}
