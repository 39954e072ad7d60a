// Package fraud scores clicks and conversions against Redis-backed velocity
// counters and static heuristics.
package fraud

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/config"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/store"
	"github.com/sifan077/PowerTrack/internal/app/useragent"
	metrics "github.com/sifan077/PowerTrack/internal/infra/prometheus"
	"go.uber.org/zap"
)

const maxScore = 100

// ClickSignal carries what the detector needs to know about a click.
type ClickSignal struct {
	EventID     string
	TrackingID  string
	AffiliateID string
	CampaignID  string
	IP          string
	Fingerprint string
	UserAgent   string
	Referrer    string
	Timestamp   time.Time
}

// ConversionSignal carries what the detector needs to know about a conversion.
type ConversionSignal struct {
	ConversionID string
	CampaignID   string
	AffiliateID  string
	IP           string
	Fingerprint  string
	Value        float64
	Timestamp    time.Time
}

// IPReport summarises the recent activity of a single IP.
type IPReport struct {
	IP                 string            `json:"ip"`
	ClickCount         int64             `json:"click_count"`
	ConversionCount    int64             `json:"conversion_count"`
	Score              int               `json:"score"`
	Flags              []model.FraudFlag `json:"flags"`
	SuspiciousActivity bool              `json:"suspicious_activity"`
}

// Options configures a Detector.
type Options struct {
	Redis      redis.Cmdable
	Config     config.FraudConfig
	UserAgents *useragent.Parser
	Logger     *zap.Logger
	Now        func() time.Time
}

// Detector implements the click and conversion heuristics. Shared counters live
// in Redis, so any number of detectors may run side by side.
type Detector struct {
	rdb       redis.Cmdable
	cfg       config.FraudConfig
	ua        *useragent.Parser
	referrers *referrerBlocklist
	logger    *zap.Logger
	now       func() time.Time
}

func NewDetector(opts Options) *Detector {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ua := opts.UserAgents
	if ua == nil {
		ua = useragent.NewParser()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Detector{
		rdb:       opts.Redis,
		cfg:       opts.Config,
		ua:        ua,
		referrers: newReferrerBlocklist(opts.Config.ReferrerBlocklist, opts.Config.ReferrerBlocklistFPRate),
		logger:    logger.With(zap.String("component", "fraud.detector")),
		now:       now,
	}
}

// Allow is the verdict used when scoring fails and the caller fails open.
func Allow() model.FraudResult {
	return model.FraudResult{Flags: []model.FraudFlag{}, Action: model.FraudActionAllow}
}

// ScoreClick runs the click rules and logs a non-zero verdict for review.
func (d *Detector) ScoreClick(ctx context.Context, sig ClickSignal) (model.FraudResult, error) {
	if sig.Timestamp.IsZero() {
		sig.Timestamp = d.now()
	}

	v := newVerdict()
	rules := []func(context.Context, ClickSignal, *verdict) error{
		d.checkClickVelocity,
		d.checkAffiliateHopping,
		d.checkUserAgent,
		d.checkReferrer,
	}
	for _, rule := range rules {
		if err := rule(ctx, sig, v); err != nil {
			return model.FraudResult{}, eris.Wrapf(apperr.ErrFraudScoring, "click %s: %v", sig.TrackingID, err)
		}
	}

	result := v.result(d.cfg)
	d.observe("click", result)
	if result.Score > 0 {
		d.logSuspicious(ctx, model.SuspiciousActivity{
			Kind:        "click",
			ReferenceID: sig.TrackingID,
			IP:          sig.IP,
			Fingerprint: sig.Fingerprint,
			CampaignID:  sig.CampaignID,
			AffiliateID: sig.AffiliateID,
			Result:      result,
			Timestamp:   sig.Timestamp,
		})
	}
	return result, nil
}

// ScoreConversion runs the conversion rules. Values of conversions that are
// not blocked feed the campaign baseline.
func (d *Detector) ScoreConversion(ctx context.Context, sig ConversionSignal) (model.FraudResult, error) {
	if sig.Timestamp.IsZero() {
		sig.Timestamp = d.now()
	}

	v := newVerdict()
	rules := []func(context.Context, ConversionSignal, *verdict) error{
		d.checkConversionVelocity,
		d.checkConversionValue,
	}
	for _, rule := range rules {
		if err := rule(ctx, sig, v); err != nil {
			return model.FraudResult{}, eris.Wrapf(apperr.ErrFraudScoring, "conversion %s: %v", sig.ConversionID, err)
		}
	}

	result := v.result(d.cfg)
	if result.Action != model.FraudActionBlock && sig.CampaignID != "" {
		if err := d.recordValue(ctx, sig.CampaignID, sig.Value); err != nil {
			d.logger.Warn("failed to update value baseline", zap.String("campaign_id", sig.CampaignID), zap.Error(err))
		}
	}

	d.observe("conversion", result)
	if result.Score > 0 {
		d.logSuspicious(ctx, conversionActivity(sig, result))
	}
	return result, nil
}

// ClaimOrder atomically reserves orderID. A second claim inside the dedup
// window fails with apperr.ErrDuplicateConversion and is logged for review.
func (d *Detector) ClaimOrder(ctx context.Context, orderID string, sig ConversionSignal) error {
	if orderID == "" {
		return nil
	}

	ok, err := d.rdb.SetNX(ctx, store.OrderKey(orderID), d.now().UnixMilli(), d.cfg.OrderDedupWindow).Result()
	if err != nil {
		return eris.Wrapf(apperr.ErrFraudScoring, "claim order %s: %v", orderID, err)
	}
	if ok {
		return nil
	}

	result := model.FraudResult{
		IsSuspicious: true,
		Flags: []model.FraudFlag{{
			Type:        model.FlagDuplicateOrder,
			Description: "order id already converted",
			Severity:    model.SeverityHigh,
		}},
		Score:  80,
		Action: model.FraudActionBlock,
	}
	d.observe("conversion", result)
	d.logSuspicious(ctx, conversionActivity(sig, result))

	return eris.Wrapf(apperr.ErrDuplicateConversion, "order %s", orderID)
}

// ReleaseOrder drops a claim taken by ClaimOrder.
func (d *Detector) ReleaseOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return nil
	}
	if err := d.rdb.Del(ctx, store.OrderKey(orderID)).Err(); err != nil {
		return eris.Wrapf(err, "fraud: release order %s", orderID)
	}
	return nil
}

// InspectIP reports the current counters of ip without recording anything.
func (d *Detector) InspectIP(ctx context.Context, ip string) (IPReport, error) {
	now := d.now()
	clicks, err := d.countSince(ctx, store.IPClicksKey(ip), now.Add(-d.cfg.ClickVelocityWindow))
	if err != nil {
		return IPReport{}, eris.Wrapf(err, "fraud: inspect %s clicks", ip)
	}
	conversions, err := d.countSince(ctx, store.IPConversionsKey(ip), now.Add(-d.cfg.ConversionWindow))
	if err != nil {
		return IPReport{}, eris.Wrapf(err, "fraud: inspect %s conversions", ip)
	}

	v := newVerdict()
	if clicks > d.cfg.ClickVelocityLimit {
		v.add(30, model.FlagHighFrequency, model.SeverityMedium, "%d clicks within %s", clicks, d.cfg.ClickVelocityWindow)
	}
	if conversions > d.cfg.ConversionLimit {
		v.add(50, model.FlagHighConversionFrequency, model.SeverityHigh, "%d conversions within %s", conversions, d.cfg.ConversionWindow)
	}
	result := v.result(d.cfg)

	return IPReport{
		IP:                 ip,
		ClickCount:         clicks,
		ConversionCount:    conversions,
		Score:              result.Score,
		Flags:              result.Flags,
		SuspiciousActivity: clicks >= d.cfg.BurstThreshold || result.Score >= d.cfg.FlagThreshold,
	}, nil
}

// RecentSuspicious returns the newest entries of the review log.
func (d *Detector) RecentSuspicious(ctx context.Context, limit int64) ([]model.SuspiciousActivity, error) {
	if limit <= 0 || limit > d.cfg.SuspiciousLogSize {
		limit = d.cfg.SuspiciousLogSize
	}

	raw, err := d.rdb.LRange(ctx, store.KeySuspiciousActivities, 0, limit-1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "fraud: read suspicious log")
	}

	entries := make([]model.SuspiciousActivity, 0, len(raw))
	for _, item := range raw {
		var entry model.SuspiciousActivity
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			d.logger.Warn("skipping malformed suspicious log entry", zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (d *Detector) logSuspicious(ctx context.Context, entry model.SuspiciousActivity) {
	data, err := json.Marshal(entry)
	if err != nil {
		d.logger.Warn("failed to encode suspicious activity", zap.Error(err))
		return
	}

	_, err = d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, store.KeySuspiciousActivities, data)
		pipe.LTrim(ctx, store.KeySuspiciousActivities, 0, d.cfg.SuspiciousLogSize-1)
		return nil
	})
	if err != nil {
		d.logger.Warn("failed to record suspicious activity",
			zap.String("kind", entry.Kind),
			zap.String("reference_id", entry.ReferenceID),
			zap.Error(err),
		)
	}
}

func (d *Detector) observe(subject string, result model.FraudResult) {
	metrics.FraudVerdicts.WithLabelValues(subject, string(result.Action)).Inc()
	for _, flag := range result.Flags {
		metrics.FraudFlags.WithLabelValues(flag.Type).Inc()
	}
}

func conversionActivity(sig ConversionSignal, result model.FraudResult) model.SuspiciousActivity {
	return model.SuspiciousActivity{
		Kind:        "conversion",
		ReferenceID: sig.ConversionID,
		IP:          sig.IP,
		Fingerprint: sig.Fingerprint,
		CampaignID:  sig.CampaignID,
		AffiliateID: sig.AffiliateID,
		Result:      result,
		Timestamp:   sig.Timestamp,
	}
}
