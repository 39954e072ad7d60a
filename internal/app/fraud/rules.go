package fraud

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/store"
)

var botUserAgentMarkers = []string{
	"bot", "crawler", "spider", "headless", "phantomjs", "selenium", "puppeteer", "automation", "scrape",
}

var clickFarmReferrerMarkers = []string{
	"click-farm", "clickfarm", "traffic-exchange", "trafficexchange", "autosurf", "paid-to-click", "ptc-",
}

func (d *Detector) checkClickVelocity(ctx context.Context, sig ClickSignal, v *verdict) error {
	if sig.IP == "" {
		return nil
	}
	member := sig.EventID
	if member == "" {
		member = uuid.NewString()
	}

	count, err := d.slidingCount(ctx, store.IPClicksKey(sig.IP), member, sig.Timestamp, d.cfg.ClickVelocityWindow)
	if err != nil {
		return err
	}
	if count > d.cfg.ClickVelocityLimit {
		v.add(30, model.FlagHighFrequency, model.SeverityMedium,
			"%d clicks from %s within %s", count, sig.IP, d.cfg.ClickVelocityWindow)
	}
	return nil
}

func (d *Detector) checkAffiliateHopping(ctx context.Context, sig ClickSignal, v *verdict) error {
	if sig.Fingerprint == "" || sig.AffiliateID == "" {
		return nil
	}

	count, err := d.slidingCount(ctx, store.DeviceAffiliatesKey(sig.Fingerprint), sig.AffiliateID, sig.Timestamp, d.cfg.AffiliateHoppingWindow)
	if err != nil {
		return err
	}
	if count > d.cfg.AffiliateHoppingLimit {
		v.add(25, model.FlagAffiliateHopping, model.SeverityMedium,
			"device clicked %d affiliates within %s", count, d.cfg.AffiliateHoppingWindow)
	}
	return nil
}

func (d *Detector) checkUserAgent(_ context.Context, sig ClickSignal, v *verdict) error {
	ua := strings.ToLower(sig.UserAgent)
	for _, marker := range botUserAgentMarkers {
		if strings.Contains(ua, marker) {
			v.add(40, model.FlagSuspiciousUserAgent, model.SeverityHigh, "user agent contains %q", marker)
			return nil
		}
	}
	if d.ua.Parse(sig.UserAgent).Crawler {
		v.add(40, model.FlagSuspiciousUserAgent, model.SeverityHigh, "user agent classified as crawler")
	}
	return nil
}

func (d *Detector) checkReferrer(_ context.Context, sig ClickSignal, v *verdict) error {
	if sig.Referrer == "" {
		return nil
	}
	ref := strings.ToLower(sig.Referrer)
	for _, marker := range clickFarmReferrerMarkers {
		if strings.Contains(ref, marker) {
			v.add(20, model.FlagSuspiciousReferrer, model.SeverityLow, "referrer contains %q", marker)
			return nil
		}
	}
	if host, ok := d.referrers.match(sig.Referrer); ok {
		v.add(20, model.FlagSuspiciousReferrer, model.SeverityLow, "referrer host %s is blocklisted", host)
	}
	return nil
}

func (d *Detector) checkConversionVelocity(ctx context.Context, sig ConversionSignal, v *verdict) error {
	if sig.IP == "" {
		return nil
	}
	member := sig.ConversionID
	if member == "" {
		member = uuid.NewString()
	}

	count, err := d.slidingCount(ctx, store.IPConversionsKey(sig.IP), member, sig.Timestamp, d.cfg.ConversionWindow)
	if err != nil {
		return err
	}
	if count > d.cfg.ConversionLimit {
		v.add(50, model.FlagHighConversionFrequency, model.SeverityHigh,
			"%d conversions from %s within %s", count, sig.IP, d.cfg.ConversionWindow)
	}
	return nil
}

func (d *Detector) checkConversionValue(ctx context.Context, sig ConversionSignal, v *verdict) error {
	if sig.CampaignID == "" {
		return nil
	}

	b, err := d.baseline(ctx, sig.CampaignID)
	if err != nil {
		return err
	}
	if b.count < d.cfg.ValueBaselineMinSamples {
		return nil
	}

	mean, stddev := b.stats()
	if stddev == 0 {
		return nil
	}
	if math.Abs(sig.Value-mean) > d.cfg.ValueStdDevs*stddev {
		v.add(30, model.FlagSuspiciousValue, model.SeverityMedium,
			"value %.2f outside %.2f +/- %.0f sigma (%.2f)", sig.Value, mean, d.cfg.ValueStdDevs, stddev)
	}
	return nil
}

// slidingCount records member at ts in the sorted set key and returns how
// many distinct members fall inside the trailing window.
func (d *Detector) slidingCount(ctx context.Context, key, member string, ts time.Time, window time.Duration) (int64, error) {
	now := ts.UnixMilli()
	cutoff := strconv.FormatInt(now-window.Milliseconds(), 10)

	var card *redis.IntCmd
	_, err := d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: member})
		card = pipe.ZCard(ctx, key)
		pipe.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return card.Val(), nil
}

func (d *Detector) countSince(ctx context.Context, key string, since time.Time) (int64, error) {
	return d.rdb.ZCount(ctx, key, strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
}

type valueBaseline struct {
	count int64
	sum   float64
	sumSq float64
}

func (b valueBaseline) stats() (mean, stddev float64) {
	n := float64(b.count)
	mean = b.sum / n
	variance := b.sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

func (d *Detector) baseline(ctx context.Context, campaignID string) (valueBaseline, error) {
	values, err := d.rdb.HMGet(ctx, store.CampaignValuesKey(campaignID), "count", "sum", "sumsq").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return valueBaseline{}, err
	}

	var b valueBaseline
	if len(values) != 3 {
		return b, nil
	}
	b.count = parseInt(values[0])
	b.sum = parseFloat(values[1])
	b.sumSq = parseFloat(values[2])
	return b, nil
}

func (d *Detector) recordValue(ctx context.Context, campaignID string, value float64) error {
	key := store.CampaignValuesKey(campaignID)
	_, err := d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "count", 1)
		pipe.HIncrByFloat(ctx, key, "sum", value)
		pipe.HIncrByFloat(ctx, key, "sumsq", value*value)
		return nil
	})
	return err
}

func parseInt(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseFloat(v any) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
