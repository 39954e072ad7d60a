package fraud

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PowerTrack/config"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/useragent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var (
	testNow   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sharedUAs = useragent.NewParser()
)

func newTestDetector(t *testing.T, mutate ...func(*config.FraudConfig)) (*Detector, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Default().Fraud
	for _, m := range mutate {
		m(&cfg)
	}

	return NewDetector(Options{
		Redis:      rdb,
		Config:     cfg,
		UserAgents: sharedUAs,
		Now:        func() time.Time { return testNow },
	}), mr
}

func click(i int, ip string) ClickSignal {
	return ClickSignal{
		EventID:     fmt.Sprintf("evt-%d", i),
		TrackingID:  "trk-1",
		AffiliateID: "aff-1",
		CampaignID:  "camp-1",
		IP:          ip,
		Fingerprint: "fp-1",
		UserAgent:   browserUA,
		Timestamp:   testNow.Add(time.Duration(i) * time.Second / 2),
	}
}

func hasFlag(result model.FraudResult, flag string) bool {
	for _, f := range result.Flags {
		if f.Type == flag {
			return true
		}
	}
	return false
}

func TestScoreClick_CleanClickIsAllowed(t *testing.T) {
	d, _ := newTestDetector(t)

	result, err := d.ScoreClick(context.Background(), click(0, "203.0.113.7"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Score)
	assert.Equal(t, model.FraudActionAllow, result.Action)
	assert.False(t, result.IsSuspicious)
	assert.Empty(t, result.Flags)
}

func TestScoreClick_IPVelocity(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	var last model.FraudResult
	for i := 0; i < 20; i++ {
		result, err := d.ScoreClick(ctx, click(i, "198.51.100.1"))
		require.NoError(t, err)
		if i < 10 {
			assert.False(t, hasFlag(result, model.FlagHighFrequency), "click %d", i)
		}
		last = result
	}

	assert.GreaterOrEqual(t, last.Score, 30)
	assert.True(t, hasFlag(last, model.FlagHighFrequency))
	assert.True(t, last.IsSuspicious)
}

func TestScoreClick_VelocityWindowSlides(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, err := d.ScoreClick(ctx, click(i, "198.51.100.2"))
		require.NoError(t, err)
	}

	later := click(100, "198.51.100.2")
	later.Timestamp = testNow.Add(2 * time.Minute)
	result, err := d.ScoreClick(ctx, later)
	require.NoError(t, err)
	assert.False(t, hasFlag(result, model.FlagHighFrequency))
}

func TestScoreClick_BotUserAgent(t *testing.T) {
	d, _ := newTestDetector(t)

	sig := click(0, "203.0.113.8")
	sig.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/120.0.0.0"
	result, err := d.ScoreClick(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, 40, result.Score)
	assert.Equal(t, model.FraudActionFlag, result.Action)
	assert.True(t, hasFlag(result, model.FlagSuspiciousUserAgent))
}

func TestScoreClick_SearchEngineCrawler(t *testing.T) {
	d, _ := newTestDetector(t)

	sig := click(0, "203.0.113.9")
	sig.UserAgent = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	result, err := d.ScoreClick(context.Background(), sig)
	require.NoError(t, err)
	assert.True(t, hasFlag(result, model.FlagSuspiciousUserAgent))
}

func TestScoreClick_AffiliateHopping(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	var result model.FraudResult
	for i := 0; i < 4; i++ {
		sig := click(i, fmt.Sprintf("192.0.2.%d", i+1))
		sig.AffiliateID = fmt.Sprintf("aff-%d", i)
		var err error
		result, err = d.ScoreClick(ctx, sig)
		require.NoError(t, err)
	}

	assert.True(t, hasFlag(result, model.FlagAffiliateHopping))
	assert.Equal(t, 25, result.Score)
}

func TestScoreClick_ReferrerBlocklist(t *testing.T) {
	d, _ := newTestDetector(t, func(c *config.FraudConfig) {
		c.ReferrerBlocklist = []string{"cheap-traffic.example"}
	})
	ctx := context.Background()

	sig := click(0, "192.0.2.50")
	sig.Referrer = "https://www.promo.cheap-traffic.example/landing?x=1"
	result, err := d.ScoreClick(ctx, sig)
	require.NoError(t, err)
	assert.True(t, hasFlag(result, model.FlagSuspiciousReferrer))
	assert.Equal(t, 20, result.Score)

	sig = click(1, "192.0.2.51")
	sig.Referrer = "https://news.example.org/article"
	result, err = d.ScoreClick(ctx, sig)
	require.NoError(t, err)
	assert.False(t, hasFlag(result, model.FlagSuspiciousReferrer))
}

func TestScoreClick_ScoreIsCapped(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	var result model.FraudResult
	for i := 0; i < 12; i++ {
		sig := click(i, "192.0.2.99")
		sig.AffiliateID = fmt.Sprintf("aff-%d", i)
		sig.UserAgent = "python-scrapebot/1.0"
		sig.Referrer = "http://clickfarm.example/"
		var err error
		result, err = d.ScoreClick(ctx, sig)
		require.NoError(t, err)
	}

	assert.Equal(t, 100, result.Score)
	assert.Equal(t, model.FraudActionBlock, result.Action)
}

func TestScoreClick_RedisFailure(t *testing.T) {
	d, mr := newTestDetector(t)
	mr.Close()

	_, err := d.ScoreClick(context.Background(), click(0, "192.0.2.1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrFraudScoring))
}

func TestScoreClick_LogsSuspiciousActivity(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	sig := click(0, "192.0.2.10")
	sig.UserAgent = "selenium"
	_, err := d.ScoreClick(ctx, sig)
	require.NoError(t, err)
	_, err = d.ScoreClick(ctx, click(1, "192.0.2.11"))
	require.NoError(t, err)

	entries, err := d.RecentSuspicious(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "click", entries[0].Kind)
	assert.Equal(t, "192.0.2.10", entries[0].IP)
}

func TestInspectIP(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := d.ScoreClick(ctx, click(i, "198.51.100.20"))
		require.NoError(t, err)
	}
	report, err := d.InspectIP(ctx, "198.51.100.20")
	require.NoError(t, err)
	assert.Equal(t, int64(20), report.ClickCount)
	assert.GreaterOrEqual(t, report.Score, 30)
	assert.False(t, report.SuspiciousActivity)

	for i := 20; i < 50; i++ {
		_, err := d.ScoreClick(ctx, click(i, "198.51.100.20"))
		require.NoError(t, err)
	}
	report, err = d.InspectIP(ctx, "198.51.100.20")
	require.NoError(t, err)
	assert.Equal(t, int64(50), report.ClickCount)
	assert.True(t, report.SuspiciousActivity)
}

func TestInspectIP_UnknownIP(t *testing.T) {
	d, _ := newTestDetector(t)

	report, err := d.InspectIP(context.Background(), "192.0.2.200")
	require.NoError(t, err)
	assert.Zero(t, report.ClickCount)
	assert.Zero(t, report.Score)
	assert.False(t, report.SuspiciousActivity)
}

func TestScoreConversion_Frequency(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	var result model.FraudResult
	for i := 0; i < 6; i++ {
		var err error
		result, err = d.ScoreConversion(ctx, ConversionSignal{
			ConversionID: fmt.Sprintf("order-%d", i),
			IP:           "198.51.100.30",
			Value:        50,
			Timestamp:    testNow.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	assert.True(t, hasFlag(result, model.FlagHighConversionFrequency))
	assert.Equal(t, 50, result.Score)
	assert.Equal(t, model.FraudActionFlag, result.Action)
}

func TestScoreConversion_ValueOutlier(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	values := []float64{100, 101, 99, 100, 102, 98, 100, 101, 99, 100}
	for i, v := range values {
		result, err := d.ScoreConversion(ctx, ConversionSignal{
			ConversionID: fmt.Sprintf("order-%d", i),
			CampaignID:   "camp-1",
			IP:           fmt.Sprintf("192.0.2.%d", i+1),
			Value:        v,
		})
		require.NoError(t, err)
		assert.False(t, hasFlag(result, model.FlagSuspiciousValue))
	}

	result, err := d.ScoreConversion(ctx, ConversionSignal{
		ConversionID: "order-big",
		CampaignID:   "camp-1",
		IP:           "192.0.2.100",
		Value:        5000,
	})
	require.NoError(t, err)
	assert.True(t, hasFlag(result, model.FlagSuspiciousValue))
	assert.Equal(t, 30, result.Score)

	result, err = d.ScoreConversion(ctx, ConversionSignal{
		ConversionID: "order-normal",
		CampaignID:   "camp-1",
		IP:           "192.0.2.101",
		Value:        100,
	})
	require.NoError(t, err)
	assert.False(t, hasFlag(result, model.FlagSuspiciousValue))
}

func TestScoreConversion_NoBaselineBelowMinSamples(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := d.ScoreConversion(ctx, ConversionSignal{ConversionID: fmt.Sprintf("o-%d", i), CampaignID: "camp-2", Value: 10})
		require.NoError(t, err)
	}
	result, err := d.ScoreConversion(ctx, ConversionSignal{ConversionID: "o-big", CampaignID: "camp-2", Value: 10000})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Score)
}

func TestClaimOrder(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()
	sig := ConversionSignal{ConversionID: "order-42", IP: "192.0.2.5"}

	require.NoError(t, d.ClaimOrder(ctx, "order-42", sig))

	err := d.ClaimOrder(ctx, "order-42", sig)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrDuplicateConversion))

	entries, err := d.RecentSuspicious(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, hasFlag(entries[0].Result, model.FlagDuplicateOrder))
	assert.Equal(t, 80, entries[0].Result.Score)

	require.NoError(t, d.ReleaseOrder(ctx, "order-42"))
	assert.NoError(t, d.ClaimOrder(ctx, "order-42", sig))
}

func TestClaimOrder_EmptyOrderID(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	assert.NoError(t, d.ClaimOrder(ctx, "", ConversionSignal{}))
	assert.NoError(t, d.ClaimOrder(ctx, "", ConversionSignal{}))
}

func TestRecentSuspicious_Bounded(t *testing.T) {
	d, _ := newTestDetector(t, func(c *config.FraudConfig) { c.SuspiciousLogSize = 3 })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sig := click(i, fmt.Sprintf("192.0.2.%d", i+1))
		sig.UserAgent = "crawler"
		_, err := d.ScoreClick(ctx, sig)
		require.NoError(t, err)
	}

	entries, err := d.RecentSuspicious(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, "192.0.2.5", entries[0].IP)
}

func TestAllow(t *testing.T) {
	result := Allow()
	assert.Equal(t, model.FraudActionAllow, result.Action)
	assert.Zero(t, result.Score)
	assert.NotNil(t, result.Flags)
}
