package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/config"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/fraud"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/store"
	"github.com/sifan077/PowerTrack/internal/app/useragent"
)

const (
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	mobileUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
)

var (
	baseTime  = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	sharedUAs = useragent.NewParser()
)

type mockCampaignRepository struct {
	campaigns map[string]*model.Campaign
	getFn     func(ctx context.Context, id string) (*model.Campaign, error)
}

func (m *mockCampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	if c, ok := m.campaigns[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, eris.Wrapf(apperr.ErrCampaignNotFound, "campaign %s", id)
}

type mockAffiliateRepository struct {
	affiliates map[string]*model.Affiliate
}

func (m *mockAffiliateRepository) GetByID(ctx context.Context, id string) (*model.Affiliate, error) {
	if a, ok := m.affiliates[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, eris.Wrapf(apperr.ErrNotFound, "affiliate %s", id)
}

type mockClickScorer struct {
	scoreFn func(ctx context.Context, sig fraud.ClickSignal) (model.FraudResult, error)
}

func (m *mockClickScorer) ScoreClick(ctx context.Context, sig fraud.ClickSignal) (model.FraudResult, error) {
	if m.scoreFn != nil {
		return m.scoreFn(ctx, sig)
	}
	return fraud.Allow(), nil
}

type publishedEvent struct {
	topic   string
	eventID string
	payload any
}

type mockPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, topic, eventID string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, publishedEvent{topic: topic, eventID: eventID, payload: payload})
	return nil
}

func (m *mockPublisher) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.topic)
	}
	return out
}

type mockConversionRepository struct {
	mu       sync.Mutex
	rows     map[string]model.ConversionEvent
	createFn func(ctx context.Context, event *model.ConversionEvent) error
}

func (m *mockConversionRepository) EnsureSchema(ctx context.Context) error { return nil }

func (m *mockConversionRepository) Create(ctx context.Context, event *model.ConversionEvent) error {
	if m.createFn != nil {
		return m.createFn(ctx, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = make(map[string]model.ConversionEvent)
	}
	if _, ok := m.rows[event.ConversionID]; ok {
		return eris.Wrapf(apperr.ErrDuplicateConversion, "conversion %s", event.ConversionID)
	}
	m.rows[event.ConversionID] = *event
	return nil
}

func (m *mockConversionRepository) GetByID(ctx context.Context, id string) (*model.ConversionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.rows[id]; ok {
		return &e, nil
	}
	return nil, eris.Wrapf(apperr.ErrNotFound, "conversion %s", id)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// testEnv wires the tracking services over miniredis and in-memory fakes.
type testEnv struct {
	mr          *miniredis.Miniredis
	links       *store.LinkStore
	clicks      *store.ClickStore
	campaigns   *mockCampaignRepository
	affiliates  *mockAffiliateRepository
	scorer      *mockClickScorer
	publisher   *mockPublisher
	conversions *mockConversionRepository
	detector    *fraud.Detector
	clock       *testClock
	cfg         config.Config

	issuer   *LinkIssuer
	recorder *ClickRecorder
	resolver *Resolver
	service  *ConversionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		mr:     mr,
		links:  store.NewLinkStore(rdb),
		clicks: store.NewClickStore(rdb),
		campaigns: &mockCampaignRepository{campaigns: map[string]*model.Campaign{
			"camp-7d":  {ID: "camp-7d", Status: model.CampaignStatusActive, LandingURL: "https://shop.example/spring", AttributionWindowDays: 7},
			"camp-30":  {ID: "camp-30", Status: model.CampaignStatusActive, LandingURL: "https://shop.example/summer?ref=promo", AttributionWindowDays: 30},
			"camp-120": {ID: "camp-120", Status: model.CampaignStatusActive, LandingURL: "https://shop.example/annual", AttributionWindowDays: 120},
			"paused":   {ID: "paused", Status: model.CampaignStatusPaused, LandingURL: "https://shop.example/old"},
		}},
		affiliates: &mockAffiliateRepository{affiliates: map[string]*model.Affiliate{
			"aff-a":     {ID: "aff-a", Status: model.AffiliateStatusActive},
			"aff-b":     {ID: "aff-b", Status: model.AffiliateStatusActive},
			"suspended": {ID: "suspended", Status: model.AffiliateStatusSuspended},
		}},
		scorer:      &mockClickScorer{},
		publisher:   &mockPublisher{},
		conversions: &mockConversionRepository{},
		clock:       &testClock{now: baseTime},
		cfg:         config.Default(),
	}

	env.detector = fraud.NewDetector(fraud.Options{
		Redis:      rdb,
		Config:     env.cfg.Fraud,
		UserAgents: sharedUAs,
		Now:        env.clock.Now,
	})
	fingerprints := NewFingerprinter(sharedUAs)

	env.issuer = NewLinkIssuer(LinkIssuerDeps{
		Links:         env.links,
		Campaigns:     env.campaigns,
		Affiliates:    env.affiliates,
		PublicBaseURL: "https://trk.example/",
		Retention:     env.cfg.Tracking.LinkRetention,
		LookupTimeout: env.cfg.Tracking.LookupTimeout,
		Now:           env.clock.Now,
	})
	env.recorder = NewClickRecorder(ClickRecorderDeps{
		Links:         env.links,
		Clicks:        env.clicks,
		Campaigns:     env.campaigns,
		Issuer:        env.issuer,
		Fraud:         env.scorer,
		Publisher:     env.publisher,
		Fingerprinter: fingerprints,
		Config:        env.cfg.Tracking,
		Now:           env.clock.Now,
	})
	env.resolver = NewResolver(ResolverDeps{
		Clicks:    env.clicks,
		Campaigns: env.campaigns,
		Config:    env.cfg.Tracking,
		Now:       env.clock.Now,
	})
	env.service = NewConversionService(ConversionServiceDeps{
		Resolver:      env.resolver,
		Fraud:         env.detector,
		Conversions:   env.conversions,
		Publisher:     env.publisher,
		Fingerprinter: fingerprints,
		Now:           env.clock.Now,
	})
	return env
}

// clickAt issues a link for the pair and clicks it at the given instant.
func (e *testEnv) clickAt(t *testing.T, at time.Time, affiliateID, campaignID string, req ClickRequest) *ClickOutcome {
	t.Helper()
	e.clock.Set(at)
	outcome, err := e.recorder.RecordDirect(context.Background(), campaignID, affiliateID, req)
	if err != nil {
		t.Fatalf("RecordDirect(%s, %s) returned error: %v", campaignID, affiliateID, err)
	}
	return outcome
}

func desktopClick() ClickRequest {
	return ClickRequest{IP: "203.0.113.10", UserAgent: desktopUA, AcceptLanguage: "en-US,en;q=0.9"}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
