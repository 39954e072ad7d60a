package tracking

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/config"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/sifan077/PowerTrack/internal/app/store"
	"go.uber.org/zap"
)

const maxCandidatesPerIndex = 50

// AttributionRequest carries every signal a conversion can be attributed by.
type AttributionRequest struct {
	Cookie      *model.TrackingCookie
	ClickID     string
	Fingerprint string
	UserID      string
	At          time.Time
}

// ResolverDeps groups the collaborators of Resolver.
type ResolverDeps struct {
	Clicks    ClickStore
	Campaigns repository.CampaignRepository
	Config    config.TrackingConfig
	Logger    *zap.Logger
	Now       func() time.Time
}

// attributionStrategy returns a match, or nil to let the next strategy try.
type attributionStrategy func(ctx context.Context, req AttributionRequest, campaigns *campaignCache) (*model.AttributionResult, error)

// Resolver applies last-click attribution: the signed cookie first, then
// device and user correlation.
type Resolver struct {
	clicks     ClickStore
	campaigns  repository.CampaignRepository
	cfg        config.TrackingConfig
	logger     *zap.Logger
	now        func() time.Time
	strategies []attributionStrategy
}

func NewResolver(deps ResolverDeps) *Resolver {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	r := &Resolver{
		clicks:    deps.Clicks,
		campaigns: deps.Campaigns,
		cfg:       deps.Config,
		logger:    logger.With(zap.String("component", "tracking.resolver")),
		now:       now,
	}
	r.strategies = []attributionStrategy{r.byCookie, r.byFingerprint}
	return r
}

// Resolve returns the attribution for req. A conversion no click qualifies
// for resolves to model.Unattributed without error.
func (r *Resolver) Resolve(ctx context.Context, req AttributionRequest) (model.AttributionResult, error) {
	if req.At.IsZero() {
		req.At = r.now()
	}
	campaigns := newCampaignCache(r.campaigns, r.cfg.LookupTimeout)

	for _, strategy := range r.strategies {
		result, err := strategy(ctx, req, campaigns)
		if err != nil {
			return model.AttributionResult{}, err
		}
		if result != nil {
			return *result, nil
		}
	}
	return model.Unattributed(), nil
}

func (r *Resolver) byCookie(ctx context.Context, req AttributionRequest, campaigns *campaignCache) (*model.AttributionResult, error) {
	cookie := req.Cookie
	if cookie == nil || cookie.CampaignID == "" || cookie.AffiliateID == "" {
		return nil, nil
	}

	campaign, err := campaigns.get(ctx, cookie.CampaignID)
	if err != nil {
		return nil, eris.Wrap(err, "attribution: cookie campaign")
	}
	if campaign == nil {
		return nil, nil
	}

	if !withinWindow(req.At, cookie.Timestamp, attributionWindow(r.cfg, campaign)) {
		return nil, nil
	}

	clickedAt := cookie.Timestamp
	return &model.AttributionResult{
		Attributed:  true,
		AffiliateID: cookie.AffiliateID,
		CampaignID:  cookie.CampaignID,
		TrackingID:  cookie.TrackingID,
		Model:       model.AttributionModelLastClick,
		Source:      model.AttributionSourceCookie,
		ClickedAt:   &clickedAt,
	}, nil
}

func (r *Resolver) byFingerprint(ctx context.Context, req AttributionRequest, campaigns *campaignCache) (*model.AttributionResult, error) {
	candidates, err := r.candidates(ctx, req)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		click := &candidates[i]
		if click.Blocked() {
			continue
		}

		campaign, err := campaigns.get(ctx, click.CampaignID)
		if err != nil {
			return nil, eris.Wrap(err, "attribution: click campaign")
		}
		if campaign == nil {
			continue
		}
		if !withinWindow(req.At, click.Timestamp, attributionWindow(r.cfg, campaign)) {
			continue
		}

		clickedAt := click.Timestamp
		return &model.AttributionResult{
			Attributed:  true,
			AffiliateID: click.AffiliateID,
			CampaignID:  click.CampaignID,
			TrackingID:  click.TrackingID,
			Model:       model.AttributionModelLastClick,
			Source:      model.AttributionSourceFingerprint,
			CrossDevice: req.Fingerprint != "" && click.Fingerprint != req.Fingerprint,
			ClickedAt:   &clickedAt,
		}, nil
	}
	return nil, nil
}

// candidates gathers clicks by explicit click id, by device and by user,
// newest first.
func (r *Resolver) candidates(ctx context.Context, req AttributionRequest) ([]model.ClickRecord, error) {
	since := req.At.Add(-r.maxWindow())
	seen := make(map[string]bool)
	var out []model.ClickRecord
	add := func(clicks ...model.ClickRecord) {
		for _, c := range clicks {
			key := store.UserIndexMember(c.TrackingID, c.Fingerprint)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
	}

	if req.ClickID != "" && req.Fingerprint != "" {
		click, err := r.clicks.GetClick(ctx, req.ClickID, req.Fingerprint)
		switch {
		case err == nil:
			add(*click)
		case !errors.Is(err, store.ErrKeyNotFound):
			return nil, eris.Wrap(err, "attribution: load click")
		}
	}

	if req.Fingerprint != "" {
		clicks, err := r.clicks.ClicksByFingerprint(ctx, req.Fingerprint, since, maxCandidatesPerIndex)
		if err != nil {
			return nil, eris.Wrap(err, "attribution: clicks by fingerprint")
		}
		add(clicks...)
	}

	if req.UserID != "" {
		clicks, err := r.clicks.ClicksByUser(ctx, req.UserID, since, maxCandidatesPerIndex)
		if err != nil {
			return nil, eris.Wrap(err, "attribution: clicks by user")
		}
		add(clicks...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (r *Resolver) maxWindow() time.Duration {
	if r.cfg.MaxAttributionWindow > 0 {
		return r.cfg.MaxAttributionWindow
	}
	return r.cfg.DefaultAttributionWindow
}

// withinWindow treats clicks stamped slightly in the future as age zero.
func withinWindow(at, clickedAt time.Time, window time.Duration) bool {
	age := at.Sub(clickedAt)
	if age < 0 {
		age = 0
	}
	return age <= window
}
