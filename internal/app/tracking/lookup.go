package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/config"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/repository"
)

// campaignCache memoises campaign lookups for the lifetime of one request.
// Misses are cached too.
type campaignCache struct {
	repo    repository.CampaignRepository
	timeout time.Duration
	entries map[string]*model.Campaign
}

func newCampaignCache(repo repository.CampaignRepository, timeout time.Duration) *campaignCache {
	return &campaignCache{repo: repo, timeout: timeout, entries: make(map[string]*model.Campaign)}
}

// get returns the campaign, nil when it does not exist, or an error.
func (c *campaignCache) get(ctx context.Context, id string) (*model.Campaign, error) {
	if campaign, ok := c.entries[id]; ok {
		return campaign, nil
	}

	campaign, err := lookupCampaign(ctx, c.repo, id, c.timeout)
	if err != nil {
		if apperr.IsNotFound(err) {
			c.entries[id] = nil
			return nil, nil
		}
		return nil, err
	}
	c.entries[id] = campaign
	return campaign, nil
}

// lookupCampaign bounds the repository call by timeout and reports expiry as
// apperr.ErrLookupTimeout.
func lookupCampaign(ctx context.Context, repo repository.CampaignRepository, id string, timeout time.Duration) (*model.Campaign, error) {
	lookupCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	campaign, err := repo.GetByID(lookupCtx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(lookupCtx.Err(), context.DeadlineExceeded) {
			return nil, eris.Wrapf(apperr.ErrLookupTimeout, "campaign %s", id)
		}
		return nil, err
	}
	return campaign, nil
}

// attributionWindow is the campaign's window, or the default when the
// campaign is unknown, capped at the configured maximum. Click indexes are
// kept for the maximum, so a longer campaign window could never be honoured.
func attributionWindow(cfg config.TrackingConfig, campaign *model.Campaign) time.Duration {
	window := campaign.AttributionWindow(cfg.DefaultAttributionWindow)
	if cfg.MaxAttributionWindow > 0 && window > cfg.MaxAttributionWindow {
		return cfg.MaxAttributionWindow
	}
	return window
}
