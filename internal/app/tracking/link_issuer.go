package tracking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/sifan077/PowerTrack/internal/app/store"
)

// IssueLinkInput captures data required to issue a tracking link.
type IssueLinkInput struct {
	AffiliateID      string
	CampaignID       string
	LandingPage      string
	CustomParameters map[string]string
}

// LinkIssuerDeps groups the collaborators of LinkIssuer.
type LinkIssuerDeps struct {
	Links         LinkStore
	Campaigns     repository.CampaignRepository
	Affiliates    repository.AffiliateRepository
	PublicBaseURL string
	Retention     time.Duration
	LookupTimeout time.Duration
	Now           func() time.Time
}

// LinkIssuer mints tracking links for active affiliate/campaign pairs.
type LinkIssuer struct {
	links         LinkStore
	campaigns     repository.CampaignRepository
	affiliates    repository.AffiliateRepository
	baseURL       string
	retention     time.Duration
	lookupTimeout time.Duration
	now           func() time.Time
}

func NewLinkIssuer(deps LinkIssuerDeps) *LinkIssuer {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &LinkIssuer{
		links:         deps.Links,
		campaigns:     deps.Campaigns,
		affiliates:    deps.Affiliates,
		baseURL:       strings.TrimRight(deps.PublicBaseURL, "/"),
		retention:     deps.Retention,
		lookupTimeout: deps.LookupTimeout,
		now:           now,
	}
}

// Issue validates the pair, persists a new link and returns it together with
// its public redirect URL.
func (i *LinkIssuer) Issue(ctx context.Context, input IssueLinkInput) (*model.TrackingLink, string, error) {
	if input.AffiliateID == "" || input.CampaignID == "" {
		return nil, "", eris.Wrap(apperr.ErrInvalidInput, "affiliateId and campaignId are required")
	}

	affiliate, err := i.affiliates.GetByID(ctx, input.AffiliateID)
	if err != nil {
		return nil, "", eris.Wrapf(err, "issue link: load affiliate %s", input.AffiliateID)
	}
	if affiliate.Status == model.AffiliateStatusSuspended {
		return nil, "", eris.Wrapf(apperr.ErrNotFound, "affiliate %s is suspended", input.AffiliateID)
	}

	campaign, err := lookupCampaign(ctx, i.campaigns, input.CampaignID, i.lookupTimeout)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, "", eris.Wrapf(apperr.ErrNotFound, "campaign %s", input.CampaignID)
		}
		return nil, "", eris.Wrapf(err, "issue link: load campaign %s", input.CampaignID)
	}
	if campaign.Status == model.CampaignStatusPaused {
		return nil, "", eris.Wrapf(apperr.ErrNotFound, "campaign %s is paused", input.CampaignID)
	}

	landing := input.LandingPage
	if landing == "" {
		landing = campaign.LandingURL
	}
	if landing == "" {
		return nil, "", eris.Wrapf(apperr.ErrInvalidInput, "campaign %s has no landing page", campaign.ID)
	}

	trackingID, err := newTrackingID()
	if err != nil {
		return nil, "", eris.Wrap(err, "issue link: generate tracking id")
	}

	now := i.now().UTC()
	link := &model.TrackingLink{
		TrackingID:       trackingID,
		AffiliateID:      affiliate.ID,
		CampaignID:       campaign.ID,
		DestinationURL:   landing,
		CustomParameters: input.CustomParameters,
		CreatedAt:        now,
		ExpiresAt:        now.Add(i.retention),
	}

	if err := i.links.SaveLink(ctx, link, i.retention); err != nil {
		return nil, "", eris.Wrap(err, "issue link: persist")
	}
	return link, i.RedirectURL(trackingID), nil
}

// ForPair returns the link shared by direct clicks on the pair, issuing one
// only when none is live. Repeat clicks from a visitor therefore land on the
// same tracking id and the same click record.
func (i *LinkIssuer) ForPair(ctx context.Context, affiliateID, campaignID string) (*model.TrackingLink, error) {
	var previous string
	id, err := i.links.PairLink(ctx, affiliateID, campaignID)
	switch {
	case err == nil:
		link, err := i.liveLink(ctx, id)
		if err != nil {
			return nil, err
		}
		if link != nil {
			return link, nil
		}
		previous = id
	case !errors.Is(err, store.ErrKeyNotFound):
		return nil, eris.Wrapf(err, "pair link %s/%s", affiliateID, campaignID)
	}

	link, _, err := i.Issue(ctx, IssueLinkInput{AffiliateID: affiliateID, CampaignID: campaignID})
	if err != nil {
		return nil, err
	}
	winner, err := i.links.SwapPairLink(ctx, affiliateID, campaignID, previous, link.TrackingID, i.retention)
	if err != nil {
		return nil, eris.Wrapf(err, "pair link %s/%s", affiliateID, campaignID)
	}
	if winner == link.TrackingID {
		return link, nil
	}

	// Lost the race to another issuer; hand out its link and drop ours.
	_ = i.links.DeleteLink(ctx, link.TrackingID)
	other, err := i.liveLink(ctx, winner)
	if err != nil {
		return nil, err
	}
	if other == nil {
		return nil, eris.Wrapf(apperr.ErrInvalidLink, "pair link %s/%s vanished", affiliateID, campaignID)
	}
	return other, nil
}

// liveLink loads a link, returning nil when it is missing or expired.
func (i *LinkIssuer) liveLink(ctx context.Context, trackingID string) (*model.TrackingLink, error) {
	link, err := i.links.GetLink(ctx, trackingID)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "load link %s", trackingID)
	}
	if link.Expired(i.now()) {
		return nil, nil
	}
	return link, nil
}

// RedirectURL is the public click URL of a tracking id.
func (i *LinkIssuer) RedirectURL(trackingID string) string {
	return i.baseURL + "/c/" + trackingID
}

func newTrackingID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
