package tracking

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/config"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/fraud"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/sifan077/PowerTrack/internal/app/store"
	metrics "github.com/sifan077/PowerTrack/internal/infra/prometheus"
	"go.uber.org/zap"
)

const clickIDParam = "clickId"

// ClickRequest holds the request attributes of a click.
type ClickRequest struct {
	IP             string
	UserAgent      string
	Referrer       string
	AcceptLanguage string
	VisitorID      string
	UserID         string
	DoNotTrack     bool
}

// ClickOutcome is what the HTTP layer needs to answer a click.
type ClickOutcome struct {
	Link        *model.TrackingLink
	Click       model.ClickRecord
	RedirectURL string
	// Cookie is nil when no tracking cookie should be set.
	Cookie *model.TrackingCookie
}

// ClickRecorderDeps groups the collaborators of ClickRecorder.
type ClickRecorderDeps struct {
	Links         LinkStore
	Clicks        ClickStore
	Campaigns     repository.CampaignRepository
	Issuer        *LinkIssuer
	Fraud         ClickScorer
	Publisher     EventPublisher
	Fingerprinter *Fingerprinter
	Config        config.TrackingConfig
	Logger        *zap.Logger
	Now           func() time.Time
}

// ClickRecorder turns a click on a tracking link into a stored, scored click
// record and a redirect.
type ClickRecorder struct {
	links        LinkStore
	clicks       ClickStore
	campaigns    repository.CampaignRepository
	issuer       *LinkIssuer
	fraud        ClickScorer
	publisher    EventPublisher
	fingerprints *Fingerprinter
	cfg          config.TrackingConfig
	logger       *zap.Logger
	now          func() time.Time
}

func NewClickRecorder(deps ClickRecorderDeps) *ClickRecorder {
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

	return &ClickRecorder{
		links:        deps.Links,
		clicks:       deps.Clicks,
		campaigns:    deps.Campaigns,
		issuer:       deps.Issuer,
		fraud:        deps.Fraud,
		publisher:    deps.Publisher,
		fingerprints: fp,
		cfg:          deps.Config,
		logger:       logger.With(zap.String("component", "tracking.click_recorder")),
		now:          now,
	}
}

// RecordDirect records a click on the pair's shared link, issuing that link on
// the first click.
func (r *ClickRecorder) RecordDirect(ctx context.Context, campaignID, affiliateID string, req ClickRequest) (*ClickOutcome, error) {
	if r.issuer == nil {
		return nil, eris.New("tracking: direct clicks need a link issuer")
	}
	if affiliateID == "" || campaignID == "" {
		return nil, eris.Wrap(apperr.ErrInvalidInput, "affiliateId and campaignId are required")
	}
	link, err := r.issuer.ForPair(ctx, affiliateID, campaignID)
	if err != nil {
		return nil, err
	}
	return r.record(ctx, link, req)
}

// Record loads the link and records a click on it. Anything after link
// validation degrades gracefully so that a valid link always redirects.
func (r *ClickRecorder) Record(ctx context.Context, trackingID string, req ClickRequest) (*ClickOutcome, error) {
	link, err := r.links.GetLink(ctx, trackingID)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, eris.Wrapf(apperr.ErrInvalidLink, "tracking id %s", trackingID)
		}
		return nil, eris.Wrapf(err, "record click: load link %s", trackingID)
	}
	if link.Expired(r.now()) {
		return nil, eris.Wrapf(apperr.ErrInvalidLink, "tracking id %s expired", trackingID)
	}
	return r.record(ctx, link, req)
}

func (r *ClickRecorder) record(ctx context.Context, link *model.TrackingLink, req ClickRequest) (*ClickOutcome, error) {
	now := r.now().UTC()
	fingerprint := r.fingerprints.Fingerprint(FingerprintSignals{
		VisitorID:      req.VisitorID,
		UserAgent:      req.UserAgent,
		AcceptLanguage: req.AcceptLanguage,
		IP:             req.IP,
	})
	log := r.logger.With(zap.String("tracking_id", link.TrackingID), zap.String("fingerprint", fingerprint))

	campaign, err := lookupCampaign(ctx, r.campaigns, link.CampaignID, r.cfg.LookupTimeout)
	if err != nil {
		log.Warn("campaign lookup failed, using default attribution window", zap.String("campaign_id", link.CampaignID), zap.Error(err))
		campaign = nil
	}
	window := attributionWindow(r.cfg, campaign)

	eventID := uuid.NewString()
	verdict, err := r.fraud.ScoreClick(ctx, fraud.ClickSignal{
		EventID:     eventID,
		TrackingID:  link.TrackingID,
		AffiliateID: link.AffiliateID,
		CampaignID:  link.CampaignID,
		IP:          req.IP,
		Fingerprint: fingerprint,
		UserAgent:   req.UserAgent,
		Referrer:    req.Referrer,
		Timestamp:   now,
	})
	if err != nil {
		log.Warn("fraud scoring failed, allowing click", zap.Error(err))
		metrics.FraudScoringFailures.WithLabelValues("click").Inc()
		verdict = fraud.Allow()
	}

	click := model.ClickRecord{
		TrackingID:  link.TrackingID,
		AffiliateID: link.AffiliateID,
		CampaignID:  link.CampaignID,
		Fingerprint: fingerprint,
		UserID:      req.UserID,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
		Referrer:    req.Referrer,
		Timestamp:   now,
		Fraud:       &verdict,
	}

	// Do-not-track clicks still count for fraud and analytics but stay out of
	// the device and user indexes; only an echoed clickId can attribute them.
	indexTTL := r.indexTTL(window)
	if req.DoNotTrack {
		indexTTL = 0
	}
	if err := r.clicks.SaveClick(ctx, &click, window, indexTTL); err != nil {
		log.Error("failed to store click", zap.Error(err))
	}

	if err := r.publisher.Publish(ctx, model.TopicClick, eventID, model.ClickEvent{EventID: eventID, Click: click}); err != nil {
		log.Warn("click event parked for retry", zap.String("event_id", eventID), zap.Error(err))
	}

	outcome := &ClickOutcome{
		Link:        link,
		Click:       click,
		RedirectURL: landingURL(link),
	}
	if !click.Blocked() && !req.DoNotTrack {
		outcome.Cookie = &model.TrackingCookie{
			TrackingID:  link.TrackingID,
			AffiliateID: link.AffiliateID,
			CampaignID:  link.CampaignID,
			Timestamp:   now,
		}
	}

	metrics.ClicksRecorded.WithLabelValues(string(verdict.Action)).Inc()
	log.Debug("click recorded", zap.String("action", string(verdict.Action)), zap.Int("score", verdict.Score))
	return outcome, nil
}

func (r *ClickRecorder) indexTTL(window time.Duration) time.Duration {
	if r.cfg.MaxAttributionWindow > window {
		return r.cfg.MaxAttributionWindow
	}
	return window
}

// landingURL appends the link's custom parameters and the click id to its
// destination.
func landingURL(link *model.TrackingLink) string {
	u, err := url.Parse(link.DestinationURL)
	if err != nil {
		return link.DestinationURL
	}
	q := u.Query()
	for k, v := range link.CustomParameters {
		q.Set(k, v)
	}
	q.Set(clickIDParam, link.TrackingID)
	u.RawQuery = q.Encode()
	return u.String()
}
