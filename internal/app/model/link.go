package model

import "time"

// TrackingLink binds a tracking id to an affiliate, a campaign and a landing page.
// Links are immutable once issued.
type TrackingLink struct {
	TrackingID       string            `json:"tracking_id"`
	AffiliateID      string            `json:"affiliate_id"`
	CampaignID       string            `json:"campaign_id"`
	DestinationURL   string            `json:"destination_url"`
	CustomParameters map[string]string `json:"custom_parameters,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	ExpiresAt        time.Time         `json:"expires_at"`
}

// Expired reports whether the link is past its retention at the given instant.
func (l *TrackingLink) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt)
}
