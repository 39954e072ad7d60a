package model

import "time"

// ClickRecord is stored once per (TrackingID, Fingerprint) pair; a later click
// from the same device on the same link overwrites it.
type ClickRecord struct {
	TrackingID  string       `json:"tracking_id"`
	AffiliateID string       `json:"affiliate_id"`
	CampaignID  string       `json:"campaign_id"`
	Fingerprint string       `json:"fingerprint"`
	UserID      string       `json:"user_id,omitempty"`
	IP          string       `json:"ip"`
	UserAgent   string       `json:"user_agent"`
	Referrer    string       `json:"referrer,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	Fraud       *FraudResult `json:"fraud,omitempty"`
}

// Blocked reports whether fraud scoring blocked the click.
func (c *ClickRecord) Blocked() bool {
	return c.Fraud != nil && c.Fraud.Action == FraudActionBlock
}

// TrackingCookie is the client-held attribution token.
type TrackingCookie struct {
	TrackingID  string    `json:"tid"`
	AffiliateID string    `json:"aid"`
	CampaignID  string    `json:"cid"`
	Timestamp   time.Time `json:"ts"`
}

const (
	TrackingCookieName = "mgm_tracking"
)
