package model

import "time"

// AttributionSource tells which signal produced an attribution.
type AttributionSource string

const (
	AttributionSourceNone        AttributionSource = "none"
	AttributionSourceCookie      AttributionSource = "cookie"
	AttributionSourceFingerprint AttributionSource = "fingerprint"
)

const AttributionModelLastClick = "last-click"

// AttributionResult is embedded into every ConversionEvent.
type AttributionResult struct {
	Attributed  bool              `json:"attributed"`
	AffiliateID string            `json:"affiliate_id,omitempty"`
	CampaignID  string            `json:"campaign_id,omitempty"`
	TrackingID  string            `json:"tracking_id,omitempty"`
	Model       string            `json:"attribution_model"`
	Source      AttributionSource `json:"attribution_source"`
	CrossDevice bool              `json:"cross_device,omitempty"`
	ClickedAt   *time.Time        `json:"clicked_at,omitempty"`
}

// Unattributed is the result for a conversion no click qualifies for.
func Unattributed() AttributionResult {
	return AttributionResult{
		Model:  AttributionModelLastClick,
		Source: AttributionSourceNone,
	}
}

// ConversionType reports "direct" for same-browser (cookie) attributions and
// "indirect" for fingerprint or cross-device matches.
func (r AttributionResult) ConversionType() string {
	switch {
	case !r.Attributed:
		return ""
	case r.Source == AttributionSourceCookie:
		return "direct"
	default:
		return "indirect"
	}
}
