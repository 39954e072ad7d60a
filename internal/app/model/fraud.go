package model

import "time"

type FraudAction string

const (
	FraudActionAllow FraudAction = "allow"
	FraudActionFlag  FraudAction = "flag"
	FraudActionBlock FraudAction = "block"
)

type FraudSeverity string

const (
	SeverityLow    FraudSeverity = "low"
	SeverityMedium FraudSeverity = "medium"
	SeverityHigh   FraudSeverity = "high"
)

// Fraud flag types.
const (
	FlagHighFrequency           = "high_frequency"
	FlagAffiliateHopping        = "affiliate_hopping"
	FlagSuspiciousUserAgent     = "suspicious_user_agent"
	FlagSuspiciousReferrer      = "suspicious_referrer"
	FlagHighConversionFrequency = "high_conversion_frequency"
	FlagDuplicateOrder          = "duplicate_order"
	FlagSuspiciousValue         = "suspicious_value"
)

type FraudFlag struct {
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Severity    FraudSeverity `json:"severity"`
}

// FraudResult is the verdict for a single click or conversion.
type FraudResult struct {
	IsSuspicious bool        `json:"is_suspicious"`
	Flags        []FraudFlag `json:"flags"`
	Score        int         `json:"score"`
	Action       FraudAction `json:"action"`
}

// SuspiciousActivity is one entry of the manual-review log.
type SuspiciousActivity struct {
	Kind        string      `json:"kind"` // click | conversion
	ReferenceID string      `json:"reference_id"`
	IP          string      `json:"ip,omitempty"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	CampaignID  string      `json:"campaign_id,omitempty"`
	AffiliateID string      `json:"affiliate_id,omitempty"`
	Result      FraudResult `json:"result"`
	Timestamp   time.Time   `json:"timestamp"`
}
