package model

import "time"

type ConversionType string

const (
	ConversionSale         ConversionType = "sale"
	ConversionLead         ConversionType = "lead"
	ConversionSubscription ConversionType = "subscription"
)

// ConversionEvent is created once per ConversionID; a second write with the
// same id is rejected.
type ConversionEvent struct {
	EventID        string            `json:"event_id"`
	ConversionID   string            `json:"conversion_id"`
	OrderID        string            `json:"order_id,omitempty"`
	CampaignID     string            `json:"campaign_id,omitempty"`
	AffiliateID    string            `json:"affiliate_id,omitempty"`
	Value          float64           `json:"value"`
	Currency       string            `json:"currency"`
	Type           ConversionType    `json:"type"`
	Period         int               `json:"period,omitempty"`
	IP             string            `json:"ip,omitempty"`
	Fingerprint    string            `json:"fingerprint,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	Products       []string          `json:"products,omitempty"`
	ConversionPath []string          `json:"conversion_path,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Attribution    AttributionResult `json:"attribution"`
	Fraud          FraudResult       `json:"fraud"`
}

// Commissionable reports whether the conversion should earn a commission.
func (e *ConversionEvent) Commissionable() bool {
	return e.Attribution.Attributed && e.Fraud.Action != FraudActionBlock
}

// ClickEvent is the payload published on the click topic.
type ClickEvent struct {
	EventID string      `json:"event_id"`
	Click   ClickRecord `json:"click"`
}

// Broker topics.
const (
	TopicClick      = "tracking.click"
	TopicConversion = "tracking.conversion"

	TrackingStreamName     = "TRACKING"
	TrackingStreamSubjects = "tracking.>"
	TrackingStreamMaxBytes = 1024 * 1024 * 512 // 512MB

	ClickConsumerName      = "tracking-click-aggregator"
	ConversionConsumerName = "tracking-conversion-aggregator"
)
