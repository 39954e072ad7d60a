package model

import "time"

const (
	CommissionStatusPending   = "pending"
	CommissionStatusPaid      = "paid"
	CommissionStatusCancelled = "cancelled"
)

// Commission is derived from a conversion and its campaign rule. Value is only
// ever set by the commission calculator.
type Commission struct {
	ID           string    `json:"id" gorm:"primaryKey;size:64"`
	ConversionID string    `json:"conversion_id" gorm:"uniqueIndex;size:128;not null"`
	AffiliateID  string    `json:"affiliate_id" gorm:"index;size:64;not null"`
	CampaignID   string    `json:"campaign_id" gorm:"index;size:64;not null"`
	Value        float64   `json:"value" gorm:"type:numeric(14,2);not null"`
	Currency     string    `json:"currency" gorm:"size:3;not null"`
	Status       string    `json:"status" gorm:"size:16;not null;default:pending"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// PendingCommission is queued by the event pipeline for settlement.
type PendingCommission struct {
	EventID      string         `json:"event_id"`
	ConversionID string         `json:"conversion_id"`
	AffiliateID  string         `json:"affiliate_id"`
	CampaignID   string         `json:"campaign_id"`
	Value        float64        `json:"value"`
	Currency     string         `json:"currency"`
	Type         ConversionType `json:"type"`
	Period       int            `json:"period,omitempty"`
	QueuedAt     time.Time      `json:"queued_at"`
}
