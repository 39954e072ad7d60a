package model

import "time"

type CommissionType string

const (
	CommissionFixed      CommissionType = "fixed"
	CommissionPercentage CommissionType = "percentage"
	CommissionTiered     CommissionType = "tiered"
	CommissionHybrid     CommissionType = "hybrid"
	CommissionRecurring  CommissionType = "recurring"
)

type CommissionTier struct {
	Threshold float64        `json:"threshold"`
	Value     float64        `json:"value"`
	Type      CommissionType `json:"type,omitempty"` // fixed | percentage, percentage when empty
}

type RecurringRules struct {
	Duration        int            `json:"duration"` // periods, 0 means unlimited
	Frequency       string         `json:"frequency"`
	FirstMonthBonus float64        `json:"first_month_bonus"`
	ValueType       CommissionType `json:"value_type,omitempty"` // fixed | percentage, percentage when empty
}

// CommissionRule is owned by the campaign and read-only to this service.
type CommissionRule struct {
	Type            CommissionType   `json:"type"`
	Value           float64          `json:"value"`
	Tiers           []CommissionTier `json:"tiers,omitempty"`
	Recurring       *RecurringRules  `json:"recurring_rules,omitempty"`
	PercentageBonus float64          `json:"percentage_bonus,omitempty"`
}

const (
	CampaignStatusActive = "active"
	CampaignStatusPaused = "paused"

	AffiliateStatusActive    = "active"
	AffiliateStatusSuspended = "suspended"
)

// Campaign mirrors the externally managed campaigns table.
type Campaign struct {
	ID                    string         `json:"id" gorm:"primaryKey;size:64"`
	Name                  string         `json:"name" gorm:"size:255"`
	Status                string         `json:"status" gorm:"size:16;not null;default:active"`
	LandingURL            string         `json:"landing_url" gorm:"type:text;not null"`
	AttributionWindowDays int            `json:"attribution_window_days" gorm:"not null;default:30"`
	CommissionRule        CommissionRule `json:"commission_rule" gorm:"type:jsonb;serializer:json"`
	CreatedAt             time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt             time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// AttributionWindow returns the campaign window, or def when unset.
func (c *Campaign) AttributionWindow(def time.Duration) time.Duration {
	if c == nil || c.AttributionWindowDays <= 0 {
		return def
	}
	return time.Duration(c.AttributionWindowDays) * 24 * time.Hour
}

// Affiliate mirrors the externally managed affiliates table.
type Affiliate struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	Name      string    `json:"name" gorm:"size:255"`
	Status    string    `json:"status" gorm:"size:16;not null;default:active"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
