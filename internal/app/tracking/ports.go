// Package tracking issues affiliate links, records clicks, resolves
// attribution and records conversions.
package tracking

import (
	"context"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/fraud"
	"github.com/sifan077/PowerTrack/internal/app/model"
)

// LinkStore persists issued links.
type LinkStore interface {
	SaveLink(ctx context.Context, link *model.TrackingLink, ttl time.Duration) error
	GetLink(ctx context.Context, trackingID string) (*model.TrackingLink, error)
	DeleteLink(ctx context.Context, trackingID string) error
	PairLink(ctx context.Context, affiliateID, campaignID string) (string, error)
	SwapPairLink(ctx context.Context, affiliateID, campaignID, previous, trackingID string, ttl time.Duration) (string, error)
}

// ClickStore persists click records and their lookup indexes.
type ClickStore interface {
	SaveClick(ctx context.Context, click *model.ClickRecord, ttl, indexTTL time.Duration) error
	GetClick(ctx context.Context, trackingID, fingerprint string) (*model.ClickRecord, error)
	ClicksByFingerprint(ctx context.Context, fingerprint string, since time.Time, limit int64) ([]model.ClickRecord, error)
	ClicksByUser(ctx context.Context, userID string, since time.Time, limit int64) ([]model.ClickRecord, error)
}

// ClickScorer scores clicks for fraud.
type ClickScorer interface {
	ScoreClick(ctx context.Context, sig fraud.ClickSignal) (model.FraudResult, error)
}

// ConversionScorer guards conversions against fraud and duplicate orders.
type ConversionScorer interface {
	ScoreConversion(ctx context.Context, sig fraud.ConversionSignal) (model.FraudResult, error)
	ClaimOrder(ctx context.Context, orderID string, sig fraud.ConversionSignal) error
	ReleaseOrder(ctx context.Context, orderID string) error
}

// EventPublisher hands events to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, topic, eventID string, payload any) error
}
