package handler

import (
	"context"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/fraud"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/pipeline"
	"github.com/sifan077/PowerTrack/internal/app/tracking"
)

// ClickService is implemented by *tracking.ClickRecorder.
type ClickService interface {
	Record(ctx context.Context, trackingID string, req tracking.ClickRequest) (*tracking.ClickOutcome, error)
	RecordDirect(ctx context.Context, campaignID, affiliateID string, req tracking.ClickRequest) (*tracking.ClickOutcome, error)
}

// ConversionService is implemented by *tracking.ConversionService.
type ConversionService interface {
	Record(ctx context.Context, req tracking.ConversionRequest) (*tracking.ConversionOutcome, error)
	Lookup(ctx context.Context, conversionID string) (*model.ConversionEvent, error)
}

// CommissionReader is implemented by repository.CommissionRepository.
type CommissionReader interface {
	GetByConversionID(ctx context.Context, conversionID string) (*model.Commission, error)
}

// FailureReader is implemented by *pipeline.FailureLog.
type FailureReader interface {
	Recent(ctx context.Context, limit int64) ([]pipeline.ProcessingFailure, error)
}

// LinkService is implemented by *tracking.LinkIssuer.
type LinkService interface {
	Issue(ctx context.Context, input tracking.IssueLinkInput) (*model.TrackingLink, string, error)
}

// FraudInspector is implemented by *fraud.Detector.
type FraudInspector interface {
	InspectIP(ctx context.Context, ip string) (fraud.IPReport, error)
	RecentSuspicious(ctx context.Context, limit int64) ([]model.SuspiciousActivity, error)
}

// MetricsReader is implemented by *pipeline.Aggregator.
type MetricsReader interface {
	Counters(ctx context.Context, scope, id string, window time.Duration) (pipeline.Counters, error)
	Stats(ctx context.Context) (pipeline.QueueStats, error)
}
