package commission

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/repository"
)

// Service derives commission records from queued conversions.
type Service struct {
	campaigns repository.CampaignRepository
	newID     func() string
}

func NewService(campaigns repository.CampaignRepository) *Service {
	return &Service{
		campaigns: campaigns,
		newID:     func() string { return "com_" + uuid.NewString() },
	}
}

// ForConversion loads the campaign rule and computes the commission owed for
// the conversion. Unknown campaigns yield apperr.ErrCampaignNotFound.
func (s *Service) ForConversion(ctx context.Context, pending model.PendingCommission) (*model.Commission, error) {
	if pending.CampaignID == "" || pending.AffiliateID == "" {
		return nil, invalid("conversion %s is not attributed", pending.ConversionID)
	}

	campaign, err := s.campaigns.GetByID(ctx, pending.CampaignID)
	if err != nil {
		return nil, err
	}

	value, err := Calculate(pending.Value, campaign.CommissionRule, periodOf(pending))
	if err != nil {
		return nil, eris.Wrapf(err, "commission: campaign %s", campaign.ID)
	}

	return &model.Commission{
		ID:           s.newID(),
		ConversionID: pending.ConversionID,
		AffiliateID:  pending.AffiliateID,
		CampaignID:   pending.CampaignID,
		Value:        value,
		Currency:     pending.Currency,
		Status:       model.CommissionStatusPending,
	}, nil
}

// periodOf returns the billing period for subscriptions and 0 otherwise.
func periodOf(pending model.PendingCommission) int {
	if pending.Type != model.ConversionSubscription {
		return 0
	}
	if pending.Period <= 0 {
		return 1
	}
	return pending.Period
}
