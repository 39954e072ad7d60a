package repository

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"gorm.io/gorm"
)

// CampaignRepository reads campaigns owned by the campaign management service.
type CampaignRepository interface {
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
}

type campaignRepository struct {
	db *gorm.DB
}

// NewCampaignRepository returns a GORM-backed CampaignRepository.
func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

func (r *campaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	var campaign model.Campaign
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, eris.Wrapf(apperr.ErrCampaignNotFound, "campaign %s", id)
		}
		return nil, eris.Wrapf(err, "repository: get campaign %s", id)
	}
	return &campaign, nil
}
