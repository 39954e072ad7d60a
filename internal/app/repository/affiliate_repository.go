package repository

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"gorm.io/gorm"
)

// AffiliateRepository reads affiliates owned by the onboarding service.
type AffiliateRepository interface {
	GetByID(ctx context.Context, id string) (*model.Affiliate, error)
}

type affiliateRepository struct {
	db *gorm.DB
}

func NewAffiliateRepository(db *gorm.DB) AffiliateRepository {
	return &affiliateRepository{db: db}
}

func (r *affiliateRepository) GetByID(ctx context.Context, id string) (*model.Affiliate, error) {
	var affiliate model.Affiliate
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&affiliate).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, eris.Wrapf(apperr.ErrNotFound, "affiliate %s", id)
		}
		return nil, eris.Wrapf(err, "repository: get affiliate %s", id)
	}
	return &affiliate, nil
}
