package repository

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"github.com/sifan077/PowerTrack/internal/app/apperr"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CommissionRepository defines the data access contract for commissions.
type CommissionRepository interface {
	// Create inserts the commission unless one already exists for its
	// conversion. It reports whether a row was written.
	Create(ctx context.Context, commission *model.Commission) (bool, error)
	GetByConversionID(ctx context.Context, conversionID string) (*model.Commission, error)
}

type commissionRepository struct {
	db *gorm.DB
}

// NewCommissionRepository returns a GORM-backed CommissionRepository.
func NewCommissionRepository(db *gorm.DB) CommissionRepository {
	return &commissionRepository{db: db}
}

func (r *commissionRepository) Create(ctx context.Context, commission *model.Commission) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "conversion_id"}}, DoNothing: true}).
		Create(commission)
	if result.Error != nil {
		return false, eris.Wrapf(result.Error, "repository: create commission for %s", commission.ConversionID)
	}
	return result.RowsAffected > 0, nil
}

func (r *commissionRepository) GetByConversionID(ctx context.Context, conversionID string) (*model.Commission, error) {
	var commission model.Commission
	if err := r.db.WithContext(ctx).Where("conversion_id = ?", conversionID).First(&commission).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, eris.Wrapf(apperr.ErrNotFound, "commission for %s", conversionID)
		}
		return nil, eris.Wrapf(err, "repository: get commission for %s", conversionID)
	}
	return &commission, nil
}
