package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"subcontracting-service/internal/model"
)

type ClaimTokenRepository struct {
	db *gorm.DB
}

func NewClaimTokenRepository(db *gorm.DB) *ClaimTokenRepository {
	return &ClaimTokenRepository{db: db}
}

func (r *ClaimTokenRepository) Create(ctx context.Context, token *model.ClaimToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}

func (r *ClaimTokenRepository) GetByToken(ctx context.Context, token string) (*model.ClaimToken, error) {
	var claim model.ClaimToken
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&claim).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return &claim, nil
}

// DeactivateByCourse invalidates every token issued for the course. Tokens are
// never mutated otherwise.
func (r *ClaimTokenRepository) DeactivateByCourse(ctx context.Context, courseID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&model.ClaimToken{}).
		Where("course_id = ? AND active = ?", courseID, true).
		Update("active", false).Error
}

func (r *ClaimTokenRepository) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]model.ClaimToken, error) {
	var tokens []model.ClaimToken
	err := r.db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("created_at DESC").
		Find(&tokens).Error
	return tokens, err
}
