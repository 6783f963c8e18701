package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-coursework/internal/models"
)

// ModerationRepository stores single-marker agreement verdicts.
type ModerationRepository interface {
	FindByFeedback(ctx context.Context, feedbackID uint) (*models.Moderation, error)
	Save(ctx context.Context, moderation *models.Moderation) error
}

type moderationRepository struct {
	db *gorm.DB
}

// NewModerationRepository instantiates the repository.
func NewModerationRepository(db *gorm.DB) ModerationRepository {
	return &moderationRepository{db: db}
}

func (r *moderationRepository) FindByFeedback(ctx context.Context, feedbackID uint) (*models.Moderation, error) {
	var moderation models.Moderation
	err := r.db.WithContext(ctx).Where("feedback_id = ?", feedbackID).First(&moderation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &moderation, nil
}

func (r *moderationRepository) Save(ctx context.Context, moderation *models.Moderation) error {
	if moderation.ID == 0 {
		return translate(r.db.WithContext(ctx).Create(moderation).Error)
	}
	return translate(r.db.WithContext(ctx).Save(moderation).Error)
}
