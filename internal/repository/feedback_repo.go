package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-coursework/internal/models"
)

// FeedbackRepository persists marking feedback.
type FeedbackRepository interface {
	GetByID(ctx context.Context, id uint) (models.Feedback, error)
	Create(ctx context.Context, feedback *models.Feedback) error
	Update(ctx context.Context, feedback *models.Feedback) error
}

type feedbackRepository struct {
	db *gorm.DB
}

// NewFeedbackRepository instantiates the repository.
func NewFeedbackRepository(db *gorm.DB) FeedbackRepository {
	return &feedbackRepository{db: db}
}

func (r *feedbackRepository) GetByID(ctx context.Context, id uint) (models.Feedback, error) {
	var feedback models.Feedback
	if err := r.db.WithContext(ctx).First(&feedback, id).Error; err != nil {
		return models.Feedback{}, err
	}
	return feedback, nil
}

// Create inserts a new row; a second feedback for the same stage fails with
// ErrDuplicate rather than overwriting the first.
func (r *feedbackRepository) Create(ctx context.Context, feedback *models.Feedback) error {
	return translate(r.db.WithContext(ctx).Create(feedback).Error)
}

func (r *feedbackRepository) Update(ctx context.Context, feedback *models.Feedback) error {
	return translate(r.db.WithContext(ctx).Save(feedback).Error)
}
