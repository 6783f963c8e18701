package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-coursework/internal/models"
)

// CourseworkRepository loads and stores coursework configuration.
type CourseworkRepository interface {
	GetByID(ctx context.Context, id uint) (models.Coursework, error)
	Create(ctx context.Context, coursework *models.Coursework) error
	Update(ctx context.Context, coursework *models.Coursework) error
	GetScale(ctx context.Context, id uint) (models.GradeScale, error)
	ListIDs(ctx context.Context) ([]uint, error)
}

type courseworkRepository struct {
	db *gorm.DB
}

// NewCourseworkRepository instantiates the repository.
func NewCourseworkRepository(db *gorm.DB) CourseworkRepository {
	return &courseworkRepository{db: db}
}

func (r *courseworkRepository) GetByID(ctx context.Context, id uint) (models.Coursework, error) {
	var coursework models.Coursework
	if err := r.db.WithContext(ctx).First(&coursework, id).Error; err != nil {
		return models.Coursework{}, err
	}
	return coursework, nil
}

func (r *courseworkRepository) Create(ctx context.Context, coursework *models.Coursework) error {
	return translate(r.db.WithContext(ctx).Create(coursework).Error)
}

func (r *courseworkRepository) Update(ctx context.Context, coursework *models.Coursework) error {
	return r.db.WithContext(ctx).Save(coursework).Error
}

func (r *courseworkRepository) GetScale(ctx context.Context, id uint) (models.GradeScale, error) {
	var scale models.GradeScale
	if err := r.db.WithContext(ctx).First(&scale, id).Error; err != nil {
		return models.GradeScale{}, err
	}
	return scale, nil
}

func (r *courseworkRepository) ListIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&models.Coursework{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
