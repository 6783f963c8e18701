package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-coursework/internal/models"
)

// DeadlineRepository stores extensions and personal deadlines.
type DeadlineRepository interface {
	FindExtension(ctx context.Context, courseworkID uint, owner models.Allocatable) (*models.DeadlineExtension, error)
	SaveExtension(ctx context.Context, extension *models.DeadlineExtension) error
	FindPersonalDeadline(ctx context.Context, courseworkID uint, owner models.Allocatable) (*models.PersonalDeadline, error)
	SavePersonalDeadline(ctx context.Context, deadline *models.PersonalDeadline) error
}

type deadlineRepository struct {
	db *gorm.DB
}

// NewDeadlineRepository instantiates the repository.
func NewDeadlineRepository(db *gorm.DB) DeadlineRepository {
	return &deadlineRepository{db: db}
}

func ownerScope(courseworkID uint, owner models.Allocatable) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("coursework_id = ? AND allocatable_id = ? AND allocatable_type = ?", courseworkID, owner.ID, owner.Type)
	}
}

func (r *deadlineRepository) FindExtension(ctx context.Context, courseworkID uint, owner models.Allocatable) (*models.DeadlineExtension, error) {
	var extension models.DeadlineExtension
	err := r.db.WithContext(ctx).Scopes(ownerScope(courseworkID, owner)).First(&extension).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &extension, nil
}

func (r *deadlineRepository) SaveExtension(ctx context.Context, extension *models.DeadlineExtension) error {
	if extension.ID == 0 {
		return translate(r.db.WithContext(ctx).Create(extension).Error)
	}
	return translate(r.db.WithContext(ctx).Save(extension).Error)
}

func (r *deadlineRepository) FindPersonalDeadline(ctx context.Context, courseworkID uint, owner models.Allocatable) (*models.PersonalDeadline, error) {
	var deadline models.PersonalDeadline
	err := r.db.WithContext(ctx).Scopes(ownerScope(courseworkID, owner)).First(&deadline).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &deadline, nil
}

func (r *deadlineRepository) SavePersonalDeadline(ctx context.Context, deadline *models.PersonalDeadline) error {
	if deadline.ID == 0 {
		return translate(r.db.WithContext(ctx).Create(deadline).Error)
	}
	return translate(r.db.WithContext(ctx).Save(deadline).Error)
}
