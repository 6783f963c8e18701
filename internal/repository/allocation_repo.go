package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-coursework/internal/models"
)

// AllocationRepository stores assessor allocations and sample membership.
type AllocationRepository interface {
	Find(ctx context.Context, courseworkID uint, owner models.Allocatable, stage string) (*models.AllocationPair, error)
	ListByCoursework(ctx context.Context, courseworkID uint) ([]models.AllocationPair, error)
	Save(ctx context.Context, pair *models.AllocationPair) error
	SampledStages(ctx context.Context, courseworkID uint, owner models.Allocatable) ([]string, error)
	AddSample(ctx context.Context, member *models.SampleMember) error
	RemoveSample(ctx context.Context, courseworkID uint, owner models.Allocatable, stage string) error
}

type allocationRepository struct {
	db *gorm.DB
}

// NewAllocationRepository instantiates the repository.
func NewAllocationRepository(db *gorm.DB) AllocationRepository {
	return &allocationRepository{db: db}
}

func (r *allocationRepository) Find(ctx context.Context, courseworkID uint, owner models.Allocatable, stage string) (*models.AllocationPair, error) {
	var pair models.AllocationPair
	err := r.db.WithContext(ctx).
		Scopes(ownerScope(courseworkID, owner)).
		Where("stage_identifier = ?", stage).
		First(&pair).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

func (r *allocationRepository) ListByCoursework(ctx context.Context, courseworkID uint) ([]models.AllocationPair, error) {
	var pairs []models.AllocationPair
	if err := r.db.WithContext(ctx).
		Where("coursework_id = ?", courseworkID).
		Order("allocatable_type ASC, allocatable_id ASC, stage_identifier ASC").
		Find(&pairs).Error; err != nil {
		return nil, err
	}
	return pairs, nil
}

func (r *allocationRepository) Save(ctx context.Context, pair *models.AllocationPair) error {
	if pair.ID == 0 {
		return translate(r.db.WithContext(ctx).Create(pair).Error)
	}
	return translate(r.db.WithContext(ctx).Save(pair).Error)
}

func (r *allocationRepository) SampledStages(ctx context.Context, courseworkID uint, owner models.Allocatable) ([]string, error) {
	var stages []string
	if err := r.db.WithContext(ctx).Model(&models.SampleMember{}).
		Scopes(ownerScope(courseworkID, owner)).
		Order("stage_identifier ASC").
		Pluck("stage_identifier", &stages).Error; err != nil {
		return nil, err
	}
	return stages, nil
}

func (r *allocationRepository) AddSample(ctx context.Context, member *models.SampleMember) error {
	return translate(r.db.WithContext(ctx).Create(member).Error)
}

func (r *allocationRepository) RemoveSample(ctx context.Context, courseworkID uint, owner models.Allocatable, stage string) error {
	return r.db.WithContext(ctx).
		Scopes(ownerScope(courseworkID, owner)).
		Where("stage_identifier = ?", stage).
		Delete(&models.SampleMember{}).Error
}
