package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-coursework/internal/models"
)

// SubmissionFilter allows narrowing submission queries.
type SubmissionFilter struct {
	CourseworkID uint
	Finalised    *models.FinalisedState
	Unpublished  bool
}

// SubmissionRepository defines data operations for submissions.
type SubmissionRepository interface {
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error)
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	GetByOwner(ctx context.Context, courseworkID uint, owner models.Allocatable) (models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	Update(ctx context.Context, submission *models.Submission) error
	AutoFinalise(ctx context.Context, id uint, at time.Time, extensionsEnabled bool) (bool, error)
	MarkPublished(ctx context.Context, id uint, at time.Time) (bool, error)
	Delete(ctx context.Context, id uint) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Submission{}).
		Preload("Feedbacks", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("stage_identifier ASC")
		})
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error) {
	query := r.baseQuery(ctx)

	if filter.CourseworkID != 0 {
		query = query.Where("coursework_id = ?", filter.CourseworkID)
	}

	if filter.Finalised != nil {
		query = query.Where("finalised = ?", *filter.Finalised)
	}

	if filter.Unpublished {
		query = query.Where("first_published IS NULL")
	}

	var submissions []models.Submission
	if err := query.Order("id ASC").Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) GetByOwner(ctx context.Context, courseworkID uint, owner models.Allocatable) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).
		Where("coursework_id = ?", courseworkID).
		Where("allocatable_id = ? AND allocatable_type = ?", owner.ID, owner.Type).
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return translate(r.db.WithContext(ctx).Omit("Feedbacks").Create(submission).Error)
}

func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	return translate(r.db.WithContext(ctx).Omit("Feedbacks").Save(submission).Error)
}

// AutoFinalise locks a draft without touching any other column. The draft is
// left alone when it was finalised meanwhile or, with extensions enabled, when
// its owner holds an extension running past at.
func (r *submissionRepository) AutoFinalise(ctx context.Context, id uint, at time.Time, extensionsEnabled bool) (bool, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND finalised = ?", id, models.NotFinalised)
	if extensionsEnabled {
		query = query.Where(`NOT EXISTS (
			SELECT 1 FROM deadline_extensions e
			WHERE e.coursework_id = submissions.coursework_id
			AND e.allocatable_id = submissions.allocatable_id
			AND e.allocatable_type = submissions.allocatable_type
			AND e.extended_deadline > ?)`, at)
	}
	result := query.UpdateColumns(map[string]interface{}{
		"finalised":  models.AutoFinalised,
		"updated_at": at,
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkPublished stamps both publication markers on a submission that was never
// published. It reports false when another run published it first.
func (r *submissionRepository) MarkPublished(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND first_published IS NULL", id).
		UpdateColumns(map[string]interface{}{
			"first_published": at,
			"last_published":  at,
			"updated_at":      at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *submissionRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.Submission{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
