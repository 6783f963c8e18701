package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-coursework/internal/models"
)

// PlagiarismRepository stores plagiarism flags.
type PlagiarismRepository interface {
	FindBySubmission(ctx context.Context, submissionID uint) (*models.PlagiarismFlag, error)
	ListBySubmissions(ctx context.Context, submissionIDs []uint) (map[uint]models.PlagiarismFlag, error)
	Save(ctx context.Context, flag *models.PlagiarismFlag) error
}

type plagiarismRepository struct {
	db *gorm.DB
}

// NewPlagiarismRepository instantiates the repository.
func NewPlagiarismRepository(db *gorm.DB) PlagiarismRepository {
	return &plagiarismRepository{db: db}
}

func (r *plagiarismRepository) FindBySubmission(ctx context.Context, submissionID uint) (*models.PlagiarismFlag, error) {
	var flag models.PlagiarismFlag
	err := r.db.WithContext(ctx).Where("submission_id = ?", submissionID).First(&flag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &flag, nil
}

func (r *plagiarismRepository) ListBySubmissions(ctx context.Context, submissionIDs []uint) (map[uint]models.PlagiarismFlag, error) {
	flags := make(map[uint]models.PlagiarismFlag, len(submissionIDs))
	if len(submissionIDs) == 0 {
		return flags, nil
	}

	var rows []models.PlagiarismFlag
	if err := r.db.WithContext(ctx).Where("submission_id IN ?", submissionIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		flags[row.SubmissionID] = row
	}
	return flags, nil
}

func (r *plagiarismRepository) Save(ctx context.Context, flag *models.PlagiarismFlag) error {
	if flag.ID == 0 {
		return translate(r.db.WithContext(ctx).Create(flag).Error)
	}
	return translate(r.db.WithContext(ctx).Save(flag).Error)
}
