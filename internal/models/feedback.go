package models

import (
	"time"

	"gorm.io/datatypes"
)

// Feedback is one marker's judgement of a submission at a given stage.
type Feedback struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	SubmissionID     uint              `gorm:"not null;uniqueIndex:idx_feedback_stage" json:"submission_id"`
	StageIdentifier  string            `gorm:"size:32;not null;uniqueIndex:idx_feedback_stage" json:"stage_identifier"`
	AssessorID       uint              `gorm:"not null" json:"assessor_id"`
	Grade            *float64          `json:"grade"`
	RubricScores     datatypes.JSONMap `json:"rubric_scores,omitempty"`
	FeedbackComment  string            `gorm:"type:text" json:"feedback_comment"`
	Finalised        bool              `json:"finalised"`
	IsModeration     bool              `json:"is_moderation"`
	IsFinalGrade     bool              `json:"is_final_grade"`
	TimeCreated      time.Time         `json:"time_created"`
	TimeModified     time.Time         `json:"time_modified"`
	LastEditedByUser uint              `json:"last_edited_by_user"`
}

// IsAutomatic reports whether the feedback was produced by automatic agreement
// and has not been touched by a person since.
func (f Feedback) IsAutomatic() bool {
	return f.AssessorID == 0 && f.LastEditedByUser == 0 && f.TimeCreated.Equal(f.TimeModified)
}

// GradeValue returns the grade or zero when none was entered.
func (f Feedback) GradeValue() float64 {
	if f.Grade == nil {
		return 0
	}
	return *f.Grade
}

const (
	// ModerationAgreed confirms the single marker's grade.
	ModerationAgreed = "agreed"
	// ModerationDisagreed rejects the single marker's grade.
	ModerationDisagreed = "disagreed"
)

// Moderation records a moderator's verdict on a single-marker feedback.
type Moderation struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	FeedbackID   uint      `gorm:"not null;uniqueIndex:idx_moderation_feedback" json:"feedback_id"`
	ModeratorID  uint      `gorm:"not null;uniqueIndex:idx_moderation_feedback" json:"moderator_id"`
	Verdict      string    `gorm:"size:16;not null" json:"verdict"`
	Comment      string    `gorm:"type:text" json:"comment"`
	LastEditedBy uint      `json:"last_edited_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
