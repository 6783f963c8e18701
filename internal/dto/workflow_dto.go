package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-coursework/internal/models"
)

// AllocatableRef identifies a user or group in requests.
type AllocatableRef struct {
	ID   uint   `json:"id" validate:"required,gt=0"`
	Type string `json:"type" validate:"required,oneof=user group"`
}

// Allocatable converts the reference into the model union. An unknown type
// yields an allocatable that fails Valid.
func (a AllocatableRef) Allocatable() models.Allocatable {
	kind, err := models.ParseAllocatableType(a.Type)
	if err != nil {
		return models.Allocatable{ID: a.ID}
	}
	return models.Allocatable{ID: a.ID, Type: kind}
}

// NewAllocatableRef converts a model union into a reference.
func NewAllocatableRef(a models.Allocatable) AllocatableRef {
	return AllocatableRef{ID: a.ID, Type: string(a.Type)}
}

// SubmitRequest creates or replaces the work of an allocatable.
type SubmitRequest struct {
	CourseworkID uint           `json:"coursework_id" validate:"required,gt=0"`
	Owner        AllocatableRef `json:"owner" validate:"required"`
	FilesRef     string         `json:"files_ref" validate:"required,max=512"`
	Finalise     bool           `json:"finalise"`
}

// EditSubmissionRequest replaces the files of a draft submission.
type EditSubmissionRequest struct {
	FilesRef string `json:"files_ref" validate:"required,max=512"`
	Finalise bool   `json:"finalise"`
}

// FeedbackRequest creates a feedback at a marking stage.
type FeedbackRequest struct {
	SubmissionID uint               `json:"submission_id" validate:"required,gt=0"`
	Stage        string             `json:"stage" validate:"required,max=32"`
	Grade        *float64           `json:"grade" validate:"omitempty,gte=0"`
	RubricScores map[string]float64 `json:"rubric_scores" validate:"omitempty,dive,gte=0"`
	Comment      string             `json:"comment" validate:"max=20000"`
	Finalised    bool               `json:"finalised"`
}

// FeedbackUpdateRequest changes an existing feedback. Nil fields are kept.
type FeedbackUpdateRequest struct {
	Grade        *float64           `json:"grade" validate:"omitempty,gte=0"`
	RubricScores map[string]float64 `json:"rubric_scores" validate:"omitempty,dive,gte=0"`
	Comment      *string            `json:"comment" validate:"omitempty,max=20000"`
	Finalised    *bool              `json:"finalised"`
}

// ModerationRequest records a verdict on a single-marker feedback.
type ModerationRequest struct {
	FeedbackID uint   `json:"feedback_id" validate:"required,gt=0"`
	Verdict    string `json:"verdict" validate:"required,oneof=agreed disagreed"`
	Comment    string `json:"comment" validate:"max=20000"`
}

// ExtensionRequest grants or changes a deadline extension.
type ExtensionRequest struct {
	CourseworkID     uint           `json:"coursework_id" validate:"required,gt=0"`
	Owner            AllocatableRef `json:"owner" validate:"required"`
	ExtendedDeadline time.Time      `json:"extended_deadline" validate:"required"`
	PreDefinedReason string         `json:"pre_defined_reason" validate:"max=255"`
	ExtraInformation string         `json:"extra_information" validate:"max=20000"`
}

// PersonalDeadlineRequest sets the personal deadline of an allocatable.
type PersonalDeadlineRequest struct {
	CourseworkID uint           `json:"coursework_id" validate:"required,gt=0"`
	Owner        AllocatableRef `json:"owner" validate:"required"`
	Deadline     time.Time      `json:"deadline" validate:"required"`
}

// AllocationRequest pins an assessor to a marking stage.
type AllocationRequest struct {
	CourseworkID uint           `json:"coursework_id" validate:"required,gt=0"`
	Owner        AllocatableRef `json:"owner" validate:"required"`
	Stage        string         `json:"stage" validate:"required,max=32"`
	AssessorID   uint           `json:"assessor_id" validate:"required,gt=0"`
}

// AutoAllocateRequest spreads allocatables evenly over assessors.
type AutoAllocateRequest struct {
	CourseworkID uint             `json:"coursework_id" validate:"required,gt=0"`
	AssessorIDs  []uint           `json:"assessor_ids" validate:"required,min=1,dive,gt=0"`
	Owners       []AllocatableRef `json:"owners" validate:"required,min=1,dive"`
}

// SampleRequest adds or removes an allocatable from a stage sample.
type SampleRequest struct {
	CourseworkID uint           `json:"coursework_id" validate:"required,gt=0"`
	Owner        AllocatableRef `json:"owner" validate:"required"`
	Stage        string         `json:"stage" validate:"required,max=32"`
	InSample     bool           `json:"in_sample"`
}

// PlagiarismFlagRequest opens or updates a plagiarism case.
type PlagiarismFlagRequest struct {
	SubmissionID uint   `json:"submission_id" validate:"required,gt=0"`
	Status       string `json:"status" validate:"required,oneof=investigation released cleared not_cleared"`
	Comment      string `json:"comment" validate:"max=20000"`
}

// RubricRequest replaces the rubric definition of a coursework.
type RubricRequest struct {
	CourseworkID uint            `json:"coursework_id" validate:"required,gt=0"`
	Definition   json.RawMessage `json:"definition" validate:"required"`
}
