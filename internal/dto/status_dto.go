package dto

import (
	"time"

	"github.com/noah-isme/gema-coursework/internal/grading"
	"github.com/noah-isme/gema-coursework/internal/models"
)

// SubmissionStatusResponse summarises where a submission is in the workflow.
type SubmissionStatusResponse struct {
	SubmissionID      uint             `json:"submission_id"`
	CourseworkID      uint             `json:"coursework_id"`
	Owner             AllocatableRef   `json:"owner"`
	State             string           `json:"state"`
	StateLevel        int              `json:"state_level"`
	Finalised         bool             `json:"finalised"`
	AutoFinalised     bool             `json:"auto_finalised"`
	EffectiveDeadline *time.Time       `json:"effective_deadline,omitempty"`
	HasExtension      bool             `json:"has_extension"`
	LateBySeconds     int64            `json:"late_by_seconds"`
	Lateness          grading.Lateness `json:"lateness"`
	FeedbackCount     int              `json:"feedback_count"`
	RequiredMarkers   int              `json:"required_markers"`
	Published         bool             `json:"published"`
}

// NewSubmissionStatusResponse builds the summary from resolved workflow facts.
func NewSubmissionStatusResponse(submission models.Submission, state grading.State, deadline time.Time, hasExtension bool, required int) SubmissionStatusResponse {
	late := grading.LateBy(submission.TimeSubmitted, deadline)
	response := SubmissionStatusResponse{
		SubmissionID:    submission.ID,
		CourseworkID:    submission.CourseworkID,
		Owner:           NewAllocatableRef(submission.Owner()),
		State:           state.String(),
		StateLevel:      int(state),
		Finalised:       submission.IsFinalised(),
		AutoFinalised:   submission.Finalised == models.AutoFinalised,
		HasExtension:    hasExtension,
		LateBySeconds:   int64(late / time.Second),
		Lateness:        grading.BreakdownLateness(late),
		FeedbackCount:   len(submission.Feedbacks),
		RequiredMarkers: required,
		Published:       submission.IsPublished(),
	}
	if !deadline.IsZero() {
		d := deadline
		response.EffectiveDeadline = &d
	}
	return response
}

// GradeResponse is the grade surfaced to the gradebook for a submission.
type GradeResponse struct {
	SubmissionID uint    `json:"submission_id"`
	FeedbackID   uint    `json:"feedback_id"`
	Stage        string  `json:"stage"`
	Raw          float64 `json:"raw"`
	Capped       float64 `json:"capped"`
	Display      string  `json:"display"`
	Automatic    bool    `json:"automatic"`
	Late         bool    `json:"late"`
}

// PublishResult counts the outcome of a release batch.
type PublishResult struct {
	CourseworkID uint `json:"coursework_id"`
	Published    int  `json:"published"`
	Skipped      int  `json:"skipped"`
}

// SweepResult counts what one periodic sweep changed.
type SweepResult struct {
	CourseworkID uint `json:"coursework_id"`
	Finalised    int  `json:"finalised"`
	Agreed       int  `json:"agreed"`
	Published    int  `json:"published"`
}
