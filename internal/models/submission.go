package models

import (
	"time"

	"gorm.io/gorm"
)

// FinalisedState records whether and how a submission was locked.
type FinalisedState int

const (
	// NotFinalised is an editable draft.
	NotFinalised FinalisedState = iota
	// Finalised was locked explicitly by the author or staff.
	Finalised
	// AutoFinalised was locked because the deadline passed.
	AutoFinalised
)

// Submission is the single piece of work an allocatable hands in for a coursework.
type Submission struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	CourseworkID     uint            `gorm:"not null;uniqueIndex:idx_submission_owner" json:"coursework_id"`
	AllocatableID    uint            `gorm:"not null;uniqueIndex:idx_submission_owner" json:"allocatable_id"`
	AllocatableType  AllocatableType `gorm:"size:16;not null;uniqueIndex:idx_submission_owner" json:"allocatable_type"`
	AllocatableUser  *uint           `gorm:"index" json:"allocatable_user,omitempty"`
	AllocatableGroup *uint           `gorm:"index" json:"allocatable_group,omitempty"`
	AuthorID         uint            `gorm:"not null" json:"author_id"`
	CreatedBy        uint            `gorm:"not null" json:"created_by"`
	LastUpdatedBy    uint            `gorm:"not null" json:"last_updated_by"`
	FilesRef         string          `gorm:"size:512" json:"files_ref"`
	Finalised        FinalisedState  `gorm:"not null" json:"finalised"`
	TimeSubmitted    time.Time       `json:"time_submitted"`
	FirstPublished   *time.Time      `json:"first_published,omitempty"`
	LastPublished    *time.Time      `json:"last_published,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Feedbacks        []Feedback      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"feedbacks,omitempty"`
}

// Owner returns the allocatable this submission belongs to.
func (s Submission) Owner() Allocatable {
	return Allocatable{ID: s.AllocatableID, Type: s.AllocatableType}
}

// SetOwner assigns the allocatable and the derived lookup columns together.
func (s *Submission) SetOwner(a Allocatable) {
	s.AllocatableID = a.ID
	s.AllocatableType = a.Type
	s.AllocatableUser, s.AllocatableGroup = a.Lookup()
}

// IsFinalised reports whether the submission is locked for its author.
func (s Submission) IsFinalised() bool {
	return s.Finalised != NotFinalised
}

// IsPublished reports whether grades were ever released for this submission.
func (s Submission) IsPublished() bool {
	return s.FirstPublished != nil
}

// BeforeSave keeps the lookup columns in step with the allocatable variant.
func (s *Submission) BeforeSave(tx *gorm.DB) error {
	s.AllocatableUser, s.AllocatableGroup = s.Owner().Lookup()
	return nil
}
