package models

import "time"

// AllocationPair assigns an assessor to one marking stage of an allocatable.
type AllocationPair struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	CourseworkID    uint            `gorm:"not null;uniqueIndex:idx_allocation_stage" json:"coursework_id"`
	AllocatableID   uint            `gorm:"not null;uniqueIndex:idx_allocation_stage" json:"allocatable_id"`
	AllocatableType AllocatableType `gorm:"size:16;not null;uniqueIndex:idx_allocation_stage" json:"allocatable_type"`
	StageIdentifier string          `gorm:"size:32;not null;uniqueIndex:idx_allocation_stage" json:"stage_identifier"`
	AssessorID      uint            `gorm:"not null;index" json:"assessor_id"`
	IsManual        bool            `json:"is_manual"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Owner returns the allocated allocatable.
func (a AllocationPair) Owner() Allocatable {
	return Allocatable{ID: a.AllocatableID, Type: a.AllocatableType}
}

// SampleMember puts an allocatable in the marking sample for a later stage.
type SampleMember struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	CourseworkID    uint            `gorm:"not null;uniqueIndex:idx_sample_stage" json:"coursework_id"`
	AllocatableID   uint            `gorm:"not null;uniqueIndex:idx_sample_stage" json:"allocatable_id"`
	AllocatableType AllocatableType `gorm:"size:16;not null;uniqueIndex:idx_sample_stage" json:"allocatable_type"`
	StageIdentifier string          `gorm:"size:32;not null;uniqueIndex:idx_sample_stage" json:"stage_identifier"`
	CreatedAt       time.Time       `json:"created_at"`
}
