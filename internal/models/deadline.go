package models

import "time"

// DeadlineExtension moves the deadline for one allocatable.
type DeadlineExtension struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	CourseworkID     uint            `gorm:"not null;uniqueIndex:idx_extension_owner" json:"coursework_id"`
	AllocatableID    uint            `gorm:"not null;uniqueIndex:idx_extension_owner" json:"allocatable_id"`
	AllocatableType  AllocatableType `gorm:"size:16;not null;uniqueIndex:idx_extension_owner" json:"allocatable_type"`
	ExtendedDeadline time.Time       `gorm:"not null" json:"extended_deadline"`
	PreDefinedReason string          `gorm:"size:255" json:"pre_defined_reason"`
	ExtraInformation string          `gorm:"type:text" json:"extra_information"`
	CreatedBy        uint            `json:"created_by"`
	LastModifiedBy   uint            `json:"last_modified_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Owner returns the allocatable the extension was granted to.
func (e DeadlineExtension) Owner() Allocatable {
	return Allocatable{ID: e.AllocatableID, Type: e.AllocatableType}
}

// PersonalDeadline replaces the coursework default deadline for one allocatable.
type PersonalDeadline struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	CourseworkID     uint            `gorm:"not null;uniqueIndex:idx_personal_deadline_owner" json:"coursework_id"`
	AllocatableID    uint            `gorm:"not null;uniqueIndex:idx_personal_deadline_owner" json:"allocatable_id"`
	AllocatableType  AllocatableType `gorm:"size:16;not null;uniqueIndex:idx_personal_deadline_owner" json:"allocatable_type"`
	Deadline         time.Time       `gorm:"column:personal_deadline;not null" json:"personal_deadline"`
	CreatedBy        uint            `json:"created_by"`
	LastModifiedBy   uint            `json:"last_modified_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Owner returns the allocatable the personal deadline belongs to.
func (p PersonalDeadline) Owner() Allocatable {
	return Allocatable{ID: p.AllocatableID, Type: p.AllocatableType}
}
