package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog captures auditable workflow transitions.
type ActivityLog struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	CourseworkID uint              `gorm:"index" json:"coursework_id"`
	ActorID      uint              `gorm:"not null" json:"actor_id"`
	ActorRole    string            `gorm:"size:32;not null" json:"actor_role"`
	Action       string            `gorm:"size:64;not null" json:"action"`
	EntityType   string            `gorm:"size:64;not null" json:"entity_type"`
	EntityID     *uint             `json:"entity_id"`
	Metadata     datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt    time.Time         `json:"created_at"`
}

// All lists every model the workflow persists, in migration order.
func All() []interface{} {
	return []interface{}{
		&Coursework{},
		&GradeScale{},
		&Submission{},
		&Feedback{},
		&Moderation{},
		&DeadlineExtension{},
		&PersonalDeadline{},
		&PlagiarismFlag{},
		&AllocationPair{},
		&SampleMember{},
		&ActivityLog{},
	}
}
