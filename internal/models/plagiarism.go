package models

import "time"

const (
	// PlagiarismUnchecked is the implicit status of a submission without a flag.
	PlagiarismUnchecked = "unchecked"
	// PlagiarismInvestigation blocks grade release while a case is open.
	PlagiarismInvestigation = "investigation"
	// PlagiarismReleased allows release while the case continues.
	PlagiarismReleased = "released"
	// PlagiarismCleared closes a case with no misconduct found.
	PlagiarismCleared = "cleared"
	// PlagiarismNotCleared closes a case with misconduct found; grades stay unreleased.
	PlagiarismNotCleared = "not_cleared"
)

// PlagiarismFlag tracks an academic misconduct case for a submission.
type PlagiarismFlag struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubmissionID   uint      `gorm:"not null;uniqueIndex" json:"submission_id"`
	Status         string    `gorm:"size:32;not null" json:"status"`
	Comment        string    `gorm:"type:text" json:"comment"`
	CreatedBy      uint      `json:"created_by"`
	LastModifiedBy uint      `json:"last_modified_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BlocksRelease reports whether grades for the flagged submission must stay hidden.
func (p PlagiarismFlag) BlocksRelease() bool {
	return p.Status == PlagiarismInvestigation || p.Status == PlagiarismNotCleared
}
