package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	// GradingMethodSimple grades with a single numeric or ordinal value.
	GradingMethodSimple = "simple"
	// GradingMethodRubric grades by selecting one level per rubric criterion.
	GradingMethodRubric = "rubric"

	// DefaultMaxGrade is used when a coursework carries no scale identifier.
	DefaultMaxGrade = 100
)

// Coursework is the configuration root of an assessment activity.
type Coursework struct {
	ID                         uint           `gorm:"primaryKey" json:"id"`
	Name                       string         `gorm:"size:255;not null" json:"name"`
	StartDate                  time.Time      `json:"start_date"`
	Deadline                   time.Time      `json:"deadline"`
	AutoReleaseDate            time.Time      `json:"auto_release_date"`
	PersonalDeadlineEnabled    bool           `json:"personal_deadline_enabled"`
	ExtensionsEnabled          bool           `json:"extensions_enabled"`
	AllowLateSubmissions       bool           `json:"allow_late_submissions"`
	AllowGradingDrafts         bool           `json:"allow_grading_drafts"`
	NumberOfMarkers            int            `gorm:"not null" json:"number_of_markers"`
	SamplingEnabled            bool           `json:"sampling_enabled"`
	ModerationAgreementEnabled bool           `json:"moderation_agreement_enabled"`
	ModerationEnabled          bool           `json:"moderation_enabled"`
	AutomaticAgreementEnabled  bool           `json:"automatic_agreement_enabled"`
	AutomaticAgreementRange    float64        `json:"automatic_agreement_range"`
	AutomaticAgreementStrategy string         `gorm:"size:64" json:"automatic_agreement_strategy"`
	GradeEditingTime           int            `json:"grade_editing_time"`
	AllocationEnabled          bool           `json:"allocation_enabled"`
	Grade                      int            `gorm:"not null" json:"grade"`
	GradingMethod              string         `gorm:"size:16" json:"grading_method"`
	Rubric                     datatypes.JSON `json:"rubric,omitempty"`
	AverageRounding            string         `gorm:"size:8" json:"average_rounding"`
	BlindMarking               bool           `json:"blind_marking"`
	UseGroups                  bool           `json:"use_groups"`
	CapLateGrades              bool           `json:"cap_late_grades"`
	LateGradeCap               float64        `json:"late_grade_cap"`
	CreatedAt                  time.Time      `json:"created_at"`
	UpdatedAt                  time.Time      `json:"updated_at"`
}

// EffectiveConfig returns a copy with unset or out-of-range settings replaced
// by their defaults. Callers should always read settings through it.
func (c Coursework) EffectiveConfig() Coursework {
	cfg := c
	if cfg.NumberOfMarkers < 1 {
		cfg.NumberOfMarkers = 1
	}
	if cfg.NumberOfMarkers == 1 {
		cfg.AutomaticAgreementEnabled = false
		cfg.ModerationEnabled = false
		cfg.SamplingEnabled = false
	} else {
		cfg.ModerationAgreementEnabled = false
	}
	if cfg.Grade == 0 {
		cfg.Grade = DefaultMaxGrade
	}
	switch strings.ToLower(strings.TrimSpace(cfg.GradingMethod)) {
	case GradingMethodRubric:
		cfg.GradingMethod = GradingMethodRubric
	default:
		cfg.GradingMethod = GradingMethodSimple
	}
	switch strings.ToLower(strings.TrimSpace(cfg.AverageRounding)) {
	case "up", "down":
		cfg.AverageRounding = strings.ToLower(strings.TrimSpace(cfg.AverageRounding))
	default:
		cfg.AverageRounding = "mid"
	}
	if cfg.AutomaticAgreementRange < 0 {
		cfg.AutomaticAgreementRange = 0
	}
	if cfg.GradeEditingTime < 0 {
		cfg.GradeEditingTime = 0
	}
	return cfg
}

// IsOpen reports whether submissions are accepted at the reference time.
func (c Coursework) IsOpen(reference time.Time) bool {
	return c.StartDate.IsZero() || !reference.Before(c.StartDate)
}

// GradeScale is an externally defined ordinal scale referenced by a negative
// coursework grade. Items are stored comma separated, lowest first.
type GradeScale struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Scale     string    `gorm:"type:text;not null" json:"scale"`
	CreatedAt time.Time `json:"created_at"`
}

// Items returns the ordinal labels of the scale.
func (g GradeScale) Items() []string {
	parts := strings.Split(g.Scale, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
