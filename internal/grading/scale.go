package grading

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/gema-coursework/internal/models"
)

const gradeEpsilon = 1e-9

// ScaleKind tells the three grading scales apart.
type ScaleKind int

const (
	// ScaleNumeric accepts any value between zero and a maximum.
	ScaleNumeric ScaleKind = iota
	// ScaleOrdinal accepts the 1-based positions of an external scale.
	ScaleOrdinal
	// ScaleRubric accepts per-criterion level scores.
	ScaleRubric
)

// Rounding is the averagerounding setting.
type Rounding string

const (
	RoundUp   Rounding = "up"
	RoundDown Rounding = "down"
	RoundMid  Rounding = "mid"
)

// ParseRounding falls back to mid for unknown values.
func ParseRounding(raw string) Rounding {
	switch Rounding(strings.ToLower(strings.TrimSpace(raw))) {
	case RoundUp:
		return RoundUp
	case RoundDown:
		return RoundDown
	default:
		return RoundMid
	}
}

// Scale judges raw grade values for one coursework.
type Scale struct {
	Kind     ScaleKind
	Max      float64
	Items    []string
	Rubric   Rubric
	Rounding Rounding
}

// NewScale builds the judge for a coursework. An ordinal scale must be
// supplied when the coursework grade is negative.
func NewScale(cw models.Coursework, ordinal *models.GradeScale) (Scale, error) {
	cfg := cw.EffectiveConfig()
	scale := Scale{Rounding: ParseRounding(cfg.AverageRounding)}

	switch {
	case cfg.GradingMethod == models.GradingMethodRubric:
		rubric, err := ParseRubric(cfg.Rubric)
		if err != nil {
			return Scale{}, err
		}
		scale.Kind = ScaleRubric
		scale.Rubric = rubric
		scale.Max = rubric.MaxScore()
	case cfg.Grade < 0:
		if ordinal == nil {
			return Scale{}, fmt.Errorf("ordinal scale %d is not loaded", -cfg.Grade)
		}
		items := ordinal.Items()
		if len(items) == 0 {
			return Scale{}, fmt.Errorf("ordinal scale %d has no items", ordinal.ID)
		}
		scale.Kind = ScaleOrdinal
		scale.Items = items
		scale.Max = float64(len(items))
	default:
		scale.Kind = ScaleNumeric
		scale.Max = float64(cfg.Grade)
	}

	return scale, nil
}

// InScale reports whether a single raw value is acceptable.
func (s Scale) InScale(value float64) bool {
	return s.Validate(value) == nil
}

// Validate explains why a single raw value is not acceptable.
func (s Scale) Validate(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return NewValidationError(ErrGradeOutOfScale, FieldError{Field: "grade", Error: "must be a finite number"})
	}

	switch s.Kind {
	case ScaleOrdinal:
		if value != math.Trunc(value) || value < 1 || value > s.Max {
			return NewValidationError(ErrGradeOutOfScale, FieldError{
				Field: "grade",
				Error: fmt.Sprintf("must be one of the scale positions 1..%d", len(s.Items)),
			})
		}
	default:
		if value < 0 || value > s.Max+gradeEpsilon {
			return NewValidationError(ErrGradeOutOfScale, FieldError{
				Field: "grade",
				Error: fmt.Sprintf("must be between 0 and %s", formatNumber(s.Max)),
			})
		}
	}
	return nil
}

// ValidateRubric checks rubric level scores and returns their total.
func (s Scale) ValidateRubric(scores map[string]float64) (float64, error) {
	if s.Kind != ScaleRubric {
		return 0, NewValidationError(ErrRubricInvalid, FieldError{Field: "rubric", Error: "coursework is not graded with a rubric"})
	}
	return s.Rubric.Score(scores)
}

// Display renders a raw grade for people. Numeric values keep two decimals
// rounded per the scale rounding; ordinal values render as their label.
func (s Scale) Display(raw float64) string {
	if s.Kind == ScaleOrdinal {
		index := int(math.Round(raw)) - 1
		if index < 0 || index >= len(s.Items) {
			return ""
		}
		return s.Items[index]
	}
	return formatNumber(roundAt(raw, 2, s.Rounding))
}

// ParseDisplay converts a displayed grade back to its raw value.
func (s Scale) ParseDisplay(text string) (float64, error) {
	trimmed := strings.TrimSpace(text)
	if s.Kind == ScaleOrdinal {
		for i, item := range s.Items {
			if strings.EqualFold(item, trimmed) {
				return float64(i + 1), nil
			}
		}
		return 0, NewValidationError(ErrGradeOutOfScale, FieldError{Field: "grade", Error: fmt.Sprintf("%q is not a scale item", trimmed)})
	}

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, NewValidationError(ErrGradeOutOfScale, FieldError{Field: "grade", Error: "is not a number"})
	}
	return value, s.Validate(value)
}

// RoundGrade rounds to a whole grade per the averagerounding setting.
func RoundGrade(value float64, mode Rounding) float64 {
	return roundAt(value, 0, mode)
}

func roundAt(value float64, decimals int, mode Rounding) float64 {
	factor := math.Pow(10, float64(decimals))
	scaled := value * factor
	switch mode {
	case RoundUp:
		scaled = math.Ceil(scaled - gradeEpsilon)
	case RoundDown:
		scaled = math.Floor(scaled + gradeEpsilon)
	default:
		scaled = math.Floor(scaled + 0.5 + gradeEpsilon)
	}
	return scaled / factor
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// CapForLateness limits the grade surfaced for late work when the coursework
// caps late grades. The stored feedback grade is never changed.
func CapForLateness(cw models.Coursework, raw float64, submittedAt, deadline time.Time) float64 {
	if !cw.CapLateGrades || LateBy(submittedAt, deadline) == 0 {
		return raw
	}
	return math.Min(raw, cw.LateGradeCap)
}
