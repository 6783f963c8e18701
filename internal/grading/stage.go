package grading

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/gema-coursework/internal/models"
)

// Stage identifies the marking slot a feedback occupies.
type Stage string

const (
	// StageModerator holds a moderator's feedback on multi-marker courseworks.
	StageModerator Stage = "moderator"
	// StageFinalAgreed holds the agreed grade across all initial markers.
	StageFinalAgreed Stage = "final_agreed_1"

	assessorPrefix = "assessor_"
)

// AssessorStage returns the identifier of the n-th initial marking stage.
func AssessorStage(n int) Stage {
	return Stage(assessorPrefix + strconv.Itoa(n))
}

// ParseStage validates a raw stage identifier.
func ParseStage(raw string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(raw)))
	switch stage {
	case StageModerator, StageFinalAgreed:
		return stage, nil
	}
	if n, ok := stage.AssessorNumber(); ok {
		return AssessorStage(n), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStage, raw)
}

// AssessorNumber returns n for assessor_n stages. Only the canonical decimal
// form is accepted, so assessor_01 and assessor_+1 are not stages.
func (s Stage) AssessorNumber() (int, bool) {
	if !strings.HasPrefix(string(s), assessorPrefix) {
		return 0, false
	}
	suffix := strings.TrimPrefix(string(s), assessorPrefix)
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 1 || strconv.Itoa(n) != suffix {
		return 0, false
	}
	return n, true
}

// IsInitial reports whether the stage is one of the assessor_n stages.
func (s Stage) IsInitial() bool {
	_, ok := s.AssessorNumber()
	return ok
}

func (s Stage) String() string {
	return string(s)
}

// InitialStages lists assessor_1..assessor_n.
func InitialStages(markers int) []Stage {
	stages := make([]Stage, 0, markers)
	for i := 1; i <= markers; i++ {
		stages = append(stages, AssessorStage(i))
	}
	return stages
}

// RequiredStages lists the initial stages that must be marked for one
// allocatable. With sampling, assessor_1 is always required and later stages
// only when the allocatable is in their sample.
func RequiredStages(cw models.Coursework, sampled []Stage) []Stage {
	cfg := cw.EffectiveConfig()
	if !cfg.SamplingEnabled {
		return InitialStages(cfg.NumberOfMarkers)
	}

	inSample := make(map[Stage]struct{}, len(sampled))
	for _, stage := range sampled {
		inSample[stage] = struct{}{}
	}

	stages := []Stage{AssessorStage(1)}
	for i := 2; i <= cfg.NumberOfMarkers; i++ {
		stage := AssessorStage(i)
		if _, ok := inSample[stage]; ok {
			stages = append(stages, stage)
		}
	}
	return stages
}

// StageExists reports whether the coursework configuration uses the stage.
func StageExists(cw models.Coursework, stage Stage) bool {
	cfg := cw.EffectiveConfig()
	if n, ok := stage.AssessorNumber(); ok {
		return n <= cfg.NumberOfMarkers
	}
	switch stage {
	case StageFinalAgreed:
		return cfg.NumberOfMarkers > 1
	case StageModerator:
		return cfg.NumberOfMarkers > 1 && cfg.ModerationEnabled
	default:
		return false
	}
}

// CountInitial counts feedbacks that sit in assessor_n stages.
func CountInitial(feedbacks []models.Feedback) int {
	count := 0
	for _, feedback := range feedbacks {
		if Stage(feedback.StageIdentifier).IsInitial() {
			count++
		}
	}
	return count
}

// NextAvailableStage picks the initial stage a new feedback should occupy when
// the requested one is already taken. It returns the lowest required stage
// without feedback, which is assessor_{K+1} when K stages are filled in order.
func NextAvailableStage(cw models.Coursework, required []Stage, feedbacks []models.Feedback) (Stage, error) {
	cfg := cw.EffectiveConfig()
	if cfg.AllocationEnabled {
		return "", ErrStageAllocated
	}
	if cfg.NumberOfMarkers <= 1 {
		return "", ErrStageFull
	}

	taken := make(map[Stage]struct{}, len(feedbacks))
	for _, feedback := range feedbacks {
		taken[Stage(feedback.StageIdentifier)] = struct{}{}
	}

	if CountInitial(feedbacks) >= len(required) {
		return "", ErrStageFull
	}
	for _, stage := range required {
		if _, ok := taken[stage]; !ok {
			return stage, nil
		}
	}
	return "", ErrStageFull
}
