package grading

import "github.com/noah-isme/gema-coursework/internal/models"

// State is the derived position of a submission in the workflow. States are
// ordered and may be compared numerically.
type State int

const (
	StateNotSubmitted State = iota
	StateSubmitted
	StatePartiallyGraded
	StateFullyGraded
	StateFinalGraded
	StatePublished
)

var stateLabels = map[State]string{
	StateNotSubmitted:    "not_submitted",
	StateSubmitted:       "submitted",
	StatePartiallyGraded: "partially_graded",
	StateFullyGraded:     "fully_graded",
	StateFinalGraded:     "final_graded",
	StatePublished:       "published",
}

func (s State) String() string {
	if label, ok := stateLabels[s]; ok {
		return label
	}
	return "unknown"
}

// FeedbackByStage indexes feedbacks by stage identifier.
func FeedbackByStage(feedbacks []models.Feedback) map[Stage]models.Feedback {
	index := make(map[Stage]models.Feedback, len(feedbacks))
	for _, feedback := range feedbacks {
		index[Stage(feedback.StageIdentifier)] = feedback
	}
	return index
}

// AllRequiredFinalised reports whether every required stage holds finalised feedback.
func AllRequiredFinalised(required []Stage, feedbacks []models.Feedback) bool {
	if len(required) == 0 {
		return false
	}
	index := FeedbackByStage(feedbacks)
	for _, stage := range required {
		feedback, ok := index[stage]
		if !ok || !feedback.Finalised {
			return false
		}
	}
	return true
}

// FinalFeedback returns the feedback that carries the final grade, if any.
// With a single required stage the finalised assessor_1 feedback is final;
// otherwise only a finalised final_agreed_1 feedback is.
func FinalFeedback(required []Stage, feedbacks []models.Feedback) *models.Feedback {
	index := FeedbackByStage(feedbacks)
	if len(required) == 1 {
		if feedback, ok := index[required[0]]; ok && feedback.Finalised {
			return &feedback
		}
		return nil
	}
	if feedback, ok := index[StageFinalAgreed]; ok && feedback.Finalised {
		return &feedback
	}
	return nil
}

// DeriveState computes the workflow state from stored rows.
func DeriveState(submission *models.Submission, required []Stage, feedbacks []models.Feedback) State {
	if submission == nil || submission.ID == 0 {
		return StateNotSubmitted
	}
	if submission.IsPublished() {
		return StatePublished
	}
	if FinalFeedback(required, feedbacks) != nil {
		return StateFinalGraded
	}
	if AllRequiredFinalised(required, feedbacks) {
		return StateFullyGraded
	}
	if CountInitial(feedbacks) > 0 {
		return StatePartiallyGraded
	}
	return StateSubmitted
}

// ReadyToGrade reports whether markers may start on the submission.
func ReadyToGrade(cw models.Coursework, submission *models.Submission) bool {
	if submission == nil || submission.ID == 0 {
		return false
	}
	return submission.IsFinalised() || cw.AllowGradingDrafts
}

// CanBeUnfinalised reports whether a finalised submission may return to draft:
// it must not be published and must not carry any feedback yet.
func CanBeUnfinalised(submission *models.Submission, feedbacks []models.Feedback) bool {
	if submission == nil || !submission.IsFinalised() || submission.IsPublished() {
		return false
	}
	return len(feedbacks) == 0
}
