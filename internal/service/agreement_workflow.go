package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-coursework/internal/access"
	"github.com/noah-isme/gema-coursework/internal/grading"
	"github.com/noah-isme/gema-coursework/internal/models"
	"github.com/noah-isme/gema-coursework/internal/observability"
	"github.com/noah-isme/gema-coursework/internal/repository"
)

// Automatic agreement outcomes, used as metric labels.
const (
	agreementDisabled        = "disabled"
	agreementPublished       = "published"
	agreementExists          = "exists"
	agreementIncomplete      = "incomplete"
	agreementSingleMarker    = "single_marker"
	agreementEditingWindow   = "editing_window"
	agreementUnknownStrategy = "unknown_strategy"
	agreementNoMatch         = "no_match"
	agreementOutOfScale      = "out_of_scale"
	agreementConflict        = "conflict"
	agreementAgreed          = "agreed"
)

func (s *workflowService) TryAutoAgree(ctx context.Context, submissionID uint) (*models.Feedback, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.try_auto_agree", trace.WithAttributes(attribute.Int64("submission.id", int64(submissionID))))
	feedback, err := func() (*models.Feedback, error) {
		sctx, err := s.loadSubmission(ctx, submissionID)
		if err != nil {
			return nil, err
		}
		return s.autoAgree(ctx, sctx)
	}()
	s.finish(span, "try_auto_agree", err)
	return feedback, err
}

// autoAgreeAfter runs automatic agreement after an initial feedback was
// finalised. Failures never undo the feedback write.
func (s *workflowService) autoAgreeAfter(ctx context.Context, submissionID uint) {
	if _, err := s.TryAutoAgree(ctx, submissionID); err != nil {
		observability.Logger(ctx, s.logger).Warn().Err(err).Uint("submission_id", submissionID).Msg("automatic agreement failed")
	}
}

func (s *workflowService) strategyName(coursework models.Coursework) string {
	name := strings.TrimSpace(coursework.AutomaticAgreementStrategy)
	if name == "" {
		name = s.defaultStrategy
	}
	if name == "" {
		name = grading.StrategyNone
	}
	return name
}

// autoAgree creates the final agreed feedback when every required marker has
// finalised and the configured strategy accepts their grades. It returns nil
// without error whenever agreement does not apply.
func (s *workflowService) autoAgree(ctx context.Context, sctx submissionContext) (*models.Feedback, error) {
	name := s.strategyName(sctx.coursework)
	feedback, outcome, err := s.agree(ctx, sctx, name)
	if err == nil {
		observability.AgreementOutcomes().WithLabelValues(name, outcome).Inc()
	}
	return feedback, err
}

func (s *workflowService) agree(ctx context.Context, sctx submissionContext, name string) (*models.Feedback, string, error) {
	coursework := sctx.coursework
	log := observability.Logger(ctx, s.logger)

	switch {
	case !coursework.AutomaticAgreementEnabled:
		return nil, agreementDisabled, nil
	case sctx.submission.IsPublished():
		return nil, agreementPublished, nil
	case len(sctx.required) < 2:
		return nil, agreementSingleMarker, nil
	}
	if _, ok := sctx.feedbackAt(grading.StageFinalAgreed); ok {
		return nil, agreementExists, nil
	}
	if !grading.AllRequiredFinalised(sctx.required, sctx.submission.Feedbacks) {
		return nil, agreementIncomplete, nil
	}

	index := grading.FeedbackByStage(sctx.submission.Feedbacks)
	grades := make([]float64, 0, len(sctx.required))
	var lastCreated time.Time
	for _, stage := range sctx.required {
		feedback := index[stage]
		if feedback.Grade == nil {
			return nil, agreementIncomplete, nil
		}
		grades = append(grades, *feedback.Grade)
		if feedback.TimeCreated.After(lastCreated) {
			lastCreated = feedback.TimeCreated
		}
	}

	now := s.now()
	if coursework.GradeEditingTime > 0 && now.Before(lastCreated.Add(time.Duration(coursework.GradeEditingTime)*time.Second)) {
		return nil, agreementEditingWindow, nil
	}

	strategy, ok := s.strategies.Lookup(name)
	if !ok {
		log.Warn().Str("strategy", name).Uint("coursework_id", coursework.ID).Msg("unknown automatic agreement strategy")
		return nil, agreementUnknownStrategy, nil
	}

	agreed, ok := strategy.Agree(grades, grading.AgreementParams{
		Range:           coursework.AutomaticAgreementRange,
		Rounding:        grading.ParseRounding(coursework.AverageRounding),
		ClassBoundaries: s.boundaries,
	})
	if !ok {
		return nil, agreementNoMatch, nil
	}

	scale, err := s.scaleFor(ctx, coursework)
	if err != nil {
		return nil, "", err
	}
	if !scale.InScale(agreed) {
		log.Warn().Float64("grade", agreed).Uint("submission_id", sctx.submission.ID).Msg("agreed grade falls outside the scale")
		return nil, agreementOutOfScale, nil
	}

	feedback := models.Feedback{
		SubmissionID:    sctx.submission.ID,
		StageIdentifier: grading.StageFinalAgreed.String(),
		Grade:           &agreed,
		Finalised:       true,
		IsFinalGrade:    true,
		TimeCreated:     now,
		TimeModified:    now,
	}
	if err := s.repos.Feedbacks.Create(ctx, &feedback); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, agreementConflict, nil
		}
		return nil, "", fmt.Errorf("create agreed feedback: %w", err)
	}

	s.committed(ctx, access.System(), WorkflowEvent{
		Type:         EventFeedbackAutoAgreed,
		CourseworkID: coursework.ID,
		SubmissionID: sctx.submission.ID,
		FeedbackID:   feedback.ID,
	}, "feedback", feedback.ID, map[string]interface{}{
		"strategy": strategy.Name(),
		"grades":   grades,
		"grade":    agreed,
	}, sctx.submission.ID)

	return &feedback, agreementAgreed, nil
}
