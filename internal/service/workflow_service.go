package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-coursework/internal/access"
	"github.com/noah-isme/gema-coursework/internal/dto"
	"github.com/noah-isme/gema-coursework/internal/grading"
	"github.com/noah-isme/gema-coursework/internal/models"
	"github.com/noah-isme/gema-coursework/internal/observability"
	"github.com/noah-isme/gema-coursework/internal/repository"
)

// WorkflowService drives submissions and feedback through the coursework
// marking workflow.
type WorkflowService interface {
	ResolveDeadline(ctx context.Context, courseworkID uint, owner models.Allocatable) (time.Time, error)
	ValidateGrade(ctx context.Context, courseworkID uint, value float64) error

	Submit(ctx context.Context, actor access.Actor, req dto.SubmitRequest) (models.Submission, error)
	EditSubmission(ctx context.Context, actor access.Actor, submissionID uint, req dto.EditSubmissionRequest) (models.Submission, error)
	Finalise(ctx context.Context, actor access.Actor, submissionID uint) (models.Submission, error)
	Unfinalise(ctx context.Context, actor access.Actor, submissionID uint) (models.Submission, error)
	RevertSubmission(ctx context.Context, actor access.Actor, submissionID uint) error
	SubmissionStatus(ctx context.Context, submissionID uint) (dto.SubmissionStatusResponse, error)

	AddFeedback(ctx context.Context, actor access.Actor, req dto.FeedbackRequest) (models.Feedback, error)
	EditFeedback(ctx context.Context, actor access.Actor, feedbackID uint, req dto.FeedbackUpdateRequest) (models.Feedback, error)
	TryAutoAgree(ctx context.Context, submissionID uint) (*models.Feedback, error)
	ModerateFeedback(ctx context.Context, actor access.Actor, req dto.ModerationRequest) (models.Moderation, error)
	GradeFor(ctx context.Context, actor access.Actor, submissionID uint) (dto.GradeResponse, error)

	Publish(ctx context.Context, actor access.Actor, courseworkID uint) (dto.PublishResult, error)
	Sweep(ctx context.Context, courseworkID uint) (dto.SweepResult, error)
	SweepAll(ctx context.Context) ([]dto.SweepResult, error)

	GrantExtension(ctx context.Context, actor access.Actor, req dto.ExtensionRequest) (models.DeadlineExtension, error)
	SetPersonalDeadline(ctx context.Context, actor access.Actor, req dto.PersonalDeadlineRequest) (models.PersonalDeadline, error)
	Allocate(ctx context.Context, actor access.Actor, req dto.AllocationRequest) (models.AllocationPair, error)
	AutoAllocate(ctx context.Context, actor access.Actor, req dto.AutoAllocateRequest) ([]models.AllocationPair, error)
	SetSampleMembership(ctx context.Context, actor access.Actor, req dto.SampleRequest) error
	FlagPlagiarism(ctx context.Context, actor access.Actor, req dto.PlagiarismFlagRequest) (models.PlagiarismFlag, error)
	SaveRubric(ctx context.Context, actor access.Actor, req dto.RubricRequest) (models.Coursework, error)
}

// WorkflowRepositories groups the persistence ports the workflow needs.
type WorkflowRepositories struct {
	Courseworks repository.CourseworkRepository
	Submissions repository.SubmissionRepository
	Feedbacks   repository.FeedbackRepository
	Deadlines   repository.DeadlineRepository
	Allocations repository.AllocationRepository
	Moderations repository.ModerationRepository
	Plagiarism  repository.PlagiarismRepository
}

// NewWorkflowRepositories wires every gorm repository to one database handle.
func NewWorkflowRepositories(db *gorm.DB) WorkflowRepositories {
	return WorkflowRepositories{
		Courseworks: repository.NewCourseworkRepository(db),
		Submissions: repository.NewSubmissionRepository(db),
		Feedbacks:   repository.NewFeedbackRepository(db),
		Deadlines:   repository.NewDeadlineRepository(db),
		Allocations: repository.NewAllocationRepository(db),
		Moderations: repository.NewModerationRepository(db),
		Plagiarism:  repository.NewPlagiarismRepository(db),
	}
}

// WorkflowOptions carries optional collaborators. Nil members are replaced by
// no-op implementations.
type WorkflowOptions struct {
	Strategies      *grading.Registry
	DefaultStrategy string
	ClassBoundaries []float64
	Cache           StatusCache
	Events          EventPublisher
	Activity        ActivityRecorder
	Clock           func() time.Time
}

type workflowService struct {
	repos           WorkflowRepositories
	oracle          access.Oracle
	strategies      *grading.Registry
	defaultStrategy string
	boundaries      []float64
	cache           StatusCache
	events          EventPublisher
	activity        ActivityRecorder
	validator       *validator.Validate
	logger          zerolog.Logger
	tracer          trace.Tracer
	sanitizer       *bluemonday.Policy
	now             func() time.Time
}

// NewWorkflowService constructs the workflow engine.
func NewWorkflowService(repos WorkflowRepositories, oracle access.Oracle, validate *validator.Validate, logger zerolog.Logger, opts WorkflowOptions) WorkflowService {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	if oracle == nil {
		oracle = access.NewRoleOracle(nil)
	}
	strategies := opts.Strategies
	if strategies == nil {
		strategies = grading.DefaultRegistry()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &workflowService{
		repos:           repos,
		oracle:          oracle,
		strategies:      strategies,
		defaultStrategy: opts.DefaultStrategy,
		boundaries:      append([]float64(nil), opts.ClassBoundaries...),
		cache:           opts.Cache,
		events:          opts.Events,
		activity:        opts.Activity,
		validator:       validate,
		logger:          logger.With().Str("component", "workflow_service").Logger(),
		tracer:          otel.Tracer("github.com/noah-isme/gema-coursework/internal/service/workflow"),
		sanitizer:       bluemonday.UGCPolicy(),
		now:             clock,
	}
}

// submissionContext is everything needed to judge one submission.
type submissionContext struct {
	coursework models.Coursework
	submission models.Submission
	extension  *models.DeadlineExtension
	personal   *models.PersonalDeadline
	required   []grading.Stage
}

func (c submissionContext) deadline() time.Time {
	return grading.EffectiveDeadline(c.coursework, c.extension, c.personal)
}

func (c submissionContext) state() grading.State {
	return grading.DeriveState(&c.submission, c.required, c.submission.Feedbacks)
}

func (c submissionContext) entity() access.Entity {
	return access.Entity{
		Type:         "submission",
		ID:           c.submission.ID,
		CourseworkID: c.coursework.ID,
		OwnerID:      c.submission.AllocatableID,
	}
}

func (c submissionContext) feedbackAt(stage grading.Stage) (models.Feedback, bool) {
	feedback, ok := grading.FeedbackByStage(c.submission.Feedbacks)[stage]
	return feedback, ok
}

func (s *workflowService) loadCoursework(ctx context.Context, courseworkID uint) (models.Coursework, error) {
	coursework, err := s.repos.Courseworks.GetByID(ctx, courseworkID)
	if err != nil {
		if repository.IsNotFound(err) {
			return models.Coursework{}, newError(KindNotFound, ErrCourseworkNotFound, "coursework %d does not exist", courseworkID)
		}
		return models.Coursework{}, fmt.Errorf("load coursework %d: %w", courseworkID, err)
	}
	return coursework.EffectiveConfig(), nil
}

func (s *workflowService) loadOwnerFacts(ctx context.Context, coursework models.Coursework, owner models.Allocatable) (*models.DeadlineExtension, *models.PersonalDeadline, []grading.Stage, error) {
	extension, err := s.repos.Deadlines.FindExtension(ctx, coursework.ID, owner)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load extension: %w", err)
	}
	personal, err := s.repos.Deadlines.FindPersonalDeadline(ctx, coursework.ID, owner)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load personal deadline: %w", err)
	}
	required, err := s.requiredStages(ctx, coursework, owner)
	if err != nil {
		return nil, nil, nil, err
	}
	return extension, personal, required, nil
}

func (s *workflowService) requiredStages(ctx context.Context, coursework models.Coursework, owner models.Allocatable) ([]grading.Stage, error) {
	if !coursework.SamplingEnabled {
		return grading.RequiredStages(coursework, nil), nil
	}
	raw, err := s.repos.Allocations.SampledStages(ctx, coursework.ID, owner)
	if err != nil {
		return nil, fmt.Errorf("load sample: %w", err)
	}
	sampled := make([]grading.Stage, 0, len(raw))
	for _, stage := range raw {
		sampled = append(sampled, grading.Stage(stage))
	}
	return grading.RequiredStages(coursework, sampled), nil
}

func (s *workflowService) loadSubmission(ctx context.Context, submissionID uint) (submissionContext, error) {
	submission, err := s.repos.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		if repository.IsNotFound(err) {
			return submissionContext{}, newError(KindNotFound, ErrSubmissionNotFound, "submission %d does not exist", submissionID)
		}
		return submissionContext{}, fmt.Errorf("load submission %d: %w", submissionID, err)
	}
	coursework, err := s.loadCoursework(ctx, submission.CourseworkID)
	if err != nil {
		return submissionContext{}, err
	}
	return s.buildContext(ctx, coursework, submission)
}

func (s *workflowService) buildContext(ctx context.Context, coursework models.Coursework, submission models.Submission) (submissionContext, error) {
	extension, personal, required, err := s.loadOwnerFacts(ctx, coursework, submission.Owner())
	if err != nil {
		return submissionContext{}, err
	}
	return submissionContext{
		coursework: coursework,
		submission: submission,
		extension:  extension,
		personal:   personal,
		required:   required,
	}, nil
}

func (s *workflowService) scaleFor(ctx context.Context, coursework models.Coursework) (grading.Scale, error) {
	var ordinal *models.GradeScale
	if coursework.GradingMethod != models.GradingMethodRubric && coursework.Grade < 0 {
		scale, err := s.repos.Courseworks.GetScale(ctx, uint(-coursework.Grade))
		if err != nil {
			if repository.IsNotFound(err) {
				return grading.Scale{}, newError(KindNotFound, err, "grade scale %d does not exist", -coursework.Grade)
			}
			return grading.Scale{}, fmt.Errorf("load grade scale: %w", err)
		}
		ordinal = &scale
	}

	scale, err := grading.NewScale(coursework, ordinal)
	if err != nil {
		if errors.Is(err, grading.ErrRubricDefinition) {
			return grading.Scale{}, validationFailure(err)
		}
		return grading.Scale{}, fmt.Errorf("build grade scale: %w", err)
	}
	return scale, nil
}

func (s *workflowService) can(ctx context.Context, actor access.Actor, action access.Action, entity access.Entity) bool {
	return s.oracle.Can(ctx, actor, action, entity)
}

func (s *workflowService) authorize(ctx context.Context, actor access.Actor, action access.Action, entity access.Entity) error {
	if s.can(ctx, actor, action, entity) {
		return nil
	}
	return denied("user %d may not %s", actor.ID, action)
}

func (s *workflowService) validate(req interface{}) error {
	if err := s.validator.Struct(req); err != nil {
		return validationFailure(err)
	}
	return nil
}

func (s *workflowService) sanitize(comment string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(comment))
}

// finish closes a transition span and counts its outcome.
func (s *workflowService) finish(span trace.Span, transition string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
			s.logger.Error().Err(err).Str("transition", transition).Msg("workflow transition failed")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	observability.Transitions().WithLabelValues(transition, outcome).Inc()
	span.End()
}

// committed runs the side effects of a persisted transition. Failures are
// logged and never undo the transition.
func (s *workflowService) committed(ctx context.Context, actor access.Actor, event WorkflowEvent, entityType string, entityID uint, metadata map[string]interface{}, invalidate ...uint) {
	log := observability.Logger(ctx, s.logger)

	if s.cache != nil && len(invalidate) > 0 {
		if err := s.cache.Invalidate(ctx, invalidate...); err != nil {
			log.Warn().Err(err).Msg("failed to invalidate submission status cache")
		}
	}

	if s.activity != nil {
		id := entityID
		entry := ActivityEntry{
			CourseworkID: event.CourseworkID,
			Actor:        actor,
			Action:       event.Type,
			EntityType:   entityType,
			EntityID:     &id,
			Metadata:     metadata,
		}
		if _, err := s.activity.Record(ctx, entry); err != nil {
			log.Warn().Err(err).Str("action", event.Type).Msg("failed to record workflow activity")
		}
	}

	if s.events != nil {
		event.ActorID = actor.ID
		event.Data = metadata
		if event.OccurredAt.IsZero() {
			event.OccurredAt = s.now().UTC()
		}
		if err := s.events.Publish(ctx, event); err != nil {
			for _, broker := range failedBrokers(err) {
				observability.EventPublishFailures().WithLabelValues(broker).Inc()
			}
			log.Warn().Err(err).Str("event", event.Type).Msg("failed to publish workflow event")
		}
	}
}

func failedBrokers(err error) []string {
	var brokers []string
	var visit func(error)
	visit = func(e error) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				visit(inner)
			}
			return
		}
		var brokerErr *BrokerError
		if errors.As(e, &brokerErr) {
			brokers = append(brokers, brokerErr.Broker)
		}
	}
	visit(err)
	if len(brokers) == 0 {
		brokers = append(brokers, "unknown")
	}
	return brokers
}

func formatInstant(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

func (s *workflowService) ResolveDeadline(ctx context.Context, courseworkID uint, owner models.Allocatable) (time.Time, error) {
	if !owner.Valid() {
		return time.Time{}, invalidField(errors.New("invalid allocatable"), "owner", "must name a user or group")
	}
	coursework, err := s.loadCoursework(ctx, courseworkID)
	if err != nil {
		return time.Time{}, err
	}
	extension, personal, _, err := s.loadOwnerFacts(ctx, coursework, owner)
	if err != nil {
		return time.Time{}, err
	}
	return grading.EffectiveDeadline(coursework, extension, personal), nil
}

func (s *workflowService) ValidateGrade(ctx context.Context, courseworkID uint, value float64) error {
	coursework, err := s.loadCoursework(ctx, courseworkID)
	if err != nil {
		return err
	}
	scale, err := s.scaleFor(ctx, coursework)
	if err != nil {
		return err
	}
	if scale.Kind == grading.ScaleRubric {
		return invalidField(grading.ErrRubricInvalid, "grade", "rubric courseworks are graded per criterion")
	}
	if err := scale.Validate(value); err != nil {
		return validationFailure(err)
	}
	return nil
}
