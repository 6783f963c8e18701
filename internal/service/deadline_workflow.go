package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-coursework/internal/access"
	"github.com/noah-isme/gema-coursework/internal/dto"
	"github.com/noah-isme/gema-coursework/internal/grading"
	"github.com/noah-isme/gema-coursework/internal/models"
	"github.com/noah-isme/gema-coursework/internal/repository"
)

// ownerSubmissionID returns the submission of owner, or zero when there is none.
func (s *workflowService) ownerSubmissionID(ctx context.Context, courseworkID uint, owner models.Allocatable) uint {
	submission, err := s.repos.Submissions.GetByOwner(ctx, courseworkID, owner)
	if err != nil {
		return 0
	}
	return submission.ID
}

func (s *workflowService) checkOwner(coursework models.Coursework, owner models.Allocatable) error {
	if !owner.Valid() {
		return invalidField(errors.New("unknown allocatable"), "owner.type", "must be user or group")
	}
	if coursework.UseGroups != owner.IsGroup() {
		message := "must be a user"
		if coursework.UseGroups {
			message = "must be a group"
		}
		return invalidField(errors.New("allocatable type does not match coursework mode"), "owner.type", message)
	}
	return nil
}

func (s *workflowService) GrantExtension(ctx context.Context, actor access.Actor, req dto.ExtensionRequest) (models.DeadlineExtension, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.grant_extension", trace.WithAttributes(attribute.Int64("coursework.id", int64(req.CourseworkID))))
	extension, err := s.grantExtension(ctx, actor, req)
	s.finish(span, "grant_extension", err)
	return extension, err
}

func (s *workflowService) grantExtension(ctx context.Context, actor access.Actor, req dto.ExtensionRequest) (models.DeadlineExtension, error) {
	if err := s.validate(req); err != nil {
		return models.DeadlineExtension{}, err
	}

	owner := req.Owner.Allocatable()
	coursework, err := s.loadCoursework(ctx, req.CourseworkID)
	if err != nil {
		return models.DeadlineExtension{}, err
	}
	if err := s.checkOwner(coursework, owner); err != nil {
		return models.DeadlineExtension{}, err
	}
	if !coursework.ExtensionsEnabled {
		return models.DeadlineExtension{}, conflictState(ErrFeatureDisabled, "extensions are not enabled for coursework %d", coursework.ID)
	}
	if err := s.authorize(ctx, actor, access.ActionGrantExtension, ownerEntity(coursework, owner, 0)); err != nil {
		return models.DeadlineExtension{}, err
	}

	existing, personal, _, err := s.loadOwnerFacts(ctx, coursework, owner)
	if err != nil {
		return models.DeadlineExtension{}, err
	}
	base := grading.EffectiveDeadline(coursework, nil, personal)
	if base.IsZero() {
		return models.DeadlineExtension{}, invalidField(errors.New("coursework has no deadline"), "extended_deadline", "cannot extend a coursework without a deadline")
	}
	if !req.ExtendedDeadline.After(base) {
		return models.DeadlineExtension{}, invalidField(errors.New("extension does not extend the deadline"), "extended_deadline", "must be after "+formatInstant(base))
	}

	extension := models.DeadlineExtension{
		CourseworkID:    coursework.ID,
		AllocatableID:   owner.ID,
		AllocatableType: owner.Type,
		CreatedBy:       actor.ID,
	}
	if existing != nil {
		extension = *existing
	}
	extension.ExtendedDeadline = req.ExtendedDeadline
	extension.PreDefinedReason = req.PreDefinedReason
	extension.ExtraInformation = s.sanitize(req.ExtraInformation)
	extension.LastModifiedBy = actor.ID

	if err := s.repos.Deadlines.SaveExtension(ctx, &extension); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return models.DeadlineExtension{}, newError(KindConflict, err, "%s already has an extension", owner)
		}
		return models.DeadlineExtension{}, fmt.Errorf("save extension: %w", err)
	}

	submissionID := s.ownerSubmissionID(ctx, coursework.ID, owner)
	s.committed(ctx, actor, WorkflowEvent{
		Type:         EventExtensionGranted,
		CourseworkID: coursework.ID,
		SubmissionID: submissionID,
	}, "deadline_extension", extension.ID, map[string]interface{}{
		"allocatable":       owner.String(),
		"extended_deadline": extension.ExtendedDeadline,
		"reason":            extension.PreDefinedReason,
	}, submissionID)

	return extension, nil
}

func (s *workflowService) SetPersonalDeadline(ctx context.Context, actor access.Actor, req dto.PersonalDeadlineRequest) (models.PersonalDeadline, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.set_personal_deadline", trace.WithAttributes(attribute.Int64("coursework.id", int64(req.CourseworkID))))
	deadline, err := s.setPersonalDeadline(ctx, actor, req)
	s.finish(span, "set_personal_deadline", err)
	return deadline, err
}

func (s *workflowService) setPersonalDeadline(ctx context.Context, actor access.Actor, req dto.PersonalDeadlineRequest) (models.PersonalDeadline, error) {
	if err := s.validate(req); err != nil {
		return models.PersonalDeadline{}, err
	}

	owner := req.Owner.Allocatable()
	coursework, err := s.loadCoursework(ctx, req.CourseworkID)
	if err != nil {
		return models.PersonalDeadline{}, err
	}
	if err := s.checkOwner(coursework, owner); err != nil {
		return models.PersonalDeadline{}, err
	}
	if !coursework.PersonalDeadlineEnabled {
		return models.PersonalDeadline{}, conflictState(ErrFeatureDisabled, "personal deadlines are not enabled for coursework %d", coursework.ID)
	}
	if err := s.authorize(ctx, actor, access.ActionGrantPersonalDeadline, ownerEntity(coursework, owner, 0)); err != nil {
		return models.PersonalDeadline{}, err
	}

	extension, existing, _, err := s.loadOwnerFacts(ctx, coursework, owner)
	if err != nil {
		return models.PersonalDeadline{}, err
	}
	if grading.ExtensionApplies(coursework, extension) {
		return models.PersonalDeadline{}, conflictState(ErrFeatureDisabled, "%s has an extension that overrides the personal deadline", owner)
	}
	if !coursework.StartDate.IsZero() && !req.Deadline.After(coursework.StartDate) {
		return models.PersonalDeadline{}, invalidField(errors.New("personal deadline precedes the start date"), "deadline", "must be after "+formatInstant(coursework.StartDate))
	}

	deadline := models.PersonalDeadline{
		CourseworkID:    coursework.ID,
		AllocatableID:   owner.ID,
		AllocatableType: owner.Type,
		CreatedBy:       actor.ID,
	}
	if existing != nil {
		deadline = *existing
	}
	deadline.Deadline = req.Deadline
	deadline.LastModifiedBy = actor.ID

	if err := s.repos.Deadlines.SavePersonalDeadline(ctx, &deadline); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return models.PersonalDeadline{}, newError(KindConflict, err, "%s already has a personal deadline", owner)
		}
		return models.PersonalDeadline{}, fmt.Errorf("save personal deadline: %w", err)
	}

	submissionID := s.ownerSubmissionID(ctx, coursework.ID, owner)
	s.committed(ctx, actor, WorkflowEvent{
		Type:         EventPersonalDeadlineSet,
		CourseworkID: coursework.ID,
		SubmissionID: submissionID,
	}, "personal_deadline", deadline.ID, map[string]interface{}{
		"allocatable": owner.String(),
		"deadline":    deadline.Deadline,
	}, submissionID)

	return deadline, nil
}
