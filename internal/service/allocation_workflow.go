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

func courseworkEntity(coursework models.Coursework) access.Entity {
	return access.Entity{Type: "coursework", ID: coursework.ID, CourseworkID: coursework.ID}
}

func (s *workflowService) Allocate(ctx context.Context, actor access.Actor, req dto.AllocationRequest) (models.AllocationPair, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.allocate", trace.WithAttributes(
		attribute.Int64("coursework.id", int64(req.CourseworkID)),
		attribute.String("feedback.stage", req.Stage),
	))
	pair, err := s.allocate(ctx, actor, req)
	s.finish(span, "allocate", err)
	return pair, err
}

func (s *workflowService) allocate(ctx context.Context, actor access.Actor, req dto.AllocationRequest) (models.AllocationPair, error) {
	if err := s.validate(req); err != nil {
		return models.AllocationPair{}, err
	}

	owner := req.Owner.Allocatable()
	coursework, err := s.loadCoursework(ctx, req.CourseworkID)
	if err != nil {
		return models.AllocationPair{}, err
	}
	if err := s.checkOwner(coursework, owner); err != nil {
		return models.AllocationPair{}, err
	}
	if !coursework.AllocationEnabled {
		return models.AllocationPair{}, conflictState(ErrFeatureDisabled, "allocation is not enabled for coursework %d", coursework.ID)
	}
	stage, err := grading.ParseStage(req.Stage)
	if err != nil || !stage.IsInitial() || !grading.StageExists(coursework, stage) {
		return models.AllocationPair{}, invalidField(grading.ErrUnknownStage, "stage", "must be an initial marking stage of this coursework")
	}
	if err := s.authorize(ctx, actor, access.ActionAllocate, ownerEntity(coursework, owner, 0)); err != nil {
		return models.AllocationPair{}, err
	}

	pairs, err := s.repos.Allocations.ListByCoursework(ctx, coursework.ID)
	if err != nil {
		return models.AllocationPair{}, fmt.Errorf("list allocations: %w", err)
	}
	var pair models.AllocationPair
	for _, candidate := range pairs {
		if candidate.Owner() != owner {
			continue
		}
		if candidate.StageIdentifier == stage.String() {
			pair = candidate
			continue
		}
		if candidate.AssessorID == req.AssessorID {
			return models.AllocationPair{}, invalidField(errors.New("assessor already allocated"), "assessor_id", "already marks "+candidate.StageIdentifier)
		}
	}

	submission, err := s.repos.Submissions.GetByOwner(ctx, coursework.ID, owner)
	switch {
	case err == nil:
		if feedback, ok := grading.FeedbackByStage(submission.Feedbacks)[stage]; ok && feedback.AssessorID != req.AssessorID {
			return models.AllocationPair{}, conflictState(ErrStageAllocated, "stage %s of %s already has feedback from another assessor", stage, owner)
		}
	case !repository.IsNotFound(err):
		return models.AllocationPair{}, fmt.Errorf("load submission: %w", err)
	}

	if pair.ID == 0 {
		pair = models.AllocationPair{
			CourseworkID:    coursework.ID,
			AllocatableID:   owner.ID,
			AllocatableType: owner.Type,
			StageIdentifier: stage.String(),
		}
	}
	pair.AssessorID = req.AssessorID
	pair.IsManual = true

	if err := s.repos.Allocations.Save(ctx, &pair); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return models.AllocationPair{}, newError(KindConflict, err, "stage %s of %s is already allocated", stage, owner)
		}
		return models.AllocationPair{}, fmt.Errorf("save allocation: %w", err)
	}

	s.committed(ctx, actor, WorkflowEvent{
		Type:         EventAllocationChanged,
		CourseworkID: coursework.ID,
		SubmissionID: submission.ID,
	}, "allocation", pair.ID, map[string]interface{}{
		"allocatable": owner.String(),
		"stage":       pair.StageIdentifier,
		"assessor_id": pair.AssessorID,
		"manual":      true,
	})

	return pair, nil
}

func (s *workflowService) AutoAllocate(ctx context.Context, actor access.Actor, req dto.AutoAllocateRequest) ([]models.AllocationPair, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.auto_allocate", trace.WithAttributes(attribute.Int64("coursework.id", int64(req.CourseworkID))))
	pairs, err := s.autoAllocate(ctx, actor, req)
	s.finish(span, "auto_allocate", err)
	return pairs, err
}

// autoAllocate fills every unallocated initial stage, giving each one to the
// least loaded assessor not already marking that allocatable. Existing pairs
// are kept.
func (s *workflowService) autoAllocate(ctx context.Context, actor access.Actor, req dto.AutoAllocateRequest) ([]models.AllocationPair, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	coursework, err := s.loadCoursework(ctx, req.CourseworkID)
	if err != nil {
		return nil, err
	}
	if !coursework.AllocationEnabled {
		return nil, conflictState(ErrFeatureDisabled, "allocation is not enabled for coursework %d", coursework.ID)
	}
	if err := s.authorize(ctx, actor, access.ActionAllocate, courseworkEntity(coursework)); err != nil {
		return nil, err
	}

	owners := make([]models.Allocatable, 0, len(req.Owners))
	for _, ref := range req.Owners {
		owner := ref.Allocatable()
		if err := s.checkOwner(coursework, owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}

	assessors := make([]uint, 0, len(req.AssessorIDs))
	seen := make(map[uint]struct{}, len(req.AssessorIDs))
	for _, id := range req.AssessorIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		assessors = append(assessors, id)
	}

	existing, err := s.repos.Allocations.ListByCoursework(ctx, coursework.ID)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	load := make(map[uint]int, len(assessors))
	byOwner := make(map[models.Allocatable]map[string]uint)
	for _, pair := range existing {
		load[pair.AssessorID]++
		stages := byOwner[pair.Owner()]
		if stages == nil {
			stages = make(map[string]uint)
			byOwner[pair.Owner()] = stages
		}
		stages[pair.StageIdentifier] = pair.AssessorID
	}

	created := make([]models.AllocationPair, 0)
	for _, owner := range owners {
		stages := byOwner[owner]
		used := make(map[uint]struct{}, len(stages))
		for _, assessor := range stages {
			used[assessor] = struct{}{}
		}

		for _, stage := range grading.InitialStages(coursework.NumberOfMarkers) {
			if _, ok := stages[stage.String()]; ok {
				continue
			}
			assessor, ok := leastLoaded(assessors, load, used)
			if !ok {
				break
			}
			pair := models.AllocationPair{
				CourseworkID:    coursework.ID,
				AllocatableID:   owner.ID,
				AllocatableType: owner.Type,
				StageIdentifier: stage.String(),
				AssessorID:      assessor,
			}
			if err := s.repos.Allocations.Save(ctx, &pair); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					continue
				}
				return created, fmt.Errorf("save allocation: %w", err)
			}
			load[assessor]++
			used[assessor] = struct{}{}
			created = append(created, pair)
		}
	}

	if len(created) > 0 {
		s.committed(ctx, actor, WorkflowEvent{
			Type:         EventAllocationChanged,
			CourseworkID: coursework.ID,
		}, "coursework", coursework.ID, map[string]interface{}{
			"created": len(created),
			"manual":  false,
		})
	}

	return created, nil
}

func leastLoaded(assessors []uint, load map[uint]int, used map[uint]struct{}) (uint, bool) {
	var best uint
	found := false
	for _, assessor := range assessors {
		if _, taken := used[assessor]; taken {
			continue
		}
		if !found || load[assessor] < load[best] {
			best = assessor
			found = true
		}
	}
	return best, found
}

func (s *workflowService) SetSampleMembership(ctx context.Context, actor access.Actor, req dto.SampleRequest) error {
	ctx, span := s.tracer.Start(ctx, "workflow.set_sample_membership", trace.WithAttributes(
		attribute.Int64("coursework.id", int64(req.CourseworkID)),
		attribute.String("feedback.stage", req.Stage),
	))
	err := s.setSampleMembership(ctx, actor, req)
	s.finish(span, "set_sample_membership", err)
	return err
}

func (s *workflowService) setSampleMembership(ctx context.Context, actor access.Actor, req dto.SampleRequest) error {
	if err := s.validate(req); err != nil {
		return err
	}

	owner := req.Owner.Allocatable()
	coursework, err := s.loadCoursework(ctx, req.CourseworkID)
	if err != nil {
		return err
	}
	if err := s.checkOwner(coursework, owner); err != nil {
		return err
	}
	if !coursework.SamplingEnabled {
		return conflictState(ErrFeatureDisabled, "sampling is not enabled for coursework %d", coursework.ID)
	}
	stage, err := grading.ParseStage(req.Stage)
	n, ok := stage.AssessorNumber()
	if err != nil || !ok || n < 2 || n > coursework.NumberOfMarkers {
		return invalidField(grading.ErrUnknownStage, "stage", "sampling applies to assessor_2 and later stages")
	}
	if err := s.authorize(ctx, actor, access.ActionAllocate, ownerEntity(coursework, owner, 0)); err != nil {
		return err
	}

	submission, err := s.repos.Submissions.GetByOwner(ctx, coursework.ID, owner)
	if err != nil && !repository.IsNotFound(err) {
		return fmt.Errorf("load submission: %w", err)
	}

	if req.InSample {
		member := models.SampleMember{
			CourseworkID:    coursework.ID,
			AllocatableID:   owner.ID,
			AllocatableType: owner.Type,
			StageIdentifier: stage.String(),
		}
		if err := s.repos.Allocations.AddSample(ctx, &member); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil
			}
			return fmt.Errorf("add sample member: %w", err)
		}
	} else {
		if _, marked := grading.FeedbackByStage(submission.Feedbacks)[stage]; marked {
			return conflictState(nil, "stage %s of %s is already marked", stage, owner)
		}
		if err := s.repos.Allocations.RemoveSample(ctx, coursework.ID, owner, stage.String()); err != nil {
			return fmt.Errorf("remove sample member: %w", err)
		}
	}

	s.committed(ctx, actor, WorkflowEvent{
		Type:         EventSampleChanged,
		CourseworkID: coursework.ID,
		SubmissionID: submission.ID,
	}, "coursework", coursework.ID, map[string]interface{}{
		"allocatable": owner.String(),
		"stage":       stage.String(),
		"in_sample":   req.InSample,
	}, submission.ID)

	return nil
}
