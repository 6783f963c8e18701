package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-coursework/internal/models"
)

func setupWorkflowTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func seedCoursework(t *testing.T, db *gorm.DB) models.Coursework {
	t.Helper()
	coursework := models.Coursework{Name: "Essay", NumberOfMarkers: 2, Grade: 100}
	require.NoError(t, NewCourseworkRepository(db).Create(context.Background(), &coursework))
	return coursework
}

func TestSubmissionRepositoryOwnerUniqueness(t *testing.T) {
	db := setupWorkflowTestDB(t)
	coursework := seedCoursework(t, db)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	first := models.Submission{CourseworkID: coursework.ID, AuthorID: 7, CreatedBy: 7, LastUpdatedBy: 7}
	first.SetOwner(models.User(7))
	require.NoError(t, repo.Create(ctx, &first))
	require.NotNil(t, first.AllocatableUser)
	require.Nil(t, first.AllocatableGroup)

	second := models.Submission{CourseworkID: coursework.ID, AuthorID: 7, CreatedBy: 7, LastUpdatedBy: 7}
	second.SetOwner(models.User(7))
	require.ErrorIs(t, repo.Create(ctx, &second), ErrDuplicate)

	group := models.Submission{CourseworkID: coursework.ID, AuthorID: 7, CreatedBy: 7, LastUpdatedBy: 7}
	group.SetOwner(models.Group(7))
	require.NoError(t, repo.Create(ctx, &group), "a group with the same id is a different owner")

	loaded, err := repo.GetByOwner(ctx, coursework.ID, models.User(7))
	require.NoError(t, err)
	require.Equal(t, first.ID, loaded.ID)

	_, err = repo.GetByOwner(ctx, coursework.ID, models.User(8))
	require.True(t, IsNotFound(err))
}

func TestSubmissionRepositoryListFiltersAndPreloads(t *testing.T) {
	db := setupWorkflowTestDB(t)
	coursework := seedCoursework(t, db)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	draft := models.Submission{CourseworkID: coursework.ID}
	draft.SetOwner(models.User(1))
	require.NoError(t, repo.Create(ctx, &draft))

	final := models.Submission{CourseworkID: coursework.ID, Finalised: models.Finalised}
	final.SetOwner(models.User(2))
	require.NoError(t, repo.Create(ctx, &final))

	published := time.Now()
	released := models.Submission{CourseworkID: coursework.ID, Finalised: models.Finalised, FirstPublished: &published}
	released.SetOwner(models.User(3))
	require.NoError(t, repo.Create(ctx, &released))

	grade := 70.0
	require.NoError(t, NewFeedbackRepository(db).Create(ctx, &models.Feedback{SubmissionID: final.ID, StageIdentifier: "assessor_2", Grade: &grade}))
	require.NoError(t, NewFeedbackRepository(db).Create(ctx, &models.Feedback{SubmissionID: final.ID, StageIdentifier: "assessor_1", Grade: &grade}))

	state := models.NotFinalised
	drafts, err := repo.List(ctx, SubmissionFilter{CourseworkID: coursework.ID, Finalised: &state})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	require.Equal(t, draft.ID, drafts[0].ID)

	unpublished, err := repo.List(ctx, SubmissionFilter{CourseworkID: coursework.ID, Unpublished: true})
	require.NoError(t, err)
	require.Len(t, unpublished, 2)
	require.Len(t, unpublished[1].Feedbacks, 2)
	require.Equal(t, "assessor_1", unpublished[1].Feedbacks[0].StageIdentifier)

	require.NoError(t, repo.Delete(ctx, draft.ID))
	require.True(t, IsNotFound(repo.Delete(ctx, draft.ID)))
}

func TestFeedbackRepositoryRejectsSecondFeedbackForStage(t *testing.T) {
	db := setupWorkflowTestDB(t)
	coursework := seedCoursework(t, db)
	submission := models.Submission{CourseworkID: coursework.ID}
	submission.SetOwner(models.User(1))
	require.NoError(t, NewSubmissionRepository(db).Create(context.Background(), &submission))

	repo := NewFeedbackRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &models.Feedback{SubmissionID: submission.ID, StageIdentifier: "assessor_1", AssessorID: 10}))
	require.ErrorIs(t, repo.Create(ctx, &models.Feedback{SubmissionID: submission.ID, StageIdentifier: "assessor_1", AssessorID: 11}), ErrDuplicate)

	loaded, err := NewSubmissionRepository(db).GetByID(ctx, submission.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Feedbacks, 1)
	require.Equal(t, uint(10), loaded.Feedbacks[0].AssessorID)
}

func TestDeadlineRepositoryFindReturnsNilWhenMissing(t *testing.T) {
	db := setupWorkflowTestDB(t)
	coursework := seedCoursework(t, db)
	repo := NewDeadlineRepository(db)
	ctx := context.Background()
	owner := models.User(4)

	extension, err := repo.FindExtension(ctx, coursework.ID, owner)
	require.NoError(t, err)
	require.Nil(t, extension)

	saved := models.DeadlineExtension{CourseworkID: coursework.ID, AllocatableID: owner.ID, AllocatableType: owner.Type, ExtendedDeadline: time.Now().Add(time.Hour)}
	require.NoError(t, repo.SaveExtension(ctx, &saved))

	duplicate := models.DeadlineExtension{CourseworkID: coursework.ID, AllocatableID: owner.ID, AllocatableType: owner.Type, ExtendedDeadline: time.Now()}
	require.ErrorIs(t, repo.SaveExtension(ctx, &duplicate), ErrDuplicate)

	saved.PreDefinedReason = "illness"
	require.NoError(t, repo.SaveExtension(ctx, &saved))
	extension, err = repo.FindExtension(ctx, coursework.ID, owner)
	require.NoError(t, err)
	require.NotNil(t, extension)
	require.Equal(t, "illness", extension.PreDefinedReason)

	personal, err := repo.FindPersonalDeadline(ctx, coursework.ID, owner)
	require.NoError(t, err)
	require.Nil(t, personal)
}

func TestAllocationRepositorySamples(t *testing.T) {
	db := setupWorkflowTestDB(t)
	coursework := seedCoursework(t, db)
	repo := NewAllocationRepository(db)
	ctx := context.Background()
	owner := models.Group(2)

	pair := models.AllocationPair{CourseworkID: coursework.ID, AllocatableID: owner.ID, AllocatableType: owner.Type, StageIdentifier: "assessor_1", AssessorID: 5}
	require.NoError(t, repo.Save(ctx, &pair))
	clash := models.AllocationPair{CourseworkID: coursework.ID, AllocatableID: owner.ID, AllocatableType: owner.Type, StageIdentifier: "assessor_1", AssessorID: 6}
	require.ErrorIs(t, repo.Save(ctx, &clash), ErrDuplicate)

	found, err := repo.Find(ctx, coursework.ID, owner, "assessor_1")
	require.NoError(t, err)
	require.Equal(t, uint(5), found.AssessorID)
	missing, err := repo.Find(ctx, coursework.ID, owner, "assessor_2")
	require.NoError(t, err)
	require.Nil(t, missing)

	member := models.SampleMember{CourseworkID: coursework.ID, AllocatableID: owner.ID, AllocatableType: owner.Type, StageIdentifier: "assessor_2"}
	require.NoError(t, repo.AddSample(ctx, &member))
	again := member
	again.ID = 0
	require.ErrorIs(t, repo.AddSample(ctx, &again), ErrDuplicate)

	stages, err := repo.SampledStages(ctx, coursework.ID, owner)
	require.NoError(t, err)
	require.Equal(t, []string{"assessor_2"}, stages)

	require.NoError(t, repo.RemoveSample(ctx, coursework.ID, owner, "assessor_2"))
	stages, err = repo.SampledStages(ctx, coursework.ID, owner)
	require.NoError(t, err)
	require.Empty(t, stages)
}

func TestPlagiarismRepositoryListBySubmissions(t *testing.T) {
	db := setupWorkflowTestDB(t)
	repo := NewPlagiarismRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &models.PlagiarismFlag{SubmissionID: 1, Status: models.PlagiarismInvestigation}))
	require.NoError(t, repo.Save(ctx, &models.PlagiarismFlag{SubmissionID: 2, Status: models.PlagiarismCleared}))

	flags, err := repo.ListBySubmissions(ctx, []uint{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, flags, 2)
	require.True(t, flags[1].BlocksRelease())
	require.False(t, flags[2].BlocksRelease())

	empty, err := repo.ListBySubmissions(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestActivityLogRepositoryFilters(t *testing.T) {
	db := setupWorkflowTestDB(t)
	repo := NewActivityLogRepository(db)
	ctx := context.Background()

	entity := uint(3)
	other := uint(4)
	require.NoError(t, repo.Create(ctx, &models.ActivityLog{CourseworkID: 1, ActorID: 1, ActorRole: "teacher", Action: "submission.created", EntityType: "submission", EntityID: &entity}))
	require.NoError(t, repo.Create(ctx, &models.ActivityLog{CourseworkID: 1, ActorID: 1, ActorRole: "teacher", Action: "submission.finalised", EntityType: "submission", EntityID: &entity}))
	require.NoError(t, repo.Create(ctx, &models.ActivityLog{CourseworkID: 2, ActorID: 2, ActorRole: "student", Action: "submission.created", EntityType: "submission", EntityID: &other}))

	entries, total, err := repo.List(ctx, ActivityLogFilter{CourseworkID: 1})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, entries, 2)

	entries, total, err = repo.List(ctx, ActivityLogFilter{EntityType: "submission", EntityID: &entity, PageSize: 1})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, entries, 1)

	entries, _, err = repo.List(ctx, ActivityLogFilter{Action: "submission.created"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestCourseworkRepositoryListIDs(t *testing.T) {
	db := setupWorkflowTestDB(t)
	first := seedCoursework(t, db)
	second := seedCoursework(t, db)

	ids, err := NewCourseworkRepository(db).ListIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint{first.ID, second.ID}, ids)

	_, err = NewCourseworkRepository(db).GetScale(context.Background(), 99)
	require.True(t, IsNotFound(err))
}

func TestSubmissionRepositoryAutoFinaliseKeepsConcurrentEdits(t *testing.T) {
	db := setupWorkflowTestDB(t)
	coursework := seedCoursework(t, db)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	draft := models.Submission{CourseworkID: coursework.ID, FilesRef: "files/a.pdf", TimeSubmitted: now.Add(-time.Hour)}
	draft.SetOwner(models.User(1))
	require.NoError(t, repo.Create(ctx, &draft))

	edited, err := repo.GetByID(ctx, draft.ID)
	require.NoError(t, err)
	edited.FilesRef = "files/b.pdf"
	require.NoError(t, repo.Update(ctx, &edited))

	locked, err := repo.AutoFinalise(ctx, draft.ID, now, false)
	require.NoError(t, err)
	require.True(t, locked)

	loaded, err := repo.GetByID(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, models.AutoFinalised, loaded.Finalised)
	require.Equal(t, "files/b.pdf", loaded.FilesRef)
	require.NotNil(t, loaded.AllocatableUser)

	locked, err = repo.AutoFinalise(ctx, draft.ID, now, false)
	require.NoError(t, err)
	require.False(t, locked, "only drafts are locked")
}

func TestSubmissionRepositoryAutoFinaliseHonoursExtensions(t *testing.T) {
	db := setupWorkflowTestDB(t)
	coursework := seedCoursework(t, db)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	draft := models.Submission{CourseworkID: coursework.ID}
	draft.SetOwner(models.User(1))
	require.NoError(t, repo.Create(ctx, &draft))

	extension := models.DeadlineExtension{CourseworkID: coursework.ID, AllocatableID: 1, AllocatableType: models.AllocatableUser, ExtendedDeadline: now.Add(time.Hour)}
	require.NoError(t, NewDeadlineRepository(db).SaveExtension(ctx, &extension))

	locked, err := repo.AutoFinalise(ctx, draft.ID, now, true)
	require.NoError(t, err)
	require.False(t, locked, "a running extension keeps the draft open")

	locked, err = repo.AutoFinalise(ctx, draft.ID, now.Add(2*time.Hour), true)
	require.NoError(t, err)
	require.True(t, locked)
}

func TestSubmissionRepositoryMarkPublishedOnce(t *testing.T) {
	db := setupWorkflowTestDB(t)
	coursework := seedCoursework(t, db)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	submission := models.Submission{CourseworkID: coursework.ID, FilesRef: "files/a.pdf", Finalised: models.Finalised}
	submission.SetOwner(models.User(1))
	require.NoError(t, repo.Create(ctx, &submission))

	released, err := repo.MarkPublished(ctx, submission.ID, first)
	require.NoError(t, err)
	require.True(t, released)

	released, err = repo.MarkPublished(ctx, submission.ID, first.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, released)

	loaded, err := repo.GetByID(ctx, submission.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.FirstPublished)
	require.True(t, loaded.FirstPublished.Equal(first))
	require.True(t, loaded.LastPublished.Equal(first))
	require.Equal(t, "files/a.pdf", loaded.FilesRef)
}
