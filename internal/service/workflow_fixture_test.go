package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-coursework/internal/access"
	"github.com/noah-isme/gema-coursework/internal/dto"
	"github.com/noah-isme/gema-coursework/internal/models"
	"github.com/noah-isme/gema-coursework/internal/repository"
)

var (
	student  = access.Actor{ID: 1, Role: "student"}
	student2 = access.Actor{ID: 2, Role: "student"}
	marker1  = access.Actor{ID: 100, Role: "teacher"}
	marker2  = access.Actor{ID: 101, Role: "teacher"}
	marker3  = access.Actor{ID: 102, Role: "teacher"}
	manager  = access.Actor{ID: 900, Role: "manager"}
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testOracle() access.Oracle {
	return access.NewRoleOracle(map[string][]access.Action{
		"student": {access.ActionSubmit, access.ActionEditSubmission, access.ActionFinalise},
		"teacher": {
			access.ActionAddInitialGrade,
			access.ActionAddAgreedGrade,
			access.ActionAddModeratorGrade,
			access.ActionModerate,
			access.ActionViewGrades,
		},
		"manager": {
			access.ActionSubmitOnBehalf,
			access.ActionEditSubmission,
			access.ActionFinalise,
			access.ActionUnfinalise,
			access.ActionRevertSubmission,
			access.ActionAddInitialGrade,
			access.ActionAddAgreedGrade,
			access.ActionAdministerGrades,
			access.ActionModerate,
			access.ActionPublish,
			access.ActionGrantExtension,
			access.ActionGrantPersonalDeadline,
			access.ActionAllocate,
			access.ActionFlagPlagiarism,
			access.ActionManageRubric,
			access.ActionViewGrades,
		},
	})
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []WorkflowEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event WorkflowEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type workflowFixture struct {
	t        *testing.T
	db       *gorm.DB
	svc      WorkflowService
	repos    WorkflowRepositories
	activity ActivityService
	events   *recordingPublisher
	redis    *miniredis.Miniredis
	now      time.Time
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &workflowFixture{
		t:      t,
		db:     db,
		repos:  NewWorkflowRepositories(db),
		events: &recordingPublisher{},
		redis:  server,
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.activity = NewActivityService(repository.NewActivityLogRepository(db), testLogger())
	f.svc = NewWorkflowService(f.repos, testOracle(), nil, testLogger(), WorkflowOptions{
		ClassBoundaries: []float64{40, 50, 60, 70},
		Cache:           NewRedisStatusCache(client, "coursework", time.Minute),
		Events:          f.events,
		Activity:        f.activity,
		Clock:           func() time.Time { return f.now },
	})
	return f
}

func (f *workflowFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// coursework stores a coursework opened an hour ago and due in a day, after
// applying the given adjustments.
func (f *workflowFixture) coursework(adjust func(*models.Coursework)) models.Coursework {
	f.t.Helper()
	coursework := models.Coursework{
		Name:            "Essay",
		StartDate:       f.now.Add(-time.Hour),
		Deadline:        f.now.Add(24 * time.Hour),
		NumberOfMarkers: 1,
		Grade:           100,
	}
	if adjust != nil {
		adjust(&coursework)
	}
	require.NoError(f.t, f.repos.Courseworks.Create(context.Background(), &coursework))
	return coursework
}

func (f *workflowFixture) submit(actor access.Actor, courseworkID uint, finalise bool) models.Submission {
	f.t.Helper()
	submission, err := f.svc.Submit(context.Background(), actor, dto.SubmitRequest{
		CourseworkID: courseworkID,
		Owner:        dto.AllocatableRef{ID: actor.ID, Type: "user"},
		FilesRef:     "files/essay.pdf",
		Finalise:     finalise,
	})
	require.NoError(f.t, err)
	return submission
}

func (f *workflowFixture) mark(actor access.Actor, submissionID uint, stage string, grade float64, finalised bool) models.Feedback {
	f.t.Helper()
	feedback, err := f.svc.AddFeedback(context.Background(), actor, dto.FeedbackRequest{
		SubmissionID: submissionID,
		Stage:        stage,
		Grade:        &grade,
		Comment:      "<p>Solid work</p>",
		Finalised:    finalised,
	})
	require.NoError(f.t, err)
	return feedback
}

func (f *workflowFixture) status(submissionID uint) dto.SubmissionStatusResponse {
	f.t.Helper()
	status, err := f.svc.SubmissionStatus(context.Background(), submissionID)
	require.NoError(f.t, err)
	return status
}

func doubleMarked(spread float64) func(*models.Coursework) {
	return func(c *models.Coursework) {
		c.NumberOfMarkers = 2
		c.AutomaticAgreementEnabled = true
		c.AutomaticAgreementRange = spread
		c.AutomaticAgreementStrategy = "average_no_straddle"
	}
}

func gradePtr(v float64) *float64 {
	return &v
}
