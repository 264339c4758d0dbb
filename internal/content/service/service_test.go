package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	"lms/internal/content/document"
	"lms/internal/content/events"
	"lms/internal/content/metrics"
	"lms/internal/content/models"
	"lms/internal/content/schema"
	"lms/internal/content/service/mocks"
	"lms/internal/content/store"
	"lms/internal/content/store/memory"
	dErrors "lms/pkg/domain-errors"
	"lms/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Publisher

func ptr[T any](v T) *T { return &v }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ServiceMockSuite checks error propagation and side effects against mocks.
type ServiceMockSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	store     *mocks.MockStore
	publisher *mocks.MockPublisher
	metrics   *metrics.Metrics
	service   *Service
	ctx       context.Context
}

func TestServiceMockSuite(t *testing.T) {
	suite.Run(t, new(ServiceMockSuite))
}

func (s *ServiceMockSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	svc, err := New(s.store,
		WithLogger(discardLogger()),
		WithMetrics(s.metrics),
		WithPublisher(s.publisher),
	)
	s.Require().NoError(err)
	s.service = svc
	s.ctx = requestcontext.WithRequestID(context.Background(), "req-1")
}

func (s *ServiceMockSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceMockSuite) TestCreate() {
	course := models.Course{Title: "Systems", Description: "d", InstructorID: "i1"}
	id := document.NewID()

	s.Run("returns stored view and publishes", func() {
		s.store.EXPECT().Create(gomock.Any(), course).Return(id, nil)
		s.store.EXPECT().Get(gomock.Any(), schema.KindCourse, id.String()).
			Return(document.View{"id": id.String(), "title": "Systems"}, nil)
		s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, e events.Event) error {
				s.Equal(events.DocumentCreated, e.Type)
				s.Equal("course", e.Kind)
				s.Equal(id.String(), e.DocumentID)
				s.Equal("req-1", e.RequestID)
				return nil
			})

		view, err := s.service.Create(s.ctx, course)
		s.Require().NoError(err)
		s.Equal(id.String(), view.ID())
	})

	s.Run("validation error is returned unchanged and nothing is published", func() {
		validation := dErrors.Validation("title", "is required")
		s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(document.ID{}, validation)

		_, err := s.service.Create(s.ctx, models.Course{})
		s.ErrorIs(err, validation)
	})

	s.Run("publish failure does not fail the write", func() {
		s.store.EXPECT().Create(gomock.Any(), course).Return(id, nil)
		s.store.EXPECT().Get(gomock.Any(), schema.KindCourse, id.String()).Return(document.View{"id": id.String()}, nil)
		s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

		_, err := s.service.Create(s.ctx, course)
		s.NoError(err)
	})

	s.Run("unreadable after create is internal", func() {
		s.store.EXPECT().Create(gomock.Any(), course).Return(id, nil)
		s.store.EXPECT().Get(gomock.Any(), schema.KindCourse, id.String()).Return(nil, nil)

		_, err := s.service.Create(s.ctx, course)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceMockSuite) TestStalledPublisherDoesNotHoldTheWrite() {
	svc, err := New(s.store,
		WithLogger(discardLogger()),
		WithPublisher(s.publisher),
		WithPublishTimeout(20*time.Millisecond),
	)
	s.Require().NoError(err)

	course := models.Course{Title: "Systems", Description: "d", InstructorID: "i1"}
	id := document.NewID()
	s.store.EXPECT().Create(gomock.Any(), course).Return(id, nil)
	s.store.EXPECT().Get(gomock.Any(), schema.KindCourse, id.String()).Return(document.View{"id": id.String()}, nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ events.Event) error {
			_, hasDeadline := ctx.Deadline()
			s.True(hasDeadline)
			<-ctx.Done()
			return ctx.Err()
		})

	reqCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	started := time.Now()
	view, err := svc.Create(reqCtx, course)
	s.Require().NoError(err)
	s.Equal(id.String(), view.ID())
	s.Less(time.Since(started), time.Second)
}

func (s *ServiceMockSuite) TestGet() {
	s.Run("absent maps to not found", func() {
		s.store.EXPECT().Get(gomock.Any(), schema.KindCourse, "65f0c0ffee0000000000beef").Return(nil, nil)

		_, err := s.service.Get(s.ctx, schema.KindCourse, "65f0c0ffee0000000000beef")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Contains(err.Error(), "Course not found")
	})

	s.Run("invalid id propagates", func() {
		s.store.EXPECT().Get(gomock.Any(), schema.KindLesson, "bad").
			Return(nil, dErrors.New(dErrors.CodeInvalidID, "invalid id format"))

		_, err := s.service.Get(s.ctx, schema.KindLesson, "bad")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidID))
	})
}

func (s *ServiceMockSuite) TestEnroll() {
	enrollment := models.Enrollment{CourseID: "c1", UserID: "u1"}

	s.Run("existing enrollment is counted and not published", func() {
		s.store.EXPECT().CreateOrGet(gomock.Any(), enrollment).
			Return(document.View{"id": "e1", "role": "student"}, false, nil)

		view, created, err := s.service.Enroll(s.ctx, enrollment)
		s.Require().NoError(err)
		s.False(created)
		s.Equal("e1", view.ID())
		s.Equal(1.0, testutil.ToFloat64(s.metrics.EnrollmentsDeduplicated))
	})

	s.Run("new enrollment publishes", func() {
		s.store.EXPECT().CreateOrGet(gomock.Any(), enrollment).
			Return(document.View{"id": "e2"}, true, nil)
		s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, e events.Event) error {
				s.Equal(events.EnrollmentCreated, e.Type)
				return nil
			})

		_, created, err := s.service.Enroll(s.ctx, enrollment)
		s.Require().NoError(err)
		s.True(created)
	})

	s.Run("storage unavailable propagates", func() {
		unavailable := dErrors.New(dErrors.CodeUnavailable, "storage unavailable")
		s.store.EXPECT().CreateOrGet(gomock.Any(), enrollment).Return(nil, false, unavailable)

		_, _, err := s.service.Enroll(s.ctx, enrollment)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}

func (s *ServiceMockSuite) TestSubmitIgnoresGraderFields() {
	submitted := models.Submission{AssignmentID: "a1", UserID: "u1", Content: ptr("answer"), Grade: ptr(100.0), Feedback: ptr("self-graded")}
	expected := models.Submission{AssignmentID: "a1", UserID: "u1", Content: ptr("answer")}

	s.store.EXPECT().Upsert(gomock.Any(), expected, models.SubmissionReplaceFields).
		Return(document.View{"id": "s1"}, false, nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e events.Event) error {
			s.Equal(events.SubmissionReplaced, e.Type)
			return nil
		})

	_, created, err := s.service.Submit(s.ctx, submitted)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SubmissionUpserts.WithLabelValues("replaced")))
}

func (s *ServiceMockSuite) TestGrade() {
	grade := models.Grade{Grade: ptr(9.0), Feedback: ptr("good")}
	s.store.EXPECT().Update(gomock.Any(), schema.KindSubmission, "s1", document.Fields{"grade": 9.0, "feedback": "good"}).
		Return(document.View{"id": "s1", "grade": 9.0}, nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	view, err := s.service.Grade(s.ctx, "s1", grade)
	s.Require().NoError(err)
	s.Equal(9.0, view["grade"])

	s.store.EXPECT().Update(gomock.Any(), schema.KindSubmission, "s2", gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeNotFound, "update submission: document not found"))
	_, err = s.service.Grade(s.ctx, "s2", grade)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceMockSuite) TestDiagnose() {
	s.Run("reports connected store", func() {
		s.store.EXPECT().Ping(gomock.Any()).Return(nil)
		s.store.EXPECT().Name().Return("lms")
		s.store.EXPECT().Collections(gomock.Any()).Return([]string{"course", "lesson"}, nil)

		d := s.service.Diagnose(s.ctx)
		s.Equal(BackendRunning, d.Backend)
		s.Equal(DatabaseConnected, d.Database)
		s.Equal("lms", d.DatabaseName)
		s.Equal(ConnectionConnected, d.ConnectionStatus)
		s.Equal([]string{"course", "lesson"}, d.Collections)
		s.Empty(d.Error)
	})

	s.Run("unreachable store degrades", func() {
		s.store.EXPECT().Ping(gomock.Any()).Return(errors.New("dial tcp 10.0.0.1:27017: connection refused"))

		d := s.service.Diagnose(s.ctx)
		s.Equal(BackendRunning, d.Backend)
		s.Equal(DatabaseUnavailable, d.Database)
		s.Equal(ConnectionNotConnected, d.ConnectionStatus)
		s.Empty(d.Collections)
		s.NotEmpty(d.Error)
	})

	s.Run("collection listing failure degrades", func() {
		s.store.EXPECT().Ping(gomock.Any()).Return(nil)
		s.store.EXPECT().Name().Return("lms")
		s.store.EXPECT().Collections(gomock.Any()).Return(nil, errors.New(string(make([]byte, 200))))

		d := s.service.Diagnose(s.ctx)
		s.Equal(DatabaseError, d.Database)
		s.NotNil(d.Collections)
		s.LessOrEqual(len(d.Error), maxDiagnosticError)
	})

	s.Run("multibyte error text is cut between characters", func() {
		s.store.EXPECT().Ping(gomock.Any()).Return(errors.New(strings.Repeat("é", 100)))

		d := s.service.Diagnose(s.ctx)
		s.True(utf8.ValidString(d.Error))
		s.Equal(strings.Repeat("é", maxDiagnosticError), d.Error)
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short ascii", "refused", "refused"},
		{"exact length", strings.Repeat("a", maxDiagnosticError), strings.Repeat("a", maxDiagnosticError)},
		{"long ascii", strings.Repeat("a", 120), strings.Repeat("a", maxDiagnosticError)},
		{"long multibyte", strings.Repeat("日", 81), strings.Repeat("日", maxDiagnosticError)},
		{"mixed", "x" + strings.Repeat("ü", 90), "x" + strings.Repeat("ü", maxDiagnosticError-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in)
			if got != tt.want {
				t.Fatalf("truncate() = %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("truncate() produced invalid UTF-8 %q", got)
			}
		})
	}
}

func (s *ServiceMockSuite) TestCollectionsDegrade() {
	s.store.EXPECT().Collections(gomock.Any()).Return(nil, errors.New("boom"))
	s.Equal([]string{}, s.service.Collections(s.ctx))
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	if err == nil {
		t.Fatal("expected error for nil store")
	}
}

// ServiceScenarioSuite runs the domain rules against the in-memory backend.
type ServiceScenarioSuite struct {
	suite.Suite
	backend *memory.InMemory
	service *Service
	ctx     context.Context
}

func TestServiceScenarioSuite(t *testing.T) {
	suite.Run(t, new(ServiceScenarioSuite))
}

func (s *ServiceScenarioSuite) SetupTest() {
	s.backend = memory.New()
	adapter, err := store.New(s.backend)
	s.Require().NoError(err)
	svc, err := New(adapter, WithLogger(discardLogger()))
	s.Require().NoError(err)
	s.service = svc
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
}

func (s *ServiceScenarioSuite) TestCourseLifecycle() {
	course, err := s.service.Create(s.ctx, models.Course{Title: "Operating Systems", Description: "Kernels", InstructorID: "i1", Tags: []string{"core"}})
	s.Require().NoError(err)
	courseID := course.ID()

	for _, l := range []models.Lesson{
		{CourseID: courseID, Title: "Scheduling", Order: ptr(2)},
		{CourseID: courseID, Title: "Processes"},
		{CourseID: courseID, Title: "Memory", Order: ptr(3)},
	} {
		_, err := s.service.Create(s.ctx, l)
		s.Require().NoError(err)
	}
	lessons, err := s.service.List(s.ctx, schema.KindLesson, store.Where("course_id", courseID), 0)
	s.Require().NoError(err)
	s.Require().Len(lessons, 3)
	s.Equal("Processes", lessons[0]["title"])
	s.Equal("Scheduling", lessons[1]["title"])
	s.Equal("Memory", lessons[2]["title"])

	first, created, err := s.service.Enroll(s.ctx, models.Enrollment{CourseID: courseID, UserID: "u1"})
	s.Require().NoError(err)
	s.True(created)
	second, created, err := s.service.Enroll(s.ctx, models.Enrollment{CourseID: courseID, UserID: "u1", Role: ptr("ta")})
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID(), second.ID())
	s.Equal("student", second["role"])

	assignment, err := s.service.Create(s.ctx, models.Assignment{CourseID: courseID, Title: "Shell"})
	s.Require().NoError(err)
	s.EqualValues(100, assignment["max_points"])

	sub, created, err := s.service.Submit(s.ctx, models.Submission{AssignmentID: assignment.ID(), UserID: "u1", Content: ptr("v1")})
	s.Require().NoError(err)
	s.True(created)

	_, err = s.service.Grade(s.ctx, sub.ID(), models.Grade{Grade: ptr(90.0), Feedback: ptr("solid")})
	s.Require().NoError(err)

	resub, created, err := s.service.Submit(s.ctx, models.Submission{AssignmentID: assignment.ID(), UserID: "u1", Content: ptr("v2")})
	s.Require().NoError(err)
	s.False(created)
	s.Equal(sub.ID(), resub.ID())
	s.Equal("v2", resub["content"])
	s.Equal(90.0, resub["grade"])
	s.Equal("solid", resub["feedback"])

	submissions, err := s.service.List(s.ctx, schema.KindSubmission, store.Where("assignment_id", assignment.ID()), 0)
	s.Require().NoError(err)
	s.Len(submissions, 1)

	d := s.service.Diagnose(s.ctx)
	s.Equal(DatabaseConnected, d.Database)
	s.Equal("memory", d.DatabaseName)
	s.Contains(d.Collections, "submission")
}

func (s *ServiceScenarioSuite) TestConcurrentEnrollmentsLeaveOne() {
	const callers = 32
	var (
		mu  sync.Mutex
		ids = map[string]struct{}{}
	)
	g, ctx := errgroup.WithContext(s.ctx)
	for i := range callers {
		g.Go(func() error {
			role := "student"
			if i%2 == 1 {
				role = "ta"
			}
			view, _, err := s.service.Enroll(ctx, models.Enrollment{CourseID: "c1", UserID: "u1", Role: &role})
			if err != nil {
				return err
			}
			mu.Lock()
			ids[view.ID()] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	s.Require().NoError(g.Wait())
	s.Len(ids, 1)
	s.Equal(1, s.backend.Count("enrollment"))
}

func (s *ServiceScenarioSuite) TestConcurrentSubmissionsLeaveOne() {
	const callers = 32
	g, ctx := errgroup.WithContext(s.ctx)
	for i := range callers {
		g.Go(func() error {
			content := "attempt"
			if i%2 == 1 {
				content = "retry"
			}
			_, _, err := s.service.Submit(ctx, models.Submission{AssignmentID: "a1", UserID: "u1", Content: &content})
			return err
		})
	}
	s.Require().NoError(g.Wait())
	s.Equal(1, s.backend.Count("submission"))
}

func (s *ServiceScenarioSuite) TestGetMissingAndInvalid() {
	_, err := s.service.Get(s.ctx, schema.KindCourse, document.NewID().String())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.Get(s.ctx, schema.KindCourse, "123")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidID))
}
