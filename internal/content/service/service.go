// Package service applies the LMS domain rules on top of the document store:
// idempotent enrollment, submission upsert, grading, and the diagnostic and
// schema introspection operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lms/internal/content/document"
	"lms/internal/content/events"
	"lms/internal/content/metrics"
	"lms/internal/content/models"
	"lms/internal/content/schema"
	"lms/internal/content/store"
	dErrors "lms/pkg/domain-errors"
	"lms/pkg/requestcontext"
)

// Store is the document store the service runs on. *store.Adapter implements it.
type Store interface {
	Create(ctx context.Context, e document.Entity) (document.ID, error)
	Get(ctx context.Context, kind schema.Kind, id string) (document.View, error)
	List(ctx context.Context, kind schema.Kind, filter store.Filter, limit int) ([]document.View, error)
	Update(ctx context.Context, kind schema.Kind, id string, partial document.Fields) (document.View, error)
	CreateOrGet(ctx context.Context, e document.Entity) (document.View, bool, error)
	Upsert(ctx context.Context, e document.Entity, replace []string) (document.View, bool, error)
	Collections(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Name() string
}

// Publisher receives change events after successful writes.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// DefaultPublishTimeout bounds how long a write waits on its change event.
const DefaultPublishTimeout = 5 * time.Second

// Service orchestrates content operations.
type Service struct {
	store          Store
	logger         *slog.Logger
	metrics        *metrics.Metrics
	publisher      Publisher
	publishTimeout time.Duration
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithPublishTimeout caps each Publish call. Non-positive values are ignored.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// New constructs a Service over st.
func New(st Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("content store is required")
	}
	s := &Service{
		store:          st,
		logger:         slog.Default(),
		publisher:      events.NopPublisher{},
		publishTimeout: DefaultPublishTimeout,
		tracer:         otel.Tracer("lms/content"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create validates and stores e, returning the stored view.
func (s *Service) Create(ctx context.Context, e document.Entity) (view document.View, err error) {
	ctx, span := s.start(ctx, "content.Create", e.Kind())
	defer func() { endSpan(span, err) }()

	id, err := s.store.Create(ctx, e)
	if err != nil {
		return nil, err
	}
	view, err = s.store.Get(ctx, e.Kind(), id.String())
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("created %s %s is not readable", e.Kind(), id))
	}

	s.logger.InfoContext(ctx, "document created",
		"kind", e.Kind().String(),
		"id", id.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.metrics != nil {
		s.metrics.IncrementDocumentsCreated(e.Kind().String())
	}
	s.publish(ctx, events.DocumentCreated, e.Kind(), id.String())
	return view, nil
}

// Get returns the view of one document. Absence is a not-found error here:
// callers of the service address a specific resource.
func (s *Service) Get(ctx context.Context, kind schema.Kind, id string) (view document.View, err error) {
	ctx, span := s.start(ctx, "content.Get", kind)
	defer func() { endSpan(span, err) }()

	view, err = s.store.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, kindTitle(kind)+" not found")
	}
	return view, nil
}

// List returns views of kind matching filter.
func (s *Service) List(ctx context.Context, kind schema.Kind, filter store.Filter, limit int) (views []document.View, err error) {
	ctx, span := s.start(ctx, "content.List", kind)
	defer func() { endSpan(span, err) }()

	return s.store.List(ctx, kind, filter, limit)
}

// Enroll registers a user in a course. A repeated enrollment returns the
// existing record unchanged, whatever role the repeat asks for.
func (s *Service) Enroll(ctx context.Context, enrollment models.Enrollment) (view document.View, created bool, err error) {
	ctx, span := s.start(ctx, "content.Enroll", schema.KindEnrollment)
	defer func() { endSpan(span, err) }()

	view, created, err = s.store.CreateOrGet(ctx, enrollment)
	if err != nil {
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("created", created))

	if !created {
		s.logger.InfoContext(ctx, "enrollment already exists",
			"id", view.ID(),
			"course_id", enrollment.CourseID,
			"user_id", enrollment.UserID,
		)
		if s.metrics != nil {
			s.metrics.IncrementEnrollmentsDeduplicated()
		}
		return view, false, nil
	}

	s.logger.InfoContext(ctx, "user enrolled",
		"id", view.ID(),
		"course_id", enrollment.CourseID,
		"user_id", enrollment.UserID,
	)
	if s.metrics != nil {
		s.metrics.IncrementDocumentsCreated(schema.KindEnrollment.String())
	}
	s.publish(ctx, events.EnrollmentCreated, schema.KindEnrollment, view.ID())
	return view, true, nil
}

// Submit stores a user's answer to an assignment. Resubmitting replaces the
// content of the existing submission in place; its identifier, grade and
// feedback survive. Grade and feedback are never taken from the submitter.
func (s *Service) Submit(ctx context.Context, submission models.Submission) (view document.View, created bool, err error) {
	ctx, span := s.start(ctx, "content.Submit", schema.KindSubmission)
	defer func() { endSpan(span, err) }()

	submission.Grade = nil
	submission.Feedback = nil

	view, created, err = s.store.Upsert(ctx, submission, models.SubmissionReplaceFields)
	if err != nil {
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("created", created))

	s.logger.InfoContext(ctx, "submission stored",
		"id", view.ID(),
		"assignment_id", submission.AssignmentID,
		"user_id", submission.UserID,
		"created", created,
	)
	if s.metrics != nil {
		s.metrics.IncrementSubmissionUpserts(created)
		if created {
			s.metrics.IncrementDocumentsCreated(schema.KindSubmission.String())
		}
	}
	eventType := events.SubmissionReplaced
	if created {
		eventType = events.SubmissionCreated
	}
	s.publish(ctx, eventType, schema.KindSubmission, view.ID())
	return view, created, nil
}

// Grade records an instructor's grade and feedback on a submission.
func (s *Service) Grade(ctx context.Context, submissionID string, grade models.Grade) (view document.View, err error) {
	ctx, span := s.start(ctx, "content.Grade", schema.KindSubmission)
	defer func() { endSpan(span, err) }()

	view, err = s.store.Update(ctx, schema.KindSubmission, submissionID, grade.Fields())
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "submission graded", "id", view.ID())
	s.publish(ctx, events.DocumentUpdated, schema.KindSubmission, view.ID())
	return view, nil
}

// Collections lists the store's collections. Failures degrade to an empty list.
func (s *Service) Collections(ctx context.Context) []string {
	names, err := s.store.Collections(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "listing collections failed", "error", err)
		return []string{}
	}
	return names
}

func (s *Service) start(ctx context.Context, name string, kind schema.Kind) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("lms.kind", kind.String())))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}

// publish is best effort; the write it describes has already succeeded. The
// call is detached from request cancellation and capped by publishTimeout.
func (s *Service) publish(ctx context.Context, t events.Type, kind schema.Kind, id string) {
	event := events.Event{
		Type:       t,
		Kind:       kind.String(),
		DocumentID: id,
		RequestID:  requestcontext.RequestID(ctx),
		OccurredAt: requestcontext.Now(ctx).UTC(),
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, event); err != nil {
		s.logger.WarnContext(ctx, "change event not published",
			"type", string(t),
			"id", id,
			"error", err,
		)
	}
}

func kindTitle(kind schema.Kind) string {
	name := kind.String()
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
