// Package handler exposes the content service over HTTP. Handlers only parse
// transport input and render results; every rule lives in the service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lms/internal/content/document"
	"lms/internal/content/models"
	"lms/internal/content/schema"
	"lms/internal/content/service"
	"lms/internal/content/store"
	dErrors "lms/pkg/domain-errors"
	"lms/pkg/platform/httputil"
	"lms/pkg/requestcontext"
)

// StatusMessage is returned by GET /.
const StatusMessage = "LMS Backend is running"

// Service defines the content operations the handlers dispatch to.
type Service interface {
	Create(ctx context.Context, e document.Entity) (document.View, error)
	Get(ctx context.Context, kind schema.Kind, id string) (document.View, error)
	List(ctx context.Context, kind schema.Kind, filter store.Filter, limit int) ([]document.View, error)
	Enroll(ctx context.Context, enrollment models.Enrollment) (document.View, bool, error)
	Submit(ctx context.Context, submission models.Submission) (document.View, bool, error)
	Grade(ctx context.Context, submissionID string, grade models.Grade) (document.View, error)
	Collections(ctx context.Context) []string
	Diagnose(ctx context.Context) service.Diagnostics
}

// Handler serves the content API.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// New creates a content Handler.
func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register registers the content routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.handleRoot)
	r.Get("/test", h.handleDiagnostics)
	r.Get("/schema", h.handleSchema)

	r.Route("/api", func(r chi.Router) {
		r.Post("/users", handleCreate[models.User](h))
		r.Get("/users/{id}", h.handleGet(schema.KindUser))
		r.Get("/users/{id}/enrollments", h.handleListByParent(schema.KindEnrollment, "user_id"))

		r.Post("/courses", handleCreate[models.Course](h))
		r.Get("/courses", h.handleListCourses)
		r.Get("/courses/{id}", h.handleGet(schema.KindCourse))
		r.Get("/courses/{id}/lessons", h.handleListByParent(schema.KindLesson, "course_id"))
		r.Get("/courses/{id}/assignments", h.handleListByParent(schema.KindAssignment, "course_id"))
		r.Get("/courses/{id}/announcements", h.handleListByParent(schema.KindAnnouncement, "course_id"))

		r.Post("/lessons", handleCreate[models.Lesson](h))
		r.Post("/announcements", handleCreate[models.Announcement](h))
		r.Post("/assignments", handleCreate[models.Assignment](h))
		r.Get("/assignments/{id}/submissions", h.handleListByParent(schema.KindSubmission, "assignment_id"))

		r.Post("/enrollments", h.handleEnroll)
		r.Post("/submissions", h.handleSubmit)
		r.Patch("/submissions/{id}", h.handleGrade)
	})
}

func (h *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": StatusMessage})
}

func (h *Handler) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.svc.Diagnose(r.Context()))
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string][]string{"collections": h.svc.Collections(r.Context())})
}

// handleCreate decodes a T, stores it and answers 201 with the stored view.
func handleCreate[T document.Entity](h *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		req, ok := httputil.DecodeAndPrepare[T](w, r, h.logger)
		if !ok {
			return
		}
		view, err := h.svc.Create(ctx, *req)
		if err != nil {
			h.fail(ctx, w, "create "+(*req).Kind().String(), err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, view)
	}
}

func (h *Handler) handleGet(kind schema.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		view, err := h.svc.Get(ctx, kind, chi.URLParam(r, "id"))
		if err != nil {
			h.fail(ctx, w, "get "+kind.String(), err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, view)
	}
}

func (h *Handler) handleListByParent(kind schema.Kind, parentField string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limit, err := parseLimit(r)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		views, err := h.svc.List(ctx, kind, store.Where(parentField, chi.URLParam(r, "id")), limit)
		if err != nil {
			h.fail(ctx, w, "list "+kind.String(), err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, views)
	}
}

// handleListCourses supports q (title substring, case-insensitive) and tag.
func (h *Handler) handleListCourses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := parseLimit(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var filter store.Filter
	query := r.URL.Query()
	if q := query.Get("q"); q != "" {
		filter = filter.ContainsFold("title", q)
	}
	if tag := query.Get("tag"); tag != "" {
		filter = filter.Eq("tags", tag)
	}
	views, err := h.svc.List(ctx, schema.KindCourse, filter, limit)
	if err != nil {
		h.fail(ctx, w, "list course", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

// handleEnroll answers 201 for a new enrollment and 200 with the existing one.
func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.Enrollment](w, r, h.logger)
	if !ok {
		return
	}
	view, created, err := h.svc.Enroll(ctx, *req)
	if err != nil {
		h.fail(ctx, w, "enroll", err)
		return
	}
	httputil.WriteJSON(w, createdStatus(created), view)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[submitRequest](w, r, h.logger)
	if !ok {
		return
	}
	view, created, err := h.svc.Submit(ctx, req.toModel())
	if err != nil {
		h.fail(ctx, w, "submit", err)
		return
	}
	httputil.WriteJSON(w, createdStatus(created), view)
}

func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[gradeRequest](w, r, h.logger)
	if !ok {
		return
	}
	view, err := h.svc.Grade(ctx, chi.URLParam(r, "id"), req.toModel())
	if err != nil {
		h.fail(ctx, w, "grade submission", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// fail logs at a level matching the error's severity and writes the response.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	level := slog.LevelWarn
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, dErrors.Validation("limit", "must be a positive integer")
	}
	return n, nil
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}
