package handler

import (
	"lms/internal/content/models"
	dErrors "lms/pkg/domain-errors"
)

// submitRequest accepts only learner supplied fields; grade and feedback in
// the body are not part of the request shape.
type submitRequest struct {
	AssignmentID string  `json:"assignment_id"`
	UserID       string  `json:"user_id"`
	Content      *string `json:"content,omitempty"`
}

func (r *submitRequest) toModel() models.Submission {
	return models.Submission{
		AssignmentID: r.AssignmentID,
		UserID:       r.UserID,
		Content:      r.Content,
	}
}

type gradeRequest struct {
	Grade    *float64 `json:"grade"`
	Feedback *string  `json:"feedback"`
}

func (r *gradeRequest) Validate() error {
	if r.Grade == nil && r.Feedback == nil {
		return dErrors.Validation("grade", "grade or feedback is required")
	}
	return nil
}

func (r *gradeRequest) toModel() models.Grade {
	return models.Grade{Grade: r.Grade, Feedback: r.Feedback}
}
