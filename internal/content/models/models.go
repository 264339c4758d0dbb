// Package models holds the typed entities accepted by the content API. Each
// entity reports its own fields explicitly; omitted optional values stay out
// of the field map so the codec can apply schema defaults.
package models

import (
	"time"

	"lms/internal/content/document"
	"lms/internal/content/schema"
)

type User struct {
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Role      *string `json:"role,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}

func (User) Kind() schema.Kind { return schema.KindUser }

func (u User) Fields() document.Fields {
	f := document.Fields{
		"name":  u.Name,
		"email": u.Email,
	}
	setString(f, "role", u.Role)
	setString(f, "avatar_url", u.AvatarURL)
	setString(f, "bio", u.Bio)
	return f
}

type Course struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	InstructorID string   `json:"instructor_id"`
	Tags         []string `json:"tags,omitempty"`
	CoverImage   *string  `json:"cover_image,omitempty"`
	Level        *string  `json:"level,omitempty"`
}

func (Course) Kind() schema.Kind { return schema.KindCourse }

func (c Course) Fields() document.Fields {
	f := document.Fields{
		"title":         c.Title,
		"description":   c.Description,
		"instructor_id": c.InstructorID,
	}
	if c.Tags != nil {
		f["tags"] = c.Tags
	}
	setString(f, "cover_image", c.CoverImage)
	setString(f, "level", c.Level)
	return f
}

type Lesson struct {
	CourseID string  `json:"course_id"`
	Title    string  `json:"title"`
	Content  *string `json:"content,omitempty"`
	VideoURL *string `json:"video_url,omitempty"`
	Order    *int    `json:"order,omitempty"`
}

func (Lesson) Kind() schema.Kind { return schema.KindLesson }

func (l Lesson) Fields() document.Fields {
	f := document.Fields{
		"course_id": l.CourseID,
		"title":     l.Title,
	}
	setString(f, "content", l.Content)
	setString(f, "video_url", l.VideoURL)
	if l.Order != nil {
		f["order"] = *l.Order
	}
	return f
}

// Enrollment links a user to a course. At most one exists per (course_id, user_id).
type Enrollment struct {
	CourseID string  `json:"course_id"`
	UserID   string  `json:"user_id"`
	Role     *string `json:"role,omitempty"`
}

func (Enrollment) Kind() schema.Kind { return schema.KindEnrollment }

func (e Enrollment) Fields() document.Fields {
	f := document.Fields{
		"course_id": e.CourseID,
		"user_id":   e.UserID,
	}
	setString(f, "role", e.Role)
	return f
}

type Announcement struct {
	CourseID string `json:"course_id"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

func (Announcement) Kind() schema.Kind { return schema.KindAnnouncement }

func (a Announcement) Fields() document.Fields {
	return document.Fields{
		"course_id": a.CourseID,
		"title":     a.Title,
		"message":   a.Message,
	}
}

type Assignment struct {
	CourseID    string     `json:"course_id"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	MaxPoints   *int       `json:"max_points,omitempty"`
}

func (Assignment) Kind() schema.Kind { return schema.KindAssignment }

func (a Assignment) Fields() document.Fields {
	f := document.Fields{
		"course_id": a.CourseID,
		"title":     a.Title,
	}
	setString(f, "description", a.Description)
	if a.DueDate != nil {
		f["due_date"] = *a.DueDate
	}
	if a.MaxPoints != nil {
		f["max_points"] = *a.MaxPoints
	}
	return f
}

// Submission is a user's answer to an assignment. At most one exists per
// (assignment_id, user_id); resubmitting replaces Content in place.
type Submission struct {
	AssignmentID string   `json:"assignment_id"`
	UserID       string   `json:"user_id"`
	Content      *string  `json:"content,omitempty"`
	Grade        *float64 `json:"grade,omitempty"`
	Feedback     *string  `json:"feedback,omitempty"`
}

func (Submission) Kind() schema.Kind { return schema.KindSubmission }

func (s Submission) Fields() document.Fields {
	f := document.Fields{
		"assignment_id": s.AssignmentID,
		"user_id":       s.UserID,
	}
	setString(f, "content", s.Content)
	if s.Grade != nil {
		f["grade"] = *s.Grade
	}
	setString(f, "feedback", s.Feedback)
	return f
}

// SubmissionReplaceFields are overwritten when a submission is resubmitted.
// Grade and feedback belong to the grader and survive resubmission.
var SubmissionReplaceFields = []string{"content"}

// Grade is a partial update applied by an instructor to a submission.
type Grade struct {
	Grade    *float64 `json:"grade,omitempty"`
	Feedback *string  `json:"feedback,omitempty"`
}

func (g Grade) Fields() document.Fields {
	f := document.Fields{}
	if g.Grade != nil {
		f["grade"] = *g.Grade
	}
	setString(f, "feedback", g.Feedback)
	return f
}

func setString(f document.Fields, name string, v *string) {
	if v != nil {
		f[name] = *v
	}
}

// Compile-time checks.
var (
	_ document.Entity = User{}
	_ document.Entity = Course{}
	_ document.Entity = Lesson{}
	_ document.Entity = Enrollment{}
	_ document.Entity = Announcement{}
	_ document.Entity = Assignment{}
	_ document.Entity = Submission{}
)
