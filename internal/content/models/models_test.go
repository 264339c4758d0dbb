package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms/internal/content/document"
)

func ptr[T any](v T) *T { return &v }

func TestFieldsOmitUnsetOptionals(t *testing.T) {
	f := Lesson{CourseID: "c1", Title: "Intro"}.Fields()
	assert.Equal(t, document.Fields{"course_id": "c1", "title": "Intro"}, f)

	f = Lesson{CourseID: "c1", Title: "Intro", Order: ptr(3), Content: ptr("# hi")}.Fields()
	assert.Equal(t, 3, f["order"])
	assert.Equal(t, "# hi", f["content"])
}

func TestEntitiesEncode(t *testing.T) {
	due := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	entities := []document.Entity{
		User{Name: "Ada", Email: "ada@example.com"},
		Course{Title: "Intro to Systems", Description: "...", InstructorID: "u1"},
		Lesson{CourseID: "c1", Title: "Week 1", Order: ptr(2)},
		Enrollment{CourseID: "c1", UserID: "u2"},
		Announcement{CourseID: "c1", Title: "Welcome", Message: "Hello"},
		Assignment{CourseID: "c1", Title: "HW1", DueDate: &due},
		Submission{AssignmentID: "a1", UserID: "u2", Content: ptr("v1")},
	}

	for _, e := range entities {
		t.Run(string(e.Kind()), func(t *testing.T) {
			doc, err := document.Encode(e)
			require.NoError(t, err)
			for name, value := range e.Fields() {
				assert.Contains(t, doc, name)
				if _, isInt := value.(int); isInt {
					assert.Equal(t, int64(value.(int)), doc[name])
					continue
				}
				assert.Equal(t, value, doc[name])
			}
		})
	}
}

func TestGradeFields(t *testing.T) {
	assert.Empty(t, Grade{}.Fields())
	assert.Equal(t, document.Fields{"grade": 7.5}, Grade{Grade: ptr(7.5)}.Fields())
}
