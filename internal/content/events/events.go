// Package events publishes change notifications for stored documents.
// Publishing happens after the write is durable and is best effort: a lost
// event never rolls back or fails the write that produced it.
package events

import (
	"context"
	"time"
)

// Type names what happened to a document.
type Type string

const (
	DocumentCreated    Type = "document.created"
	DocumentUpdated    Type = "document.updated"
	EnrollmentCreated  Type = "enrollment.created"
	SubmissionCreated  Type = "submission.created"
	SubmissionReplaced Type = "submission.replaced"
)

// Event is the payload published for one change.
type Event struct {
	Type       Type      `json:"type"`
	Kind       string    `json:"kind"`
	DocumentID string    `json:"document_id"`
	RequestID  string    `json:"request_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
