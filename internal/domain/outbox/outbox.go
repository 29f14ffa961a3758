// Package outbox holds events that must leave the service only if the order
// state written next to them commits.
package outbox

import (
	"time"

	"github.com/google/uuid"
)

const (
	AggregateOrder = "order"

	EventAdminNotification = "admin.notification"
)

// DefaultMaxRetries is how many relay attempts an entry gets before it is
// parked as failed.
const DefaultMaxRetries = 5

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// Entry is one event waiting for, or done with, the relay. AggregateID is
// the order ID and may be empty for alerts not tied to an order.
type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       map[string]any
	Status        Status
	RetryCount    int
	MaxRetries    int
	LastError     *string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

func NewEntry(aggregateType, aggregateID, eventType string, payload map[string]any) *Entry {
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		Status:        StatusPending,
		MaxRetries:    DefaultMaxRetries,
		CreatedAt:     time.Now(),
	}
}

// MarkPublished records delivery. Only pending entries can be published.
func (e *Entry) MarkPublished(at time.Time) bool {
	if e.Status != StatusPending {
		return false
	}
	e.Status = StatusPublished
	e.PublishedAt = &at
	e.LastError = nil
	return true
}

// RecordFailure counts a failed delivery and parks the entry once its
// retries are used up.
func (e *Entry) RecordFailure(reason string) {
	e.RetryCount++
	e.LastError = &reason
	if e.Exhausted() {
		e.Status = StatusFailed
	}
}

func (e *Entry) Exhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

// AdminNotification is the payload of an EventAdminNotification entry.
type AdminNotification struct {
	Recipients []string
	Subject    string
	Message    string
}

func (n AdminNotification) payload() map[string]any {
	return map[string]any{
		"recipients": n.Recipients,
		"subject":    n.Subject,
		"message":    n.Message,
	}
}

// NewAdminNotification creates the outbox record for an admin alert.
func NewAdminNotification(orderID string, recipients []string, subject, message string) *Entry {
	n := AdminNotification{Recipients: recipients, Subject: subject, Message: message}
	return NewEntry(AggregateOrder, orderID, EventAdminNotification, n.payload())
}
