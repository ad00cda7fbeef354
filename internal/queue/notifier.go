package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"volunteerattendance/internal/record"
)

// Message types for terminal attendance transitions.
const (
	TypeCheckedOut = "attendance.checked_out"
	TypeAbsent     = "attendance.absent"
)

// Notification is the payload handed to the downstream dispatcher, for example
// to trigger certificate eligibility checks.
type Notification struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	EventID        string                 `json:"event_id"`
	VolunteerID    string                 `json:"volunteer_id"`
	Status         record.Status          `json:"status"`
	HoursCompleted *float64               `json:"hours_completed,omitempty"`
	Violations     []record.ViolationKind `json:"violations"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

// NewNotification describes a terminal record. ok is false for records that
// are not terminal.
func NewNotification(rec record.Record) (Notification, bool) {
	var typ string
	switch rec.Status {
	case record.StatusCheckedOut:
		typ = TypeCheckedOut
	case record.StatusAbsent:
		typ = TypeAbsent
	default:
		return Notification{}, false
	}
	kinds := make([]record.ViolationKind, 0, len(rec.Violations))
	for _, v := range rec.Violations {
		kinds = append(kinds, v.Kind)
	}
	return Notification{
		ID:             uuid.NewString(),
		Type:           typ,
		EventID:        rec.EventID,
		VolunteerID:    rec.VolunteerID,
		Status:         rec.Status,
		HoursCompleted: rec.HoursCompleted,
		Violations:     kinds,
		OccurredAt:     rec.UpdatedAt,
	}, true
}

// Encode wraps n as a queue message.
func (n Notification) Encode() (Message, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: n.Type, Body: body}, nil
}

// DecodeNotification reverses Encode.
func DecodeNotification(msg Message) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(msg.Body, &n); err != nil {
		return Notification{}, fmt.Errorf("decode %s notification: %w", msg.Type, err)
	}
	if n.EventID == "" || n.VolunteerID == "" {
		return Notification{}, fmt.Errorf("decode %s notification: missing ids", msg.Type)
	}
	return n, nil
}

// Notifier publishes terminal transitions without making callers wait on the
// queue backend. Notify only enqueues; Run does the I/O.
type Notifier struct {
	q       Queue
	pending chan Notification
}

// NewNotifier creates a notifier holding up to buffer undelivered notifications.
func NewNotifier(q Queue, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	return &Notifier{q: q, pending: make(chan Notification, buffer)}
}

// Notify queues a notification for rec if it is terminal. It never blocks; when
// the buffer is full the notification is dropped and logged.
func (n *Notifier) Notify(rec record.Record) {
	note, ok := NewNotification(rec)
	if !ok {
		return
	}
	select {
	case n.pending <- note:
	default:
		log.Printf("notification dropped type=%s event=%s volunteer=%s", note.Type, note.EventID, note.VolunteerID)
	}
}

// Run publishes queued notifications until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case note := <-n.pending:
			msg, err := note.Encode()
			if err != nil {
				log.Printf("notification encode failed id=%s err=%v", note.ID, err)
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = n.q.Publish(pubCtx, msg)
			cancel()
			if err != nil {
				log.Printf("notification publish failed id=%s type=%s err=%v", note.ID, note.Type, err)
			}
		}
	}
}
