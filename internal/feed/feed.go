package feed

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
)

type EventType string

const (
	TicketCreated   EventType = "ticket.created"
	TicketCalled    EventType = "ticket.called"
	TicketCompleted EventType = "ticket.completed"
	TicketCancelled EventType = "ticket.cancelled"
	QueueRefresh    EventType = "queue.refresh"
)

// Event tells subscribers that the queue changed. It never carries the
// queue itself; consumers re-read the store.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	TicketID     string    `json:"ticket_id,omitempty"`
	TicketNumber int       `json:"ticket_number,omitempty"`
	Status       string    `json:"status,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type Handler func(context.Context, Event) error

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Feed interface {
	Publisher
	Subscribe(ctx context.Context, handler Handler) (func(), error)
}

// TicketEvent builds the change event for a ticket that just entered its status.
func TicketEvent(ticket models.Ticket, at time.Time) Event {
	eventType := TicketCreated
	switch ticket.Status {
	case models.StatusCalled:
		eventType = TicketCalled
	case models.StatusCompleted:
		eventType = TicketCompleted
	case models.StatusCancelled:
		eventType = TicketCancelled
	}
	return Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		TicketID:     ticket.TicketID,
		TicketNumber: ticket.TicketNumber,
		Status:       ticket.Status,
		OccurredAt:   at.UTC(),
	}
}

func RefreshEvent(at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: QueueRefresh, OccurredAt: at.UTC()}
}
