package store

import (
	"context"
	"time"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
)

type CreateTicketInput struct {
	Name    string
	Service string
	Floor   int
}

type TicketActionInput struct {
	TicketID string
	// AllowedFrom overrides the source statuses of the action when set.
	AllowedFrom []string
}

type CallNextResult struct {
	Called    models.Ticket
	Completed *models.Ticket
}

// TicketStore is the single source of truth for ticket records. Every
// mutation is conditional on the current status and atomic on its own, and
// stamps its own timestamps inside that atomic section.
type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListTickets(ctx context.Context) ([]models.Ticket, error)
	CallNext(ctx context.Context) (CallNextResult, error)
	CompleteTicket(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	CancelTicket(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	ListTicketEvents(ctx context.Context, ticketID string) ([]TicketEvent, error)
	Close() error
}

// Clock supplies transition timestamps to a store.
type Clock func() time.Time

// SystemClock is UTC wall time truncated to microseconds, the precision
// Postgres keeps.
func SystemClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NotBefore keeps a finish time from landing before the call time when the
// wall clock steps backwards.
func NotBefore(at time.Time, floor *time.Time) time.Time {
	if floor != nil && at.Before(*floor) {
		return *floor
	}
	return at
}

// NextTicketNumber applies the numbering rule: max(highest issued, floor) + 1.
func NextTicketNumber(highest, floor int) int {
	if floor <= 0 {
		floor = models.DefaultTicketFloor
	}
	if highest < floor {
		highest = floor
	}
	return highest + 1
}
