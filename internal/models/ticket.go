package models

import "time"

type Ticket struct {
	TicketID     string     `json:"ticket_id"`
	TicketNumber int        `json:"ticket_number"`
	Name         string     `json:"name"`
	Service      string     `json:"service"`
	Status       string     `json:"status"`
	JoinedAt     time.Time  `json:"joined_at"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// DefaultTicketFloor is the baseline below which numbering never starts.
const DefaultTicketFloor = 100

// InQueue reports whether the ticket still counts toward positions.
func (t Ticket) InQueue() bool {
	return t.Status == StatusWaiting || t.Status == StatusCalled
}

// Finished reports whether the ticket reached a terminal status.
func (t Ticket) Finished() bool {
	return t.Status == StatusCompleted || t.Status == StatusCancelled
}

// ChangedAt is the stored time of the ticket's latest transition.
func (t Ticket) ChangedAt() time.Time {
	switch {
	case t.Finished() && t.FinishedAt != nil:
		return *t.FinishedAt
	case t.Status == StatusCalled && t.CalledAt != nil:
		return *t.CalledAt
	}
	return t.JoinedAt
}
