package queue

import (
	"fmt"
	"sort"
	"time"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/store"
)

const DefaultMinutesPerTicket = 15

// Snapshot is one full ordered read of the store. Every view below is a pure
// function of it.
type Snapshot struct {
	Tickets          []models.Ticket
	TakenAt          time.Time
	MinutesPerTicket int
}

type StatusView struct {
	Ticket        models.Ticket `json:"ticket"`
	Position      int           `json:"position"`
	PositionLabel string        `json:"position_label"`
	EstimatedWait string        `json:"estimated_wait"`
	WaitMinutes   int           `json:"estimated_wait_minutes"`
	YourTurn      bool          `json:"your_turn"`
	Completed     bool          `json:"completed"`
	Cancelled     bool          `json:"cancelled"`
	// QRPayload is the text a QR encoder renders for this ticket.
	QRPayload string `json:"qr_payload"`
}

type HistoryEntry struct {
	Ticket   models.Ticket `json:"ticket"`
	WaitTime string        `json:"wait_time"`
}

type StaffBoard struct {
	Waiting      []models.Ticket `json:"waiting"`
	History      []HistoryEntry  `json:"history"`
	NowServing   *models.Ticket  `json:"now_serving,omitempty"`
	WaitingCount int             `json:"waiting_count"`
	ServedCount  int             `json:"served_count"`
	CanCallNext  bool            `json:"can_call_next"`
}

type KioskBoard struct {
	NowServing   *models.Ticket `json:"now_serving,omitempty"`
	WaitingCount int            `json:"waiting_count"`
	JoinURL      string         `json:"join_url"`
}

func NewSnapshot(tickets []models.Ticket, takenAt time.Time, minutesPerTicket int) Snapshot {
	if minutesPerTicket <= 0 {
		minutesPerTicket = DefaultMinutesPerTicket
	}
	ordered := make([]models.Ticket, len(tickets))
	copy(ordered, tickets)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].JoinedAt.Equal(ordered[j].JoinedAt) {
			return ordered[i].TicketNumber < ordered[j].TicketNumber
		}
		return ordered[i].JoinedAt.Before(ordered[j].JoinedAt)
	})
	return Snapshot{Tickets: ordered, TakenAt: takenAt, MinutesPerTicket: minutesPerTicket}
}

// WaitingQueue holds every ticket still counted toward positions, called included.
func (s Snapshot) WaitingQueue() []models.Ticket {
	var out []models.Ticket
	for _, ticket := range s.Tickets {
		if ticket.InQueue() {
			out = append(out, ticket)
		}
	}
	return out
}

// History lists finished tickets, most recently joined first.
func (s Snapshot) History() []models.Ticket {
	var out []models.Ticket
	for i := len(s.Tickets) - 1; i >= 0; i-- {
		if s.Tickets[i].Finished() {
			out = append(out, s.Tickets[i])
		}
	}
	return out
}

func (s Snapshot) NowServing() (models.Ticket, bool) {
	for _, ticket := range s.Tickets {
		if ticket.Status == models.StatusCalled {
			return ticket, true
		}
	}
	return models.Ticket{}, false
}

func (s Snapshot) Find(ticketID string) (models.Ticket, bool) {
	for _, ticket := range s.Tickets {
		if ticket.TicketID == ticketID {
			return ticket, true
		}
	}
	return models.Ticket{}, false
}

// Position is the zero-based index in the waiting queue, -1 when absent.
func (s Snapshot) Position(ticketID string) int {
	for i, ticket := range s.WaitingQueue() {
		if ticket.TicketID == ticketID {
			return i
		}
	}
	return -1
}

func (s Snapshot) StatusView(ticketID string) (StatusView, error) {
	ticket, ok := s.Find(ticketID)
	if !ok {
		return StatusView{}, fmt.Errorf("%w: join again", store.ErrTicketNotFound)
	}
	position := s.Position(ticketID)
	wait := EstimatedWait(position, s.MinutesPerTicket)
	return StatusView{
		Ticket:        ticket,
		Position:      position,
		PositionLabel: PositionLabel(position),
		EstimatedWait: fmt.Sprintf("%dm", int(wait/time.Minute)),
		WaitMinutes:   int(wait / time.Minute),
		YourTurn:      ticket.Status == models.StatusCalled,
		Completed:     ticket.Status == models.StatusCompleted,
		Cancelled:     ticket.Status == models.StatusCancelled,
		QRPayload:     ticket.TicketID,
	}, nil
}

func (s Snapshot) StaffBoard() StaffBoard {
	board := StaffBoard{Waiting: []models.Ticket{}, History: []HistoryEntry{}}
	for _, ticket := range s.Tickets {
		if ticket.Status == models.StatusWaiting {
			board.Waiting = append(board.Waiting, ticket)
		}
		if ticket.Status == models.StatusCompleted {
			board.ServedCount++
		}
	}
	for _, ticket := range s.History() {
		board.History = append(board.History, HistoryEntry{Ticket: ticket, WaitTime: FormatDuration(WaitTime(ticket))})
	}
	if serving, ok := s.NowServing(); ok {
		board.NowServing = &serving
	}
	board.WaitingCount = len(board.Waiting)
	board.CanCallNext = board.WaitingCount > 0
	return board
}

func (s Snapshot) KioskBoard(joinURL string) KioskBoard {
	board := KioskBoard{JoinURL: joinURL}
	for _, ticket := range s.Tickets {
		if ticket.Status == models.StatusWaiting {
			board.WaitingCount++
		}
	}
	if serving, ok := s.NowServing(); ok {
		board.NowServing = &serving
	}
	return board
}

func PositionLabel(position int) string {
	switch {
	case position == 0:
		return "Next"
	case position > 0:
		return fmt.Sprintf("%d ahead", position)
	default:
		return "Served"
	}
}

// EstimatedWait is zero for tickets no longer in the queue.
func EstimatedWait(position, minutesPerTicket int) time.Duration {
	if position <= 0 {
		return 0
	}
	if minutesPerTicket <= 0 {
		minutesPerTicket = DefaultMinutesPerTicket
	}
	return time.Duration(position*minutesPerTicket) * time.Minute
}

// WaitTime measures from joining until the ticket was called, or until it
// finished when it never was.
func WaitTime(ticket models.Ticket) time.Duration {
	switch {
	case ticket.CalledAt != nil:
		return ticket.CalledAt.Sub(ticket.JoinedAt)
	case ticket.FinishedAt != nil:
		return ticket.FinishedAt.Sub(ticket.JoinedAt)
	default:
		return 0
	}
}

func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	total := int(d / time.Second)
	minutes := total / 60
	seconds := total % 60
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
