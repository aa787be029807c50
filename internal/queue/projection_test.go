package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/store"
)

func at(minute int) time.Time {
	return time.Date(2024, 5, 1, 9, minute, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func sampleSnapshot() Snapshot {
	tickets := []models.Ticket{
		{TicketID: "c", TicketNumber: 103, Name: "Carol", Status: models.StatusWaiting, JoinedAt: at(3)},
		{TicketID: "a", TicketNumber: 101, Name: "Alice", Status: models.StatusCompleted, JoinedAt: at(1), CalledAt: ptr(at(4)), FinishedAt: ptr(at(6))},
		{TicketID: "b", TicketNumber: 102, Name: "Bob", Status: models.StatusCalled, JoinedAt: at(2), CalledAt: ptr(at(6))},
		{TicketID: "d", TicketNumber: 104, Name: "Dan", Status: models.StatusCancelled, JoinedAt: at(4), FinishedAt: ptr(at(5))},
		{TicketID: "e", TicketNumber: 105, Name: "Eve", Status: models.StatusWaiting, JoinedAt: at(5)},
	}
	return NewSnapshot(tickets, at(10), 0)
}

func TestSnapshotOrderingAndQueues(t *testing.T) {
	s := sampleSnapshot()
	if s.Tickets[0].TicketID != "a" || s.Tickets[4].TicketID != "e" {
		t.Fatalf("snapshot not in join order")
	}

	waiting := s.WaitingQueue()
	ids := []string{}
	for _, ticket := range waiting {
		ids = append(ids, ticket.TicketID)
	}
	if len(ids) != 3 || ids[0] != "b" || ids[1] != "c" || ids[2] != "e" {
		t.Fatalf("waiting queue=%v", ids)
	}

	history := s.History()
	if len(history) != 2 || history[0].TicketID != "d" || history[1].TicketID != "a" {
		t.Fatalf("history order=%+v", history)
	}

	serving, ok := s.NowServing()
	if !ok || serving.TicketID != "b" {
		t.Fatalf("now serving=%+v", serving)
	}
}

func TestPositionAndLabels(t *testing.T) {
	s := sampleSnapshot()
	cases := []struct {
		id    string
		pos   int
		label string
		wait  time.Duration
	}{
		{"b", 0, "Next", 0},
		{"c", 1, "1 ahead", 15 * time.Minute},
		{"e", 2, "2 ahead", 30 * time.Minute},
		{"a", -1, "Served", 0},
		{"d", -1, "Served", 0},
		{"missing", -1, "Served", 0},
	}
	for _, tt := range cases {
		pos := s.Position(tt.id)
		if pos != tt.pos || PositionLabel(pos) != tt.label || EstimatedWait(pos, s.MinutesPerTicket) != tt.wait {
			t.Fatalf("%s: pos=%d label=%s wait=%v", tt.id, pos, PositionLabel(pos), EstimatedWait(pos, s.MinutesPerTicket))
		}
	}
}

func TestStatusView(t *testing.T) {
	s := sampleSnapshot()
	view, err := s.StatusView("e")
	if err != nil {
		t.Fatalf("status view: %v", err)
	}
	if view.PositionLabel != "2 ahead" || view.EstimatedWait != "30m" || view.YourTurn || view.QRPayload != "e" {
		t.Fatalf("unexpected view: %+v", view)
	}
	view, _ = s.StatusView("b")
	if !view.YourTurn {
		t.Fatalf("called ticket should be your turn")
	}
	if _, err := s.StatusView("missing"); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestStaffAndKioskBoards(t *testing.T) {
	s := sampleSnapshot()
	board := s.StaffBoard()
	if board.WaitingCount != 2 || len(board.Waiting) != 2 {
		t.Fatalf("waiting count=%d", board.WaitingCount)
	}
	if board.ServedCount != 1 {
		t.Fatalf("served count=%d, want 1", board.ServedCount)
	}
	if !board.CanCallNext || board.NowServing == nil || board.NowServing.TicketID != "b" {
		t.Fatalf("unexpected board: %+v", board)
	}
	if board.History[0].WaitTime != "1m 0s" || board.History[1].WaitTime != "3m 0s" {
		t.Fatalf("history wait times=%s,%s", board.History[0].WaitTime, board.History[1].WaitTime)
	}

	kiosk := s.KioskBoard("https://queue.example/join")
	if kiosk.WaitingCount != 2 || kiosk.JoinURL != "https://queue.example/join" || kiosk.NowServing.TicketID != "b" {
		t.Fatalf("unexpected kiosk: %+v", kiosk)
	}

	empty := NewSnapshot(nil, at(0), 15).StaffBoard()
	if empty.CanCallNext || empty.NowServing != nil || empty.Waiting == nil {
		t.Fatalf("unexpected empty board: %+v", empty)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-5 * time.Second, "0s"},
		{42 * time.Second, "42s"},
		{65 * time.Second, "1m 5s"},
		{600 * time.Second, "10m 0s"},
	}
	for _, tt := range cases {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Fatalf("FormatDuration(%v)=%q, want %q", tt.in, got, tt.want)
		}
	}
	if got := FormatDuration(WaitTime(models.Ticket{})); got != "0s" {
		t.Fatalf("missing timestamps=%q", got)
	}
}
