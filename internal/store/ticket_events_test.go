package store

import (
	"errors"
	"testing"
	"time"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
)

func buildChain(t *testing.T) ([]TicketEvent, models.Ticket) {
	t.Helper()
	joined := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	called := joined.Add(4 * time.Minute)
	finished := called.Add(3 * time.Minute)

	ticket := models.Ticket{
		TicketID:     "t-1",
		TicketNumber: 101,
		Name:         "Alice",
		Service:      models.DefaultService,
		Status:       models.StatusWaiting,
		JoinedAt:     joined,
	}
	first, err := NextTicketEvent(nil, ticket, joined)
	if err != nil {
		t.Fatalf("first event: %v", err)
	}

	ticket.Status = models.StatusCalled
	ticket.CalledAt = &called
	second, err := NextTicketEvent(&first, ticket, called)
	if err != nil {
		t.Fatalf("second event: %v", err)
	}

	ticket.Status = models.StatusCompleted
	ticket.FinishedAt = &finished
	third, err := NextTicketEvent(&second, ticket, finished)
	if err != nil {
		t.Fatalf("third event: %v", err)
	}
	return []TicketEvent{first, second, third}, ticket
}

func TestNextTicketEventChains(t *testing.T) {
	events, _ := buildChain(t)
	if events[0].TicketSeq != 1 || events[0].PrevHash != "" {
		t.Fatalf("unexpected chain start: %+v", events[0])
	}
	if events[1].PrevHash != events[0].Hash || events[2].PrevHash != events[1].Hash {
		t.Fatalf("events are not linked")
	}
	wantTypes := []string{EventTicketCreated, EventTicketCalled, EventTicketCompleted}
	for i, event := range events {
		if event.Type != wantTypes[i] {
			t.Fatalf("event %d type=%s, want %s", i, event.Type, wantTypes[i])
		}
	}
	if err := VerifyChain(events); err != nil {
		t.Fatalf("verify chain: %v", err)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	events, _ := buildChain(t)
	events[1].Payload = []byte(`{"ticket_id":"t-1","status":"cancelled"}`)
	if err := VerifyChain(events); !errors.Is(err, ErrBrokenChain) {
		t.Fatalf("expected ErrBrokenChain, got %v", err)
	}

	events, _ = buildChain(t)
	events = append(events[:1], events[2:]...)
	if err := VerifyChain(events); !errors.Is(err, ErrBrokenChain) {
		t.Fatalf("expected ErrBrokenChain for gap, got %v", err)
	}
}

func TestRehydrateTicket(t *testing.T) {
	events, want := buildChain(t)
	got, err := RehydrateTicket(events)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if got.TicketID != want.TicketID || got.TicketNumber != want.TicketNumber || got.Name != want.Name {
		t.Fatalf("identity mismatch: %+v", got)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status=%s, want completed", got.Status)
	}
	if !got.JoinedAt.Equal(want.JoinedAt) {
		t.Fatalf("joined_at=%v, want %v", got.JoinedAt, want.JoinedAt)
	}
	if got.CalledAt == nil || !got.CalledAt.Equal(*want.CalledAt) {
		t.Fatalf("called_at=%v, want %v", got.CalledAt, want.CalledAt)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(*want.FinishedAt) {
		t.Fatalf("finished_at=%v, want %v", got.FinishedAt, want.FinishedAt)
	}
}
