package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
)

const (
	EventTicketCreated   = "ticket_created"
	EventTicketCalled    = "ticket_called"
	EventTicketCompleted = "ticket_completed"
	EventTicketCancelled = "ticket_cancelled"
)

type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type eventPayload struct {
	TicketID     string     `json:"ticket_id"`
	TicketNumber int        `json:"ticket_number,omitempty"`
	Name         string     `json:"name,omitempty"`
	Service      string     `json:"service,omitempty"`
	Status       string     `json:"status"`
	JoinedAt     *time.Time `json:"joined_at,omitempty"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// EventTypeForStatus names the audit event recorded when a ticket enters status.
func EventTypeForStatus(status string) string {
	switch status {
	case models.StatusCalled:
		return EventTicketCalled
	case models.StatusCompleted:
		return EventTicketCompleted
	case models.StatusCancelled:
		return EventTicketCancelled
	default:
		return EventTicketCreated
	}
}

// TicketPayload snapshots the ticket fields carried by an audit event.
func TicketPayload(ticket models.Ticket) (json.RawMessage, error) {
	payload := eventPayload{
		TicketID:     ticket.TicketID,
		TicketNumber: ticket.TicketNumber,
		Name:         ticket.Name,
		Service:      ticket.Service,
		Status:       ticket.Status,
		CalledAt:     ticket.CalledAt,
		FinishedAt:   ticket.FinishedAt,
	}
	if !ticket.JoinedAt.IsZero() {
		joined := ticket.JoinedAt
		payload.JoinedAt = &joined
	}
	return json.Marshal(payload)
}

// NextTicketEvent chains a new event for ticket onto prev. A nil prev starts the chain.
func NextTicketEvent(prev *TicketEvent, ticket models.Ticket, createdAt time.Time) (TicketEvent, error) {
	payload, err := TicketPayload(ticket)
	if err != nil {
		return TicketEvent{}, err
	}
	seq := 1
	prevHash := ""
	if prev != nil {
		seq = prev.TicketSeq + 1
		prevHash = prev.Hash
	}
	eventType := EventTypeForStatus(ticket.Status)
	// Postgres keeps microseconds; the hash must survive a round trip.
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	return TicketEvent{
		TicketID:  ticket.TicketID,
		TicketSeq: seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  prevHash,
		Hash:      ComputeTicketEventHash(prevHash, ticket.TicketID, eventType, payload, createdAt, seq),
	}, nil
}

// VerifyChain checks sequence numbers, hash links and every recomputed hash.
func VerifyChain(events []TicketEvent) error {
	prevHash := ""
	for i, event := range events {
		if event.TicketSeq != i+1 {
			return fmt.Errorf("%w: seq %d at position %d", ErrBrokenChain, event.TicketSeq, i)
		}
		if event.PrevHash != prevHash {
			return fmt.Errorf("%w: prev hash mismatch at seq %d", ErrBrokenChain, event.TicketSeq)
		}
		expected := ComputeTicketEventHash(event.PrevHash, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
		if event.Hash != expected {
			return fmt.Errorf("%w: hash mismatch at seq %d", ErrBrokenChain, event.TicketSeq)
		}
		prevHash = event.Hash
	}
	return nil
}

func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Ticket{}, err
		}
		if payload.TicketID != "" {
			ticket.TicketID = payload.TicketID
		}
		if payload.TicketNumber != 0 {
			ticket.TicketNumber = payload.TicketNumber
		}
		if payload.Name != "" {
			ticket.Name = payload.Name
		}
		if payload.Service != "" {
			ticket.Service = payload.Service
		}
		if payload.Status != "" {
			ticket.Status = payload.Status
		}
		if payload.JoinedAt != nil {
			ticket.JoinedAt = *payload.JoinedAt
		}
		if payload.CalledAt != nil {
			ticket.CalledAt = payload.CalledAt
		}
		if payload.FinishedAt != nil {
			ticket.FinishedAt = payload.FinishedAt
		}
	}
	return ticket, nil
}
