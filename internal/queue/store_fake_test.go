package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/store"
)

// memStore applies the store contract in memory.
type memStore struct {
	mu      sync.Mutex
	tickets []models.Ticket
	highest int
	events  map[string][]store.TicketEvent
	failAll error
	now     func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{events: make(map[string][]store.TicketEvent), now: now}
}

func (m *memStore) record(ticket models.Ticket, at time.Time) {
	var prev *store.TicketEvent
	if evs := m.events[ticket.TicketID]; len(evs) > 0 {
		prev = &evs[len(evs)-1]
	}
	event, _ := store.NextTicketEvent(prev, ticket, at)
	m.events[ticket.TicketID] = append(m.events[ticket.TicketID], event)
}

func (m *memStore) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return models.Ticket{}, m.failAll
	}
	m.highest = store.NextTicketNumber(m.highest, input.Floor)
	joinedAt := m.now()
	ticket := models.Ticket{
		TicketID:     fmt.Sprintf("t-%d", m.highest),
		TicketNumber: m.highest,
		Name:         input.Name,
		Service:      input.Service,
		Status:       models.StatusWaiting,
		JoinedAt:     joinedAt,
	}
	m.tickets = append(m.tickets, ticket)
	m.record(ticket, joinedAt)
	return ticket, nil
}

func (m *memStore) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return models.Ticket{}, m.failAll
	}
	for _, ticket := range m.tickets {
		if ticket.TicketID == ticketID {
			return ticket, nil
		}
	}
	return models.Ticket{}, store.ErrTicketNotFound
}

func (m *memStore) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	out := make([]models.Ticket, len(m.tickets))
	copy(out, m.tickets)
	return out, nil
}

func (m *memStore) CallNext(ctx context.Context) (store.CallNextResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return store.CallNextResult{}, m.failAll
	}
	next := -1
	for i := range m.tickets {
		if m.tickets[i].Status == models.StatusWaiting {
			next = i
			break
		}
	}
	if next < 0 {
		return store.CallNextResult{}, store.ErrNoTicket
	}
	calledAt := m.now()
	var result store.CallNextResult
	for i := range m.tickets {
		if m.tickets[i].Status == models.StatusCalled {
			at := calledAt
			m.tickets[i].Status = models.StatusCompleted
			m.tickets[i].FinishedAt = &at
			m.record(m.tickets[i], calledAt)
			done := m.tickets[i]
			result.Completed = &done
		}
	}
	at := calledAt
	m.tickets[next].Status = models.StatusCalled
	m.tickets[next].CalledAt = &at
	m.record(m.tickets[next], calledAt)
	result.Called = m.tickets[next]
	return result, nil
}

func (m *memStore) finish(input store.TicketActionInput, action, to string) (models.Ticket, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return models.Ticket{}, false, m.failAll
	}
	allowed := input.AllowedFrom
	if len(allowed) == 0 {
		allowed = store.AllowedFrom(action)
	}
	for i := range m.tickets {
		if m.tickets[i].TicketID != input.TicketID {
			continue
		}
		if !store.Matches(allowed, m.tickets[i].Status) {
			if action == store.ActionComplete && m.tickets[i].Status == models.StatusCompleted {
				return m.tickets[i], false, nil
			}
			return m.tickets[i], false, store.ErrInvalidState
		}
		at := m.now()
		m.tickets[i].Status = to
		m.tickets[i].FinishedAt = &at
		m.record(m.tickets[i], at)
		return m.tickets[i], true, nil
	}
	return models.Ticket{}, false, store.ErrTicketNotFound
}

func (m *memStore) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return m.finish(input, store.ActionComplete, models.StatusCompleted)
}

func (m *memStore) CancelTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return m.finish(input, store.ActionCancel, models.StatusCancelled)
}

func (m *memStore) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs, ok := m.events[ticketID]
	if !ok {
		return nil, store.ErrTicketNotFound
	}
	return append([]store.TicketEvent(nil), evs...), nil
}

func (m *memStore) Close() error { return nil }

var errStoreDown = errors.New("connection refused")
