package boltstore

import (
	"context"
	"encoding/binary"
	"errors"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/queue"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/store"
)

const (
	BucketTickets  = "tickets"
	BucketMeta     = "meta"
	BucketEvents   = "events"
	BucketSessions = "sessions"
)

var keyTicketCounter = []byte("ticket_counter")

// Store keeps tickets in a single bolt file. Bolt allows one writer at a
// time, so every Update below is serialized against the others.
type Store struct {
	db  *bolt.DB
	now store.Clock
}

type Option func(*Store)

// WithClock sets the source of transition timestamps. It is read inside the
// write transaction.
func WithClock(clock store.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{BucketTickets, BucketMeta, BucketEvents, BucketSessions} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, now: store.SystemClock}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticket{}, err
	}
	var ticket models.Ticket
	err := s.db.Update(func(tx *bolt.Tx) error {
		joinedAt := s.now().UTC()
		meta := tx.Bucket([]byte(BucketMeta))
		highest := 0
		if raw := meta.Get(keyTicketCounter); raw != nil {
			highest = int(binary.BigEndian.Uint64(raw))
		}
		number := store.NextTicketNumber(highest, input.Floor)
		if err := meta.Put(keyTicketCounter, itob(number)); err != nil {
			return err
		}
		ticket = models.Ticket{
			TicketID:     uuid.NewString(),
			TicketNumber: number,
			Name:         input.Name,
			Service:      input.Service,
			Status:       models.StatusWaiting,
			JoinedAt:     joinedAt,
		}
		return putTicket(tx, ticket, joinedAt)
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticket{}, err
	}
	var ticket models.Ticket
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		ticket, err = getTicket(tx, ticketID)
		return err
	})
	return ticket, err
}

func (s *Store) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tickets []models.Ticket
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		tickets, err = listTickets(tx)
		return err
	})
	return tickets, err
}

func (s *Store) CallNext(ctx context.Context) (store.CallNextResult, error) {
	if err := ctx.Err(); err != nil {
		return store.CallNextResult{}, err
	}
	var result store.CallNextResult
	err := s.db.Update(func(tx *bolt.Tx) error {
		calledAt := s.now().UTC()
		tickets, err := listTickets(tx)
		if err != nil {
			return err
		}
		next := -1
		for i := range tickets {
			if store.ValidTransition(store.ActionCallNext, tickets[i].Status) {
				next = i
				break
			}
		}
		if next < 0 {
			return store.ErrNoTicket
		}
		for i := range tickets {
			if !store.ValidTransition(store.ActionFinish, tickets[i].Status) {
				continue
			}
			calledAt = store.NotBefore(calledAt, tickets[i].CalledAt)
			finished := tickets[i]
			finished.Status = models.StatusCompleted
			finishedAt := calledAt
			finished.FinishedAt = &finishedAt
			if err := putTicket(tx, finished, finishedAt); err != nil {
				return err
			}
			result.Completed = &finished
		}
		called := tickets[next]
		called.Status = models.StatusCalled
		at := calledAt
		called.CalledAt = &at
		if err := putTicket(tx, called, calledAt); err != nil {
			return err
		}
		result.Called = called
		return nil
	})
	if err != nil {
		return store.CallNextResult{}, err
	}
	return result, nil
}

func (s *Store) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.finishTicket(ctx, input, store.ActionComplete, models.StatusCompleted)
}

func (s *Store) CancelTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	return s.finishTicket(ctx, input, store.ActionCancel, models.StatusCancelled)
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var events []store.TicketEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		if _, err := getTicket(tx, ticketID); err != nil {
			return err
		}
		bkt := tx.Bucket([]byte(BucketEvents)).Bucket([]byte(ticketID))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(_, v []byte) error {
			var event store.TicketEvent
			if err := jsoniter.Unmarshal(v, &event); err != nil {
				return err
			}
			events = append(events, event)
			return nil
		})
	})
	return events, err
}

func (s *Store) LoadSession(ctx context.Context, id string) (queue.Session, error) {
	if err := ctx.Err(); err != nil {
		return queue.Session{}, err
	}
	var session queue.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketSessions)).Get([]byte(id))
		if b == nil {
			return queue.ErrSessionNotFound
		}
		return jsoniter.Unmarshal(b, &session)
	})
	return session, err
}

func (s *Store) SaveSession(ctx context.Context, session queue.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session.ID == "" {
		return errors.New("session id is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := jsoniter.Marshal(&session)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(BucketSessions)).Put([]byte(session.ID), b)
	})
}

func (s *Store) finishTicket(ctx context.Context, input store.TicketActionInput, action, toStatus string) (models.Ticket, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticket{}, false, err
	}
	allowed := input.AllowedFrom
	if len(allowed) == 0 {
		allowed = store.AllowedFrom(action)
	}
	var ticket models.Ticket
	changed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		current, err := getTicket(tx, input.TicketID)
		if err != nil {
			return err
		}
		ticket = current
		if !store.Matches(allowed, current.Status) {
			if action == store.ActionComplete && current.Status == models.StatusCompleted {
				return nil
			}
			return store.ErrInvalidState
		}
		occurredAt := store.NotBefore(s.now().UTC(), current.CalledAt)
		ticket.Status = toStatus
		ticket.FinishedAt = &occurredAt
		changed = true
		return putTicket(tx, ticket, occurredAt)
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			return ticket, false, err
		}
		return models.Ticket{}, false, err
	}
	return ticket, changed, nil
}

// putTicket writes the ticket and appends its audit event in the same tx.
func putTicket(tx *bolt.Tx, ticket models.Ticket, at time.Time) error {
	b, err := jsoniter.Marshal(&ticket)
	if err != nil {
		return err
	}
	if err := tx.Bucket([]byte(BucketTickets)).Put([]byte(ticket.TicketID), b); err != nil {
		return err
	}

	events, err := tx.Bucket([]byte(BucketEvents)).CreateBucketIfNotExists([]byte(ticket.TicketID))
	if err != nil {
		return err
	}
	var prev *store.TicketEvent
	if _, last := events.Cursor().Last(); last != nil {
		var event store.TicketEvent
		if err := jsoniter.Unmarshal(last, &event); err != nil {
			return err
		}
		prev = &event
	}
	event, err := store.NextTicketEvent(prev, ticket, at)
	if err != nil {
		return err
	}
	raw, err := jsoniter.Marshal(&event)
	if err != nil {
		return err
	}
	return events.Put(itob(event.TicketSeq), raw)
}

func getTicket(tx *bolt.Tx, ticketID string) (models.Ticket, error) {
	b := tx.Bucket([]byte(BucketTickets)).Get([]byte(ticketID))
	if b == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	var ticket models.Ticket
	if err := jsoniter.Unmarshal(b, &ticket); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func listTickets(tx *bolt.Tx) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := tx.Bucket([]byte(BucketTickets)).ForEach(func(_, v []byte) error {
		var ticket models.Ticket
		if err := jsoniter.Unmarshal(v, &ticket); err != nil {
			return err
		}
		tickets = append(tickets, ticket)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		if tickets[i].JoinedAt.Equal(tickets[j].JoinedAt) {
			return tickets[i].TicketNumber < tickets[j].TicketNumber
		}
		return tickets[i].JoinedAt.Before(tickets[j].JoinedAt)
	})
	return tickets, nil
}

func itob(v int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
