package queue

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/feed"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/store"
)

var (
	ErrNameRequired   = errors.New("name is required")
	ErrUnknownService = errors.New("unknown service")
	ErrTicketActive   = errors.New("ticket is still in the queue")
)

var (
	ticketsJoined    = expvar.NewInt("tickets_joined_total")
	ticketsCalled    = expvar.NewInt("tickets_called_total")
	ticketsCompleted = expvar.NewInt("tickets_completed_total")
	ticketsCancelled = expvar.NewInt("tickets_cancelled_total")
)

type Announcer interface {
	Announce(ctx context.Context, ticket models.Ticket) error
}

type Notifier interface {
	NotifyYourTurn(ctx context.Context, ticket models.Ticket) error
}

type Options struct {
	Floor             int
	MinutesPerTicket  int
	AllowCancelCalled bool
	Catalog           models.Catalog
}

type Dependencies struct {
	Store     store.TicketStore
	Feed      feed.Publisher
	Announcer Announcer
	Notifier  Notifier
	Logger    *zap.Logger
	Tracer    trace.Tracer
	Now       func() time.Time
}

// Service runs the queue state machine. It holds no queue state of its own;
// every view is recomputed from a fresh read of the store.
type Service struct {
	store     store.TicketStore
	feed      feed.Publisher
	announcer Announcer
	notifier  Notifier
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
	opts      Options
}

func NewService(deps Dependencies, opts Options) *Service {
	if opts.Floor <= 0 {
		opts.Floor = models.DefaultTicketFloor
	}
	if opts.MinutesPerTicket <= 0 {
		opts.MinutesPerTicket = DefaultMinutesPerTicket
	}
	if len(opts.Catalog.Services) == 0 {
		opts.Catalog = models.NewCatalog(nil, models.DefaultService)
	}
	svc := &Service{
		store:     deps.Store,
		feed:      deps.Feed,
		announcer: deps.Announcer,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		tracer:    deps.Tracer,
		now:       deps.Now,
		opts:      opts,
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	if svc.tracer == nil {
		svc.tracer = otel.Tracer("queue")
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc
}

func (s *Service) Catalog() models.Catalog {
	return s.opts.Catalog
}

// Join issues a new waiting ticket and makes it the session's active ticket.
func (s *Service) Join(ctx context.Context, session *Session, name, service string) (models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "queue.join")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return models.Ticket{}, ErrNameRequired
	}
	resolved, ok := s.opts.Catalog.Resolve(service)
	if !ok {
		return models.Ticket{}, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}

	ticket, err := s.store.CreateTicket(ctx, store.CreateTicketInput{
		Name:    name,
		Service: resolved,
		Floor:   s.opts.Floor,
	})
	if err != nil {
		recordError(span, err)
		s.logger.Error("join failed", zap.Error(err))
		return models.Ticket{}, fmt.Errorf("create ticket: %w", err)
	}
	ticketsJoined.Add(1)
	span.SetAttributes(attribute.Int("ticket.number", ticket.TicketNumber))

	if session != nil {
		session.track(ticket)
	}
	s.publishTicket(ctx, ticket)
	s.logger.Info("ticket joined",
		zap.String("ticket_id", ticket.TicketID),
		zap.Int("ticket_number", ticket.TicketNumber),
		zap.String("service", ticket.Service),
	)
	return ticket, nil
}

// CallNext completes whoever is being served and calls the earliest waiting
// ticket as one store operation.
func (s *Service) CallNext(ctx context.Context, session *Session) (store.CallNextResult, error) {
	ctx, span := s.tracer.Start(ctx, "queue.call_next")
	defer span.End()

	result, err := s.store.CallNext(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoTicket) {
			return store.CallNextResult{}, err
		}
		recordError(span, err)
		s.logger.Error("call next failed", zap.Error(err))
		return store.CallNextResult{}, fmt.Errorf("call next: %w", err)
	}
	ticketsCalled.Add(1)
	span.SetAttributes(attribute.Int("ticket.number", result.Called.TicketNumber))

	if result.Completed != nil {
		ticketsCompleted.Add(1)
		s.publishTicket(ctx, *result.Completed)
	}
	s.publishTicket(ctx, result.Called)

	if s.announcer != nil {
		if err := s.announcer.Announce(ctx, result.Called); err != nil {
			s.logger.Warn("announcement failed", zap.Int("ticket_number", result.Called.TicketNumber), zap.Error(err))
		}
	}
	if s.notifier != nil && session.Tracks(result.Called.TicketID) {
		if err := s.notifier.NotifyYourTurn(ctx, result.Called); err != nil {
			s.logger.Warn("notification failed", zap.String("ticket_id", result.Called.TicketID), zap.Error(err))
		}
	}

	s.logger.Info("ticket called",
		zap.String("ticket_id", result.Called.TicketID),
		zap.Int("ticket_number", result.Called.TicketNumber),
	)
	return result, nil
}

// CompleteCustomer finishes a waiting or called ticket. Completing a
// completed ticket returns it unchanged.
func (s *Service) CompleteCustomer(ctx context.Context, session *Session, ticketID string) (models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "queue.complete", trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer span.End()

	ticket, changed, err := s.store.CompleteTicket(ctx, store.TicketActionInput{TicketID: ticketID})
	if err != nil {
		return models.Ticket{}, s.actionError(span, "complete", ticketID, err)
	}
	if changed {
		ticketsCompleted.Add(1)
		s.publishTicket(ctx, ticket)
		s.logger.Info("ticket completed", zap.String("ticket_id", ticket.TicketID), zap.Int("ticket_number", ticket.TicketNumber))
	}
	return ticket, nil
}

// CancelTicket cancels a ticket and drops it from the session when it was
// the active one.
func (s *Service) CancelTicket(ctx context.Context, session *Session, ticketID string) (models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "queue.cancel", trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer span.End()

	ticket, _, err := s.store.CancelTicket(ctx, store.TicketActionInput{
		TicketID:    ticketID,
		AllowedFrom: store.CancelFrom(s.opts.AllowCancelCalled),
	})
	if err != nil {
		return models.Ticket{}, s.actionError(span, "cancel", ticketID, err)
	}
	ticketsCancelled.Add(1)
	if session.Tracks(ticketID) {
		session.forget()
	}
	s.publishTicket(ctx, ticket)
	s.logger.Info("ticket cancelled", zap.String("ticket_id", ticket.TicketID), zap.Int("ticket_number", ticket.TicketNumber))
	return ticket, nil
}

// Acknowledge clears the session's active ticket once it left the queue.
func (s *Service) Acknowledge(ctx context.Context, session *Session) error {
	if session == nil || session.ActiveTicketID == "" {
		return nil
	}
	ticket, err := s.store.GetTicket(ctx, session.ActiveTicketID)
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			session.forget()
			session.View = ViewJoin
			return nil
		}
		return fmt.Errorf("get ticket: %w", err)
	}
	if ticket.InQueue() {
		return ErrTicketActive
	}
	session.forget()
	session.View = ViewJoin
	return nil
}

func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "queue.snapshot")
	defer span.End()

	tickets, err := s.store.ListTickets(ctx)
	if err != nil {
		recordError(span, err)
		return Snapshot{}, fmt.Errorf("list tickets: %w", err)
	}
	return NewSnapshot(tickets, s.now(), s.opts.MinutesPerTicket), nil
}

// Status is the status view of one ticket from a fresh snapshot.
func (s *Service) Status(ctx context.Context, ticketID string) (StatusView, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return StatusView{}, err
	}
	return snapshot.StatusView(ticketID)
}

// Events returns the verified audit trail of a ticket.
func (s *Service) Events(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	events, err := s.store.ListTicketEvents(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := store.VerifyChain(events); err != nil {
		s.logger.Error("ticket event chain broken", zap.String("ticket_id", ticketID), zap.Error(err))
		return events, err
	}
	return events, nil
}

// publishTicket announces a transition with the time the store recorded for it.
func (s *Service) publishTicket(ctx context.Context, ticket models.Ticket) {
	at := ticket.ChangedAt()
	if at.IsZero() {
		at = s.now()
	}
	s.publish(ctx, feed.TicketEvent(ticket, at))
}

func (s *Service) publish(ctx context.Context, event feed.Event) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, event); err != nil {
		s.logger.Warn("publish change event failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func (s *Service) actionError(span trace.Span, action, ticketID string, err error) error {
	if errors.Is(err, store.ErrTicketNotFound) || errors.Is(err, store.ErrInvalidState) {
		return err
	}
	recordError(span, err)
	s.logger.Error(action+" failed", zap.String("ticket_id", ticketID), zap.Error(err))
	return fmt.Errorf("%s ticket: %w", action, err)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
