package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = `ticket_id::text, ticket_number, name, service, status, joined_at, called_at, finished_at`

// callNextLockKey serializes call-next across every connection of every instance.
const callNextLockKey = "queue_call_next"

type Store struct {
	pool *pgxpool.Pool
	now  store.Clock
}

type Option func(*Store)

// WithClock sets the source of transition timestamps. It is read once the
// transaction holds the lock that orders the write.
func WithClock(clock store.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, now: store.SystemClock}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return NewStore(pool, opts...), nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	number, err := nextTicketNumber(ctx, tx, input.Floor)
	if err != nil {
		return models.Ticket{}, err
	}

	joinedAt := normalizeTime(s.now())
	var ticket models.Ticket
	var calledAtNull, finishedAtNull sql.NullTime
	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (ticket_id, ticket_number, name, service, status, joined_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING `+ticketColumns,
		uuid.NewString(), number, input.Name, input.Service, models.StatusWaiting, joinedAt)
	if err = row.Scan(&ticket.TicketID, &ticket.TicketNumber, &ticket.Name, &ticket.Service, &ticket.Status, &ticket.JoinedAt, &calledAtNull, &finishedAtNull); err != nil {
		return models.Ticket{}, err
	}
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.FinishedAt = nullTimePtr(finishedAtNull)

	if err = insertTicketEvent(ctx, tx, ticket, joinedAt); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if _, err := uuid.Parse(ticketID); err != nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return getTicketByID(ctx, s.pool, ticketID)
}

func (s *Store) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		ORDER BY joined_at ASC, ticket_number ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

// CallNext finishes the called ticket and calls the earliest waiting one in
// a single transaction. Nothing changes when no ticket is waiting.
func (s *Store) CallNext(ctx context.Context) (store.CallNextResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.CallNextResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, callNextLockKey); err != nil {
		return store.CallNextResult{}, err
	}

	var nextID string
	row := tx.QueryRow(ctx, `
		SELECT ticket_id::text
		FROM tickets
		WHERE status = $1
		ORDER BY joined_at ASC, ticket_number ASC
		LIMIT 1
		FOR UPDATE
	`, models.StatusWaiting)
	if err = row.Scan(&nextID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoTicket
		}
		return store.CallNextResult{}, err
	}

	var lastCalled sql.NullTime
	if err = tx.QueryRow(ctx, `
		SELECT MAX(called_at)
		FROM tickets
		WHERE status = ANY($1)
	`, store.AllowedFrom(store.ActionFinish)).Scan(&lastCalled); err != nil {
		return store.CallNextResult{}, err
	}
	calledAt := store.NotBefore(normalizeTime(s.now()), nullTimePtr(lastCalled))
	var result store.CallNextResult

	finishRows, err := tx.Query(ctx, `
		UPDATE tickets
		SET status = $1, finished_at = $2
		WHERE status = ANY($3)
		RETURNING `+ticketColumns,
		models.StatusCompleted, calledAt, store.AllowedFrom(store.ActionFinish))
	if err != nil {
		return store.CallNextResult{}, err
	}
	var finished []models.Ticket
	for finishRows.Next() {
		ticket, scanErr := scanTicket(finishRows)
		if scanErr != nil {
			finishRows.Close()
			err = scanErr
			return store.CallNextResult{}, err
		}
		finished = append(finished, ticket)
	}
	finishRows.Close()
	if err = finishRows.Err(); err != nil {
		return store.CallNextResult{}, err
	}
	for i := range finished {
		if err = insertTicketEvent(ctx, tx, finished[i], calledAt); err != nil {
			return store.CallNextResult{}, err
		}
	}
	if len(finished) > 0 {
		result.Completed = &finished[0]
	}

	row = tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1, called_at = $2
		WHERE ticket_id = $3 AND status = ANY($4)
		RETURNING `+ticketColumns,
		models.StatusCalled, calledAt, nextID, store.AllowedFrom(store.ActionCallNext))
	if result.Called, err = scanTicket(row); err != nil {
		return store.CallNextResult{}, err
	}
	if err = insertTicketEvent(ctx, tx, result.Called, calledAt); err != nil {
		return store.CallNextResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
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
	if _, err := uuid.Parse(ticketID); err != nil {
		return nil, store.ErrTicketNotFound
	}
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id::text, ticket_seq, type, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TicketEvent
	for rows.Next() {
		var event store.TicketEvent
		var payload string
		if err := rows.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = []byte(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// finishTicket moves a ticket into a terminal status when its current status
// matches the allowed set. Completing an already completed ticket is a no-op.
func (s *Store) finishTicket(ctx context.Context, input store.TicketActionInput, action, toStatus string) (models.Ticket, bool, error) {
	if _, err := uuid.Parse(input.TicketID); err != nil {
		return models.Ticket{}, false, store.ErrTicketNotFound
	}
	allowed := input.AllowedFrom
	if len(allowed) == 0 {
		allowed = store.AllowedFrom(action)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := normalizeTime(s.now())
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1, finished_at = GREATEST($2, called_at)
		WHERE ticket_id = $3 AND status = ANY($4)
		RETURNING `+ticketColumns,
		toStatus, occurredAt, input.TicketID, allowed)
	ticket, err := scanTicket(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, err
		}
		current, loadErr := getTicketByID(ctx, tx, input.TicketID)
		if loadErr != nil {
			err = loadErr
			return models.Ticket{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		if action == store.ActionComplete && current.Status == models.StatusCompleted {
			return current, false, nil
		}
		return current, false, store.ErrInvalidState
	}

	if err = insertTicketEvent(ctx, tx, ticket, *ticket.FinishedAt); err != nil {
		return models.Ticket{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// nextTicketNumber advances the single-row counter. The row lock serializes
// concurrent joins so numbers follow commit order.
func nextTicketNumber(ctx context.Context, tx pgx.Tx, floor int) (int, error) {
	if floor <= 0 {
		floor = models.DefaultTicketFloor
	}
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_counter (id, value)
		VALUES (1, $1 + 1)
		ON CONFLICT (id)
		DO UPDATE SET value = GREATEST(ticket_counter.value, $1) + 1
		RETURNING value
	`, floor)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func insertTicketEvent(ctx context.Context, tx pgx.Tx, ticket models.Ticket, createdAt time.Time) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticket.TicketID); err != nil {
		return err
	}

	var prev *store.TicketEvent
	var last store.TicketEvent
	row := tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
		FOR UPDATE
	`, ticket.TicketID)
	if err := row.Scan(&last.TicketSeq, &last.Hash); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
	} else {
		prev = &last
	}

	event, err := store.NextTicketEvent(prev, ticket, createdAt)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.TicketID, event.TicketSeq, event.Type, string(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getTicketByID(ctx context.Context, q querier, ticketID string) (models.Ticket, error) {
	row := q.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var calledAtNull, finishedAtNull sql.NullTime
	if err := row.Scan(&ticket.TicketID, &ticket.TicketNumber, &ticket.Name, &ticket.Service, &ticket.Status, &ticket.JoinedAt, &calledAtNull, &finishedAtNull); err != nil {
		return models.Ticket{}, err
	}
	ticket.JoinedAt = ticket.JoinedAt.UTC()
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.FinishedAt = nullTimePtr(finishedAtNull)
	return ticket, nil
}

// normalizeTime matches the precision Postgres stores.
func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		value = time.Now()
	}
	return value.UTC().Truncate(time.Microsecond)
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}
