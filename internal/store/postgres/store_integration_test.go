package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestCallNextConcurrency(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	createTicket(t, ctx, st, "Alice")
	createTicket(t, ctx, st, "Bob")

	var wg sync.WaitGroup
	results := make(chan callResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := st.CallNext(ctx)
			results <- callResult{ticketID: result.Called.TicketID, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var ids []string
	for result := range results {
		if result.err != nil {
			t.Fatalf("call next error: %v", result.err)
		}
		ids = append(ids, result.ticketID)
	}
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Fatalf("expected two distinct called tickets, got %v", ids)
	}

	tickets, err := st.ListTickets(ctx)
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	called := 0
	for _, ticket := range tickets {
		if ticket.Status == models.StatusCalled {
			called++
		}
	}
	if called != 1 {
		t.Fatalf("expected exactly one called ticket, got %d", called)
	}
}

func TestCallNextEmptyQueueKeepsCalledTicket(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	ticket := createTicket(t, ctx, st, "Alice")
	if _, err := st.CallNext(ctx); err != nil {
		t.Fatalf("call next: %v", err)
	}
	if _, err := st.CallNext(ctx); !errors.Is(err, store.ErrNoTicket) {
		t.Fatalf("expected ErrNoTicket, got %v", err)
	}
	got, err := st.GetTicket(ctx, ticket.TicketID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if got.Status != models.StatusCalled {
		t.Fatalf("status=%s, want called", got.Status)
	}
}

func TestTicketNumbersNeverReused(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	first := createTicket(t, ctx, st, "Alice")
	if first.TicketNumber != 101 {
		t.Fatalf("first number=%d, want 101", first.TicketNumber)
	}
	if _, _, err := st.CancelTicket(ctx, store.TicketActionInput{TicketID: first.TicketID}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	second := createTicket(t, ctx, st, "Bob")
	if second.TicketNumber != 102 {
		t.Fatalf("second number=%d, want 102", second.TicketNumber)
	}
}

func TestCompleteIsIdempotentAndChainVerifies(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	ticket := createTicket(t, ctx, st, "Alice")
	if _, err := st.CallNext(ctx); err != nil {
		t.Fatalf("call next: %v", err)
	}
	done, changed, err := st.CompleteTicket(ctx, store.TicketActionInput{TicketID: ticket.TicketID})
	if err != nil || !changed {
		t.Fatalf("complete: changed=%v err=%v", changed, err)
	}
	again, changed, err := st.CompleteTicket(ctx, store.TicketActionInput{TicketID: ticket.TicketID})
	if err != nil || changed {
		t.Fatalf("second complete: changed=%v err=%v", changed, err)
	}
	if !again.FinishedAt.Equal(*done.FinishedAt) {
		t.Fatalf("finished_at moved: %v != %v", again.FinishedAt, done.FinishedAt)
	}
	if _, _, err := st.CancelTicket(ctx, store.TicketActionInput{TicketID: ticket.TicketID}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	events, err := st.ListTicketEvents(ctx, ticket.TicketID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if err := store.VerifyChain(events); err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	rebuilt, err := store.RehydrateTicket(events)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if rebuilt.Status != models.StatusCompleted || rebuilt.TicketNumber != ticket.TicketNumber {
		t.Fatalf("unexpected rehydrated ticket: %+v", rebuilt)
	}
}

func TestConcurrentJoinsStampInNumberOrder(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	var mu sync.Mutex
	next := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	st.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		next = next.Add(time.Millisecond)
		return next
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.CreateTicket(ctx, store.CreateTicketInput{Name: "x", Floor: 100}); err != nil {
				t.Errorf("create ticket: %v", err)
			}
		}()
	}
	wg.Wait()

	tickets, err := st.ListTickets(ctx)
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].TicketNumber < tickets[j].TicketNumber })
	for i := 1; i < len(tickets); i++ {
		if !tickets[i].JoinedAt.After(tickets[i-1].JoinedAt) {
			t.Fatalf("#%d joined at %v, not after #%d at %v",
				tickets[i].TicketNumber, tickets[i].JoinedAt, tickets[i-1].TicketNumber, tickets[i-1].JoinedAt)
		}
	}
}

func TestFinishNeverPrecedesCall(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return base }
	ticket := createTicket(t, ctx, st, "Alice")
	createTicket(t, ctx, st, "Bob")

	st.now = func() time.Time { return base.Add(5 * time.Minute) }
	if _, err := st.CallNext(ctx); err != nil {
		t.Fatalf("call next: %v", err)
	}
	st.now = func() time.Time { return base.Add(time.Minute) }
	result, err := st.CallNext(ctx)
	if err != nil {
		t.Fatalf("second call next: %v", err)
	}
	if result.Completed == nil || result.Completed.TicketID != ticket.TicketID {
		t.Fatalf("expected Alice completed, got %+v", result.Completed)
	}
	if result.Completed.FinishedAt.Before(*result.Completed.CalledAt) {
		t.Fatalf("finished_at %v before called_at %v", *result.Completed.FinishedAt, *result.Completed.CalledAt)
	}
	done, _, err := st.CompleteTicket(ctx, store.TicketActionInput{TicketID: result.Called.TicketID})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.FinishedAt.Before(*done.CalledAt) {
		t.Fatalf("finished_at %v before called_at %v", *done.FinishedAt, *done.CalledAt)
	}
}

type callResult struct {
	ticketID string
	err      error
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool)
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func createTicket(t *testing.T, ctx context.Context, st *Store, name string) models.Ticket {
	t.Helper()
	ticket, err := st.CreateTicket(ctx, store.CreateTicketInput{
		Name:    name,
		Service: models.DefaultService,
		Floor:   models.DefaultTicketFloor,
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}
