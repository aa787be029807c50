// queuectl drives the ticket queue from a terminal against a local bolt
// file. The session (active ticket, view, staff flag) is kept in the same
// file so consecutive invocations behave like one client.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/auth"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/config"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/notify"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/queue"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/store"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/store/boltstore"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/telemetry"
)

const defaultSessionID = "local"

var errUsage = errors.New("usage error")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type app struct {
	svc      *queue.Service
	sessions queue.SessionStore
	gate     *auth.Gate
	session  *queue.Session
	password string
	joinURL  string
	jsonOut  bool
	out      io.Writer
}

func run(args []string, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var (
		dbPath    string
		floor     int
		password  string
		sessionID string
		jsonOut   bool
		verbose   bool
	)
	flagSet := pflag.NewFlagSet("queuectl", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&dbPath, "db", cfg.BoltPath, "path to the bolt queue file")
	flagSet.IntVar(&floor, "floor", cfg.TicketFloor, "ticket numbers start above this value")
	flagSet.StringVar(&password, "password", "", "staff password for staff commands")
	flagSet.StringVar(&sessionID, "session", defaultSessionID, "session name kept in the queue file")
	flagSet.BoolVar(&jsonOut, "json", false, "print JSON instead of text")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stdout, flagSet)
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if help, _ := flagSet.GetBool("help"); help || flagSet.NArg() == 0 {
		printHelp(stdout, flagSet)
		return nil
	}

	if flagSet.Arg(0) == "hash-password" {
		return hashPassword(stdout, flagSet.Args()[1:], password)
	}

	logger := zap.NewNop()
	if verbose {
		logger, err = telemetry.NewLogger("debug")
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
	}

	st, err := boltstore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", dbPath, err)
	}
	defer st.Close()

	svc := queue.NewService(queue.Dependencies{
		Store:     st,
		Announcer: notify.NewAnnouncer(notify.NewProvider("log", notify.ChannelAnnounce, logger)),
		Notifier:  notify.NewNotifier(notify.NewProvider("log", notify.ChannelNotification, logger)),
		Logger:    logger,
	}, queue.Options{
		Floor:             floor,
		MinutesPerTicket:  cfg.MinutesPerTicket,
		AllowCancelCalled: cfg.AllowCancelCalled,
		Catalog:           cfg.Catalog,
	})

	ctx := context.Background()
	session, err := st.LoadSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, queue.ErrSessionNotFound) {
			return fmt.Errorf("load session: %w", err)
		}
		session = *queue.NewSession()
		session.ID = sessionID
	}

	a := &app{
		svc:      svc,
		sessions: st,
		gate:     auth.NewGate(cfg.StaffPassword, cfg.StaffPasswordHash),
		session:  &session,
		password: password,
		joinURL:  cfg.JoinURL(),
		jsonOut:  jsonOut,
		out:      stdout,
	}
	err = a.dispatch(ctx, flagSet.Arg(0), flagSet.Args()[1:])
	if saveErr := a.sessions.SaveSession(ctx, *a.session); saveErr != nil && err == nil {
		err = fmt.Errorf("save session: %w", saveErr)
	}
	return err
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "join":
		return a.join(ctx, args)
	case "status":
		return a.status(ctx, args)
	case "ack":
		return a.ack(ctx)
	case "kiosk":
		return a.kiosk(ctx)
	case "login":
		return a.login()
	case "logout":
		a.session.Logout()
		fmt.Fprintln(a.out, "logged out")
		return nil
	case "call-next", "complete", "cancel", "board", "events":
		if err := a.requireStaff(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}

	switch command {
	case "call-next":
		return a.callNext(ctx)
	case "complete", "cancel":
		if len(args) != 1 {
			return fmt.Errorf("%w: %s takes exactly one ticket id", errUsage, command)
		}
		return a.finish(ctx, command, args[0])
	case "events":
		if len(args) != 1 {
			return fmt.Errorf("%w: events takes exactly one ticket id", errUsage)
		}
		return a.events(ctx, args[0])
	default:
		return a.board(ctx)
	}
}

// hashPassword prints the bcrypt hash of the positional password, or of
// --password when none is given. It does not touch the queue file.
func hashPassword(w io.Writer, args []string, flagPassword string) error {
	if len(args) > 1 {
		return fmt.Errorf("%w: hash-password takes at most one password", errUsage)
	}
	password := flagPassword
	if len(args) == 1 {
		password = args[0]
	}
	if password == "" {
		return fmt.Errorf("%w: hash-password needs a password", errUsage)
	}
	hashed, err := auth.HashPassword(password, 0)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	fmt.Fprintln(w, hashed)
	return nil
}

// requireStaff admits a logged-in session or a correct --password.
func (a *app) requireStaff() error {
	if a.session.Staff {
		return nil
	}
	if err := a.gate.Check(a.password); err != nil {
		return fmt.Errorf("staff command: %w", err)
	}
	return nil
}

func (a *app) login() error {
	if err := a.gate.Check(a.password); err != nil {
		return err
	}
	a.session.Login()
	fmt.Fprintln(a.out, "logged in as staff")
	return nil
}

func (a *app) join(ctx context.Context, args []string) error {
	var name, service string
	flagSet := pflag.NewFlagSet("join", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&name, "name", "", "customer name")
	flagSet.StringVar(&service, "service", "", "service (default from catalog)")
	if err := flagSet.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if name == "" && flagSet.NArg() > 0 {
		name = strings.Join(flagSet.Args(), " ")
	}

	ticket, err := a.svc.Join(ctx, a.session, name, service)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return a.printJSON(ticket)
	}
	fmt.Fprintf(a.out, "Ticket #%d for %s (%s)\n", ticket.TicketNumber, ticket.Name, ticket.Service)
	fmt.Fprintf(a.out, "id: %s\n", ticket.TicketID)
	return nil
}

func (a *app) status(ctx context.Context, args []string) error {
	ticketID := a.session.ActiveTicketID
	if len(args) > 0 {
		ticketID = args[0]
	}
	if ticketID == "" {
		return errors.New("no active ticket, join the queue first")
	}
	view, err := a.svc.Status(ctx, ticketID)
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) && a.session.Tracks(ticketID) {
			a.session.ActiveTicketID = ""
			a.session.Back()
		}
		return err
	}
	if a.jsonOut {
		return a.printJSON(view)
	}

	fmt.Fprintf(a.out, "Ticket #%d  %s  [%s]\n", view.Ticket.TicketNumber, view.Ticket.Name, view.Ticket.Status)
	switch {
	case view.YourTurn:
		message := notify.YourTurn(view.Ticket)
		fmt.Fprintf(a.out, "%s %s\n", message.Title, message.Body)
	case view.Completed:
		fmt.Fprintln(a.out, "Served. Run `queuectl ack` to start over.")
	case view.Cancelled:
		fmt.Fprintln(a.out, "Cancelled. Run `queuectl ack` to start over.")
	default:
		fmt.Fprintf(a.out, "Position: %s\nEstimated wait: %s\n", view.PositionLabel, view.EstimatedWait)
	}
	return nil
}

func (a *app) ack(ctx context.Context) error {
	if err := a.svc.Acknowledge(ctx, a.session); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ready for a new ticket")
	return nil
}

func (a *app) callNext(ctx context.Context) error {
	result, err := a.svc.CallNext(ctx, a.session)
	if err != nil {
		if errors.Is(err, store.ErrNoTicket) {
			return errors.New("no customers waiting")
		}
		return err
	}
	if a.jsonOut {
		return a.printJSON(result)
	}
	if result.Completed != nil {
		fmt.Fprintf(a.out, "Completed #%d\n", result.Completed.TicketNumber)
	}
	fmt.Fprintf(a.out, "Now serving #%d %s\n", result.Called.TicketNumber, result.Called.Name)
	fmt.Fprintln(a.out, notify.AnnouncementText(result.Called))
	return nil
}

func (a *app) finish(ctx context.Context, command, ticketID string) error {
	var (
		ticket models.Ticket
		err    error
	)
	if command == "complete" {
		ticket, err = a.svc.CompleteCustomer(ctx, a.session, ticketID)
	} else {
		ticket, err = a.svc.CancelTicket(ctx, a.session, ticketID)
	}
	if err != nil {
		return err
	}
	if a.jsonOut {
		return a.printJSON(ticket)
	}
	fmt.Fprintf(a.out, "Ticket #%d is %s\n", ticket.TicketNumber, ticket.Status)
	return nil
}

func (a *app) board(ctx context.Context) error {
	snapshot, err := a.svc.Snapshot(ctx)
	if err != nil {
		return err
	}
	board := snapshot.StaffBoard()
	if a.jsonOut {
		return a.printJSON(board)
	}

	if board.NowServing != nil {
		fmt.Fprintf(a.out, "Now serving: #%d %s (%s)\n", board.NowServing.TicketNumber, board.NowServing.Name, board.NowServing.Service)
	} else {
		fmt.Fprintln(a.out, "Now serving: -")
	}
	fmt.Fprintf(a.out, "Waiting: %d  Served: %d\n\n", board.WaitingCount, board.ServedCount)

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tSERVICE\tWAITING")
	for _, ticket := range board.Waiting {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ticket.TicketNumber, ticket.Name, ticket.Service, queue.FormatDuration(snapshot.TakenAt.Sub(ticket.JoinedAt)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(board.History) > 0 {
		fmt.Fprintln(a.out, "\nHistory:")
		tw = tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tNAME\tSTATUS\tWAIT")
		for _, entry := range board.History {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", entry.Ticket.TicketNumber, entry.Ticket.Name, entry.Ticket.Status, entry.WaitTime)
		}
		return tw.Flush()
	}
	return nil
}

func (a *app) kiosk(ctx context.Context) error {
	snapshot, err := a.svc.Snapshot(ctx)
	if err != nil {
		return err
	}
	board := snapshot.KioskBoard(a.joinURL)
	if a.jsonOut {
		return a.printJSON(board)
	}
	if board.NowServing != nil {
		fmt.Fprintf(a.out, "NOW SERVING #%d\n", board.NowServing.TicketNumber)
	} else {
		fmt.Fprintln(a.out, "NOW SERVING -")
	}
	fmt.Fprintf(a.out, "%d waiting\njoin at %s\n", board.WaitingCount, board.JoinURL)
	return nil
}

func (a *app) events(ctx context.Context, ticketID string) error {
	events, err := a.svc.Events(ctx, ticketID)
	if err != nil && !errors.Is(err, store.ErrBrokenChain) {
		return err
	}
	if a.jsonOut {
		if printErr := a.printJSON(events); printErr != nil {
			return printErr
		}
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTYPE\tAT\tHASH")
	for _, event := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.12s\n", event.TicketSeq, event.Type, event.CreatedAt.Format(time.RFC3339), event.Hash)
	}
	if flushErr := tw.Flush(); flushErr != nil {
		return flushErr
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "chain verified")
	return nil
}

func (a *app) printJSON(value interface{}) error {
	data, err := jsoniter.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `queuectl operates the ticket queue stored in a local bolt file.

Usage:
  queuectl [flags] <command> [args]

Customer commands:
  join --name NAME [--service SERVICE]   take a ticket
  status [ID]                            show the active (or given) ticket
  ack                                    clear a finished ticket
  kiosk                                  show the lobby display

Staff commands (need --password or a prior login):
  login | logout
  call-next                              complete the current customer, call the next
  complete ID | cancel ID
  board                                  waiting queue and history
  events ID                              audit trail with chain verification

Setup:
  hash-password [PASSWORD]               print a bcrypt hash for STAFF_PASSWORD_HASH

Flags:
%s`, flagSet.FlagUsages())
}
