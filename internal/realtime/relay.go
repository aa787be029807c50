package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"go.uber.org/zap"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/auth"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/feed"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/hub"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/notify"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/queue"
)

const (
	MessageStatus       = "status"
	MessageStaffBoard   = "staff_board"
	MessageKiosk        = "kiosk"
	MessageNotification = "notification"
	MessageError        = "error"
)

const StaffCookie = "qms_staff"

type Message struct {
	Type         string            `json:"type"`
	Event        *feed.Event       `json:"event,omitempty"`
	Status       *queue.StatusView `json:"status,omitempty"`
	Board        *queue.StaffBoard `json:"board,omitempty"`
	Kiosk        *queue.KioskBoard `json:"kiosk,omitempty"`
	Notification *notify.Message   `json:"notification,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type Snapshotter interface {
	Snapshot(ctx context.Context) (queue.Snapshot, error)
}

type TokenParser interface {
	ParseToken(token string) (*auth.Claims, error)
}

// Relay pushes every client its own projection whenever the queue changes.
type Relay struct {
	hub     *hub.Hub
	source  Snapshotter
	tokens  TokenParser
	joinURL string
	logger  *zap.Logger
}

func NewRelay(h *hub.Hub, source Snapshotter, tokens TokenParser, joinURL string, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{hub: h, source: source, tokens: tokens, joinURL: joinURL, logger: logger}
}

// HandleEvent takes one snapshot and fans projections out from it.
func (r *Relay) HandleEvent(ctx context.Context, event feed.Event) error {
	if r.hub.Len() == 0 {
		return nil
	}
	snapshot, err := r.source.Snapshot(ctx)
	if err != nil {
		r.logger.Warn("snapshot for realtime push failed", zap.Error(err))
		return err
	}

	var called *models.Ticket
	if event.Type == feed.TicketCalled {
		if ticket, ok := snapshot.Find(event.TicketID); ok {
			called = &ticket
		}
	}

	r.hub.Each(func(client *hub.Client, sub hub.Subscription) {
		if sub.View == "" {
			return
		}
		msg := r.project(snapshot, sub)
		msg.Event = &event
		if payload, err := json.Marshal(msg); err == nil {
			r.hub.Deliver(client, payload)
		}
	})

	if called != nil {
		note := notify.YourTurn(*called)
		if payload, err := json.Marshal(Message{Type: MessageNotification, Notification: &note}); err == nil {
			r.hub.Broadcast(payload, func(sub hub.Subscription) bool {
				return sub.View != "" && sub.TicketID == called.TicketID
			})
		}
	}
	return nil
}

func (r *Relay) project(snapshot queue.Snapshot, sub hub.Subscription) Message {
	switch sub.View {
	case queue.ViewStaff:
		board := snapshot.StaffBoard()
		return Message{Type: MessageStaffBoard, Board: &board}
	case queue.ViewKiosk:
		board := snapshot.KioskBoard(r.joinURL)
		return Message{Type: MessageKiosk, Kiosk: &board}
	default:
		view, err := snapshot.StatusView(sub.TicketID)
		if err != nil {
			return Message{Type: MessageError, Error: err.Error()}
		}
		return Message{Type: MessageStatus, Status: &view}
	}
}

// Subscribe validates a subscribe request and pushes the current projection.
func (r *Relay) Subscribe(ctx context.Context, client *hub.Client, msg hub.SubscribeMessage, staff bool) error {
	if msg.Action == "unsubscribe" {
		r.hub.UpdateSubscription(client, hub.Subscription{})
		return nil
	}
	sub := hub.Subscription{View: msg.View, TicketID: msg.TicketID, Staff: staff}
	switch msg.View {
	case queue.ViewStaff:
		if !staff && !r.validToken(msg.Token) {
			return auth.ErrInvalidToken
		}
		sub.Staff = true
	case queue.ViewKiosk:
	case queue.ViewStatus:
		if msg.TicketID == "" {
			return queue.ErrUnknownView
		}
	default:
		return queue.ErrUnknownView
	}
	r.hub.UpdateSubscription(client, sub)

	snapshot, err := r.source.Snapshot(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(r.project(snapshot, sub))
	if err != nil {
		return err
	}
	r.hub.SendTo(client, payload)
	return nil
}

func (r *Relay) validToken(token string) bool {
	if r.tokens == nil || token == "" {
		return false
	}
	_, err := r.tokens.ParseToken(token)
	return err == nil
}

// Handler serves the sockjs change stream under prefix.
func (r *Relay) Handler(prefix string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, r.serve)
}

func (r *Relay) serve(session sockjs.Session) {
	staff := r.validToken(staffToken(session.Request()))

	client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
	r.hub.Register(client)
	defer r.hub.Unregister(client)

	go func() {
		for msg := range client.Send {
			_ = session.Send(string(msg))
		}
	}()

	for {
		raw, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := hub.ParseSubscribe([]byte(raw))
		if !ok {
			continue
		}
		if err := r.Subscribe(context.Background(), client, parsed, staff); err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				_ = session.Close(4001, "staff login required")
				return
			}
			payload, _ := json.Marshal(Message{Type: MessageError, Error: err.Error()})
			r.hub.SendTo(client, payload)
		}
	}
}

func staffToken(req *http.Request) string {
	if req == nil {
		return ""
	}
	if token := bearerToken(req.Header.Get("Authorization")); token != "" {
		return token
	}
	if cookie, err := req.Cookie(StaffCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
