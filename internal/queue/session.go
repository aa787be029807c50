package queue

import (
	"context"
	"errors"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
)

const (
	ViewJoin   = "join"
	ViewStatus = "status"
	ViewStaff  = "staff"
	ViewLogin  = "login"
	ViewKiosk  = "kiosk"
)

var ErrUnknownView = errors.New("unknown view")

var ErrSessionNotFound = errors.New("session not found")

// Session is the per-client state every operation receives explicitly.
type Session struct {
	ID             string `json:"id,omitempty"`
	ActiveTicketID string `json:"active_ticket_id,omitempty"`
	View           string `json:"view"`
	Staff          bool   `json:"staff"`
}

// SessionStore persists sessions for clients that cannot keep them.
type SessionStore interface {
	LoadSession(ctx context.Context, id string) (Session, error)
	SaveSession(ctx context.Context, session Session) error
}

func NewSession() *Session {
	return &Session{View: ViewJoin}
}

func (s *Session) SetView(view string) error {
	switch view {
	case ViewJoin, ViewStatus, ViewLogin, ViewKiosk:
		s.View = view
	case ViewStaff:
		if !s.Staff {
			s.View = ViewLogin
			return nil
		}
		s.View = ViewStaff
	default:
		return ErrUnknownView
	}
	return nil
}

func (s *Session) Back() {
	if s.ActiveTicketID != "" {
		s.View = ViewStatus
		return
	}
	s.View = ViewJoin
}

func (s *Session) Login() {
	s.Staff = true
	s.View = ViewStaff
}

func (s *Session) Logout() {
	s.Staff = false
	s.View = ViewJoin
}

func (s *Session) track(ticket models.Ticket) {
	s.ActiveTicketID = ticket.TicketID
	s.View = ViewStatus
}

func (s *Session) forget() {
	s.ActiveTicketID = ""
	if s.View == ViewStatus {
		s.View = ViewJoin
	}
}

// Tracks reports whether the session follows ticketID.
func (s *Session) Tracks(ticketID string) bool {
	return s != nil && ticketID != "" && s.ActiveTicketID == ticketID
}
