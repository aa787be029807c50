package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/auth"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/queue"
	"github.com/lakshmishasr24-hub/Smart-Queue/internal/store"
)

type Handler struct {
	queue         *queue.Service
	gate          *auth.Gate
	tokens        *auth.TokenManager
	limiter       *RateLimiter
	logger        *zap.Logger
	joinURL       string
	secureCookies bool
}

type Options struct {
	JoinURL       string
	RateLimit     RateLimitConfig
	SecureCookies bool
}

type joinRequest struct {
	Name    string `json:"name"`
	Service string `json:"service"`
}

type viewRequest struct {
	View string `json:"view"`
}

type loginRequest struct {
	Password string `json:"password"`
}

type ticketResponse struct {
	Ticket  models.Ticket  `json:"ticket"`
	Session *queue.Session `json:"session,omitempty"`
}

type callNextResponse struct {
	Called    models.Ticket  `json:"called"`
	Completed *models.Ticket `json:"completed,omitempty"`
}

type eventsResponse struct {
	TicketID string              `json:"ticket_id"`
	Events   []store.TicketEvent `json:"events"`
	Verified bool                `json:"verified"`
}

type servicesResponse struct {
	Services []models.Service `json:"services"`
	Default  string           `json:"default"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Session   *queue.Session `json:"session"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(svc *queue.Service, gate *auth.Gate, tokens *auth.TokenManager, logger *zap.Logger, options Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		queue:         svc,
		gate:          gate,
		tokens:        tokens,
		limiter:       NewRateLimiter(options.RateLimit),
		logger:        logger,
		joinURL:       options.JoinURL,
		secureCookies: options.SecureCookies,
	}
}

// Routes returns the API mux wrapped in the staff middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/services", h.handleServices)
	mux.Handle("/api/tickets", h.limiter.Middleware(http.HandlerFunc(h.handleJoin)))
	mux.HandleFunc("/api/tickets/active", h.handleActiveTicket)
	mux.HandleFunc("/api/tickets/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/tickets/", h.handleTicketActions)
	mux.HandleFunc("/api/board", h.handleBoard)
	mux.HandleFunc("/api/kiosk", h.handleKiosk)
	mux.HandleFunc("/api/session", h.handleSession)
	mux.HandleFunc("/api/session/view", h.handleSessionView)
	mux.HandleFunc("/api/session/acknowledge", h.handleAcknowledge)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	return AuthMiddleware(h.tokens, mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	catalog := h.queue.Catalog()
	writeJSON(w, http.StatusOK, servicesResponse{Services: catalog.Services, Default: catalog.Default()})
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session := sessionFromRequest(r)
	ticket, err := h.queue.Join(r.Context(), session, req.Name, req.Service)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.saveSession(w, session)
	writeJSON(w, http.StatusCreated, ticketResponse{Ticket: ticket, Session: session})
}

func (h *Handler) handleActiveTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session := sessionFromRequest(r)
	if session.ActiveTicketID == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	view, err := h.queue.Status(r.Context(), session.ActiveTicketID)
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			// the pointer is stale, the client must join again
			session.ActiveTicketID = ""
			session.Back()
			h.saveSession(w, session)
		}
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !staffFromContext(r.Context()) {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "staff_required", "staff login required")
		return
	}
	result, err := h.queue.CallNext(r.Context(), sessionFromRequest(r))
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, callNextResponse{Called: result.Called, Completed: result.Completed})
}

// handleTicketActions serves /api/tickets/{id} and its sub-resources.
func (h *Handler) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	parts, ok := ticketRoute(r.URL.Path)
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "route not found")
		return
	}
	ticketID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTicketStatus(w, r, ticketID)
	case len(parts) == 2 && parts[1] == "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTicketEvents(w, r, ticketID)
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTicketAction(w, r, ticketID, parts[2])
	default:
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "route not found")
	}
}

func (h *Handler) handleTicketStatus(w http.ResponseWriter, r *http.Request, ticketID string) {
	view, err := h.queue.Status(r.Context(), ticketID)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	if !staffFromContext(r.Context()) {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "staff_required", "staff login required")
		return
	}
	session := sessionFromRequest(r)
	var (
		ticket models.Ticket
		err    error
	)
	switch action {
	case "complete":
		ticket, err = h.queue.CompleteCustomer(r.Context(), session, ticketID)
	case "cancel":
		ticket, err = h.queue.CancelTicket(r.Context(), session, ticketID)
	default:
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "unknown ticket action")
		return
	}
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.saveSession(w, session)
	writeJSON(w, http.StatusOK, ticketResponse{Ticket: ticket})
}

func (h *Handler) handleTicketEvents(w http.ResponseWriter, r *http.Request, ticketID string) {
	if !staffFromContext(r.Context()) {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "staff_required", "staff login required")
		return
	}
	events, err := h.queue.Events(r.Context(), ticketID)
	if err != nil && !errors.Is(err, store.ErrBrokenChain) {
		h.writeMappedError(w, r, err)
		return
	}
	if events == nil {
		events = []store.TicketEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{TicketID: ticketID, Events: events, Verified: err == nil})
}

func (h *Handler) handleBoard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !staffFromContext(r.Context()) {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "staff_required", "staff login required")
		return
	}
	snapshot, err := h.queue.Snapshot(r.Context())
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot.StaffBoard())
}

func (h *Handler) handleKiosk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snapshot, err := h.queue.Snapshot(r.Context())
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot.KioskBoard(h.joinURL))
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, sessionFromRequest(r))
}

func (h *Handler) handleSessionView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req viewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session := sessionFromRequest(r)
	view := strings.ToLower(strings.TrimSpace(req.View))
	if view == "back" {
		session.Back()
	} else if err := session.SetView(view); err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.saveSession(w, session)
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session := sessionFromRequest(r)
	if err := h.queue.Acknowledge(r.Context(), session); err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	h.saveSession(w, session)
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.gate.Check(req.Password); err != nil {
		h.logger.Info("staff login rejected", zap.String("request_id", requestIDFromRequest(r)))
		h.writeMappedError(w, r, err)
		return
	}
	token, expiresAt, err := h.tokens.GenerateToken()
	if err != nil {
		h.logger.Error("issue staff token failed", zap.Error(err))
		writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	session := sessionFromRequest(r)
	session.Login()
	http.SetCookie(w, &http.Cookie{
		Name:     StaffCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(h.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	h.saveSession(w, session)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt, Session: session})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session := sessionFromRequest(r)
	session.Logout()
	h.clearCookie(w, StaffCookie)
	h.saveSession(w, session)
	writeJSON(w, http.StatusOK, session)
}

// sessionFromRequest rebuilds the client's session from its cookies.
func sessionFromRequest(r *http.Request) *queue.Session {
	session := queue.NewSession()
	session.Staff = staffFromContext(r.Context())

	activeID := strings.TrimSpace(r.Header.Get(ActiveTicketHeader))
	if activeID == "" {
		if cookie, err := r.Cookie(ActiveTicketCookie); err == nil {
			activeID = strings.TrimSpace(cookie.Value)
		}
	}
	session.ActiveTicketID = activeID
	session.Back()

	if cookie, err := r.Cookie(ViewCookie); err == nil {
		_ = session.SetView(cookie.Value)
	}
	if session.View == queue.ViewStatus && session.ActiveTicketID == "" {
		session.View = queue.ViewJoin
	}
	return session
}

func (h *Handler) saveSession(w http.ResponseWriter, session *queue.Session) {
	if session.ActiveTicketID == "" {
		h.clearCookie(w, ActiveTicketCookie)
	} else {
		http.SetCookie(w, &http.Cookie{
			Name:     ActiveTicketCookie,
			Value:    session.ActiveTicketID,
			Path:     "/",
			HttpOnly: true,
			Secure:   h.secureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
	http.SetCookie(w, &http.Cookie{
		Name:     ViewCookie,
		Value:    session.View,
		Path:     "/",
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusServiceUnavailable {
		h.logger.Error("store unavailable", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found, join again"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrNoTicket):
		return http.StatusConflict, "queue_empty", "no customers waiting"
	case errors.Is(err, queue.ErrTicketActive):
		return http.StatusConflict, "ticket_active", "ticket is still in the queue"
	case errors.Is(err, queue.ErrNameRequired):
		return http.StatusBadRequest, "invalid_request", "name is required"
	case errors.Is(err, queue.ErrUnknownService):
		return http.StatusBadRequest, "unknown_service", "service is not offered"
	case errors.Is(err, queue.ErrUnknownView):
		return http.StatusBadRequest, "invalid_view", "unknown view"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "incorrect staff password"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "staff_required", "staff login required"
	default:
		return http.StatusServiceUnavailable, "store_unavailable", "queue store unavailable, try again"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
