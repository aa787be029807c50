package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/auth"
)

const (
	StaffCookie        = "qms_staff"
	ActiveTicketCookie = "qms_active_ticket"
	ViewCookie         = "qms_view"
	ActiveTicketHeader = "X-Active-Ticket"
)

type authContextKey struct{}

type TokenParser interface {
	ParseToken(token string) (*auth.Claims, error)
}

// AuthMiddleware marks requests carrying a valid staff token and rejects
// staff endpoints without one.
func AuthMiddleware(tokens TokenParser, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		staff := false
		if token := staffTokenFromRequest(r); token != "" && tokens != nil {
			if _, err := tokens.ParseToken(token); err == nil {
				staff = true
			}
		}
		if isStaffEndpoint(r) && !staff {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "staff_required", "staff login required")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, staff)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func staffFromContext(ctx context.Context) bool {
	staff, _ := ctx.Value(authContextKey{}).(bool)
	return staff
}

func staffTokenFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if cookie, err := r.Cookie(StaffCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
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

func isStaffEndpoint(r *http.Request) bool {
	switch strings.TrimRight(r.URL.Path, "/") {
	case "/api/board", "/api/tickets/actions/call-next":
		return true
	}
	parts, ok := ticketRoute(r.URL.Path)
	if !ok {
		return false
	}
	return (len(parts) == 2 && parts[1] == "events") ||
		(len(parts) == 3 && parts[1] == "actions")
}

// ticketRoute splits /api/tickets/{id}/... into its segments, ignoring
// leading and trailing slashes.
func ticketRoute(path string) ([]string, bool) {
	if !strings.HasPrefix(path, "/api/tickets/") {
		return nil, false
	}
	rest := strings.Trim(strings.TrimPrefix(path, "/api/tickets/"), "/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		return nil, false
	}
	return parts, true
}
