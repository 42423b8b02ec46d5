package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/keyserv/internal/server/auth"
	"github.com/dmitrijs2005/keyserv/internal/server/models"
)

type ctxKey string

const (
	requestIDKey ctxKey = "requestID"
	operatorKey  ctxKey = "operator"
)

const requestIDHeader = "X-Request-Id"

// requestID assigns every request a request id (honoring one supplied by a
// proxy) and echoes it on the response.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		id, _ := r.Context().Value(requestIDKey).(string)
		s.logger.Info(r.Context(), "request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).String())
	})
}

// requireOperator authenticates operator endpoints: parses the bearer session
// token and resolves the acting operator, which handlers then thread through
// lifecycle calls as the audit actor.
func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tok, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tok == "" {
			_ = render.Render(w, r, errUnauthorized)
			return
		}

		claims, err := auth.ParseToken(tok, s.jwtSecret)
		if err != nil {
			_ = render.Render(w, r, errUnauthorized)
			return
		}

		operator, err := s.users.GetOperator(r.Context(), claims.UserID)
		if err != nil {
			renderError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), operatorKey, operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func operatorFrom(ctx context.Context) *models.User {
	op, _ := ctx.Value(operatorKey).(*models.User)
	return op
}

// clientIP strips the port from RemoteAddr. The service records it verbatim
// in the audit origin.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
