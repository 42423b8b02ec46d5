package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(s.logRequests)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// public endpoints
	r.Post("/api/login", s.handleLogin)
	r.Post("/api/activate", s.handleActivate)

	// operator endpoints
	r.Group(func(r chi.Router) {
		r.Use(s.requireOperator)

		r.Post("/api/keys", s.handleCutKey)
		r.Get("/api/keys/{token}", s.handleGetKey)
		r.Post("/api/keys/{token}/active", s.handleSetActive)
		r.Get("/api/keys/{token}/log", s.handleKeyLog)
		r.Post("/api/users", s.handleProvisionUser)
	})

	return r
}
