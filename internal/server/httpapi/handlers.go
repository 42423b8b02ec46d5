package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/dmitrijs2005/keyserv/internal/server/models"
)

const defaultLogLimit = 100

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		_ = render.Render(w, r, errBadRequest("invalid request body"))
		return
	}

	tok, user, err := s.users.Login(r.Context(), req.Username, []byte(req.Password))
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]any{
		"token":    tok,
		"username": user.Username,
		"level":    user.Level,
	})
}

type cutKeyRequest struct {
	Activations int    `json:"activations"`
	AppID       int64  `json:"app_id"`
	Active      *bool  `json:"active,omitempty"`
	Memo        string `json:"memo,omitempty"`
	Machine     string `json:"machine,omitempty"`
}

func (s *Server) handleCutKey(w http.ResponseWriter, r *http.Request) {
	var req cutKeyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		_ = render.Render(w, r, errBadRequest("invalid request body"))
		return
	}
	if req.Activations < models.UnlimitedActivations {
		_ = render.Render(w, r, errBadRequest("activations must be >= -1"))
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	origin := models.Origin{IP: clientIP(r), Machine: req.Machine}

	key, err := s.keys.CutKey(r.Context(), req.Activations, req.AppID, active, req.Memo, operatorFrom(r.Context()), origin)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newKeyResponse(key))
}

type activateRequest struct {
	Token   string `json:"token"`
	HWID    string `json:"hwid,omitempty"`
	AppID   int64  `json:"app_id"`
	Machine string `json:"machine,omitempty"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		_ = render.Render(w, r, errBadRequest("invalid request body"))
		return
	}
	if req.Token == "" {
		_ = render.Render(w, r, errBadRequest("token is required"))
		return
	}

	origin := models.Origin{IP: clientIP(r), Machine: req.Machine}

	result, err := s.keys.ActivateKey(r.Context(), req.Token, req.HWID, req.AppID, origin)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]any{
		"remaining": result.Remaining,
		"unlimited": result.Remaining == models.UnlimitedActivations,
	})
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.keys.GetKey(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, newKeyResponse(key))
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.Active == nil {
		_ = render.Render(w, r, errBadRequest("active is required"))
		return
	}

	origin := models.Origin{IP: clientIP(r)}

	key, err := s.keys.SetKeyActive(r.Context(), chi.URLParam(r, "token"), *req.Active, operatorFrom(r.Context()), origin)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, newKeyResponse(key))
}

func (s *Server) handleKeyLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			_ = render.Render(w, r, errBadRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := s.keys.KeyLog(r.Context(), chi.URLParam(r, "token"), limit)
	if err != nil {
		renderError(w, r, err)
		return
	}

	out := make([]*auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, newAuditEntryResponse(e))
	}
	render.JSON(w, r, out)
}

type provisionUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Level    *int   `json:"level,omitempty"`
}

func (s *Server) handleProvisionUser(w http.ResponseWriter, r *http.Request) {
	var req provisionUserRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		_ = render.Render(w, r, errBadRequest("invalid request body"))
		return
	}
	if req.Username == "" || req.Password == "" {
		_ = render.Render(w, r, errBadRequest("username and password are required"))
		return
	}

	level := models.DefaultUserLevel
	if req.Level != nil {
		level = *req.Level
	}

	user, err := s.users.Provision(r.Context(), req.Username, []byte(req.Password), level)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]any{
		"username": user.Username,
		"level":    user.Level,
	})
}
