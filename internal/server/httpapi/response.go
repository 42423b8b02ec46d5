package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/dmitrijs2005/keyserv/internal/common"
	"github.com/dmitrijs2005/keyserv/internal/server/models"
)

// ErrResponse implements render.Renderer for API errors.
type ErrResponse struct {
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	AppCode        string `json:"code,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// Error codes surfaced to API callers.
const (
	ErrCodeNotFound     = "KEY_NOT_FOUND"
	ErrCodeInactive     = "KEY_INACTIVE"
	ErrCodeExhausted    = "EXHAUSTED_ACTIVATIONS"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeDuplicate    = "DUPLICATE_USERNAME"
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeRetryable    = "STORAGE_UNAVAILABLE"
	ErrCodeInternal     = "INTERNAL"
)

var (
	// A hardware mismatch renders exactly like an unknown token: the
	// boundary must not let callers enumerate bound keys.
	errKeyNotFound = &ErrResponse{HTTPStatusCode: http.StatusNotFound, StatusText: "key not found", AppCode: ErrCodeNotFound}

	errKeyInactive  = &ErrResponse{HTTPStatusCode: http.StatusForbidden, StatusText: "key inactive", AppCode: ErrCodeInactive}
	errExhausted    = &ErrResponse{HTTPStatusCode: http.StatusGone, StatusText: "no remaining activations", AppCode: ErrCodeExhausted}
	errUnauthorized = &ErrResponse{HTTPStatusCode: http.StatusUnauthorized, StatusText: "unauthorized", AppCode: ErrCodeUnauthorized}
	errDuplicate    = &ErrResponse{HTTPStatusCode: http.StatusConflict, StatusText: "username already exists", AppCode: ErrCodeDuplicate}
	errRetryable    = &ErrResponse{HTTPStatusCode: http.StatusServiceUnavailable, StatusText: "storage unavailable, retry later", AppCode: ErrCodeRetryable}
	errInternal     = &ErrResponse{HTTPStatusCode: http.StatusInternalServerError, StatusText: "internal error", AppCode: ErrCodeInternal}
)

func errBadRequest(msg string) *ErrResponse {
	return &ErrResponse{HTTPStatusCode: http.StatusBadRequest, StatusText: msg, AppCode: ErrCodeBadRequest}
}

// renderError maps the domain error taxonomy onto HTTP responses.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrKeyNotFound), errors.Is(err, common.ErrHardwareMismatch):
		_ = render.Render(w, r, errKeyNotFound)
	case errors.Is(err, common.ErrKeyInactive):
		_ = render.Render(w, r, errKeyInactive)
	case errors.Is(err, common.ErrExhaustedActivations):
		_ = render.Render(w, r, errExhausted)
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		_ = render.Render(w, r, errUnauthorized)
	case errors.Is(err, common.ErrDuplicateUsername):
		_ = render.Render(w, r, errDuplicate)
	case errors.Is(err, common.ErrStorageUnavailable):
		_ = render.Render(w, r, errRetryable)
	default:
		_ = render.Render(w, r, errInternal)
	}
}

// keyResponse is the JSON shape of a key on the operator surface.
type keyResponse struct {
	Token                string    `json:"token"`
	RemainingActivations int       `json:"remaining_activations"`
	Unlimited            bool      `json:"unlimited"`
	AppID                int64     `json:"app_id"`
	Active               bool      `json:"active"`
	HWID                 string    `json:"hwid,omitempty"`
	Memo                 string    `json:"memo,omitempty"`
	CutDate              time.Time `json:"cut_date"`
}

func newKeyResponse(k *models.Key) *keyResponse {
	return &keyResponse{
		Token:                k.Token,
		RemainingActivations: k.RemainingActivations,
		Unlimited:            k.Unlimited(),
		AppID:                k.AppID,
		Active:               k.Active,
		HWID:                 k.HWID,
		Memo:                 k.Memo,
		CutDate:              k.CutDate,
	}
}

type auditEntryResponse struct {
	Event       string    `json:"event"`
	Description string    `json:"description"`
	UserID      string    `json:"user_id,omitempty"`
	IP          string    `json:"ip,omitempty"`
	Machine     string    `json:"machine,omitempty"`
	HWID        string    `json:"hwid,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func newAuditEntryResponse(e *models.AuditLogEntry) *auditEntryResponse {
	return &auditEntryResponse{
		Event:       e.Event.String(),
		Description: e.Description,
		UserID:      e.UserID,
		IP:          e.Origin.IP,
		Machine:     e.Origin.Machine,
		HWID:        e.Origin.HWID,
		Timestamp:   e.Timestamp,
	}
}
