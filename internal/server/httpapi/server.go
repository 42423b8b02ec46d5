// Package httpapi exposes the key lifecycle over a small JSON API. Operator
// endpoints require a bearer session token; the activation endpoint is public.
// All policy lives in the services; handlers only translate requests,
// responses, and the error taxonomy.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/keyserv/internal/logging"
	"github.com/dmitrijs2005/keyserv/internal/server/models"
	"github.com/dmitrijs2005/keyserv/internal/server/services"
)

// KeyManager is the slice of KeyService the API needs.
type KeyManager interface {
	CutKey(ctx context.Context, activations int, appID int64, active bool, memo string, actor *models.User, origin models.Origin) (*models.Key, error)
	ActivateKey(ctx context.Context, tok, hwid string, appID int64, origin models.Origin) (*services.ActivationResult, error)
	SetKeyActive(ctx context.Context, tok string, active bool, actor *models.User, origin models.Origin) (*models.Key, error)
	GetKey(ctx context.Context, tok string) (*models.Key, error)
	KeyLog(ctx context.Context, tok string, limit int) ([]*models.AuditLogEntry, error)
}

// UserManager is the slice of UserService the API needs.
type UserManager interface {
	Login(ctx context.Context, username string, password []byte) (string, *models.User, error)
	Provision(ctx context.Context, username string, password []byte, level int) (*models.User, error)
	GetOperator(ctx context.Context, userID string) (*models.User, error)
}

type Server struct {
	address   string
	logger    logging.Logger
	keys      KeyManager
	users     UserManager
	jwtSecret []byte
}

func NewServer(address string, l logging.Logger, ks KeyManager, us UserManager, secretKey string) *Server {
	return &Server{
		address:   address,
		logger:    l.With("module", "http_server"),
		keys:      ks,
		users:     us,
		jwtSecret: []byte(secretKey),
	}
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {

	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}
