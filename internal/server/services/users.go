// This file implements UserService: operator provisioning, credential
// verification, and operator session login.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/keyserv/internal/common"
	"github.com/dmitrijs2005/keyserv/internal/logging"
	"github.com/dmitrijs2005/keyserv/internal/server/auth"
	"github.com/dmitrijs2005/keyserv/internal/server/config"
	"github.com/dmitrijs2005/keyserv/internal/server/credential"
	"github.com/dmitrijs2005/keyserv/internal/server/models"
	"github.com/dmitrijs2005/keyserv/internal/server/repositories/repomanager"
)

// UserService provides operator account operations:
// - Provision: create operators (argon2id-hashed passwords)
// - Verify: check credentials without leaking user existence
// - Login: Verify plus minting a session JWT
type UserService struct {
	db                      *sql.DB
	repomanager             repomanager.RepositoryManager
	logger                  logging.Logger
	jwtSecret               []byte
	sessionValidityDuration time.Duration
	now                     func() time.Time

	// dummyHash is verified against when the username is unknown, so a
	// failed lookup costs the same as a failed password.
	dummyHash []byte
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) (*UserService, error) {
	dummy, err := credential.Hash(common.GenerateRandByteArray(32))
	if err != nil {
		return nil, fmt.Errorf("error preparing dummy hash: %w", err)
	}

	return &UserService{
		db:                      db,
		repomanager:             m,
		logger:                  logger.With("module", "users"),
		jwtSecret:               []byte(cfg.SecretKey),
		sessionValidityDuration: cfg.SessionValidityDuration,
		now:                     time.Now,
		dummyHash:               dummy,
	}, nil
}

// Provision creates a new operator with the given username, password, and
// privilege level. The password is wiped after hashing. A taken username is
// reported as common.ErrDuplicateUsername.
func (s *UserService) Provision(ctx context.Context, username string, password []byte, level int) (*models.User, error) {
	if username == "" {
		return nil, fmt.Errorf("username must not be empty")
	}

	hash, err := credential.Hash(password)
	common.WipeByteArray(password)
	if err != nil {
		return nil, common.ErrorInternal
	}

	user := &models.User{
		ID:        uuid.NewString(),
		Username:  username,
		Passwd:    hash,
		Level:     level,
		CreatedAt: s.now().UTC(),
	}

	created, err := s.repomanager.Users(s.db).Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorDuplicate) {
			return nil, common.ErrDuplicateUsername
		}
		s.logger.Error(ctx, "provision failed", "err", err.Error())
		return nil, storeFault(err)
	}

	s.logger.Info(ctx, "provisioned operator", "username", username, "level", level)
	return created, nil
}

// Verify checks the candidate password for the named operator. An unknown
// username and a wrong password are indistinguishable: both return
// common.ErrorUnauthorized after a full-cost hash verification.
func (s *UserService) Verify(ctx context.Context, username string, password []byte) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			credential.Verify(s.dummyHash, password)
			return nil, common.ErrorUnauthorized
		}
		s.logger.Error(ctx, "user lookup failed", "err", err.Error())
		return nil, storeFault(err)
	}

	if !credential.Verify(user.Passwd, password) {
		return nil, common.ErrorUnauthorized
	}

	return user, nil
}

// Login verifies credentials and, on success, returns a session token along
// with the operator record.
func (s *UserService) Login(ctx context.Context, username string, password []byte) (string, *models.User, error) {
	user, err := s.Verify(ctx, username, password)
	if err != nil {
		return "", nil, err
	}

	tok, err := auth.GenerateToken(user.ID, user.Level, s.jwtSecret, s.sessionValidityDuration)
	if err != nil {
		s.logger.Error(ctx, "session token mint failed", "err", err.Error())
		return "", nil, common.ErrorInternal
	}

	return tok, user, nil
}

// GetOperator resolves an operator by id, used when authenticating requests
// that present a session token.
func (s *UserService) GetOperator(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		s.logger.Error(ctx, "operator lookup failed", "err", err.Error())
		return nil, storeFault(err)
	}
	return user, nil
}
