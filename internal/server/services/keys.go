// Package services contains the server-side business logic. This file
// implements KeyService, the facade over token generation, the key ledger,
// and the audit trail. Every lifecycle verb runs its ledger mutation and its
// audit append in one transaction: a failed unit leaves no partial state.
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/keyserv/internal/common"
	"github.com/dmitrijs2005/keyserv/internal/dbx"
	"github.com/dmitrijs2005/keyserv/internal/logging"
	"github.com/dmitrijs2005/keyserv/internal/server/models"
	"github.com/dmitrijs2005/keyserv/internal/server/repositories/keys"
	"github.com/dmitrijs2005/keyserv/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/keyserv/internal/server/token"
)

// ActivationResult reports a successful activation. Remaining is the
// post-decrement count; models.UnlimitedActivations for unlimited keys.
type ActivationResult struct {
	Remaining int
}

// KeyService provides the key lifecycle operations:
// - CutKey: issue a new key with a fresh unique token
// - ActivateKey: redeem one activation, binding or checking the hwid
// - SetKeyActive: soft-disable or restore a key
// - GetKey / KeyLog: operator inspection and forensic review
type KeyService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	generator   *token.Generator
	logger      logging.Logger
	now         func() time.Time
}

// NewKeyService constructs a KeyService using repositories from m. The token
// generator checks candidate uniqueness through the key repository.
func NewKeyService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *KeyService {
	s := &KeyService{
		db:          db,
		repomanager: m,
		logger:      logger.With("module", "keys"),
		now:         time.Now,
	}
	s.generator = token.NewGenerator(func(ctx context.Context, t string) (bool, error) {
		return m.Keys(db).TokenExists(ctx, t)
	})
	return s
}

// CutKey issues a new key with the given number of allowed activations.
// models.UnlimitedActivations (-1) means unlimited. The key record and its
// KeyCreated audit entry are committed as one unit.
func (s *KeyService) CutKey(ctx context.Context, activations int, appID int64, active bool, memo string, actor *models.User, origin models.Origin) (*models.Key, error) {

	tok, err := s.generator.Generate(ctx)
	if err != nil {
		if errors.Is(err, common.ErrKeyspaceExhausted) {
			s.logger.Error(ctx, "token retry budget exceeded", "err", err.Error())
			return nil, common.ErrKeyspaceExhausted
		}
		s.logger.Error(ctx, "token generation failed", "err", err.Error())
		return nil, storeFault(err)
	}

	key := &models.Key{
		Token:                tok,
		RemainingActivations: activations,
		AppID:                appID,
		Active:               active,
		Memo:                 memo,
		CutDate:              s.now().UTC(),
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		created, err := s.repomanager.Keys(tx).Create(ctx, key)
		if err != nil {
			return err
		}
		key = created

		_, err = s.repomanager.Audit(tx).Append(ctx, &models.AuditLogEntry{
			KeyID:       key.ID,
			Event:       models.EventKeyCreated,
			Description: fmt.Sprintf("new key cut by %s (%s)", actor.Username, origin.IP),
			UserID:      actor.ID,
			Origin:      origin,
			Timestamp:   s.now().UTC(),
		})
		return err
	})
	if err != nil {
		s.logger.Error(ctx, "cut key failed", "err", err.Error())
		return nil, storeFault(err)
	}

	s.logger.Info(ctx, "cut new key", "token", key.Token, "activations", activations, "memo", memo)
	return key, nil
}

// ActivateKey redeems one activation of the key identified by tok. The first
// successful activation binds the supplied hwid; later ones must present the
// same hwid, compared in constant time. Policy denials commit exactly one
// ActivationDenied audit entry and change nothing else.
func (s *KeyService) ActivateKey(ctx context.Context, tok, hwid string, appID int64, origin models.Origin) (*ActivationResult, error) {

	origin.HWID = hwid

	var result *ActivationResult
	var denial error

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		keysRepo := s.repomanager.Keys(tx)
		auditRepo := s.repomanager.Audit(tx)

		k, err := keysRepo.GetByToken(ctx, tok)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				// no key record to reference, nothing to audit
				denial = common.ErrKeyNotFound
				return nil
			}
			return err
		}

		deny := func(reason string, outcome error) error {
			denial = outcome
			_, err := auditRepo.Append(ctx, &models.AuditLogEntry{
				KeyID:       k.ID,
				Event:       models.EventActivationDenied,
				Description: fmt.Sprintf("activation denied (%s, %s): %s", origin.IP, origin.Machine, reason),
				Origin:      origin,
				Timestamp:   s.now().UTC(),
			})
			return err
		}

		if k.AppID != appID {
			// a token presented against the wrong application is treated
			// like an unknown token
			return deny("wrong application id", common.ErrKeyNotFound)
		}
		if !k.Active {
			return deny("key inactive", common.ErrKeyInactive)
		}
		if k.HWID != "" && subtle.ConstantTimeCompare([]byte(k.HWID), []byte(hwid)) != 1 {
			return deny("hardware id mismatch", common.ErrHardwareMismatch)
		}
		if k.RemainingActivations == 0 {
			return deny("no remaining activations", common.ErrExhaustedActivations)
		}

		remaining, err := keysRepo.ConsumeActivation(ctx, k.ID, hwid)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				// lost a race against a concurrent activation; re-read and
				// classify what changed underneath us
				return s.classifyLostRace(ctx, keysRepo, tok, hwid, deny)
			}
			return err
		}

		_, err = auditRepo.Append(ctx, &models.AuditLogEntry{
			KeyID:       k.ID,
			Event:       models.EventKeyActivated,
			Description: fmt.Sprintf("key activated (%s, %s), remaining: %d", origin.IP, origin.Machine, remaining),
			Origin:      origin,
			Timestamp:   s.now().UTC(),
		})
		if err != nil {
			return err
		}

		result = &ActivationResult{Remaining: remaining}
		return nil
	})
	if err != nil {
		s.logger.Error(ctx, "activation failed", "err", err.Error())
		return nil, storeFault(err)
	}
	if denial != nil {
		s.logger.Warn(ctx, "activation denied", "reason", denial.Error(), "ip", origin.IP)
		return nil, denial
	}

	s.logger.Info(ctx, "key activated", "ip", origin.IP, "machine", origin.Machine, "remaining", result.Remaining)
	return result, nil
}

func (s *KeyService) classifyLostRace(ctx context.Context, repo keys.Repository, tok, hwid string, deny func(string, error) error) error {

	k, err := repo.GetByToken(ctx, tok)
	if err != nil {
		return err
	}
	switch {
	case !k.Active:
		return deny("key inactive", common.ErrKeyInactive)
	case k.HWID != "" && subtle.ConstantTimeCompare([]byte(k.HWID), []byte(hwid)) != 1:
		return deny("hardware id mismatch", common.ErrHardwareMismatch)
	case k.RemainingActivations == 0:
		return deny("no remaining activations", common.ErrExhaustedActivations)
	default:
		return fmt.Errorf("activation did not apply for key %d", k.ID)
	}
}

// SetKeyActive toggles the soft-disable flag. Setting the current value again
// is a no-op on the ledger but is still audited as a KeyModified event.
func (s *KeyService) SetKeyActive(ctx context.Context, tok string, active bool, actor *models.User, origin models.Origin) (*models.Key, error) {

	var key *models.Key

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		keysRepo := s.repomanager.Keys(tx)

		k, err := keysRepo.GetByToken(ctx, tok)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrKeyNotFound
			}
			return err
		}

		if err := keysRepo.SetActive(ctx, k.ID, active); err != nil {
			return err
		}

		event := models.EventKeyModified
		verb := "modified"
		switch {
		case active && !k.Active:
			event = models.EventKeyReactivated
			verb = "reactivated"
		case !active && k.Active:
			event = models.EventKeyDeactivated
			verb = "deactivated"
		}

		_, err = s.repomanager.Audit(tx).Append(ctx, &models.AuditLogEntry{
			KeyID:       k.ID,
			Event:       event,
			Description: fmt.Sprintf("key %s by %s (%s)", verb, actor.Username, origin.IP),
			UserID:      actor.ID,
			Origin:      origin,
			Timestamp:   s.now().UTC(),
		})
		if err != nil {
			return err
		}

		k.Active = active
		key = k
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrKeyNotFound) {
			return nil, common.ErrKeyNotFound
		}
		s.logger.Error(ctx, "set key active failed", "err", err.Error())
		return nil, storeFault(err)
	}

	s.logger.Info(ctx, "key active flag set", "token", key.Token, "active", active, "operator", actor.Username)
	return key, nil
}

// GetKey returns the key identified by tok.
func (s *KeyService) GetKey(ctx context.Context, tok string) (*models.Key, error) {
	k, err := s.repomanager.Keys(s.db).GetByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrKeyNotFound
		}
		s.logger.Error(ctx, "get key failed", "err", err.Error())
		return nil, storeFault(err)
	}
	return k, nil
}

// KeyLog returns up to limit audit entries for the key identified by tok,
// newest first. Deactivated keys remain fully resolvable.
func (s *KeyService) KeyLog(ctx context.Context, tok string, limit int) ([]*models.AuditLogEntry, error) {
	k, err := s.GetKey(ctx, tok)
	if err != nil {
		return nil, err
	}

	entries, err := s.repomanager.Audit(s.db).ListByKey(ctx, k.ID, limit)
	if err != nil {
		s.logger.Error(ctx, "audit list failed", "err", err.Error())
		return nil, storeFault(err)
	}
	return entries, nil
}
