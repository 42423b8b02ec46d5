package keys

import (
	"context"

	"github.com/dmitrijs2005/keyserv/internal/server/models"
)

// Repository owns persisted key records. ConsumeActivation is the only write
// path that touches the activation counter and must be atomic with respect to
// concurrent callers.
type Repository interface {
	Create(ctx context.Context, key *models.Key) (*models.Key, error)
	GetByToken(ctx context.Context, token string) (*models.Key, error)
	TokenExists(ctx context.Context, token string) (bool, error)

	// ConsumeActivation decrements the remaining counter (unless the key is
	// unlimited) and binds hwid, guarded so that an inactive, exhausted, or
	// differently-bound row is never touched. It returns the post-decrement
	// remaining count, or common.ErrorNotFound when no row qualified.
	ConsumeActivation(ctx context.Context, id int64, hwid string) (int, error)

	SetActive(ctx context.Context, id int64, active bool) error
}
