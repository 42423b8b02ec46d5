package users

import (
	"context"

	"github.com/dmitrijs2005/keyserv/internal/server/models"
)

// Repository owns operator accounts. Accounts are created once and read for
// credential verification; the key lifecycle never mutates them.
type Repository interface {
	// Create inserts a new operator. A username collision is reported as
	// common.ErrorDuplicate.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}
