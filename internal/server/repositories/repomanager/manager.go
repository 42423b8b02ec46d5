// Package repomanager hands out repositories bound to a database handle.
// Services ask the manager for repositories bound either to the shared *sql.DB
// or to a transaction, which is how ledger mutations and their audit entries
// end up in one atomic unit.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/keyserv/internal/dbx"
	"github.com/dmitrijs2005/keyserv/internal/server/repositories/audit"
	"github.com/dmitrijs2005/keyserv/internal/server/repositories/keys"
	"github.com/dmitrijs2005/keyserv/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Keys(db dbx.DBTX) keys.Repository
	Audit(db dbx.DBTX) audit.Repository
}
