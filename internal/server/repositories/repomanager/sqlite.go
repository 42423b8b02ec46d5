package repomanager

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/keyserv/internal/dbx"
	"github.com/dmitrijs2005/keyserv/internal/server/migrations"
	"github.com/dmitrijs2005/keyserv/internal/server/repositories/audit"
	"github.com/dmitrijs2005/keyserv/internal/server/repositories/keys"
	"github.com/dmitrijs2005/keyserv/internal/server/repositories/users"
)

// SQLiteRepositoryManager serves single-node and development deployments.
// The repository implementations are shared with Postgres; only the driver
// registration and migration dialect differ.
type SQLiteRepositoryManager struct {
}

func NewSQLiteRepositoryManager() RepositoryManager {
	return &SQLiteRepositoryManager{}
}

func (m *SQLiteRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewSQLRepository(db)
}

func (m *SQLiteRepositoryManager) Keys(db dbx.DBTX) keys.Repository {
	return keys.NewSQLRepository(db)
}

func (m *SQLiteRepositoryManager) Audit(db dbx.DBTX) audit.Repository {
	return audit.NewSQLRepository(db)
}

func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, "sqlite")
}
