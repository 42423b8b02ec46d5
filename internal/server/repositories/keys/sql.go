package keys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/keyserv/internal/common"
	"github.com/dmitrijs2005/keyserv/internal/dbx"
	"github.com/dmitrijs2005/keyserv/internal/server/models"
)

// SQLRepository implements Repository over any DBTX. The SQL sticks to the
// dialect intersection of PostgreSQL and SQLite ($n placeholders, RETURNING),
// so one implementation serves both backends.
type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, key *models.Key) (*models.Key, error) {

	query :=
		`INSERT INTO keys (token, remaining_activations, app_id, active, hwid, memo, cut_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		key.Token, key.RemainingActivations, key.AppID, key.Active,
		key.HWID, key.Memo, key.CutDate).Scan(&key.ID)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return key, nil
}

func (r *SQLRepository) GetByToken(ctx context.Context, token string) (*models.Key, error) {
	query :=
		`SELECT id, token, remaining_activations, app_id, active, hwid, memo, cut_date
		 FROM keys
		 WHERE token = $1
		 `

	key := &models.Key{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&key.ID, &key.Token, &key.RemainingActivations, &key.AppID,
		&key.Active, &key.HWID, &key.Memo, &key.CutDate)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return key, nil
}

func (r *SQLRepository) TokenExists(ctx context.Context, token string) (bool, error) {
	query :=
		`SELECT EXISTS (SELECT 1 FROM keys WHERE token = $1)
		 `

	var exists bool
	err := r.db.QueryRowContext(ctx, query, token).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return exists, nil
}

// ConsumeActivation performs the guarded decrement-and-bind in one statement.
// The WHERE clause re-checks active, non-exhausted, and hwid compatibility so
// a concurrent activation of the last remaining slot can never double-spend:
// the loser matches no row and gets common.ErrorNotFound.
func (r *SQLRepository) ConsumeActivation(ctx context.Context, id int64, hwid string) (int, error) {
	// Placeholders appear in strictly increasing order so the statement
	// binds identically under pgx and sqlite.
	query :=
		`UPDATE keys
		 SET remaining_activations = CASE
		         WHEN remaining_activations > 0 THEN remaining_activations - 1
		         ELSE remaining_activations
		     END,
		     hwid = $1
		 WHERE id = $2
		   AND active
		   AND remaining_activations <> 0
		   AND (hwid = '' OR hwid = $3)
		 RETURNING remaining_activations
		 `

	var remaining int
	err := r.db.QueryRowContext(ctx, query, hwid, id, hwid).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}

	return remaining, nil
}

func (r *SQLRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query :=
		`UPDATE keys SET active = $1
		 WHERE id = $2
		 `

	res, err := r.db.ExecContext(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return common.ErrorNotFound
	}

	return nil
}
