package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/keyserv/internal/dbx"
	"github.com/dmitrijs2005/keyserv/internal/server/models"
)

type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Append(ctx context.Context, entry *models.AuditLogEntry) (*models.AuditLogEntry, error) {

	query :=
		`INSERT INTO audit_log (key_id, event, description, user_id, ip, machine, hwid, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id
		 `

	// Client-driven events carry no operator; store NULL rather than an
	// empty foreign key.
	var userID sql.NullString
	if entry.UserID != "" {
		userID = sql.NullString{String: entry.UserID, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		entry.KeyID, int(entry.Event), entry.Description, userID,
		entry.Origin.IP, entry.Origin.Machine, entry.Origin.HWID,
		entry.Timestamp).Scan(&entry.ID)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return entry, nil
}

func (r *SQLRepository) ListByKey(ctx context.Context, keyID int64, limit int) ([]*models.AuditLogEntry, error) {
	query :=
		`SELECT id, key_id, event, description, user_id, ip, machine, hwid, created_at
		 FROM audit_log
		 WHERE key_id = $1
		 ORDER BY id DESC
		 LIMIT $2
		 `

	rows, err := r.db.QueryContext(ctx, query, keyID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditLogEntry
	for rows.Next() {
		entry := &models.AuditLogEntry{}
		var event int
		var userID sql.NullString

		err := rows.Scan(&entry.ID, &entry.KeyID, &event, &entry.Description,
			&userID, &entry.Origin.IP, &entry.Origin.Machine, &entry.Origin.HWID,
			&entry.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}

		entry.Event = models.Event(event)
		if userID.Valid {
			entry.UserID = userID.String
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return entries, nil
}
