package audit

import (
	"context"

	"github.com/dmitrijs2005/keyserv/internal/server/models"
)

// Repository is the append-only audit trail. The contract deliberately has no
// update or delete operation; entries written here are immutable and must stay
// resolvable even for keys that have since been deactivated.
type Repository interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) (*models.AuditLogEntry, error)
	ListByKey(ctx context.Context, keyID int64, limit int) ([]*models.AuditLogEntry, error)
}
