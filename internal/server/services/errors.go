package services

import (
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite "modernc.org/sqlite"

	"github.com/dmitrijs2005/keyserv/internal/common"
)

// storeFault translates a storage error into the service taxonomy. Transient
// connectivity and lock-contention faults become ErrStorageUnavailable, which
// the API surfaces as retryable; everything else is ErrorInternal.
func storeFault(err error) error {
	if isTransient(err) {
		return common.ErrStorageUnavailable
	}
	return common.ErrorInternal
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Class 08 covers connection exceptions; 57P01 is admin shutdown.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01"
	}

	// SQLITE_BUSY and SQLITE_LOCKED clear once the competing writer is done.
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == 5 || code == 6
	}

	return false
}
