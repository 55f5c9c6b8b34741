package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

const (
	mysqlDuplicateEntry      = 1062
	mysqlRowReferenced       = 1451
	mysqlNoReferencedRow     = 1452
	mysqlLockWaitTimeout     = 1205
	mysqlDeadlock            = 1213
	mysqlTooManyConnections  = 1040
	mysqlServerShuttingDown  = 1053
	mysqlConnectionErrorBase = 2000
)

// Error implements repositories.RepositoryError for SQL backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing row.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsConflict reports whether the error represents a constraint violation or a lost locking race.
func (e *Error) IsConflict() bool {
	return e != nil && e.conflict
}

// IsUnavailable reports whether the error represents a transient database outage.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

func notFound(op string, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), notFound: true}
}

func conflict(op string, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), conflict: true}
}

// wrapError annotates driver errors with repository semantics. Context cancellations are passed through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}

	e := &Error{op: op, err: err}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		e.notFound = true
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		e.conflict = true
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		e.unavailable = true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch {
		case myErr.Number == mysqlDuplicateEntry,
			myErr.Number == mysqlRowReferenced,
			myErr.Number == mysqlNoReferencedRow,
			myErr.Number == mysqlLockWaitTimeout,
			myErr.Number == mysqlDeadlock:
			e.conflict = true
		case myErr.Number == mysqlTooManyConnections,
			myErr.Number == mysqlServerShuttingDown,
			myErr.Number >= mysqlConnectionErrorBase:
			e.unavailable = true
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrConstraint:
			e.conflict = true
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
			e.unavailable = true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		e.unavailable = true
	}
	return e
}
