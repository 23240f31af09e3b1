package storage

import (
	"context"
	"database/sql"
	"errors"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// ErrorChecker classifies driver errors.
type ErrorChecker interface {
	IsDupEntryError(err error) bool
	IsNotFoundError(err error) bool
	IsTimeoutError(err error) bool
	IsThrottlingError(err error) bool
}

// ErrDupEntry indicates a duplicate primary key i.e. the row already exists,
// check http://www.postgresql.org/docs/9.3/static/errcodes-appendix.html
const ErrDupEntry = "23505"

const (
	errInsufficientResources = "53000"
	errTooManyConnections    = "53300"
)

type postgresErrorChecker struct{}

func (postgresErrorChecker) IsDupEntryError(err error) bool {
	var sqlErr *pq.Error
	ok := errors.As(err, &sqlErr)
	return ok && sqlErr.Code == ErrDupEntry
}

func (postgresErrorChecker) IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (postgresErrorChecker) IsTimeoutError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func (postgresErrorChecker) IsThrottlingError(err error) bool {
	var sqlErr *pq.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == errTooManyConnections || sqlErr.Code == errInsufficientResources
	}
	return false
}

type sqliteErrorChecker struct{}

func (sqliteErrorChecker) IsDupEntryError(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func (sqliteErrorChecker) IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (sqliteErrorChecker) IsTimeoutError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func (sqliteErrorChecker) IsThrottlingError(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked
	}
	return false
}
