// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"errors"
	"strings"
)

// Primary result codes reported by SQLite for lock contention.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// codedError matches driver errors exposing a SQLite result code, such as
// *sqlite.Error from modernc.org/sqlite.
type codedError interface {
	error
	Code() int
}

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := resultCode(err); ok {
		return code == sqliteBusy
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := resultCode(err); ok {
		return code == sqliteLocked
	}
	return strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "SQLITE_LOCKED")
}

// IsSQLiteConflictError reports lock contention errors that warrant a retry.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

// resultCode extracts the primary result code; extended codes keep it in the low byte.
func resultCode(err error) (int, bool) {
	var coded codedError
	if !errors.As(err, &coded) {
		return 0, false
	}
	return coded.Code() & 0xff, true
}
