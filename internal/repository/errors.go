// Package repository provides raw-SQL data access for the booking core.
// It defines sentinel error values that are reused across repositories so
// higher layers can distinguish failure scenarios with errors.Is instead
// of inspecting driver-specific error codes.
package repository

import (
    "errors"

    "github.com/go-sql-driver/mysql"
)

// ErrOverlap is returned when inserting a reservation would leave two
// active reservations covering the same day of a machine's calendar.
// This is an expected, user-facing outcome: the requested range is taken.
var ErrOverlap = errors.New("overlapping reservation")

// ErrLockTimeout is returned when a per-machine advisory lock could not
// be acquired within its wait budget.  The condition is transient and
// callers should surface it as retryable rather than as a failure.
var ErrLockTimeout = errors.New("machine lock timeout")

// mysqlDuplicateEntry is the server error code MySQL raises when an
// insert violates a unique index.
const mysqlDuplicateEntry = 1062

// isDuplicateKey reports whether err is a unique-index violation.  The
// payment event and work item tables rely on this to turn duplicate
// inserts into idempotent no-ops.
func isDuplicateKey(err error) bool {
    var me *mysql.MySQLError
    return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
