package txn

import "errors"

// ErrUnknownTransaction is returned for any operation on a txn id the
// manager has no record of (never began, or already committed/rolled back).
var ErrUnknownTransaction = errors.New("txn: unknown transaction")

// ErrNotActive is returned when an operation requires an ACTIVE transaction
// but it has already been committed or aborted.
var ErrNotActive = errors.New("txn: transaction is not active")
