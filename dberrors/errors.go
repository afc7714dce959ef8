// Package dberrors defines the closed error taxonomy shared by every LynxDB
// component. Components wrap one of these sentinels with fmt.Errorf("...: %w", ...)
// so callers can still errors.Is against the kind while getting a useful message.
package dberrors

import "errors"

var (
	// ErrDuplicatePkDefinition is raised when a table is constructed with a
	// primary key definition that repeats a field name.
	ErrDuplicatePkDefinition = errors.New("lynxdb: duplicate field in primary key definition")

	// ErrPrimaryKeyValueNull is raised when an operation requires a complete
	// primary key but one or more components are missing from the record.
	ErrPrimaryKeyValueNull = errors.New("lynxdb: primary key value is null")

	// ErrDuplicatePrimaryKeyValue is raised when an insert or a PK-changing
	// update would produce a primary key that already exists.
	ErrDuplicatePrimaryKeyValue = errors.New("lynxdb: duplicate primary key value")

	// ErrLockTimeout is raised when a lock acquisition exceeds its timeout.
	ErrLockTimeout = errors.New("lynxdb: lock acquisition timed out")

	// ErrInvalidLockType is raised when the lock API is called with a kind
	// outside {Shared, Exclusive}.
	ErrInvalidLockType = errors.New("lynxdb: invalid lock type")

	// ErrTableNotFound is raised by Transaction.Get for an unregistered table.
	ErrTableNotFound = errors.New("lynxdb: table not found")

	// ErrTransactionCompleted is raised by any operation on a Transaction or
	// TransactionTable after it has committed or rolled back.
	ErrTransactionCompleted = errors.New("lynxdb: transaction already completed")

	// ErrTransactionConflict is raised at commit-time validation: a duplicate
	// PK landed concurrently, a read row was externally modified, or a row
	// this transaction touched was concurrently removed.
	ErrTransactionConflict = errors.New("lynxdb: transaction conflict detected at commit")
)
