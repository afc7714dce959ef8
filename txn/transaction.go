package txn

import (
	"github.com/google/uuid"

	"lynxdb/config"
	"lynxdb/dberrors"
	"lynxdb/locks"
	"lynxdb/storage"
)

// Registry resolves a table name to its committed BaseTable, implemented by
// the root Database façade.
type Registry interface {
	BaseTable(name string) (*storage.BaseTable, bool)
}

// Transaction coordinates one or more TransactionTables opened against tables
// from a Registry, driving multi-table commit/rollback.
type Transaction struct {
	ID  locks.TxnID
	cfg config.Config

	registry Registry
	tables   map[string]*TransactionTable
	order    []string

	state txnState
}

// New constructs a Transaction with a freshly generated ID.
func New(registry Registry, cfg config.Config) *Transaction {
	return &Transaction{
		ID:       locks.TxnID(uuid.New().String()),
		cfg:      cfg,
		registry: registry,
		tables:   make(map[string]*TransactionTable),
	}
}

// Get returns this transaction's overlay for table name, opening it against
// the registry's BaseTable on first access.
func (tx *Transaction) Get(name string) (*TransactionTable, error) {
	if tx.state != active {
		return nil, dberrors.ErrTransactionCompleted
	}
	if tt, ok := tx.tables[name]; ok {
		return tt, nil
	}
	base, ok := tx.registry.BaseTable(name)
	if !ok {
		return nil, dberrors.ErrTableNotFound
	}
	tt := newTransactionTable(tx.ID, tx.cfg, base)
	tx.tables[name] = tt
	tx.order = append(tx.order, name)
	return tt, nil
}

// Commit applies every participant table's overlay in registration order. If
// any participant fails validation or writing, rollback is called on every
// participant: the failing one and those not yet applied discard their
// overlays and release their locks, while for ones already applied rollback
// is a no-op. This is best-effort, not atomic: a table that already wrote to
// its base keeps those writes (see DESIGN.md for the cross-table atomicity
// caveat).
func (tx *Transaction) Commit() error {
	if tx.state != active {
		return dberrors.ErrTransactionCompleted
	}
	for _, name := range tx.order {
		tt := tx.tables[name]
		if err := tt.apply(); err != nil {
			tx.state = rolledBack
			for _, n := range tx.order {
				tx.tables[n].rollback()
			}
			return err
		}
	}
	tx.state = committed
	return nil
}

// Rollback discards every participant's overlay and releases its locks.
// Idempotent once already rolled back; fails if already committed.
func (tx *Transaction) Rollback() error {
	if tx.state == rolledBack {
		return nil
	}
	if tx.state == committed {
		return dberrors.ErrTransactionCompleted
	}
	tx.state = rolledBack
	for _, name := range tx.order {
		tx.tables[name].rollback()
	}
	return nil
}
