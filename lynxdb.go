// Package lynxdb is an in-process, in-memory relational store with
// MongoDB-style predicate queries and multi-table ACID transactions, built
// around a record-level shared/exclusive lock manager.
package lynxdb

import (
	"fmt"
	"sync"

	"lynxdb/config"
	"lynxdb/dberrors"
	"lynxdb/storage"
	"lynxdb/txn"
)

// Database is the root façade: a registry of BaseTables plus the entry point
// for running transactions against them.
type Database struct {
	mu     sync.Mutex
	tables map[string]*storage.BaseTable
	cfg    config.Config
}

// New constructs an empty Database. opts set the default Config applied to
// every table and transaction that doesn't override it.
func New(opts ...config.Option) *Database {
	return &Database{
		tables: make(map[string]*storage.BaseTable),
		cfg:    config.New(opts...),
	}
}

// RegisterTable creates a new table named name with the given primary key
// field list (empty means a synthetic "_id" is assigned on insert).
func (db *Database) RegisterTable(name string, pkDef []string, opts ...config.Option) (*storage.BaseTable, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.tables[name]; exists {
		return nil, fmt.Errorf("lynxdb: table %q already registered", name)
	}
	cfg := db.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	t, err := storage.New(name, pkDef, cfg)
	if err != nil {
		return nil, err
	}
	db.tables[name] = t
	return t, nil
}

// Table returns the registered BaseTable for direct, non-transactional CRUD.
func (db *Database) Table(name string) (*storage.BaseTable, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[name]
	return t, ok
}

// BaseTable implements txn.Registry.
func (db *Database) BaseTable(name string) (*storage.BaseTable, bool) {
	return db.Table(name)
}

// NewTransaction opens a new Transaction coordinator against this database's
// tables. opts override the database's default Config for this transaction.
func (db *Database) NewTransaction(opts ...config.Option) *txn.Transaction {
	cfg := db.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	return txn.New(db, cfg)
}

// Transaction runs fn against a fresh Transaction, committing on a nil return
// and rolling back otherwise (including on panic, which is re-raised after
// rollback). It is a thin convenience wrapper atop txn.Transaction's
// Get/Commit/Rollback.
func (db *Database) Transaction(fn func(tx *txn.Transaction) error, opts ...config.Option) (err error) {
	tx := db.NewTransaction(opts...)
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != dberrors.ErrTransactionCompleted {
			return fmt.Errorf("%w (during rollback after: %v)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}
