// Package storage holds BaseTable, the committed, authoritative storage for
// one logical table: a primary-key indexed map with direct CRUD that
// cooperates with locks.LockManager for concurrent access. No secondary
// index or ordered scan is maintained; a plain map plus an insertion-ordered
// slice is enough since lookups and scans only ever go by primary key or
// linear iteration (see DESIGN.md).
package storage

import (
	"fmt"

	"lynxdb/config"
	"lynxdb/dberrors"
	"lynxdb/locks"
	"lynxdb/query"
	"lynxdb/record"
)

// storedRecord wraps a committed record with a version token: a monotonic
// counter bumped whenever the writing phase of a commit mutates the row, so
// concurrent transactions can detect external changes.
type storedRecord struct {
	rec     record.Record
	version uint64
}

// BaseTable is the canonical in-memory storage and direct (non-transactional)
// CRUD surface for one table.
type BaseTable struct {
	Name   string
	PKDef  []string
	Config config.Config
	Locks  *locks.LockManager

	records  map[string]*storedRecord // pkString -> row
	sequence []*storedRecord          // insertion order, used for scans
}

// New constructs a BaseTable. pkDef may be empty, in which case a synthetic
// "_id" field is assigned on insert. Duplicate field names in pkDef are
// rejected.
func New(name string, pkDef []string, cfg config.Config) (*BaseTable, error) {
	if err := record.ValidatePkDef(pkDef); err != nil {
		return nil, err
	}
	return &BaseTable{
		Name:    name,
		PKDef:   pkDef,
		Config:  cfg,
		Locks:   locks.New(),
		records: make(map[string]*storedRecord),
	}, nil
}

// Size returns the number of committed rows.
func (t *BaseTable) Size() int {
	return len(t.sequence)
}

// OrderedPKs returns the primary key of every committed row in insertion
// order, for callers (txn.TransactionTable) that need to drive their own
// locking and overlay logic around a scan instead of using Select directly.
func (t *BaseTable) OrderedPKs() []string {
	out := make([]string, 0, len(t.sequence))
	for _, sr := range t.sequence {
		pk, err := record.PKString(sr.rec, t.PKDef)
		if err != nil {
			continue
		}
		out = append(out, pk)
	}
	return out
}

// Insert builds the row's PKString (auto-assigning a synthetic _id when
// PKDef is empty) and stores it, failing if the key is already taken.
func (t *BaseTable) Insert(rec record.Record) error {
	record.EnsureSyntheticID(rec, t.PKDef)
	pk, err := record.PKString(rec, t.PKDef)
	if err != nil {
		return err
	}
	if _, exists := t.records[pk]; exists {
		return fmt.Errorf("%w: %q", dberrors.ErrDuplicatePrimaryKeyValue, pk)
	}
	sr := &storedRecord{rec: rec}
	t.records[pk] = sr
	t.sequence = append(t.sequence, sr)
	return nil
}

// BulkInsert applies Insert per element, stopping at the first error;
// previously inserted rows are NOT rolled back.
func (t *BaseTable) BulkInsert(recs []record.Record) error {
	for _, rec := range recs {
		if err := t.Insert(rec); err != nil {
			return err
		}
	}
	return nil
}

// FindByPk waits for the key to become readable, then returns a shallow copy
// of the committed record, or nil if absent.
func (t *BaseTable) FindByPk(pkPartial record.Record) (record.Record, error) {
	pk, err := record.PKString(pkPartial, t.PKDef)
	if err != nil {
		return nil, err
	}
	if err := t.Locks.WaitUnlockToRead(pk, t.Config.LockTimeout); err != nil {
		return nil, err
	}
	sr, ok := t.records[pk]
	if !ok {
		return nil, nil
	}
	return record.Clone(sr.rec), nil
}

// Select compiles where once and, for each committed record in insertion
// order, waits for it to be readable and appends a copy (optionally
// projected onto fields) when it matches.
func (t *BaseTable) Select(fields []string, where query.Query) ([]record.Record, error) {
	compiled, err := query.Compile(where)
	if err != nil {
		return nil, err
	}
	out := make([]record.Record, 0, len(t.sequence))
	for _, sr := range t.sequence {
		pk, err := record.PKString(sr.rec, t.PKDef)
		if err != nil {
			return nil, err
		}
		if err := t.Locks.WaitUnlockToRead(pk, t.Config.LockTimeout); err != nil {
			return nil, err
		}
		if !query.Match(sr.rec, compiled) {
			continue
		}
		out = append(out, project(sr.rec, fields))
	}
	return out, nil
}

func project(rec record.Record, fields []string) record.Record {
	if len(fields) == 0 {
		return record.Clone(rec)
	}
	out := make(record.Record, len(fields))
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}

// relocation is a matched row whose patch changes its primary key, staged so
// Update can validate and apply a whole batch of them without the outcome
// depending on t.sequence's iteration order.
type relocation struct {
	sr    *storedRecord
	oldPk string
	newPk string
}

// Update merges patch into every committed record matching where, waiting
// for each to become writable first. A patch touching a PK field relocates
// the row under its new key, failing the whole call if that key is taken.
// Rows whose patch changes the primary key are staged as relocations and
// applied in a detach-then-reinsert pass, so a chain like "row A vacates key
// K, row B moves onto key K" in the same call resolves correctly regardless
// of which row t.sequence visits first. Returns the number of affected rows.
func (t *BaseTable) Update(patch record.Record, where query.Query) (int, error) {
	if len(patch) == 0 {
		return 0, nil
	}
	compiled, err := query.Compile(where)
	if err != nil {
		return 0, err
	}
	willTouchPk := record.TouchesPk(patch, t.PKDef)

	var relocations []relocation
	var inPlace []*storedRecord

	for _, sr := range t.sequence {
		oldPk, err := record.PKString(sr.rec, t.PKDef)
		if err != nil {
			return 0, err
		}
		if !query.Match(sr.rec, compiled) {
			continue
		}
		if err := t.Locks.WaitUnlockToWrite(oldPk, t.Config.LockTimeout); err != nil {
			return 0, err
		}
		if willTouchPk {
			candidate := record.Clone(sr.rec)
			record.Merge(candidate, patch)
			newPk, err := record.PKString(candidate, t.PKDef)
			if err != nil {
				return 0, err
			}
			if newPk != oldPk {
				relocations = append(relocations, relocation{sr: sr, oldPk: oldPk, newPk: newPk})
				continue
			}
		}
		inPlace = append(inPlace, sr)
	}

	vacated := make(map[string]struct{}, len(relocations))
	for _, r := range relocations {
		vacated[r.oldPk] = struct{}{}
	}
	for _, r := range relocations {
		if _, freedByThisCall := vacated[r.newPk]; freedByThisCall {
			continue
		}
		if _, exists := t.records[r.newPk]; exists {
			return 0, fmt.Errorf("%w: %q", dberrors.ErrDuplicatePrimaryKeyValue, r.newPk)
		}
	}

	for _, r := range relocations {
		delete(t.records, r.oldPk)
	}
	for _, r := range relocations {
		record.Merge(r.sr.rec, patch)
		r.sr.version++
		t.records[r.newPk] = r.sr
	}
	for _, sr := range inPlace {
		record.Merge(sr.rec, patch)
		sr.version++
	}

	return len(relocations) + len(inPlace), nil
}

// DeleteByPk waits for the key to become writable, then removes and returns
// the row, or nil if absent.
func (t *BaseTable) DeleteByPk(pkPartial record.Record) (record.Record, error) {
	pk, err := record.PKString(pkPartial, t.PKDef)
	if err != nil {
		return nil, err
	}
	if err := t.Locks.WaitUnlockToWrite(pk, t.Config.LockTimeout); err != nil {
		return nil, err
	}
	sr, ok := t.records[pk]
	if !ok {
		return nil, nil
	}
	delete(t.records, pk)
	t.sequence = filterOutSequence(t.sequence, sr)
	return sr.rec, nil
}

func filterOutSequence(seq []*storedRecord, removed *storedRecord) []*storedRecord {
	out := seq[:0]
	for _, sr := range seq {
		if sr != removed {
			out = append(out, sr)
		}
	}
	return out
}

// version returns the version token last recorded for the committed row at
// pk, and whether the row exists. Used by txn.TransactionTable's validation
// and writing phases.
func (t *BaseTable) version(pk string) (uint64, bool) {
	sr, ok := t.records[pk]
	if !ok {
		return 0, false
	}
	return sr.version, true
}
