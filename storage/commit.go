package storage

import (
	"fmt"

	"lynxdb/dberrors"
	"lynxdb/record"
)

// The methods in this file are the low-level surface the txn package's
// two-phase commit ("apply()") drives directly: by the time they are
// called, the committer already holds the necessary locks and has already
// validated against the version tokens below, so these methods do no
// locking or matching of their own.

// Exists reports whether pk is present in the committed base.
func (t *BaseTable) Exists(pk string) bool {
	_, ok := t.records[pk]
	return ok
}

// Version returns the version token of the committed row at pk, if present.
func (t *BaseTable) Version(pk string) (uint64, bool) {
	return t.version(pk)
}

// Get returns the committed record at pk without copying or locking, for the
// validation phase's version comparison.
func (t *BaseTable) Get(pk string) (record.Record, bool) {
	sr, ok := t.records[pk]
	if !ok {
		return nil, false
	}
	return sr.rec, true
}

// ApplyUpdate mutates the base row currently keyed by committedPK in place
// (so its position in the insertion-ordered sequence is preserved) to equal
// newValue, relocating the map entry if newValue's primary key differs from
// committedPK, and bumps its version token.
func (t *BaseTable) ApplyUpdate(committedPK string, newValue record.Record) error {
	sr, ok := t.records[committedPK]
	if !ok {
		return fmt.Errorf("%w: %q vanished before writing phase", dberrors.ErrTransactionConflict, committedPK)
	}
	newPK, err := record.PKString(newValue, t.PKDef)
	if err != nil {
		return err
	}
	sr.rec = newValue
	sr.version++
	if newPK != committedPK {
		delete(t.records, committedPK)
		t.records[newPK] = sr
	}
	return nil
}

// ApplyUpdates applies a whole commit's worth of updates at once. Ranging
// over a Go map has no defined order, so a naive loop calling ApplyUpdate
// per entry can corrupt the table when one update's new primary key equals
// another update's old (committed) key in the same batch: whichever one
// happens to run first relocates onto that key, and the second lookup by
// the now-stale committed key silently hits the wrong row. To stay
// order-independent, every affected storedRecord is detached from the map
// in one pass before any of them is reinserted under its new key.
func (t *BaseTable) ApplyUpdates(updates map[string]record.Record) error {
	type pending struct {
		sr       *storedRecord
		newValue record.Record
		newPK    string
	}
	items := make([]pending, 0, len(updates))
	for committedPK, newValue := range updates {
		sr, ok := t.records[committedPK]
		if !ok {
			return fmt.Errorf("%w: %q vanished before writing phase", dberrors.ErrTransactionConflict, committedPK)
		}
		newPK, err := record.PKString(newValue, t.PKDef)
		if err != nil {
			return err
		}
		items = append(items, pending{sr: sr, newValue: newValue, newPK: newPK})
	}
	for committedPK := range updates {
		delete(t.records, committedPK)
	}
	for _, it := range items {
		it.sr.rec = it.newValue
		it.sr.version++
		t.records[it.newPK] = it.sr
	}
	return nil
}

// ApplyDeletes removes every pk in pks from the map and rebuilds the ordered
// sequence filtering them out.
func (t *BaseTable) ApplyDeletes(pks map[string]struct{}) {
	if len(pks) == 0 {
		return
	}
	for pk := range pks {
		delete(t.records, pk)
	}
	out := t.sequence[:0]
	for _, sr := range t.sequence {
		pk, err := record.PKString(sr.rec, t.PKDef)
		if err == nil {
			if _, deleted := pks[pk]; deleted {
				continue
			}
		}
		out = append(out, sr)
	}
	t.sequence = out
}

// ApplyInsert adds rec as a brand-new committed row, failing with
// TransactionConflict if its primary key is already occupied (only possible
// through an update/insert aliasing race caught too late by validation).
func (t *BaseTable) ApplyInsert(rec record.Record) error {
	pk, err := record.PKString(rec, t.PKDef)
	if err != nil {
		return err
	}
	if _, exists := t.records[pk]; exists {
		return fmt.Errorf("%w: %q", dberrors.ErrTransactionConflict, pk)
	}
	sr := &storedRecord{rec: rec}
	t.records[pk] = sr
	t.sequence = append(t.sequence, sr)
	return nil
}
