// Package txn implements LynxDB's transactional execution engine: the
// per-transaction overlay over one BaseTable (TransactionTable) and the
// multi-table coordinator (Transaction), generalized from single-row 2PL
// access tracking into a four-overlay-map model per transaction.
package txn

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set"

	"lynxdb/config"
	"lynxdb/dberrors"
	"lynxdb/locks"
	"lynxdb/query"
	"lynxdb/record"
	"lynxdb/storage"
)

type txnState int

const (
	active txnState = iota
	committed
	rolledBack
)

// overlayEntry is an overlay record created by an update of a committed row:
// the current (possibly patched) value plus the version token captured from
// the base at first update, used for commit-time optimistic validation.
type overlayEntry struct {
	rec         record.Record
	baseVersion uint64
}

// heldLock is an entry in TransactionTable.heldLocks: one lock this
// transaction acquired and must release at commit/rollback.
type heldLock struct {
	key  string
	kind locks.Kind
}

// TransactionTable is a per-transaction overlay over one BaseTable
type TransactionTable struct {
	mu sync.Mutex

	txnID locks.TxnID
	cfg   config.Config
	base  *storage.BaseTable

	tempInserts        map[string]record.Record // currentPK -> record (new inserts + updated-overlay current view)
	tempInsertsList    []record.Record          // newly inserted overlay rows only, in insertion order
	tempUpdatedByOldPk map[string]*overlayEntry // committedPK -> overlay
	tempDeleted        map[string]struct{}      // committed PKs tombstoned by this transaction
	heldLocks          mapset.Set               // of heldLock

	state txnState
}

func newTransactionTable(txnID locks.TxnID, cfg config.Config, base *storage.BaseTable) *TransactionTable {
	return &TransactionTable{
		txnID:              txnID,
		cfg:                cfg,
		base:               base,
		tempInserts:        make(map[string]record.Record),
		tempUpdatedByOldPk: make(map[string]*overlayEntry),
		tempDeleted:        make(map[string]struct{}),
		heldLocks:          mapset.NewSet(),
	}
}

func (tt *TransactionTable) pkDef() []string { return tt.base.PKDef }

// checkPkNotUsed enforces overlay PK uniqueness: pk must not
// already be visible in tempInserts, and if it exists in the base it must be
// in the process of being vacated by this same transaction (tombstoned, or
// renamed away by an update).
func (tt *TransactionTable) checkPkNotUsed(pk string) error {
	if _, ok := tt.tempInserts[pk]; ok {
		return fmt.Errorf("%w: %q", dberrors.ErrDuplicatePrimaryKeyValue, pk)
	}
	if !tt.base.Exists(pk) {
		return nil
	}
	if _, deleted := tt.tempDeleted[pk]; deleted {
		return nil
	}
	if entry, ok := tt.tempUpdatedByOldPk[pk]; ok {
		curPk, err := record.PKString(entry.rec, tt.pkDef())
		if err == nil && curPk != pk {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", dberrors.ErrDuplicatePrimaryKeyValue, pk)
}

// overlayByCurrentPK scans tempUpdatedByOldPk for the entry whose overlay
// record currently lives at pk (its committed key may differ after a
// PK-changing update).
func (tt *TransactionTable) overlayByCurrentPK(pk string) (committedPK string, entry *overlayEntry, ok bool) {
	for cpk, e := range tt.tempUpdatedByOldPk {
		cur, err := record.PKString(e.rec, tt.pkDef())
		if err == nil && cur == pk {
			return cpk, e, true
		}
	}
	return "", nil, false
}

func (tt *TransactionTable) requireActive() error {
	if tt.state != active {
		return dberrors.ErrTransactionCompleted
	}
	return nil
}

// Insert stages a new row in the overlay
func (tt *TransactionTable) Insert(rec record.Record) error {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if err := tt.requireActive(); err != nil {
		return err
	}
	record.EnsureSyntheticID(rec, tt.pkDef())
	pk, err := record.PKString(rec, tt.pkDef())
	if err != nil {
		return err
	}
	if err := tt.checkPkNotUsed(pk); err != nil {
		return err
	}
	tt.tempInserts[pk] = rec
	tt.tempInsertsList = append(tt.tempInsertsList, rec)
	return nil
}

// BulkInsert applies Insert per element; no rollback of partial progress.
func (tt *TransactionTable) BulkInsert(recs []record.Record) error {
	for _, rec := range recs {
		if err := tt.Insert(rec); err != nil {
			return err
		}
	}
	return nil
}

// acquireReadLocked applies the isolation-level read protocol for a committed
// key. Must be called with tt.mu held.
func (tt *TransactionTable) acquireReadLocked(pk string) error {
	switch tt.cfg.IsolationLevel {
	case config.RepeatableRead, config.Serializable:
		if err := tt.base.Locks.AcquireLockWithTimeout(tt.txnID, pk, locks.Shared, tt.cfg.LockTimeout); err != nil {
			return err
		}
		tt.heldLocks.Add(heldLock{key: pk, kind: locks.Shared})
		return nil
	default: // ReadLatest
		return tt.base.Locks.WaitUnlockToRead(pk, tt.cfg.LockTimeout)
	}
}

// acquireWriteLocked applies the isolation-level write protocol for a
// committed key. Must be called with tt.mu held.
func (tt *TransactionTable) acquireWriteLocked(pk string) error {
	switch tt.cfg.IsolationLevel {
	case config.RepeatableRead, config.Serializable:
		if err := tt.base.Locks.AcquireLockWithTimeout(tt.txnID, pk, locks.Exclusive, tt.cfg.LockTimeout); err != nil {
			return err
		}
		tt.heldLocks.Add(heldLock{key: pk, kind: locks.Exclusive})
		return nil
	default: // ReadLatest: no per-op lock; commit's writing phase still guards it.
		return nil
	}
}

// FindByPk reads pk through the overlay first, falling back to the base under
// the isolation-level read protocol.
func (tt *TransactionTable) FindByPk(pkPartial record.Record) (record.Record, error) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if err := tt.requireActive(); err != nil {
		return nil, err
	}
	pk, err := record.PKString(pkPartial, tt.pkDef())
	if err != nil {
		return nil, err
	}
	if rec, ok := tt.tempInserts[pk]; ok {
		return record.Clone(rec), nil
	}
	if _, deleted := tt.tempDeleted[pk]; deleted {
		return nil, nil
	}
	if _, ok := tt.tempUpdatedByOldPk[pk]; ok {
		// The row's PK changed under this transaction; a lookup by its old
		// (committed) PK finds nothing; callers must query the new PK.
		return nil, nil
	}
	if err := tt.acquireReadLocked(pk); err != nil {
		return nil, err
	}
	rec, ok := tt.base.Get(pk)
	if !ok {
		return nil, nil
	}
	return record.Clone(rec), nil
}

// Select compiles where once and returns every visible row that matches it:
// committed rows (through the overlay and isolation-level read protocol) in
// base order, followed by this transaction's own new inserts.
func (tt *TransactionTable) Select(fields []string, where query.Query) ([]record.Record, error) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if err := tt.requireActive(); err != nil {
		return nil, err
	}
	compiled, err := query.Compile(where)
	if err != nil {
		return nil, err
	}
	committedPKs := tt.base.OrderedPKs()
	out := make([]record.Record, 0, len(committedPKs)+len(tt.tempInsertsList))
	for _, pk := range committedPKs {
		if _, deleted := tt.tempDeleted[pk]; deleted {
			continue
		}
		var rec record.Record
		if entry, ok := tt.tempUpdatedByOldPk[pk]; ok {
			rec = entry.rec
		} else {
			if err := tt.acquireReadLocked(pk); err != nil {
				return nil, err
			}
			r, ok := tt.base.Get(pk)
			if !ok {
				continue
			}
			rec = r
		}
		if query.Match(rec, compiled) {
			out = append(out, project(rec, fields))
		}
	}
	for _, rec := range tt.tempInsertsList {
		if query.Match(rec, compiled) {
			out = append(out, project(rec, fields))
		}
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

// Update merges patch into every visible row matching where, except a
// committed row whose primary key this transaction already changed: such a
// row is skipped.
func (tt *TransactionTable) Update(patch record.Record, where query.Query) (int, error) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if err := tt.requireActive(); err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, nil
	}
	compiled, err := query.Compile(where)
	if err != nil {
		return 0, err
	}
	willTouchPk := record.TouchesPk(patch, tt.pkDef())
	affected := 0

	for idx := range tt.tempInsertsList {
		rec := tt.tempInsertsList[idx]
		if !query.Match(rec, compiled) {
			continue
		}
		if willTouchPk {
			oldPk, err := record.PKString(rec, tt.pkDef())
			if err != nil {
				return affected, err
			}
			candidate := record.DeepClone(rec)
			record.Merge(candidate, patch)
			newPk, err := record.PKString(candidate, tt.pkDef())
			if err != nil {
				return affected, err
			}
			if newPk != oldPk {
				if err := tt.checkPkNotUsed(newPk); err != nil {
					return affected, err
				}
				delete(tt.tempInserts, oldPk)
				record.Merge(rec, patch)
				tt.tempInserts[newPk] = rec
				affected++
				continue
			}
		}
		record.Merge(rec, patch)
		affected++
	}

	for _, committedPK := range tt.base.OrderedPKs() {
		if _, deleted := tt.tempDeleted[committedPK]; deleted {
			continue
		}
		existing, hasOverlay := tt.tempUpdatedByOldPk[committedPK]
		var currentRec record.Record
		if hasOverlay {
			curPk, err := record.PKString(existing.rec, tt.pkDef())
			if err != nil {
				return affected, err
			}
			if curPk != committedPK {
				continue // already renamed away by a prior update in this transaction
			}
			currentRec = existing.rec
		} else {
			rec, ok := tt.base.Get(committedPK)
			if !ok {
				continue
			}
			currentRec = rec
		}
		if !query.Match(currentRec, compiled) {
			continue
		}
		if err := tt.acquireWriteLocked(committedPK); err != nil {
			return affected, err
		}
		candidate := record.DeepClone(currentRec)
		record.Merge(candidate, patch)
		newPk, err := record.PKString(candidate, tt.pkDef())
		if err != nil {
			return affected, err
		}
		if newPk != committedPK {
			if err := tt.checkPkNotUsed(newPk); err != nil {
				return affected, err
			}
		}
		if hasOverlay {
			delete(tt.tempInserts, committedPK)
			record.Merge(existing.rec, patch)
			tt.tempInserts[newPk] = existing.rec
		} else {
			overlayRec := record.DeepClone(currentRec)
			record.Merge(overlayRec, patch)
			version, _ := tt.base.Version(committedPK)
			tt.tempUpdatedByOldPk[committedPK] = &overlayEntry{rec: overlayRec, baseVersion: version}
			tt.tempInserts[newPk] = overlayRec
		}
		affected++
	}

	return affected, nil
}

// DeleteByPk removes the visible row at pk
func (tt *TransactionTable) DeleteByPk(pkPartial record.Record) (record.Record, error) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if err := tt.requireActive(); err != nil {
		return nil, err
	}
	pk, err := record.PKString(pkPartial, tt.pkDef())
	if err != nil {
		return nil, err
	}
	if rec, ok := tt.tempInserts[pk]; ok {
		if cpk, entry, isOverlay := tt.overlayByCurrentPK(pk); isOverlay {
			delete(tt.tempInserts, pk)
			delete(tt.tempUpdatedByOldPk, cpk)
			tt.tempDeleted[cpk] = struct{}{}
			return record.Clone(entry.rec), nil
		}
		delete(tt.tempInserts, pk)
		tt.tempInsertsList = removeRecord(tt.tempInsertsList, rec)
		return rec, nil
	}
	if _, deleted := tt.tempDeleted[pk]; deleted {
		return nil, nil
	}
	if !tt.base.Exists(pk) {
		return nil, nil
	}
	if err := tt.acquireWriteLocked(pk); err != nil {
		return nil, err
	}
	tt.tempDeleted[pk] = struct{}{}
	rec, _ := tt.base.Get(pk)
	return record.Clone(rec), nil
}

func removeRecord(list []record.Record, target record.Record) []record.Record {
	out := list[:0]
	removed := false
	for _, r := range list {
		if !removed && reflect.ValueOf(r).Pointer() == reflect.ValueOf(target).Pointer() {
			removed = true
			continue
		}
		out = append(out, r)
	}
	return out
}

// Rollback discards all overlays and releases held locks. Idempotent.
func (tt *TransactionTable) rollback() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tt.state != active {
		return
	}
	tt.releaseHeldLocksLocked()
	tt.tempInserts = make(map[string]record.Record)
	tt.tempInsertsList = nil
	tt.tempUpdatedByOldPk = make(map[string]*overlayEntry)
	tt.tempDeleted = make(map[string]struct{})
	tt.state = rolledBack
}

func (tt *TransactionTable) releaseHeldLocksLocked() {
	for _, v := range tt.heldLocks.ToSlice() {
		hl := v.(heldLock)
		_ = tt.base.Locks.ReleaseLock(tt.txnID, hl.key)
	}
	tt.heldLocks = mapset.NewSet()
}

// apply runs the two-phase validate-and-write commit protocol.
func (tt *TransactionTable) apply() error {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if err := tt.requireActive(); err != nil {
		return err
	}

	keys := tt.affectedKeysLocked()

	// Validation phase: acquire Shared on every affected key and compare
	// version tokens. The keys stay held (not released) going into the
	// writing phase below; releasing in between would let another
	// transaction slip a conflicting write in after we validated but before
	// we write.
	acquired, err := tt.acquireAllLocked(keys, locks.Shared)
	if err != nil {
		tt.releaseAllLocked(acquired)
		return err
	}
	if err := tt.validateLocked(); err != nil {
		tt.releaseAllLocked(acquired)
		return err
	}

	// Writing phase: upgrade the same keys to Exclusive in place (where this
	// transaction is the sole holder, acquireLocked's reentrant upgrade path
	// applies at once; otherwise it waits for the other holders to release)
	// and mutate the base.
	if _, err := tt.acquireAllLocked(keys, locks.Exclusive); err != nil {
		tt.releaseAllLocked(acquired)
		return err
	}
	writeErr := tt.writeLocked()
	tt.releaseAllLocked(acquired)
	if writeErr != nil {
		return writeErr
	}

	tt.releaseHeldLocksLocked()
	tt.state = committed
	return nil
}

// affectedKeysLocked returns the union of tempUpdatedByOldPk and tempDeleted
// keys, sorted for deterministic cross-commit lock ordering: batching lock
// acquisition by sorted key avoids deadlock cycles against concurrent
// commits touching an overlapping key set in a different order.
func (tt *TransactionTable) affectedKeysLocked() []string {
	set := make(map[string]struct{}, len(tt.tempUpdatedByOldPk)+len(tt.tempDeleted))
	for k := range tt.tempUpdatedByOldPk {
		set[k] = struct{}{}
	}
	for k := range tt.tempDeleted {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (tt *TransactionTable) acquireAllLocked(keys []string, kind locks.Kind) ([]string, error) {
	acquired := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := tt.base.Locks.AcquireLockWithTimeout(tt.txnID, k, kind, tt.cfg.LockTimeout); err != nil {
			return acquired, err
		}
		acquired = append(acquired, k)
	}
	return acquired, nil
}

func (tt *TransactionTable) releaseAllLocked(keys []string) {
	for _, k := range keys {
		_ = tt.base.Locks.ReleaseLock(tt.txnID, k)
	}
}

// validateLocked implements apply() step 1 (b)-(d).
func (tt *TransactionTable) validateLocked() error {
	for pk := range tt.tempInserts {
		if !tt.base.Exists(pk) {
			continue
		}
		if _, updated := tt.tempUpdatedByOldPk[pk]; updated {
			continue
		}
		if _, deleted := tt.tempDeleted[pk]; deleted {
			continue
		}
		return fmt.Errorf("%w: duplicate primary key %q", dberrors.ErrTransactionConflict, pk)
	}
	for committedPK, entry := range tt.tempUpdatedByOldPk {
		version, ok := tt.base.Version(committedPK)
		if !ok {
			return fmt.Errorf("%w: %q was removed before commit", dberrors.ErrTransactionConflict, committedPK)
		}
		if version != entry.baseVersion {
			return fmt.Errorf("%w: %q has been externally modified", dberrors.ErrTransactionConflict, committedPK)
		}
	}
	for pk := range tt.tempDeleted {
		if !tt.base.Exists(pk) {
			return fmt.Errorf("%w: %q was already removed", dberrors.ErrTransactionConflict, pk)
		}
	}
	return nil
}

// writeLocked implements apply() step 2: updates, then deletes,
// then inserts. Updates are applied as a single batch rather than a loop
// over tempUpdatedByOldPk, because ranging over that map gives no ordering
// guarantee: if one update's new primary key equals another's old
// (committed) key, applying them one at a time would make the outcome
// depend on which happened to run first.
func (tt *TransactionTable) writeLocked() error {
	if len(tt.tempUpdatedByOldPk) > 0 {
		updates := make(map[string]record.Record, len(tt.tempUpdatedByOldPk))
		for committedPK, entry := range tt.tempUpdatedByOldPk {
			updates[committedPK] = entry.rec
		}
		if err := tt.base.ApplyUpdates(updates); err != nil {
			return err
		}
	}
	tt.base.ApplyDeletes(tt.tempDeleted)
	for _, rec := range tt.tempInsertsList {
		if err := tt.base.ApplyInsert(rec); err != nil {
			return err
		}
	}
	return nil
}
