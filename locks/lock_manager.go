// Package locks implements LynxDB's record-level shared/exclusive lock
// manager: a FIFO waiter queue per key with timeout-capable acquisition,
// backed by a CAS-spinnable latch guarding a keyed table of lock entries.
package locks

import (
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set"
	lock "github.com/viney-shih/go-lock"

	"lynxdb/config"
	"lynxdb/dberrors"
)

// TxnID identifies the transaction requesting or holding a lock.
type TxnID string

// Kind is the lock discipline: Shared or Exclusive.
type Kind int

const (
	// Shared allows any number of concurrent holders, none of them Exclusive.
	Shared Kind = iota
	// Exclusive allows exactly one holder.
	Exclusive
)

func (k Kind) String() string {
	if k == Exclusive {
		return "Exclusive"
	}
	return "Shared"
}

func validKind(k Kind) bool { return k == Shared || k == Exclusive }

type requestKind int

const (
	reqAcquire requestKind = iota
	reqWaitRead
	reqWaitWrite
)

// waiter is an enqueued request blocked on a key's lock state.
type waiter struct {
	txnID   TxnID
	kind    requestKind
	desired Kind
	ready   chan struct{}
	err     error

	resolved bool
	expired  bool
}

func (w *waiter) resolve(err error) {
	if w.resolved {
		return
	}
	w.resolved = true
	w.err = err
	close(w.ready)
}

// entry is the lock state for a single key: the current holders and the
// FIFO queue of waiters.
type entry struct {
	kind    Kind
	holders mapset.Set // of TxnID
	waiters []*waiter
}

func newEntry() *entry {
	return &entry{holders: mapset.NewSet()}
}

func (e *entry) empty() bool {
	return e.holders.Cardinality() == 0 && len(e.waiters) == 0
}

// LockManager serializes access to per-key records under shared/exclusive
// semantics with FIFO waiter queues and timeouts.
type LockManager struct {
	latch   lock.Mutex
	entries map[string]*entry
}

// New constructs an empty LockManager.
func New() *LockManager {
	return &LockManager{
		latch:   lock.NewCASMutex(),
		entries: make(map[string]*entry),
	}
}

// AcquireLock attempts a non-blocking acquisition of kind on key for txnID.
func (lm *LockManager) AcquireLock(txnID TxnID, key string, kind Kind) (bool, error) {
	if !validKind(kind) {
		return false, dberrors.ErrInvalidLockType
	}
	lm.latch.Lock()
	defer lm.latch.Unlock()
	return lm.acquireLocked(txnID, key, kind), nil
}

func (lm *LockManager) acquireLocked(txnID TxnID, key string, kind Kind) bool {
	e, ok := lm.entries[key]
	if !ok {
		e = newEntry()
		e.kind = kind
		e.holders.Add(txnID)
		lm.entries[key] = e
		return true
	}
	if e.holders.Cardinality() == 0 {
		// Entry kept alive only by its waiter queue: the key is free.
		e.kind = kind
		e.holders.Add(txnID)
		return true
	}
	if e.holders.Contains(txnID) {
		// Reentrant: a sole holder may switch to Exclusive; any holder may
		// re-request its own kind as a no-op.
		if kind == Exclusive && e.kind == Shared {
			if e.holders.Cardinality() != 1 {
				return false
			}
			e.kind = Exclusive
		}
		return true
	}
	if e.kind == Shared && kind == Shared {
		e.holders.Add(txnID)
		return true
	}
	return false
}

// AcquireLockWithTimeout blocks until kind is granted on key for txnID, or
// returns dberrors.ErrLockTimeout after timeout elapses.
func (lm *LockManager) AcquireLockWithTimeout(txnID TxnID, key string, kind Kind, timeout time.Duration) error {
	if !validKind(kind) {
		return dberrors.ErrInvalidLockType
	}
	lm.latch.Lock()
	if lm.acquireLocked(txnID, key, kind) {
		lm.latch.Unlock()
		return nil
	}
	w := &waiter{txnID: txnID, kind: reqAcquire, desired: kind, ready: make(chan struct{})}
	lm.enqueueLocked(key, w)
	lm.latch.Unlock()
	return lm.await(key, w, timeout)
}

// WaitUnlockToRead blocks until key is readable (unlocked or Shared), or times out.
func (lm *LockManager) WaitUnlockToRead(key string, timeout time.Duration) error {
	lm.latch.Lock()
	if lm.canReadLocked(key) {
		lm.latch.Unlock()
		return nil
	}
	w := &waiter{kind: reqWaitRead, ready: make(chan struct{})}
	lm.enqueueLocked(key, w)
	lm.latch.Unlock()
	return lm.await(key, w, timeout)
}

// WaitUnlockToWrite blocks until key is writable (unlocked), or times out.
func (lm *LockManager) WaitUnlockToWrite(key string, timeout time.Duration) error {
	lm.latch.Lock()
	if lm.canWriteLocked(key) {
		lm.latch.Unlock()
		return nil
	}
	w := &waiter{kind: reqWaitWrite, ready: make(chan struct{})}
	lm.enqueueLocked(key, w)
	lm.latch.Unlock()
	return lm.await(key, w, timeout)
}

func (lm *LockManager) enqueueLocked(key string, w *waiter) {
	e, ok := lm.entries[key]
	if !ok {
		e = newEntry()
		lm.entries[key] = e
	}
	e.waiters = append(e.waiters, w)
}

// await blocks on w.ready, arming a timer that marks w expired on timeout per
// ("Timeout handling"): the waiter is NOT removed from the queue
// immediately, it is skipped and reaped on the next drain.
func (lm *LockManager) await(key string, w *waiter, timeout time.Duration) error {
	timer := time.AfterFunc(timeout, func() {
		lm.latch.Lock()
		defer lm.latch.Unlock()
		if w.resolved {
			return
		}
		w.expired = true
		config.DPrintf("lock %s: waiter timed out after %v", key, timeout)
		w.resolve(fmt.Errorf("%w: key %q after %v", dberrors.ErrLockTimeout, key, timeout))
	})
	<-w.ready
	timer.Stop()
	return w.err
}

// ReleaseLock removes txnID as a holder of key, if it held it, then drains
// the waiter queue. Releasing from a non-holder is a silent no-op and does
// NOT drain the queue (important test-specified behavior).
func (lm *LockManager) ReleaseLock(txnID TxnID, key string) error {
	lm.latch.Lock()
	defer lm.latch.Unlock()
	e, ok := lm.entries[key]
	if !ok || !e.holders.Contains(txnID) {
		return nil
	}
	e.holders.Remove(txnID)
	if e.holders.Cardinality() == 0 {
		e.kind = Shared // reset; next acquireLocked on an empty entry sets its own kind
	}
	lm.drainLocked(key)
	if e.empty() {
		delete(lm.entries, key)
	}
	return nil
}

// drainLocked walks the waiter queue in order, resolving every waiter that
// is now satisfiable and stopping at the first one that still isn't
// (head-of-line blocking keeps the FIFO ordering meaningful).
func (lm *LockManager) drainLocked(key string) {
	e, ok := lm.entries[key]
	if !ok {
		return
	}
	i := 0
	for i < len(e.waiters) {
		w := e.waiters[i]
		if w.expired {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			continue
		}
		var satisfied bool
		switch w.kind {
		case reqWaitRead:
			satisfied = lm.canReadLocked(key)
		case reqWaitWrite:
			satisfied = lm.canWriteLocked(key)
		case reqAcquire:
			satisfied = lm.acquireLocked(w.txnID, key, w.desired)
		}
		if !satisfied {
			break
		}
		w.resolve(nil)
		e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
	}
}

func (lm *LockManager) canReadLocked(key string) bool {
	e, ok := lm.entries[key]
	if !ok {
		return true
	}
	return e.kind == Shared || e.holders.Cardinality() == 0
}

func (lm *LockManager) canWriteLocked(key string) bool {
	e, ok := lm.entries[key]
	if !ok {
		return true
	}
	return e.holders.Cardinality() == 0
}

// CanRead reports whether key has no lock or only Shared holders.
func (lm *LockManager) CanRead(key string) bool {
	lm.latch.Lock()
	defer lm.latch.Unlock()
	return lm.canReadLocked(key)
}

// CanWrite reports whether key has no holders at all.
func (lm *LockManager) CanWrite(key string) bool {
	lm.latch.Lock()
	defer lm.latch.Unlock()
	return lm.canWriteLocked(key)
}

// IsLocked reports whether key is currently held, optionally filtered by
// txnID (empty string means "any holder") and/or kind (negative means "any
// kind").
func (lm *LockManager) IsLocked(txnID TxnID, key string, kind Kind) bool {
	lm.latch.Lock()
	defer lm.latch.Unlock()
	e, ok := lm.entries[key]
	if !ok || e.holders.Cardinality() == 0 {
		return false
	}
	if txnID != "" && !e.holders.Contains(txnID) {
		return false
	}
	if kind >= 0 && e.kind != kind {
		return false
	}
	return true
}

// AnyKind is passed to IsLocked to match a lock of either kind.
const AnyKind Kind = -1

// GetLockCount returns the number of distinct holders on key.
func (lm *LockManager) GetLockCount(key string) int {
	lm.latch.Lock()
	defer lm.latch.Unlock()
	e, ok := lm.entries[key]
	if !ok {
		return 0
	}
	return e.holders.Cardinality()
}

// GetWaitingQueueLength returns the number of waiters currently enqueued for key.
func (lm *LockManager) GetWaitingQueueLength(key string) int {
	lm.latch.Lock()
	defer lm.latch.Unlock()
	e, ok := lm.entries[key]
	if !ok {
		return 0
	}
	return len(e.waiters)
}

// Stats bundles the debug inspectors for key into a single debug dump.
type Stats struct {
	LockCount    int
	WaitingCount int
}

// StatsFor returns a Stats snapshot for key.
func (lm *LockManager) StatsFor(key string) Stats {
	return Stats{LockCount: lm.GetLockCount(key), WaitingCount: lm.GetWaitingQueueLength(key)}
}
