package locks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lynxdb/dberrors"
)

func TestAcquireLockSharedAllowsMultipleHolders(t *testing.T) {
	lm := New()
	ok, err := lm.AcquireLock("t1", "k", Shared)
	assert.NoError(t, err)
	assert.True(t, ok)
	ok, err = lm.AcquireLock("t2", "k", Shared)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, lm.GetLockCount("k"))
}

func TestAcquireLockExclusiveExcludesOthers(t *testing.T) {
	lm := New()
	ok, _ := lm.AcquireLock("t1", "k", Exclusive)
	assert.True(t, ok)
	ok, _ = lm.AcquireLock("t2", "k", Shared)
	assert.False(t, ok)
}

func TestAcquireLockReentrantSameTxn(t *testing.T) {
	lm := New()
	ok, _ := lm.AcquireLock("t1", "k", Shared)
	assert.True(t, ok)
	ok, _ = lm.AcquireLock("t1", "k", Shared)
	assert.True(t, ok)
	assert.Equal(t, 1, lm.GetLockCount("k"))
}

func TestAcquireLockUpgradeSharedToExclusiveWhenSoleHolder(t *testing.T) {
	lm := New()
	ok, _ := lm.AcquireLock("t1", "k", Shared)
	assert.True(t, ok)
	ok, _ = lm.AcquireLock("t1", "k", Exclusive)
	assert.True(t, ok)
	assert.True(t, lm.IsLocked("t1", "k", Exclusive))
}

func TestAcquireLockUpgradeFailsWithOtherSharedHolders(t *testing.T) {
	lm := New()
	ok, _ := lm.AcquireLock("t1", "k", Shared)
	assert.True(t, ok)
	ok, _ = lm.AcquireLock("t2", "k", Shared)
	assert.True(t, ok)
	ok, _ = lm.AcquireLock("t1", "k", Exclusive)
	assert.False(t, ok)
}

func TestReleaseLockIsSilentNoopForNonHolder(t *testing.T) {
	lm := New()
	err := lm.ReleaseLock("ghost", "k")
	assert.NoError(t, err)
	assert.Equal(t, 0, lm.GetLockCount("k"))
}

func TestReleaseLockDrainsWaitersFIFO(t *testing.T) {
	lm := New()
	ok, _ := lm.AcquireLock("t1", "k", Exclusive)
	assert.True(t, ok)

	results := make(chan string, 2)
	go func() {
		err := lm.AcquireLockWithTimeout("t2", "k", Exclusive, time.Second)
		if err == nil {
			results <- "t2"
		}
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		err := lm.AcquireLockWithTimeout("t3", "k", Exclusive, time.Second)
		if err == nil {
			results <- "t3"
		}
	}()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 2, lm.GetWaitingQueueLength("k"))
	assert.NoError(t, lm.ReleaseLock("t1", "k"))

	first := <-results
	assert.Equal(t, "t2", first)
	assert.NoError(t, lm.ReleaseLock("t2", "k"))
	second := <-results
	assert.Equal(t, "t3", second)
	assert.NoError(t, lm.ReleaseLock("t3", "k"))
}

func TestAcquireLockWithTimeoutExpires(t *testing.T) {
	lm := New()
	ok, _ := lm.AcquireLock("t1", "k", Exclusive)
	assert.True(t, ok)
	err := lm.AcquireLockWithTimeout("t2", "k", Exclusive, 20*time.Millisecond)
	assert.ErrorIs(t, err, dberrors.ErrLockTimeout)
}

func TestWaitUnlockToReadAllowsSharedHolder(t *testing.T) {
	lm := New()
	ok, _ := lm.AcquireLock("t1", "k", Shared)
	assert.True(t, ok)
	assert.NoError(t, lm.WaitUnlockToRead("k", time.Second))
}

func TestWaitUnlockToWriteBlocksOnAnyHolder(t *testing.T) {
	lm := New()
	ok, _ := lm.AcquireLock("t1", "k", Shared)
	assert.True(t, ok)
	err := lm.WaitUnlockToWrite("k", 20*time.Millisecond)
	assert.ErrorIs(t, err, dberrors.ErrLockTimeout)
}

func TestInvalidLockKindRejected(t *testing.T) {
	lm := New()
	_, err := lm.AcquireLock("t1", "k", Kind(99))
	assert.ErrorIs(t, err, dberrors.ErrInvalidLockType)
}

func TestStatsFor(t *testing.T) {
	lm := New()
	ok, _ := lm.AcquireLock("t1", "k", Shared)
	assert.True(t, ok)
	stats := lm.StatsFor("k")
	assert.Equal(t, 1, stats.LockCount)
	assert.Equal(t, 0, stats.WaitingCount)
}
