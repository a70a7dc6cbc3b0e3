package mutexgear

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTryRDMutexTryRDLockSucceedsWithNoWriter(t *testing.T) {
	trw, err := NewTryRDMutex(DefaultAttr())
	require.NoError(t, err)

	item := NewItem()
	require.NoError(t, trw.TryRDLock(item))
	require.True(t, item.extra.Load()&tagTryLocked != 0)
	require.NoError(t, trw.RDUnlock(item))
}

func TestTryRDMutexSeparatorTransparentToTryWRLock(t *testing.T) {
	trw, err := NewTryRDMutex(DefaultAttr())
	require.NoError(t, err)

	// Only the permanent separator sits in acquired_reads; TryWRLock must
	// treat it as transparent and succeed immediately.
	require.NoError(t, trw.TryWRLock())
	require.NoError(t, trw.WRUnlock())
}

func TestTryRDMutexTryRDLockFailsWhileWriterPresent(t *testing.T) {
	trw, err := NewTryRDMutex(DefaultAttr())
	require.NoError(t, err)

	writer := NewWorker()
	require.NoError(t, writer.Engage())
	waiter := NewWaiter()
	writerItem := NewItem()
	writerDone := make(chan struct{})
	go func() {
		require.NoError(t, trw.WRLock(writer, waiter, writerItem, 0))
		close(writerDone)
	}()

	require.Eventually(t, func() bool {
		return trw.wrlockWaits.Load() != 0
	}, time.Second, time.Millisecond)

	item := NewItem()
	require.ErrorIs(t, trw.TryRDLock(item), EBUSY)

	select {
	case <-writerDone:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired the lock")
	}
	require.NoError(t, trw.WRUnlock())
	require.NoError(t, writer.Disengage())

	// Once the writer has fully departed, try-read must work again.
	require.NoError(t, trw.TryRDLock(item))
	require.NoError(t, trw.RDUnlock(item))
}

func TestTryRDMutexWriterDrainsInFlightTryRead(t *testing.T) {
	trw, err := NewTryRDMutex(DefaultAttr())
	require.NoError(t, err)

	item := NewItem()
	require.NoError(t, trw.TryRDLock(item))

	writer := NewWorker()
	require.NoError(t, writer.Engage())
	waiter := NewWaiter()
	writerItem := NewItem()
	writerDone := make(chan struct{})
	go func() {
		require.NoError(t, trw.WRLock(writer, waiter, writerItem, 0))
		close(writerDone)
	}()

	select {
	case <-writerDone:
		t.Fatal("writer acquired the lock while a try-read was still held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, trw.RDUnlock(item))

	select {
	case <-writerDone:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired the lock after the try-read released")
	}
	require.NoError(t, trw.WRUnlock())
	require.NoError(t, writer.Disengage())
}

func TestTryRDMutexMultipleTryReadsConcurrent(t *testing.T) {
	trw, err := NewTryRDMutex(DefaultAttr())
	require.NoError(t, err)

	const n = 6
	items := make([]*Item, n)
	for i := range items {
		items[i] = NewItem()
		require.NoError(t, trw.TryRDLock(items[i]))
	}
	for _, item := range items {
		require.NoError(t, trw.RDUnlock(item))
	}

	require.NoError(t, trw.TryWRLock())
	require.NoError(t, trw.WRUnlock())
}
