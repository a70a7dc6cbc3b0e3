package mutexgear

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCancelQueueOwnershipTransfersWhenNoWorkerYet(t *testing.T) {
	cq := NewCancelQueue()
	item := NewItem()
	cq.Enqueue(item)

	tok := cq.Lock()
	ownership, err := cq.UnlockAndCancel(tok, item, NewWaiter(), nil)
	require.NoError(t, err)
	require.True(t, ownership)
	require.True(t, item.IsNull())
}

func TestCancelQueueHandshakeWhenWorkerAlreadyAssigned(t *testing.T) {
	cq := NewCancelQueue()
	w := NewWorker()
	require.NoError(t, w.Engage())

	item := NewItem()
	require.NoError(t, item.Start(w))
	cq.Enqueue(item)

	waiter := NewWaiter()
	var mu sync.Mutex
	var cbSawCanceled bool

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tok := cq.Lock()
		ownership, err := cq.UnlockAndCancel(tok, item, waiter, func(it *Item) {
			mu.Lock()
			cbSawCanceled = it.cancelRequested()
			mu.Unlock()
		})
		require.NoError(t, err)
		require.False(t, ownership)
	}()

	require.Eventually(t, func() bool {
		return item.Waiter() == waiter
	}, time.Second, time.Millisecond)

	require.NoError(t, cq.Queue.SafeFinish(item, w))
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.True(t, cbSawCanceled)
	require.NoError(t, w.Disengage())
}

func TestCancelQueueUnlockAndCancelRejectsWaiterAlreadyAttached(t *testing.T) {
	cq := NewCancelQueue()
	w := NewWorker()
	require.NoError(t, w.Engage())

	item := NewItem()
	require.NoError(t, item.Start(w))
	item.wow.Store(&owner{kind: ownerWaiter, waiter: NewWaiter()})
	cq.Enqueue(item)

	tok := cq.Lock()
	_, err := cq.UnlockAndCancel(tok, item, NewWaiter(), nil)
	require.ErrorIs(t, err, EINVAL)
}

func TestItemIsCanceled(t *testing.T) {
	w := NewWorker()
	require.NoError(t, w.Engage())

	item := NewItem()
	require.NoError(t, item.Start(w))
	require.False(t, item.IsCanceled(w))

	item.setCancelRequested()
	// Still owned by w: the spec's is_canceled only consults the tag once
	// the item's worker has changed out from under the caller.
	require.False(t, item.IsCanceled(w))

	item.wow.Store(&owner{kind: ownerWaiter, waiter: NewWaiter()})
	require.True(t, item.IsCanceled(w))

	require.NoError(t, w.Disengage())
}
