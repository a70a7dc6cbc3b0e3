package mutexgear

// CancelQueue is a basic Queue with cooperative, cancelable waits
// (spec.md §4.5 "Cancelable queue"). It adds no additional fields over
// Queue; cancellation state lives entirely on the Item's extra tag bits.
type CancelQueue struct {
	Queue
}

// NewCancelQueue returns an empty CancelQueue.
func NewCancelQueue() *CancelQueue {
	cq := &CancelQueue{}
	cq.root.root = true
	cq.root.next = &cq.root
	cq.root.prev = &cq.root
	return cq
}

// CancelFunc is an optional callback invoked by UnlockAndCancel, while the
// access lock is released but before waiting, to unblock a worker from
// any external wait it might be performing on the item.
type CancelFunc func(item *Item)

// UnlockAndCancel attempts to cancel item. Must be called with the access
// lock held (via tok); it always releases the access lock.
//
// If item has no worker assigned yet, it is unlinked and ownership of it
// transfers to the caller (ownership == true). Otherwise the
// cancel_requested tag is set, the item transitions to waiter w exactly
// as in UnlockAndWait, cancelCB (if non-nil) is invoked, and the caller
// proceeds through the normal waiter handshake; the caller never owns the
// item in this branch, the worker finishes (and so effectively deletes
// or recycles) it.
func (cq *CancelQueue) UnlockAndCancel(tok Token, item *Item, w *Waiter, cancelCB CancelFunc) (ownership bool, err error) {
	if tok.q != &cq.Queue {
		panic("mutexgear: Token does not belong to this Queue")
	}

	o := item.wow.Load()
	if o.kind == ownerNone {
		unlinkNode(item)
		cq.accessLock.Unlock()
		return true, nil
	}
	if o.kind != ownerWorker {
		cq.accessLock.Unlock()
		return false, EINVAL
	}
	worker := o.worker

	item.setCancelRequested()
	w.waitDetachLock.Lock()
	item.wow.Store(&owner{kind: ownerWaiter, waiter: w})
	cq.accessLock.Unlock()

	if cancelCB != nil {
		cancelCB(item)
	}

	cq.waitForNull(item, worker)

	w.waitDetachLock.Unlock()
	cq.workerDetachLock.Lock()
	cq.workerDetachLock.Unlock()
	return false, nil
}

// IsCanceled is the worker-side poll for cancellation; see Item.IsCanceled.
func (cq *CancelQueue) IsCanceled(item *Item, w *Worker) bool {
	return item.IsCanceled(w)
}
