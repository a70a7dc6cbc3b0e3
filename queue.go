package mutexgear

import "sync"

// Queue is a basic completion queue: an ordered, intrusive sequence of
// Items plus an access lock and a worker-detach lock (spec.md §3 "Basic
// queue", §4.3). The zero value is not usable; construct one with
// NewQueue.
type Queue struct {
	accessLock       sync.Mutex
	workerDetachLock sync.Mutex
	root             Item // sentinel; root.next/root.prev are head/tail
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.root.root = true
	q.root.next = &q.root
	q.root.prev = &q.root
	return q
}

// Token is proof that its holder already has a Queue's access lock held.
// It is returned by Lock and consumed by operations that document they
// require it, so the caller cannot accidentally call them outside the
// critical section.
type Token struct{ q *Queue }

// Lock acquires the queue's access lock and returns a Token proving it.
func (q *Queue) Lock() Token {
	q.accessLock.Lock()
	return Token{q}
}

// Unlock releases the access lock. t must have come from q.Lock().
func (q *Queue) Unlock(t Token) {
	if t.q != q {
		panic("mutexgear: Token does not belong to this Queue")
	}
	q.accessLock.Unlock()
}

// Front returns the first item in the queue, or nil if it is empty. Safe
// to call without the access lock under the grow-only-tail iteration
// contract (spec.md §4.3 "Iteration").
func (q *Queue) Front() *Item {
	if q.root.next == &q.root {
		return nil
	}
	return q.root.next
}

// Back returns the last item in the queue, or nil if it is empty.
func (q *Queue) Back() *Item {
	if q.root.prev == &q.root {
		return nil
	}
	return q.root.prev
}

// linkTail appends item at the tail. Caller must hold the access lock (or
// otherwise guarantee exclusivity).
func (q *Queue) linkTail(item *Item) {
	item.prev = q.root.prev
	item.next = &q.root
	q.root.prev.next = item
	q.root.prev = item
}

// linkAfter links item immediately after at. Caller must hold the access
// lock.
func (q *Queue) linkAfter(at, item *Item) {
	item.prev = at
	item.next = at.next
	at.next.prev = item
	at.next = item
}

// unlinkNode removes item from whatever list it is linked into and resets
// its linkage to the as-init self-cycle. It does not touch wow or extra.
func unlinkNode(item *Item) {
	item.prev.next = item.next
	item.next.prev = item.prev
	item.next = item
	item.prev = item
}

// Enqueue appends item to the tail. If no tok is passed, Enqueue
// acquires and releases the access lock itself; otherwise it trusts the
// caller already holds it (a Token from another Queue, or the zero Token,
// panics) (spec.md §4.3 "enqueue(queue, item, lock_hint)").
// An item may be pre-started (Item.Start) before Enqueue, in which case it
// is observable as in-progress immediately upon linking.
func (q *Queue) Enqueue(item *Item, tok ...Token) {
	if len(tok) == 0 {
		q.accessLock.Lock()
		q.linkTail(item)
		q.accessLock.Unlock()
		return
	}
	if tok[0].q != q {
		panic("mutexgear: Token does not belong to this Queue")
	}
	q.linkTail(item)
}

// UnsafeDequeue unlinks item. Must be called with the access lock held.
func (q *Queue) UnsafeDequeue(tok Token, item *Item) {
	if tok.q != q {
		panic("mutexgear: Token does not belong to this Queue")
	}
	unlinkNode(item)
}

// UnlockAndWait must be called with the access lock held (via tok). It
// performs the "wait attempt" transition (spec.md §4.2 step 2): if item
// has an assigned worker, it commits waiter w to the item (acquiring w's
// detach lock first), releases the access lock unconditionally, and then
// blocks until the worker has finished with the item (step 4). It returns
// ESRCH if the item had already been finished (wow observed null) at the
// start; the unlock always happens regardless of the return value.
func (q *Queue) UnlockAndWait(tok Token, item *Item, w *Waiter) error {
	if tok.q != q {
		panic("mutexgear: Token does not belong to this Queue")
	}

	o := item.wow.Load()
	if o.kind != ownerWorker {
		q.accessLock.Unlock()
		return ESRCH
	}
	worker := o.worker

	w.waitDetachLock.Lock()
	item.wow.Store(&owner{kind: ownerWaiter, waiter: w})
	q.accessLock.Unlock()

	q.waitForNull(item, worker)

	w.waitDetachLock.Unlock()
	q.workerDetachLock.Lock()
	q.workerDetachLock.Unlock()
	return nil
}

// waitForNull implements the waiter's half of the handshake (spec.md §4.2
// step 4): grip the worker's wheel if wow hasn't gone null yet, then turn
// it until it has.
func (q *Queue) waitForNull(item *Item, worker *Worker) {
	if item.wow.Load().kind == ownerNone {
		return
	}
	slot := worker.wheel.GripOn()
	for item.wow.Load().kind != ownerNone {
		slot = worker.wheel.Turn(slot)
	}
	worker.wheel.Release(slot)
}

// SafeFinish acquires the access lock, unlinks item, releases the access
// lock, and then — if a waiter had been assigned — runs the worker's half
// of the completion handshake (spec.md §4.2 step 3). It leaves item in
// as-init state.
func (q *Queue) SafeFinish(item *Item, w *Worker) error {
	q.accessLock.Lock()
	q.UnsafeDequeue(Token{q}, item)
	o := item.wow.Load()
	q.accessLock.Unlock()
	return q.finishUnlocked(item, w, o)
}

// finishUnlocked runs the worker's publish-and-handshake half once the
// item is already unlinked and the access lock has been released.
func (q *Queue) finishUnlocked(item *Item, w *Worker, o *owner) error {
	if o.kind != ownerWaiter {
		item.wow.Store(nullOwner)
		return nil
	}
	waiter := o.waiter
	q.workerDetachLock.Lock()
	item.wow.Store(nullOwner)
	_ = w.wheel.Advance()
	waiter.waitDetachLock.Lock()
	waiter.waitDetachLock.Unlock()
	q.workerDetachLock.Unlock()
	return nil
}

// Destroy reports EBUSY if any item is still linked into the queue,
// leaving the queue unchanged; otherwise it succeeds (there is nothing
// further to release on the Go side).
func (q *Queue) Destroy() error {
	if !q.accessLock.TryLock() {
		return EBUSY
	}
	defer q.accessLock.Unlock()
	if !q.workerDetachLock.TryLock() {
		return EBUSY
	}
	defer q.workerDetachLock.Unlock()
	if q.root.next != &q.root {
		return EBUSY
	}
	return nil
}
