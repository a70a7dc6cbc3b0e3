package mutexgear

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

// expressRetries bounds the lock-free express-stack CAS loop on the
// read fast path. This is a heuristic, not a correctness requirement
// (spec.md §9 "Express stack correctness"); on exhaustion the fast path
// falls back to the access-lock path.
const expressRetries = 8

// RWMutex is the core reader/writer lock: readers on the fast path never
// touch a shared mutex, writers block only on the readers that were
// actually present when the writer arrived, and a writer may optionally
// admit a bounded number of subsequent readers before acquiring exclusive
// access (spec.md §1, §4.6).
//
// The zero value is not usable; construct one with NewRWMutex.
type RWMutex struct {
	attr Attr

	acquiredReads Queue // currently active readers (+ TRDL separator)
	waitingWrites Queue // writers that have announced themselves
	waitingReads  DrainQueue
	readWaitDrain Queue // sweep target for waiting_reads drains

	exprHead atomic.Pointer[Item] // express stack top
	exprCommits atomic.Uint64

	// wpBudget realizes waiting-readers promotion: a writer that wants
	// to admit up to N subsequent readers before starting its tail-scan
	// adds N here; readers on the fast path consume one unit instead of
	// diverting to the slow path when waitingWrites is non-empty
	// (spec.md §4.6 "Waiting-readers promotion").
	wpBudget atomic.Int64

	pushLocks []sync.Mutex

	// isSeparator, when non-nil, marks an item that a tail-scan must
	// skip and that does not count toward "acquired_reads is empty".
	// Set only by TryRDMutex (spec.md §3 "RWLock (TRDL extension)").
	isSeparator func(*Item) bool
}

// NewRWMutex returns an initialized RWMutex, or an error if attr is
// invalid or requests an unsupported feature (spec.md §6 rwlock::init).
func NewRWMutex(attr Attr) (*RWMutex, error) {
	rw := &RWMutex{}
	if err := initRWMutex(rw, attr); err != nil {
		return nil, err
	}
	return rw, nil
}

// initRWMutex is the shared constructor body, factored out so TryRDMutex
// can initialize its embedded RWMutex in place rather than copying one by
// value (which would copy live sync.Mutex state).
func initRWMutex(rw *RWMutex, attr Attr) error {
	if err := attr.validate(); err != nil {
		return err
	}
	rw.attr = attr
	rw.acquiredReads.root.root = true
	rw.acquiredReads.root.next = &rw.acquiredReads.root
	rw.acquiredReads.root.prev = &rw.acquiredReads.root
	rw.waitingWrites.root.root = true
	rw.waitingWrites.root.next = &rw.waitingWrites.root
	rw.waitingWrites.root.prev = &rw.waitingWrites.root
	rw.waitingReads.root.root = true
	rw.waitingReads.root.next = &rw.waitingReads.root
	rw.waitingReads.root.prev = &rw.waitingReads.root
	rw.waitingReads.drainIndex = drainIndexMin
	rw.readWaitDrain.root.root = true
	rw.readWaitDrain.root.next = &rw.readWaitDrain.root
	rw.readWaitDrain.root.prev = &rw.readWaitDrain.root
	rw.pushLocks = make([]sync.Mutex, attr.Channels)
	return nil
}

// Destroy reports EBUSY if the lock is currently held or has readers or
// writers registered, leaving it unchanged; otherwise it succeeds.
func (rw *RWMutex) Destroy() error {
	if rw.exprHead.Load() != nil {
		return EBUSY
	}
	if err := rw.acquiredReads.Destroy(); err != nil {
		return err
	}
	if err := rw.waitingWrites.Destroy(); err != nil {
		return err
	}
	if err := rw.waitingReads.Destroy(); err != nil {
		return err
	}
	return nil
}

func (rw *RWMutex) readsEmptyLocked() bool {
	for it := rw.acquiredReads.Front(); it != nil; it = it.Next() {
		if rw.isSeparator == nil || !rw.isSeparator(it) {
			return false
		}
	}
	return true
}

// --- Read acquisition (spec.md §4.6) ---------------------------------

// RDLock admits item as a reader, blocking only if a writer is currently
// waiting or holding the lock.
func (rw *RWMutex) RDLock(item *Item) error {
	if rw.tryExpressAppend(item) {
		return nil
	}

	rw.acquiredReads.accessLock.Lock()
	if rw.waitingWritesEffectivelyEmpty() {
		rw.commitExpressLocked()
		rw.admitReaderLocked(item)
		rw.acquiredReads.accessLock.Unlock()
		return nil
	}
	rw.acquiredReads.accessLock.Unlock()

	return rw.rdlockSlow(item)
}

// admitReaderLocked gives item a fresh Worker role and links it to the
// tail of acquired_reads, so a writer's later tail-scan can wait on it
// through the ordinary completion handshake. Caller must hold
// acquired_reads' access lock.
func (rw *RWMutex) admitReaderLocked(item *Item) {
	item.ownWorker = NewWorker()
	_ = item.ownWorker.Engage()
	_ = item.Start(item.ownWorker)
	rw.acquiredReads.linkTail(item)
}

// waitingWritesEffectivelyEmpty reports whether the fast/commit path
// should treat no writer as present: either waitingWrites truly is empty,
// or a writer has left waiting-readers-promotion budget for us to spend.
func (rw *RWMutex) waitingWritesEffectivelyEmpty() bool {
	if rw.waitingWrites.Front() == nil {
		return true
	}
	for {
		budget := rw.wpBudget.Load()
		if budget <= 0 {
			return false
		}
		if rw.wpBudget.CompareAndSwap(budget, budget-1) {
			return true
		}
	}
}

// tryExpressAppend attempts the lock-free fast-path append described in
// spec.md §4.6 step 1: push item onto the express stack with a bounded
// number of CAS retries, admitting the read immediately if a writer is
// not currently waiting.
func (rw *RWMutex) tryExpressAppend(item *Item) bool {
	if rw.waitingWrites.Front() != nil && rw.wpBudget.Load() <= 0 {
		return false
	}
	for i := 0; i < expressRetries; i++ {
		top := rw.exprHead.Load()
		item.exprPrev = top
		if rw.exprHead.CompareAndSwap(top, item) {
			// Re-check: a writer may have started announcing itself, or
			// have emptied acquired_reads concurrently, between our
			// initial peek and the successful CAS. Either way the item
			// is already linked into the express stack and will be
			// committed (and seen) by the next holder of the access
			// lock, or by our own fallback commit below, so the read is
			// admitted either way.
			return true
		}
	}
	return false
}

// commitExpressLocked flushes the express stack into acquired_reads.
// Caller must hold acquired_reads' access lock.
func (rw *RWMutex) commitExpressLocked() {
	top := rw.exprHead.Swap(nil)
	if top == nil {
		return
	}
	// The stack is LIFO (newest first); reverse it so the oldest express
	// entry is linked first, preserving arrival order within the batch
	// (spec.md §8 "Express-stack commit preserves reader order").
	var ordered []*Item
	for it := top; it != nil; it = it.exprPrev {
		ordered = append(ordered, it)
	}
	for i := len(ordered) - 1; i >= 0; i-- {
		it := ordered[i]
		it.exprPrev = nil
		rw.admitReaderLocked(it)
	}
	rw.exprCommits.Add(1)
}

// rdlockSlow is the slow path: a writer was observed waiting. item
// registers behind it in waiting_reads and blocks (spec.md §4.6 "Slow
// read path"). Every reader taking this path acts as the worker of its
// own waiting_reads item (so whoever queues behind it can wait on it) and,
// unless it is first in line, as the waiter on its immediate predecessor.
func (rw *RWMutex) rdlockSlow(item *Item) error {
	// Loops back to the registration step, never spins: if a new writer
	// slips in between our waiting_reads wait finishing and the admission
	// check below, we re-register and wait on it in turn, the same way
	// the original's wait_all_writes_and_acquire_access loops back to its
	// top rather than polling (spec.md §5 "Scheduling model": all
	// suspension happens on a real blocking primitive, never cooperative
	// yielding).
	for {
		self := NewWorker()
		_ = self.Engage()

		rw.waitingReads.accessLock.Lock()
		wasEmpty := rw.waitingReads.root.next == &rw.waitingReads.root
		_ = item.Start(self)
		rw.waitingReads.linkTail(item)
		idx := rw.waitingReads.drainIndex
		pred := item.Prev()
		rw.waitingReads.accessLock.Unlock()

		if wasEmpty {
			for {
				rw.waitingWrites.accessLock.Lock()
				w := rw.waitingWrites.Back()
				if w == nil {
					rw.waitingWrites.accessLock.Unlock()
					break
				}
				tok := Token{&rw.waitingWrites}
				_ = rw.waitingWrites.UnlockAndWait(tok, w, NewWaiter())
			}
			_ = rw.waitingReads.SafeFinish(item, self)
			rw.waitingReads.SafeDrain(item, idx, &rw.readWaitDrain)
		} else if pred != nil {
			rw.waitingReads.accessLock.Lock()
			tok := Token{&rw.waitingReads.Queue}
			_ = rw.waitingReads.UnlockAndWait(tok, pred, NewWaiter())
			_ = rw.waitingReads.SafeFinish(item, self)
		} else {
			_ = rw.waitingReads.SafeFinish(item, self)
		}
		_ = self.Disengage()

		rw.acquiredReads.accessLock.Lock()
		if rw.waitingWritesEffectivelyEmpty() {
			rw.commitExpressLocked()
			rw.admitReaderLocked(item)
			rw.acquiredReads.accessLock.Unlock()
			return nil
		}
		rw.acquiredReads.accessLock.Unlock()
	}
}

// --- Read release (spec.md §4.6 "Read release") -----------------------

// RDUnlock releases item, which must currently be held as a reader.
func (rw *RWMutex) RDUnlock(item *Item) error {
	rw.acquiredReads.accessLock.Lock()

	if item.isLinked() {
		unlinkNode(item)
		o := item.wow.Load()
		rw.commitExpressLocked()
		rw.acquiredReads.accessLock.Unlock()

		worker := item.ownWorker
		item.ownWorker = nil
		err := rw.acquiredReads.finishUnlocked(item, worker, o)
		_ = worker.Disengage()
		// Clear tags set while the item was linked (being_waited from a
		// writer's tail-scan, try_locked from TryRDLock) so the item is
		// clean if the caller reuses it for a later lock call.
		item.extra.Store(0)
		return err
	}

	// Still in the express stack: no writer could have attached to it
	// (writers only scan acquired_reads), so just splice it out.
	rw.removeFromExpressLocked(item)
	rw.commitExpressLocked()
	rw.acquiredReads.accessLock.Unlock()
	item.reset()
	return nil
}

func (rw *RWMutex) removeFromExpressLocked(item *Item) {
	for {
		top := rw.exprHead.Load()
		if top == item {
			if !rw.exprHead.CompareAndSwap(top, item.exprPrev) {
				// Another reader was pushed on top since the load; item is
				// now below the top, so retry and unlink it from there.
				continue
			}
			item.exprPrev = nil
			return
		}
		for it := top; it != nil; it = it.exprPrev {
			if it.exprPrev == item {
				it.exprPrev = item.exprPrev
				item.exprPrev = nil
				return
			}
		}
		return
	}
}

// --- Write acquisition / release (spec.md §4.6) ------------------------

// WRLock acquires the lock exclusively. readersTillWP is the
// waiting-readers-promotion budget for this call: 0 means "immediate"
// (readers arriving while this writer waits take the slow path),
// WPInfinite disables WP entirely for this call (the writer stays out of
// waiting_writes, so arriving readers never queue behind it), and any
// N > 0 adds N units to the shared promotion budget, each of which lets
// one arriving reader take the fast path instead of queueing. Push locks
// are acquired right away in every case.
func (rw *RWMutex) WRLock(worker *Worker, waiter *Waiter, item *Item, readersTillWP int) error {
	rw.acquiredReads.accessLock.Lock()
	rw.commitExpressLocked()
	if rw.readsEmptyLocked() {
		// Keep accessLock held: this goroutine now holds the lock for
		// write. WRUnlock releases it.
		return nil
	}
	rw.acquiredReads.accessLock.Unlock()

	if err := item.Start(worker); err != nil {
		return err
	}
	if readersTillWP == WPInfinite {
		// WP disabled: stay out of waiting_writes so readers never queue
		// behind us, but still wait out every reader found present below.
	} else {
		rw.waitingWrites.Enqueue(item)
		if readersTillWP > 0 {
			rw.wpBudget.Add(int64(readersTillWP))
		}
	}

	width := 1
	base := rw.pushLockBase(waiter)
	locked := rw.lockPushRange(base, width)

	for {
		rw.acquiredReads.accessLock.Lock()
		rw.commitExpressLocked()
		var toWait []*Item
		allClaimed := true
		for it := rw.acquiredReads.Back(); it != nil; it = it.Prev() {
			if rw.isSeparator != nil && rw.isSeparator(it) {
				continue
			}
			if it.setBeingWaited() {
				continue
			}
			allClaimed = false
			toWait = append(toWait, it)
		}

		if len(toWait) == 0 {
			if allClaimed && !rw.readsEmptyLocked() {
				// Every reader present is already claimed by some other
				// writer's tail-scan; widen our push-lock range and
				// retry rather than proceeding on a false "empty" read
				// (spec.md §4.6 "If all readers carry the tag already,
				// release the lock and widen the push-lock range").
				rw.acquiredReads.accessLock.Unlock()
				rw.unlockPushRange(locked)
				if width < len(rw.pushLocks) {
					width *= 2
					if width > len(rw.pushLocks) {
						width = len(rw.pushLocks)
					}
				}
				locked = rw.lockPushRange(base, width)
				runtime.Gosched()
				continue
			}
			break
		}

		for _, it := range toWait {
			tok := Token{&rw.acquiredReads}
			_ = rw.acquiredReads.UnlockAndWait(tok, it, waiter)
			rw.acquiredReads.accessLock.Lock()
		}
		rw.acquiredReads.accessLock.Unlock()
	}

	// acquired_reads is now drained of un-claimed readers; finish ourselves
	// out of waiting_writes, which wakes the slow-path reader waiting on
	// our item, if any. Writers are not ordered among themselves: they
	// serialize only on acquired_reads' access lock, in whatever order the
	// mutex grants it.
	_ = rw.waitingWrites.SafeFinish(item, worker)
	rw.unlockPushRange(locked)
	return nil
}

func (rw *RWMutex) pushLockBase(waiter *Waiter) int {
	n := len(rw.pushLocks)
	if n <= 1 {
		return 0
	}
	return int((uintptr(unsafe.Pointer(waiter)) / unsafe.Alignof(*waiter)) % uintptr(n))
}

func (rw *RWMutex) lockPushRange(base, width int) []int {
	n := len(rw.pushLocks)
	if width > n {
		width = n
	}
	idxs := make([]int, width)
	for i := 0; i < width; i++ {
		idxs[i] = (base + i) % n
	}
	for _, i := range idxs {
		rw.pushLocks[i].Lock()
	}
	return idxs
}

func (rw *RWMutex) unlockPushRange(idxs []int) {
	for _, i := range idxs {
		rw.pushLocks[i].Unlock()
	}
}

// TryWRLock attempts to acquire the lock for write without blocking. It
// never enqueues into waiting_writes.
func (rw *RWMutex) TryWRLock() error {
	if !rw.acquiredReads.accessLock.TryLock() {
		return EBUSY
	}
	// Flush any reader admitted through the lock-free express stack since
	// the last time someone held this lock, or it would be invisible to
	// readsEmptyLocked below.
	rw.commitExpressLocked()
	if !rw.readsEmptyLocked() {
		rw.acquiredReads.accessLock.Unlock()
		return EBUSY
	}
	return nil
}

// WRUnlock releases a write hold acquired via WRLock or TryWRLock.
func (rw *RWMutex) WRUnlock() error {
	rw.acquiredReads.accessLock.Unlock()
	return nil
}
