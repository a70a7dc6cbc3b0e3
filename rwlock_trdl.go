package mutexgear

import (
	"sync"
	"sync/atomic"
)

// TryRDMutex extends RWMutex with a non-blocking try-read acquisition
// (spec.md §3 "RWLock (TRDL extension)", §4.6 "Try-read (TRDL extension
// only)"). Try-reads are admitted right after a permanent separator item
// kept at the front of acquired_reads, and are barred from even attempting
// to admit while a writer is passing through: wrlockWaits counts writers
// that have arrived but not yet departed, with its low bit recording
// whether the current wave of arrived writers has already drained any
// try-read that was in flight when the first of them showed up.
type TryRDMutex struct {
	RWMutex

	separator *Item

	// tryReadQueueLock serializes try-read admission against a writer's
	// barrier drain (spec.md §4.6: "acquire and release
	// tryread_queue_lock to drain any try-read already in flight").
	tryReadQueueLock sync.Mutex

	// wrlockWaits packs two things into one word so both update with a
	// single atomic add: bit 0 is 1 once some arrived writer has already
	// performed (or is performing) the barrier drain for the current
	// wave; the remaining bits, shifted right by one, count arrived-but-
	// not-yet-departed writers. It is 0 exactly when no writer is present.
	wrlockWaits atomic.Uint64
}

// NewTryRDMutex returns an initialized TryRDMutex, or an error under the
// same conditions as NewRWMutex.
func NewTryRDMutex(attr Attr) (*TryRDMutex, error) {
	t := &TryRDMutex{}
	if err := initRWMutex(&t.RWMutex, attr); err != nil {
		return nil, err
	}

	t.separator = NewItem()
	sepWorker := NewWorker()
	if err := sepWorker.Engage(); err != nil {
		return nil, err
	}
	if err := t.separator.Start(sepWorker); err != nil {
		return nil, err
	}
	t.separator.ownWorker = sepWorker

	t.acquiredReads.accessLock.Lock()
	t.acquiredReads.linkTail(t.separator)
	t.acquiredReads.accessLock.Unlock()

	t.isSeparator = func(it *Item) bool { return it == t.separator }
	return t, nil
}

// Destroy reports EBUSY under the same conditions as RWMutex.Destroy,
// treating the permanent separator item as transparent rather than as a
// reader that is still outstanding.
func (t *TryRDMutex) Destroy() error {
	if t.exprHead.Load() != nil {
		return EBUSY
	}
	if !t.acquiredReads.accessLock.TryLock() {
		return EBUSY
	}
	onlySeparator := t.acquiredReads.root.next == t.separator && t.separator.next == &t.acquiredReads.root
	t.acquiredReads.accessLock.Unlock()
	if !onlySeparator {
		return EBUSY
	}
	if err := t.waitingWrites.Destroy(); err != nil {
		return err
	}
	if err := t.waitingReads.Destroy(); err != nil {
		return err
	}
	return nil
}

// TryRDLock attempts to admit item as a reader without blocking. It fails
// with EBUSY if any writer has arrived (whether still waiting or currently
// holding the lock), so a writer that has arrived is never overtaken by a
// later try-read (spec.md §4.6 "Try-read"; §8).
func (t *TryRDMutex) TryRDLock(item *Item) error {
	if t.wrlockWaits.Load() != 0 {
		return EBUSY
	}

	t.tryReadQueueLock.Lock()
	defer t.tryReadQueueLock.Unlock()

	if t.wrlockWaits.Load() != 0 {
		return EBUSY
	}

	t.acquiredReads.accessLock.Lock()
	item.extra.Or(tagTryLocked)
	item.ownWorker = NewWorker()
	_ = item.ownWorker.Engage()
	_ = item.Start(item.ownWorker)
	t.acquiredReads.linkAfter(t.separator, item)
	t.acquiredReads.accessLock.Unlock()
	return nil
}

// RDUnlock releases a reader admitted via either RDLock or TryRDLock; the
// embedded RWMutex implementation does not distinguish them.

// WRLock shadows RWMutex.WRLock to additionally run the try-read barrier:
// the first writer to arrive while no other writer is already draining
// forces out any try-read that is concurrently being admitted, then marks
// the wave as drained so later-arriving writers skip the redundant work.
func (t *TryRDMutex) WRLock(worker *Worker, waiter *Waiter, item *Item, readersTillWP int) error {
	prev := t.wrlockWaits.Add(2) - 2
	if prev&1 == 0 {
		t.tryReadQueueLock.Lock()
		t.tryReadQueueLock.Unlock()
		t.wrlockWaits.Or(1)
	}
	return t.RWMutex.WRLock(worker, waiter, item, readersTillWP)
}

// WRUnlock shadows RWMutex.WRUnlock to retire this writer's arrival,
// clearing the drained-wave bit once the last arrived writer has departed
// so the next writer wave performs its own barrier drain again.
func (t *TryRDMutex) WRUnlock() error {
	err := t.RWMutex.WRUnlock()
	if t.wrlockWaits.Add(^uint64(1)) >> 1 == 0 { // atomically subtract 2
		t.wrlockWaits.And(^uint64(1))
	}
	return err
}

// TryWRLock shadows RWMutex.TryWRLock (which already treats the separator
// as transparent via isSeparator) so that a successful try-write counts as
// an arrived writer in wrlockWaits, balancing the decrement in WRUnlock.
// No barrier drain is needed: a try-read still in flight blocks on
// acquired_reads' access lock, which this writer now holds.
func (t *TryRDMutex) TryWRLock() error {
	if err := t.RWMutex.TryWRLock(); err != nil {
		return err
	}
	t.wrlockWaits.Add(2)
	return nil
}
