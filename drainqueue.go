package mutexgear

// drainIndexMin is the smallest valid drain index; zero is reserved so an
// item recorded with index 0 is never mistaken for "up to date" (spec.md
// §4.4, §8 "drain_index is monotonic ... and never takes the reserved
// zero value").
const drainIndexMin uint64 = 1

// DrainQueue is a basic Queue plus a monotonic drain index, letting a
// tail suffix be atomically spliced off into another queue (spec.md §4.4
// "Drainable queue").
type DrainQueue struct {
	Queue
	drainIndex uint64
}

// NewDrainQueue returns an empty DrainQueue.
func NewDrainQueue() *DrainQueue {
	dq := &DrainQueue{}
	dq.root.root = true
	dq.root.next = &dq.root
	dq.root.prev = &dq.root
	dq.drainIndex = drainIndexMin
	return dq
}

// GetIndex returns the current drain index. Caller must hold the access
// lock (via tok).
func (dq *DrainQueue) GetIndex(tok Token) uint64 {
	if tok.q != &dq.Queue {
		panic("mutexgear: Token does not belong to this Queue")
	}
	return dq.drainIndex
}

func (dq *DrainQueue) nextIndex() uint64 {
	idx := dq.drainIndex + 1
	if idx == 0 {
		idx = drainIndexMin
	}
	return idx
}

// EnqueueWithIndex appends item to the tail under the access lock and
// returns the drain index that was current at the moment of linking, so a
// late caller can later tell whether a drain has happened since.
func (dq *DrainQueue) EnqueueWithIndex(item *Item) uint64 {
	dq.accessLock.Lock()
	idx := dq.drainIndex
	dq.linkTail(item)
	dq.accessLock.Unlock()
	return idx
}

// SafeDrain splices the suffix starting at headItem to the tail of target,
// but only if either headItem is currently the actual head of dq
// (observed under dq's access lock) or itemIndex equals dq's current
// drain index (meaning no drain has happened since that index was
// obtained). On a successful drain, dq's index is advanced. On mismatch
// the request is silently ignored (spec.md §4.4 safe_drain).
func (dq *DrainQueue) SafeDrain(headItem *Item, itemIndex uint64, target *Queue) {
	dq.accessLock.Lock()
	defer dq.accessLock.Unlock()

	if dq.root.next != headItem && itemIndex != dq.drainIndex {
		return
	}
	if headItem == &dq.root || !headItem.isLinked() {
		// Nothing to drain: already empty at headItem's position.
		dq.drainIndex = dq.nextIndex()
		return
	}

	tail := dq.root.prev
	// Detach [headItem, tail] from dq.
	headItem.prev.next = &dq.root
	dq.root.prev = headItem.prev

	// Splice [headItem, tail] onto the end of target.
	target.accessLock.Lock()
	headItem.prev = target.root.prev
	tail.next = &target.root
	target.root.prev.next = headItem
	target.root.prev = tail
	target.accessLock.Unlock()

	dq.drainIndex = dq.nextIndex()
}
