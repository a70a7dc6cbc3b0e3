package mutexgear

import "sync"

// wheelSlots is the number of rotating mutex slots a Wheel has. Three is
// the minimum that lets a worker always advance one step and a waiter
// always grip the slot immediately behind it without either side ever
// holding two slots at once (spec.md §4.1).
const wheelSlots = 3

// Wheel is a three-slot rotating mutex handoff used to publish forward
// progress from a single worker goroutine to a waiter goroutine without
// the worker ever blocking; at most one waiter grips a given Wheel at a
// time. It is the one technique
// this library is built around: Advance only ever try-acquires, so a
// worker that calls it never stalls behind a waiter.
//
// A Wheel's zero value is not usable; construct one with a Worker via
// NewWorker.
type Wheel struct {
	slots [wheelSlots]sync.Mutex

	// held is the slot index the worker currently occupies, or -1 if
	// disengaged. Owned exclusively by the worker goroutine.
	held int

	// pushIdx is the next slot a waiter will attempt to grip from.
	// Owned exclusively by whichever waiter goroutine is currently
	// using this wheel; serialized externally (a wheel is gripped by
	// at most one waiter at a time in this library's usage).
	pushIdx int
}

func (w *Wheel) init() {
	w.held = -1
	w.pushIdx = 0
}

// Engage takes ownership of slot 0. It fails fast with EINVAL if already
// engaged; the caller is responsible for ensuring the slot is actually
// free (spec.md §4.1: "engage fails-fast if already engaged").
func (w *Wheel) Engage() error {
	if w.held != -1 {
		return EINVAL
	}
	if !w.slots[0].TryLock() {
		// Contract violation: nothing else should ever hold slot 0 of
		// a wheel the worker hasn't engaged yet.
		panic("mutexgear: wheel slot 0 unexpectedly held at Engage")
	}
	w.held = 0
	return nil
}

// Advance publishes progress by try-acquiring the next slot. On success it
// releases the slot it held. On EBUSY — meaning a waiter already holds the
// next slot and has therefore already observed the signal — Advance
// returns success without moving, because progress is already visible.
// Advance never blocks.
func (w *Wheel) Advance() error {
	if w.held == -1 {
		return EINVAL
	}
	next := (w.held + 1) % wheelSlots
	if w.slots[next].TryLock() {
		w.slots[w.held].Unlock()
		w.held = next
	}
	return nil
}

// Disengage releases the currently held slot. Called once when a worker
// retires, not after each item.
func (w *Wheel) Disengage() error {
	if w.held == -1 {
		return EINVAL
	}
	w.slots[w.held].Unlock()
	w.held = -1
	return nil
}

// GripOn acquires some slot the worker does not currently hold, scanning
// backward from the remembered push index, and returns the slot acquired.
// With three slots and at most one held by the worker, this always
// terminates without needing to touch the worker's side of the wheel.
func (w *Wheel) GripOn() int {
	idx := w.pushIdx
	for i := 0; i < wheelSlots; i++ {
		if w.slots[idx].TryLock() {
			w.pushIdx = idx
			return idx
		}
		idx = (idx - 1 + wheelSlots) % wheelSlots
	}
	panic("mutexgear: wheel has no free slot for GripOn")
}

// Turn blocks acquiring the next slot and releases the current one. This
// is the step that pulls the waiter to the slot the worker is rotating
// toward; it is the only wheel operation that may block the waiter.
func (w *Wheel) Turn(cur int) int {
	next := (cur + 1) % wheelSlots
	w.slots[next].Lock()
	w.slots[cur].Unlock()
	w.pushIdx = next
	return next
}

// Release releases the currently gripped slot and records the next index
// as the next push start.
func (w *Wheel) Release(cur int) {
	next := (cur + 1) % wheelSlots
	w.slots[cur].Unlock()
	w.pushIdx = next
}

// PushOn is the cheap one-shot "has the worker passed this point?" check:
// it blocks on the current push index and releases immediately.
func (w *Wheel) PushOn() {
	idx := w.pushIdx
	w.slots[idx].Lock()
	w.slots[idx].Unlock()
}

// Worker is the role object owning a Wheel: the progress publisher side
// of the handoff. Exactly one goroutine should drive a given Worker's
// Engage/Advance/Disengage calls over its lifetime.
type Worker struct {
	wheel Wheel
}

// NewWorker returns a disengaged Worker.
func NewWorker() *Worker {
	w := &Worker{}
	w.wheel.init()
	return w
}

// Engage, Advance and Disengage forward to the worker's wheel; see Wheel
// for their contracts.
func (w *Worker) Engage() error   { return w.wheel.Engage() }
func (w *Worker) Advance() error  { return w.wheel.Advance() }
func (w *Worker) Disengage() error { return w.wheel.Disengage() }

// Waiter is the role object owning a detach mutex: the handshake listener
// side of the completion protocol (spec.md §4.2). A Waiter's zero value
// is ready to use.
type Waiter struct {
	waitDetachLock sync.Mutex
}

// NewWaiter returns a ready-to-use Waiter.
func NewWaiter() *Waiter {
	return &Waiter{}
}
