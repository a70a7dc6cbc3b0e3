package mutexgear

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDrainQueueEnqueueWithIndexAndDrain(t *testing.T) {
	dq := NewDrainQueue()
	target := NewQueue()

	tok := dq.Lock()
	idx0 := dq.GetIndex(tok)
	dq.Unlock(tok)
	require.Equal(t, drainIndexMin, idx0)

	a := NewItem()
	idxA := dq.EnqueueWithIndex(a)
	require.Equal(t, idx0, idxA)

	b := NewItem()
	_ = dq.EnqueueWithIndex(b)

	dq.SafeDrain(a, idxA, target)

	require.Nil(t, dq.Front())
	require.Same(t, a, target.Front())
	require.Same(t, b, target.Back())

	tok = dq.Lock()
	idx1 := dq.GetIndex(tok)
	dq.Unlock(tok)
	require.NotEqual(t, idx0, idx1)
}

// TestDrainQueueSafeDrainIgnoresUnlinkedHead covers the defensive branch in
// SafeDrain: headItem matched the index the caller captured, but the item
// was since unlinked some other way, so the drain must be a safe no-op
// rather than splicing garbage into target (spec.md §4.4 safe_drain).
func TestDrainQueueSafeDrainIgnoresUnlinkedHead(t *testing.T) {
	dq := NewDrainQueue()
	target := NewQueue()

	a := NewItem()
	idxA := dq.EnqueueWithIndex(a)

	tok := dq.Lock()
	dq.UnsafeDequeue(tok, a)
	dq.Unlock(tok)

	dq.SafeDrain(a, idxA, target)
	require.Nil(t, target.Front())
}

// TestDrainQueueSafeDrainStaleIndexIgnored covers the other guard: neither
// is headItem still the live head nor does the caller's index match the
// current one, so the call must be ignored entirely (including not
// advancing the drain index again).
func TestDrainQueueSafeDrainStaleIndexIgnored(t *testing.T) {
	dq := NewDrainQueue()
	target := NewQueue()

	a := NewItem()
	idxA := dq.EnqueueWithIndex(a)
	dq.SafeDrain(a, idxA, target)
	require.Same(t, a, target.Front())

	tok := dq.Lock()
	idxAfterFirstDrain := dq.GetIndex(tok)
	dq.Unlock(tok)

	// A second drain attempt using the stale index and a head item that is
	// no longer dq's actual head (the queue is now empty) must be ignored.
	dq.SafeDrain(a, idxA, target)

	tok = dq.Lock()
	idxAfterSecondAttempt := dq.GetIndex(tok)
	dq.Unlock(tok)
	require.Equal(t, idxAfterFirstDrain, idxAfterSecondAttempt)
}
