// Package mutexgear implements a small family of synchronization
// primitives built around one idea: a worker goroutine can publish
// forward progress to a waiting goroutine without ever blocking itself.
//
// Three layers build on each other:
//
//	Wheel              a two-party rendezvous: Advance only ever
//	                    try-locks, so the worker side never stalls.
//	Queue / DrainQueue  an intrusive completion-item queue built on the
//	  / CancelQueue     wheel's handoff: at most one goroutine ever waits
//	                    on a given item, and the item can be safely torn
//	                    down by whichever side finishes last.
//	RWMutex             a reader/writer lock where readers on the fast
//	  / TryRDMutex       path touch no shared mutex at all, writers wait
//	                    only on the readers actually present when they
//	                    arrived, and a writer may optionally admit a
//	                    bounded number of subsequent readers before it
//	                    takes over (waiting-readers promotion).
//
// None of these types have a ready-to-use zero value except Waiter; the
// rest are constructed with their New... functions.
package mutexgear
