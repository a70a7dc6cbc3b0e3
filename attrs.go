package mutexgear

// Pshared selects whether an RWMutex is usable only within the creating
// process or shared across process boundaries. Go goroutines never share
// address spaces across processes the way the original C library's
// shared-memory-mapped completion queues do, so PsharedShared is accepted
// for interface fidelity but not implementable; see NewRWMutex.
type Pshared int

const (
	PsharedPrivate Pshared = iota
	PsharedShared
)

// PriorityProtocol selects the priority-inheritance behavior of the
// mutexes backing an RWMutex. Go's scheduler has no priority-inheritance
// or priority-ceiling concept, so anything other than
// PriorityProtocolNone is accepted for interface fidelity but rejected by
// NewRWMutex with ENOSYS.
type PriorityProtocol int

const (
	PriorityProtocolNone PriorityProtocol = iota
	PriorityProtocolInherit
	PriorityProtocolProtect
)

// WPInfinite disables waiting-readers promotion entirely: writers always
// wait behind currently-pending readers but never force readers to queue
// behind them (spec.md §4.6 "Waiting-readers promotion").
const WPInfinite int = -1

// Attr bundles the tunables spec.md §6 lists under "Attributes": the
// write-channel count, and the (inert, in this Go realization) pshared
// and priority-protocol/ceiling values.
type Attr struct {
	// Channels is the number of reader-push-lock channels, K ∈ {1,2,4}.
	Channels int

	Pshared          Pshared
	PriorityProtocol PriorityProtocol
	PriorityCeiling  int
}

// DefaultAttr returns the Attr used when none is supplied: a single
// push-lock channel, process-private, no priority protocol.
func DefaultAttr() Attr {
	return Attr{Channels: 1, Pshared: PsharedPrivate, PriorityProtocol: PriorityProtocolNone}
}

// validate checks an Attr against the values this implementation can
// actually honor.
func (a Attr) validate() error {
	switch a.Channels {
	case 1, 2, 4:
	default:
		return EINVAL
	}
	if a.Pshared != PsharedPrivate {
		return ENOSYS
	}
	if a.PriorityProtocol != PriorityProtocolNone {
		return ENOSYS
	}
	return nil
}
