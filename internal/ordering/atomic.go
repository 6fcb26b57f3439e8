package ordering

// AtomicKind identifies the flavor of atomic read-modify-write operation.
type AtomicKind uint8

const (
	Swap AtomicKind = iota
	CompareAndSwap
	FetchAndAdd
)

// AtomicOperation is an atomic RMW at a single address. It carries enough
// state for the pipeline driver to treat it as both an acquire and a
// release: no other operation to the same address may complete while it is
// in flight.
type AtomicOperation struct {
	Kind    AtomicKind
	Address uint64
	SeqNum  uint64

	Completed bool
	Success   bool
	OldValue  uint64
	NewValue  uint64
}

// NewAtomicOperation creates an atomic RMW of the given kind at address,
// tagged with seq for ordering against other in-flight operations.
func NewAtomicOperation(kind AtomicKind, address, seq uint64) *AtomicOperation {
	return &AtomicOperation{Kind: kind, Address: address, SeqNum: seq}
}

// Execute performs the operation against memoryValue with operand
// writeValue. expectedValid/expected apply only to CompareAndSwap. It
// returns whether the operation succeeded and the value observed in memory
// before the write (or the unchanged current value on CAS failure).
func (a *AtomicOperation) Execute(memoryValue, writeValue uint64, expectedValid bool, expected uint64) (success bool, oldValue uint64) {
	a.OldValue = memoryValue

	switch a.Kind {
	case Swap:
		a.NewValue = writeValue
		a.Success = true
		a.Completed = true
		return true, memoryValue

	case CompareAndSwap:
		if !expectedValid {
			a.Success = false
			a.Completed = true
			return false, memoryValue
		}
		if memoryValue == expected {
			a.NewValue = writeValue
			a.Success = true
		} else {
			a.Success = false
		}
		a.Completed = true
		return a.Success, memoryValue

	case FetchAndAdd:
		a.NewValue = memoryValue + writeValue
		a.Success = true
		a.Completed = true
		return true, memoryValue

	default:
		a.Completed = true
		return false, memoryValue
	}
}

// BlocksOperation reports whether this in-flight atomic blocks a later
// operation (by sequence number) touching the same address.
func (a *AtomicOperation) BlocksOperation(address, seq uint64) bool {
	if seq <= a.SeqNum {
		return false
	}
	if a.Completed {
		return false
	}
	return address == a.Address
}
