// Package ordering implements the memory ordering primitives that
// supplement the LSQ and predictor: fences, atomic read-modify-write
// operations, the post-commit store buffer, and load-link/store-conditional
// reservations.
package ordering

// FenceKind identifies the class of memory fence.
type FenceKind uint8

const (
	LoadFence FenceKind = iota
	StoreFence
	FullFence
)

// MemoryFence orders operations around a sequence point: it blocks younger
// loads and/or stores (depending on kind) until the fence itself is free to
// complete.
type MemoryFence struct {
	Kind      FenceKind
	SeqNum    uint64
	Completed bool
}

// NewMemoryFence creates a fence of the given kind at the given sequence
// number.
func NewMemoryFence(kind FenceKind, seq uint64) *MemoryFence {
	return &MemoryFence{Kind: kind, SeqNum: seq}
}

// CanComplete reports whether the fence may complete, given whether all
// older loads and older stores (respectively) have drained.
func (f *MemoryFence) CanComplete(olderLoadsDone, olderStoresDone bool) bool {
	switch f.Kind {
	case LoadFence:
		return olderLoadsDone
	case StoreFence:
		return olderStoresDone
	case FullFence:
		return olderLoadsDone && olderStoresDone
	default:
		return false
	}
}

// BlocksLoad reports whether this fence blocks a younger load (by sequence
// number) from executing ahead of it.
func (f *MemoryFence) BlocksLoad(loadSeq uint64) bool {
	if loadSeq <= f.SeqNum {
		return false
	}
	return f.Kind == LoadFence || f.Kind == FullFence
}

// BlocksStore reports whether this fence blocks a younger store (by
// sequence number) from executing ahead of it.
func (f *MemoryFence) BlocksStore(storeSeq uint64) bool {
	if storeSeq <= f.SeqNum {
		return false
	}
	return f.Kind == StoreFence || f.Kind == FullFence
}
