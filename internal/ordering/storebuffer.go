package ordering

// storeBufferEntry is a single post-commit, pre-memory store awaiting
// drain.
type storeBufferEntry struct {
	Address uint64
	Data    uint64
	Size    int
	SeqNum  uint64
	Drained bool
}

// StoreBuffer holds committed stores before they drain to memory, staging
// them so later loads can still forward from a store that hasn't reached
// memory yet.
type StoreBuffer struct {
	capacity int
	entries  []*storeBufferEntry
}

// NewStoreBuffer creates a StoreBuffer with the given capacity.
func NewStoreBuffer(capacity int) *StoreBuffer {
	if capacity <= 0 {
		capacity = 8
	}
	return &StoreBuffer{capacity: capacity}
}

// IsFull reports whether the buffer has reached capacity.
func (b *StoreBuffer) IsFull() bool { return len(b.entries) >= b.capacity }

// Add appends a committed store to the buffer. Entries are ordered by
// insertion, which is commit order.
func (b *StoreBuffer) Add(address, data uint64, size int, seq uint64) {
	b.entries = append(b.entries, &storeBufferEntry{Address: address, Data: data, Size: size, SeqNum: seq})
}

// ForwardToLoad scans newest-first for an entry with the exact address
// whose size covers the load, returning its data and sequence number if
// found.
func (b *StoreBuffer) ForwardToLoad(address uint64, size int) (uint64, uint64, bool) {
	for i := len(b.entries) - 1; i >= 0; i-- {
		e := b.entries[i]
		if e.Address == address && e.Size >= size {
			return e.Data, e.SeqNum, true
		}
	}
	return 0, 0, false
}

// DrainOldest pops and returns the first non-drained entry, or false if
// the buffer is empty.
func (b *StoreBuffer) DrainOldest() (address, data uint64, size int, seq uint64, ok bool) {
	for i, e := range b.entries {
		if e.Drained {
			continue
		}
		e.Drained = true
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
		return e.Address, e.Data, e.Size, e.SeqNum, true
	}
	return 0, 0, 0, 0, false
}

// HasPendingStores reports whether any undrained entry remains. If
// beforeSeqValid is true, only entries older than beforeSeq count.
func (b *StoreBuffer) HasPendingStores(beforeSeqValid bool, beforeSeq uint64) bool {
	for _, e := range b.entries {
		if e.Drained {
			continue
		}
		if !beforeSeqValid || e.SeqNum < beforeSeq {
			return true
		}
	}
	return false
}

// Len returns the number of entries currently buffered (drained or not).
func (b *StoreBuffer) Len() int { return len(b.entries) }
