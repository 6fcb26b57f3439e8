// Package rob implements the Reorder Buffer: the fixed-capacity, in-order
// commit queue that mirrors the LSQ's lifecycle for every in-flight
// instruction, not only memory operations.
package rob

import "errors"

// ErrFull is returned by Allocate when the ROB has no free slot.
var ErrFull = errors.New("rob: buffer is full")

// Entry is a single in-flight instruction tracked by the ROB.
type Entry struct {
	SeqNum uint64
	PC     uint64

	Completed bool
	Committed bool

	// HasLSQSlot/LSQIndex back-link a memory operation to its LSQ slot.
	HasLSQSlot bool
	LSQIndex   int
}

// Config configures a ReorderBuffer.
type Config struct {
	Capacity int
}

// DefaultConfig returns a reasonable default ROB configuration.
func DefaultConfig() Config {
	return Config{Capacity: 32}
}

// ReorderBuffer is a fixed-capacity ring of in-flight instructions,
// committed strictly in sequence-number order.
type ReorderBuffer struct {
	capacity int
	entries  []*Entry
	head     int
	tail     int
	size     int
}

// New creates a ReorderBuffer with the given configuration.
func New(cfg Config) *ReorderBuffer {
	if cfg.Capacity <= 0 {
		cfg = DefaultConfig()
	}
	return &ReorderBuffer{
		capacity: cfg.Capacity,
		entries:  make([]*Entry, cfg.Capacity),
	}
}

// IsFull reports whether the ROB has no free slot.
func (r *ReorderBuffer) IsFull() bool { return r.size >= r.capacity }

// IsEmpty reports whether the ROB holds no entries.
func (r *ReorderBuffer) IsEmpty() bool { return r.size == 0 }

// Size returns the number of occupied slots.
func (r *ReorderBuffer) Size() int { return r.size }

// Allocate appends a new entry at the tail.
func (r *ReorderBuffer) Allocate(e *Entry) error {
	if r.IsFull() {
		return ErrFull
	}
	r.entries[r.tail] = e
	r.tail = (r.tail + 1) % r.capacity
	r.size++
	return nil
}

// Head returns the oldest entry without committing it, or nil if empty.
func (r *ReorderBuffer) Head() *Entry {
	if r.IsEmpty() {
		return nil
	}
	return r.entries[r.head]
}

// CommitHead retires the head entry iff it is completed. Returns nil
// (without mutating state) if the ROB is empty or the head isn't ready.
func (r *ReorderBuffer) CommitHead() *Entry {
	if r.IsEmpty() {
		return nil
	}
	e := r.entries[r.head]
	if e == nil || !e.Completed {
		return nil
	}
	e.Committed = true
	r.entries[r.head] = nil
	r.head = (r.head + 1) % r.capacity
	r.size--
	return e
}

// SquashFrom removes every entry with SeqNum >= seq, the contiguous tail
// segment, and rewinds the tail. Idempotent, like lsq.SquashFrom.
func (r *ReorderBuffer) SquashFrom(seq uint64) {
	idx := r.head
	for i := 0; i < r.size; i++ {
		e := r.entries[idx]
		if e != nil && e.SeqNum >= seq {
			cut := idx
			for cut != r.tail {
				if r.entries[cut] != nil {
					r.entries[cut] = nil
					r.size--
				}
				cut = (cut + 1) % r.capacity
			}
			r.tail = idx
			return
		}
		idx = (idx + 1) % r.capacity
	}
}
