// Package lsq implements the Load/Store Queue: the age-ordered ring of
// in-flight memory operations that backs speculative execution and
// store-to-load forwarding in the pipeline's memory disambiguation
// subsystem.
//
// Reference: Chrysos & Emer-style memory dependence speculation, as
// implemented by a classic 3-stage out-of-order pipeline's load/store unit.
package lsq

import (
	"errors"
	"fmt"
)

// ErrFull is returned by Allocate when the queue has no free slot.
var ErrFull = errors.New("lsq: queue is full")

// Kind identifies the category of a memory operation.
type Kind uint8

const (
	Load Kind = iota
	Store
	Atomic
)

func (k Kind) String() string {
	switch k {
	case Load:
		return "LOAD"
	case Store:
		return "STORE"
	case Atomic:
		return "ATOMIC"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// MemOp is a single in-flight memory operation tracked by the LSQ.
type MemOp struct {
	SeqNum uint64
	PC     uint64
	Kind   Kind
	Size   int

	Address uint64
	Data    uint64

	AddressValid bool
	DataValid    bool
	Speculative  bool
	Completed    bool
	Committed    bool
}

func (e *MemOp) end() uint64 { return e.Address + uint64(e.Size) }

// DependencyResult is the outcome of CheckDependency.
type DependencyResult struct {
	HasConflict bool
	// Resolved is true when the conflicting store's address is already
	// known. An unresolved conflict still blocks forwarding but does not
	// block speculation: the predictor has no address to compare against
	// yet, so a load may read through and risk a later violation instead
	// of stalling on every store whose address simply hasn't arrived.
	Resolved    bool
	Forwardable bool
	ForwardData uint64
	// StorePC/StoreSeq identify the conflicting store, when HasConflict is
	// true, so the commit-time validator and the predictor's violation
	// report can name the offending store without a second scan.
	StorePC  uint64
	StoreSeq uint64
}

// Config configures a LoadStoreQueue.
type Config struct {
	Capacity int
}

// DefaultConfig returns a reasonable default LSQ configuration.
func DefaultConfig() Config {
	return Config{Capacity: 32}
}

// LoadStoreQueue is a fixed-capacity ring of in-flight memory operations,
// ordered oldest (head) to youngest (tail).
type LoadStoreQueue struct {
	capacity int
	entries  []*MemOp
	head     int
	tail     int
	size     int
}

// New creates a LoadStoreQueue with the given configuration.
func New(cfg Config) *LoadStoreQueue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	return &LoadStoreQueue{
		capacity: cfg.Capacity,
		entries:  make([]*MemOp, cfg.Capacity),
	}
}

// Capacity returns the configured capacity.
func (q *LoadStoreQueue) Capacity() int { return q.capacity }

// Size returns the number of occupied slots.
func (q *LoadStoreQueue) Size() int { return q.size }

// IsFull reports whether the queue has no free slot.
func (q *LoadStoreQueue) IsFull() bool { return q.size >= q.capacity }

// IsEmpty reports whether the queue holds no entries.
func (q *LoadStoreQueue) IsEmpty() bool { return q.size == 0 }

// Allocate appends a new entry at the tail. Returns ErrFull if there is no
// room; the caller (the Issue stage) must back-pressure on this.
func (q *LoadStoreQueue) Allocate(seq uint64, pc uint64, kind Kind, size int) (int, error) {
	if q.IsFull() {
		return 0, ErrFull
	}
	idx := q.tail
	q.entries[idx] = &MemOp{SeqNum: seq, PC: pc, Kind: kind, Size: size}
	q.tail = (q.tail + 1) % q.capacity
	q.size++
	return idx, nil
}

// UpdateAddress sets the address and marks it valid. Addresses may arrive
// out of program order.
func (q *LoadStoreQueue) UpdateAddress(idx int, addr uint64) {
	if e := q.at(idx); e != nil {
		e.Address = addr
		e.AddressValid = true
	}
}

// UpdateData sets store-data and marks it valid. No-op for loads.
func (q *LoadStoreQueue) UpdateData(idx int, data uint64) {
	if e := q.at(idx); e != nil && e.Kind != Load {
		e.Data = data
		e.DataValid = true
	}
}

// MarkSpeculative flags the entry as speculatively executed.
func (q *LoadStoreQueue) MarkSpeculative(idx int) {
	if e := q.at(idx); e != nil {
		e.Speculative = true
	}
}

// MarkCompleted flags the entry as having finished execution.
func (q *LoadStoreQueue) MarkCompleted(idx int) {
	if e := q.at(idx); e != nil {
		e.Completed = true
	}
}

// Entry returns the entry at idx, or nil if the slot is unoccupied.
func (q *LoadStoreQueue) Entry(idx int) *MemOp { return q.at(idx) }

func (q *LoadStoreQueue) at(idx int) *MemOp {
	if idx < 0 || idx >= q.capacity {
		return nil
	}
	return q.entries[idx]
}

// addressesOverlap reports whether [addr1, addr1+size1) and
// [addr2, addr2+size2) intersect.
func addressesOverlap(addr1 uint64, size1 int, addr2 uint64, size2 int) bool {
	end1 := addr1 + uint64(size1)
	end2 := addr2 + uint64(size2)
	return !(end1 <= addr2 || end2 <= addr1)
}

// CheckDependency scans every earlier Store/Atomic ahead of loadIdx (from
// head up to, but not including, loadIdx) for an address conflict against
// the load at loadIdx.
//
// An unresolved store (address not yet known) is always a conflict and can
// never forward. A resolved, overlapping store is a conflict; if it also
// fully covers the load's byte range and has valid data, it is a forwarding
// candidate. Scanning proceeds oldest-to-youngest so the newest qualifying
// store wins: a later unresolved conflict supersedes an earlier forwarding
// candidate, and forwardability is evaluated only against the newest
// conflicting store.
func (q *LoadStoreQueue) CheckDependency(loadIdx int) DependencyResult {
	load := q.at(loadIdx)
	if load == nil || !load.AddressValid {
		return DependencyResult{}
	}

	var result DependencyResult
	idx := q.head
	for idx != loadIdx {
		entry := q.entries[idx]
		idx = (idx + 1) % q.capacity
		if entry == nil || (entry.Kind != Store && entry.Kind != Atomic) {
			continue
		}

		if !entry.AddressValid {
			result.HasConflict = true
			result.Resolved = false
			result.Forwardable = false
			result.ForwardData = 0
			result.StorePC = entry.PC
			result.StoreSeq = entry.SeqNum
			continue
		}

		if !addressesOverlap(entry.Address, entry.Size, load.Address, load.Size) {
			continue
		}

		result.HasConflict = true
		result.Resolved = true
		result.StorePC = entry.PC
		result.StoreSeq = entry.SeqNum
		if entry.DataValid && entry.Address == load.Address && entry.Size >= load.Size {
			result.Forwardable = true
			result.ForwardData = entry.Data
		} else {
			result.Forwardable = false
			result.ForwardData = 0
		}
	}

	return result
}

// CommitHead retires the oldest entry, freeing its slot. Returns nil if the
// queue is empty.
func (q *LoadStoreQueue) CommitHead() *MemOp {
	if q.IsEmpty() {
		return nil
	}
	entry := q.entries[q.head]
	if entry != nil {
		entry.Committed = true
	}
	q.entries[q.head] = nil
	q.head = (q.head + 1) % q.capacity
	q.size--
	return entry
}

// SquashFrom removes every entry with SeqNum >= seq. Because sequence
// numbers increase monotonically from head to tail, the squashed region is
// always a contiguous suffix; the tail rewinds to the first squashed slot.
// Squashing an already-squashed or empty range is a no-op (idempotent).
func (q *LoadStoreQueue) SquashFrom(seq uint64) {
	idx := q.head
	for i := 0; i < q.size; i++ {
		entry := q.entries[idx]
		if entry != nil && entry.SeqNum >= seq {
			cut := idx
			for cut != q.tail {
				if q.entries[cut] != nil {
					q.entries[cut] = nil
					q.size--
				}
				cut = (cut + 1) % q.capacity
			}
			q.tail = idx
			return
		}
		idx = (idx + 1) % q.capacity
	}
}

// StoreCount returns the number of Store entries currently queued.
func (q *LoadStoreQueue) StoreCount() int { return q.countKind(Store) }

// LoadCount returns the number of Load entries currently queued.
func (q *LoadStoreQueue) LoadCount() int { return q.countKind(Load) }

func (q *LoadStoreQueue) countKind(k Kind) int {
	count := 0
	idx := q.head
	for i := 0; i < q.size; i++ {
		if e := q.entries[idx]; e != nil && e.Kind == k {
			count++
		}
		idx = (idx + 1) % q.capacity
	}
	return count
}
