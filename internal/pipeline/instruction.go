package pipeline

import "github.com/rishav/oomemsim/internal/ordering"

// Kind identifies the category of instruction the driver can ingest.
type Kind uint8

const (
	Load Kind = iota
	Store
	ALU
	Branch
	Fence
)

func (k Kind) String() string {
	switch k {
	case Load:
		return "LOAD"
	case Store:
		return "STORE"
	case ALU:
		return "ALU"
	case Branch:
		return "BRANCH"
	case Fence:
		return "FENCE"
	default:
		return "UNKNOWN"
	}
}

// Instruction is the external record the driver ingests via Issue. Loads
// compute address = regs[SrcRegs[0]] + Immediate; stores compute address the
// same way and take their data from regs[SrcRegs[1]].
type Instruction struct {
	PC   uint64
	Kind Kind

	DstReg      int
	DstRegValid bool
	SrcRegs     []int
	Immediate   int64

	// FenceKind selects the fence variant when Kind == Fence.
	FenceKind ordering.FenceKind

	// IsAtomic marks a Store as an atomic read-modify-write (C4's
	// AtomicOperation) rather than a plain store. AtomicOp/Expected/
	// ExpectedValid configure CompareAndSwap/FetchAndAdd/Swap semantics.
	IsAtomic      bool
	AtomicOp      ordering.AtomicKind
	Expected      uint64
	ExpectedValid bool

	// IsLoadLink marks a Load as also reserving the address for a future
	// StoreConditional (C4's LL/SC pair).
	IsLoadLink bool
	// IsStoreConditional marks a Store as consuming a reservation rather
	// than writing unconditionally.
	IsStoreConditional bool
}

func (i Instruction) srcReg(n int) int {
	if n < len(i.SrcRegs) {
		return i.SrcRegs[n]
	}
	return 0
}
