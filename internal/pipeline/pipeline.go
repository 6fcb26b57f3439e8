// Package pipeline wires the LSQ, predictors, ordering primitives, and MLP
// structures into the three-stage (issue/execute/commit) driver described by
// the memory disambiguation subsystem.
package pipeline

import (
	"github.com/rishav/oomemsim/internal/lsq"
	"github.com/rishav/oomemsim/internal/mlp"
	"github.com/rishav/oomemsim/internal/ordering"
	"github.com/rishav/oomemsim/internal/predictor"
	"github.com/rishav/oomemsim/internal/rob"
	"github.com/rishav/oomemsim/pkg/log"
	"github.com/rs/zerolog"
)

const numRegisters = 32

// IssueResult is the outcome of handing the driver an instruction.
type IssueResult uint8

const (
	Accepted IssueResult = iota
	Stalled
)

// Config configures a Pipeline.
type Config struct {
	ROBCapacity     int
	LSQCapacity     int
	StoreBufferSize int
	MSHR            mlp.MSHRConfig
	Banks           mlp.BankConfig
	PrefetchSize    int
	Predictor       predictor.Predictor
	BankLatency     uint64
}

// DefaultConfig returns the default sizing, backed by the Store-Set
// predictor.
func DefaultConfig() Config {
	return Config{
		ROBCapacity:     32,
		LSQCapacity:     16,
		StoreBufferSize: 8,
		MSHR:            mlp.DefaultMSHRConfig(),
		Banks:           mlp.DefaultBankConfig(),
		PrefetchSize:    8,
		Predictor:       predictor.NewStoreSetPredictor(predictor.DefaultStoreSetConfig()),
		BankLatency:     1,
	}
}

// opState is the driver-private record of an in-flight instruction, keyed by
// sequence number. It carries every field MemOp/ROB-Entry don't already own.
type opState struct {
	instr  Instruction
	seq    uint64
	pc     uint64
	kind   Kind
	robIdx int

	hasLSQSlot bool
	lsqIdx     int

	address      uint64
	addressValid bool
	data         uint64

	speculative bool
	completed   bool
	scFailed    bool

	hasMSHR bool
	mshrIdx int

	fenceKind ordering.FenceKind
}

// Pipeline is the full driver: commit, then execute, then issue, once per
// Tick.
type Pipeline struct {
	cfg Config

	rob         *rob.ReorderBuffer
	lsq         *lsq.LoadStoreQueue
	pred        predictor.Predictor
	storeBuf    *ordering.StoreBuffer
	llsc        *ordering.LoadLinkStoreConditional
	mshr        *mlp.MSHRFile
	banks       *mlp.BankConflictDetector
	prefetch    *mlp.PrefetchQueue
	mlpTracker  *mlp.MLPTracker

	registers [numRegisters]uint64
	memory    map[uint64]uint64

	// lastStoreWriter records the PC that most recently committed a store
	// to each address, so a speculative load's commit-time re-validation
	// can name the offending store even after its LSQ entry is gone.
	lastStoreWriter map[uint64]uint64

	cycle   uint64
	nextSeq uint64
	pc      uint64
	pending []*opState
	events  []Event

	fetchPending *Instruction

	log zerolog.Logger

	committed  uint64
	loads      uint64
	stores     uint64
	violations uint64
	forwards   uint64
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	if cfg.ROBCapacity <= 0 || cfg.LSQCapacity <= 0 {
		def := DefaultConfig()
		if cfg.ROBCapacity <= 0 {
			cfg.ROBCapacity = def.ROBCapacity
		}
		if cfg.LSQCapacity <= 0 {
			cfg.LSQCapacity = def.LSQCapacity
		}
	}
	if cfg.Predictor == nil {
		cfg.Predictor = predictor.NewStoreSetPredictor(predictor.DefaultStoreSetConfig())
	}
	if cfg.BankLatency == 0 {
		cfg.BankLatency = 1
	}
	return &Pipeline{
		cfg:             cfg,
		rob:             rob.New(rob.Config{Capacity: cfg.ROBCapacity}),
		lsq:             lsq.New(lsq.Config{Capacity: cfg.LSQCapacity}),
		pred:            cfg.Predictor,
		storeBuf:        ordering.NewStoreBuffer(cfg.StoreBufferSize),
		llsc:            ordering.NewLoadLinkStoreConditional(),
		mshr:            mlp.NewMSHRFile(cfg.MSHR),
		banks:           mlp.NewBankConflictDetector(cfg.Banks),
		prefetch:        mlp.NewPrefetchQueue(cfg.PrefetchSize),
		mlpTracker:      mlp.NewMLPTracker(),
		memory:          make(map[uint64]uint64),
		lastStoreWriter: make(map[uint64]uint64),
		log:             log.WithComponent("pipeline"),
	}
}

// Issue hands the driver the next instruction to fetch. Only one instruction
// may be pending admission at a time; a caller whose instruction is Stalled
// must retry after the next Tick.
func (p *Pipeline) Issue(instr Instruction) IssueResult {
	if p.fetchPending != nil {
		return Stalled
	}
	cp := instr
	p.fetchPending = &cp
	return Accepted
}

// PC returns the program counter the next fetched instruction is expected to
// come from; after a recovery it has been reset to the violator's PC.
func (p *Pipeline) PC() uint64 { return p.pc }

// Cycle returns the number of ticks processed so far.
func (p *Pipeline) Cycle() uint64 { return p.cycle }

// Memory returns the current value stored at addr in the architectural
// memory model (post-drain), or 0 if never written.
func (p *Pipeline) Memory(addr uint64) uint64 { return p.memory[addr] }

// Register returns the current value of register r.
func (p *Pipeline) Register(r int) uint64 {
	if r < 0 || r >= numRegisters {
		return 0
	}
	return p.registers[r]
}

// SetRegister sets register r, for test and scenario setup.
func (p *Pipeline) SetRegister(r int, v uint64) {
	if r >= 0 && r < numRegisters {
		p.registers[r] = v
	}
}

// Tick advances exactly one cycle: commit, then execute, then issue.
func (p *Pipeline) Tick() {
	p.events = p.events[:0]
	p.cycle++
	p.banks.UpdateCycle(p.cycle)
	p.commitStage()
	p.executeStage()
	p.issueStage()
	p.mlpTracker.RecordCycle(p.mshr.ActiveCount())
}

func (p *Pipeline) findOp(seq uint64) *opState {
	for _, op := range p.pending {
		if op.seq == seq {
			return op
		}
	}
	return nil
}

func (p *Pipeline) removePending(seq uint64) {
	for i, op := range p.pending {
		if op.seq == seq {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return
		}
	}
}
