package pipeline

import (
	"github.com/rishav/oomemsim/internal/lsq"
	"github.com/rishav/oomemsim/internal/ordering"
	"github.com/rishav/oomemsim/internal/rob"
)

// issueStage admits the pending fetched instruction into the ROB and, for
// memory ops, the LSQ. Back-pressure leaves fetchPending set for a retry on
// the next Tick.
func (p *Pipeline) issueStage() {
	if p.fetchPending == nil {
		return
	}
	instr := *p.fetchPending

	if p.rob.IsFull() {
		return
	}
	isMemOp := instr.Kind == Load || instr.Kind == Store
	if isMemOp && p.lsq.IsFull() {
		return
	}

	seq := p.nextSeq
	op := &opState{instr: instr, seq: seq, pc: instr.PC, kind: instr.Kind, lsqIdx: -1}

	if isMemOp {
		kind := lsq.Load
		if instr.Kind == Store {
			kind = lsq.Store
			if instr.IsAtomic {
				kind = lsq.Atomic
			}
		}
		size := 4
		idx, err := p.lsq.Allocate(seq, instr.PC, kind, size)
		if err != nil {
			return
		}
		op.hasLSQSlot = true
		op.lsqIdx = idx
	}

	if instr.Kind == Fence {
		op.fenceKind = instr.FenceKind
	}

	if err := p.rob.Allocate(&rob.Entry{SeqNum: seq, PC: instr.PC, HasLSQSlot: op.hasLSQSlot, LSQIndex: op.lsqIdx}); err != nil {
		if op.hasLSQSlot {
			p.lsq.SquashFrom(seq)
		}
		return
	}

	if instr.Kind == Store {
		p.pred.RegisterStore(instr.PC, seq)
	}

	p.nextSeq++
	p.pending = append(p.pending, op)
	p.fetchPending = nil

	p.log.Debug().Uint64("cycle", p.cycle).Uint64("seq", seq).Str("kind", instr.Kind.String()).Msg("issued")
}

// executeStage advances every issued-but-incomplete op, in ascending
// sequence order, so dependency checks stay monotone across a cycle.
func (p *Pipeline) executeStage() {
	for _, op := range p.pending {
		if op.completed {
			continue
		}
		switch op.kind {
		case ALU:
			p.executeALU(op)
		case Branch:
			op.completed = true
		case Fence:
			p.executeFence(op)
		case Load:
			if !p.fenceBlocks(op, false) {
				p.executeLoad(op)
			}
		case Store:
			if !p.fenceBlocks(op, true) {
				p.executeStore(op)
			}
		}
	}
}

// executeALU isolates the ALU/branch simplification so a future
// functional-unit stage can replace it without touching memory
// disambiguation.
func (p *Pipeline) executeALU(op *opState) {
	var result int64
	for _, r := range op.instr.SrcRegs {
		result += int64(p.Register(r))
	}
	result += op.instr.Immediate
	if op.instr.DstRegValid {
		p.SetRegister(op.instr.DstReg, uint64(result))
	}
	op.completed = true
}

func (p *Pipeline) fenceBlocks(op *opState, isStore bool) bool {
	for _, f := range p.pending {
		if f.kind != Fence || f.seq >= op.seq || f.completed {
			continue
		}
		mf := ordering.NewMemoryFence(f.fenceKind, f.seq)
		if isStore && mf.BlocksStore(op.seq) {
			return true
		}
		if !isStore && mf.BlocksLoad(op.seq) {
			return true
		}
	}
	return false
}

// executeFence completes once every older (lower-seq) load/store this fence
// cares about has drained from pending (committed).
func (p *Pipeline) executeFence(op *opState) {
	mf := ordering.NewMemoryFence(op.fenceKind, op.seq)
	olderLoadsDone, olderStoresDone := true, true
	for _, other := range p.pending {
		if other.seq >= op.seq {
			continue
		}
		switch other.kind {
		case Load:
			olderLoadsDone = false
		case Store:
			olderStoresDone = false
		}
	}
	if mf.CanComplete(olderLoadsDone, olderStoresDone) {
		op.completed = true
	}
}

func (p *Pipeline) executeLoad(op *opState) {
	base := p.Register(op.instr.srcReg(0))
	addr := uint64(int64(base) + op.instr.Immediate)
	op.address = addr
	op.addressValid = true
	p.lsq.UpdateAddress(op.lsqIdx, addr)

	dep := p.lsq.CheckDependency(op.lsqIdx)
	if dep.Forwardable {
		op.data = dep.ForwardData
		p.writeback(op, dep.ForwardData)
		p.lsq.MarkCompleted(op.lsqIdx)
		op.completed = true
		p.forwards++
		p.loads++
		p.recordEvent(Event{Kind: EventForward, SeqNum: op.seq, PC: op.pc, OpKind: op.kind, StoreSeqNum: dep.StoreSeq, Address: addr, Data: dep.ForwardData})
		if op.instr.IsLoadLink {
			p.llsc.LoadLink(addr, op.seq)
		}
		return
	}

	maySpeculate, _, _ := p.pred.PredictLoad(op.instr.PC)
	// A resolved conflict (the store's address is known and overlaps) must
	// stall: its data either forwards above or genuinely blocks. An
	// unresolved conflict has no address to compare yet, so speculation is
	// allowed to proceed through it - that is exactly the risk commitStage
	// re-validates before this load is allowed to retire.
	if !maySpeculate || (dep.HasConflict && dep.Resolved) {
		return
	}

	if data, storeSeq, ok := p.storeBuf.ForwardToLoad(addr, 4); ok {
		op.data = data
		p.writeback(op, data)
		p.lsq.MarkCompleted(op.lsqIdx)
		op.completed = true
		p.forwards++
		p.loads++
		p.recordEvent(Event{Kind: EventForward, SeqNum: op.seq, PC: op.pc, OpKind: op.kind, StoreSeqNum: storeSeq, Address: addr, Data: data})
		if op.instr.IsLoadLink {
			p.llsc.LoadLink(addr, op.seq)
		}
		return
	}

	if p.prefetch.CheckHit(addr) {
		data := p.memory[addr]
		p.finishSpeculativeLoad(op, data)
		return
	}

	if !p.banks.CanAccess(addr, p.cycle) {
		return
	}
	idx, ok := p.mshr.Allocate(addr, op.seq, false, false, p.cycle)
	if !ok {
		return
	}
	p.banks.ReserveBank(addr, p.cycle, p.cfg.BankLatency)
	p.mshr.Complete(idx, p.cycle)
	op.hasMSHR = true
	op.mshrIdx = idx

	if !p.prefetch.IsFull() {
		p.prefetch.Enqueue(addr+p.cfg.MSHR.LineSize, 0.5, p.cycle)
	}

	data := p.memory[addr]
	p.finishSpeculativeLoad(op, data)
}

func (p *Pipeline) finishSpeculativeLoad(op *opState, data uint64) {
	op.data = data
	p.writeback(op, data)
	op.speculative = true
	p.lsq.MarkSpeculative(op.lsqIdx)
	p.lsq.MarkCompleted(op.lsqIdx)
	op.completed = true
	p.loads++

	if op.instr.IsLoadLink {
		p.llsc.LoadLink(op.address, op.seq)
	}
}

func (p *Pipeline) writeback(op *opState, data uint64) {
	if op.instr.DstRegValid {
		p.SetRegister(op.instr.DstReg, data)
	}
}

func (p *Pipeline) executeStore(op *opState) {
	base := p.Register(op.instr.srcReg(0))
	addr := uint64(int64(base) + op.instr.Immediate)
	data := p.Register(op.instr.srcReg(1))
	op.address = addr
	op.addressValid = true

	if op.instr.IsAtomic {
		// The freshest architectural value may still be staged in the store
		// buffer, not yet drained to memory.
		mem := p.memory[addr]
		if staged, _, ok := p.storeBuf.ForwardToLoad(addr, 4); ok {
			mem = staged
		}
		atom := ordering.NewAtomicOperation(op.instr.AtomicOp, addr, op.seq)
		_, _ = atom.Execute(mem, data, op.instr.ExpectedValid, op.instr.Expected)
		op.data = atom.NewValue
		if !atom.Success {
			op.data = mem
		}
		if op.instr.DstRegValid {
			p.SetRegister(op.instr.DstReg, atom.OldValue)
		}
		p.llsc.InvalidateReservation(addr)
	} else if op.instr.IsStoreConditional {
		// The reservation belongs to the load-link's sequence number, not
		// this store's.
		owner, live := p.llsc.Reservation(addr)
		if !live || !p.llsc.StoreConditional(addr, owner) {
			op.scFailed = true
			if op.instr.DstRegValid {
				p.SetRegister(op.instr.DstReg, 0)
			}
			op.completed = true
			// Data stays invalid: a failed SC writes nothing, so it must
			// never become a forwarding source for younger loads.
			p.lsq.UpdateAddress(op.lsqIdx, addr)
			p.lsq.MarkCompleted(op.lsqIdx)
			p.stores++
			return
		}
		if op.instr.DstRegValid {
			p.SetRegister(op.instr.DstReg, 1)
		}
		op.data = data
	} else {
		op.data = data
	}

	p.lsq.UpdateAddress(op.lsqIdx, addr)
	p.lsq.UpdateData(op.lsqIdx, op.data)
	p.lsq.MarkCompleted(op.lsqIdx)
	op.completed = true
	p.stores++
}

// commitStage retires the ROB head if it is completed. Speculative loads are
// re-validated; stores write to the store buffer here, reaching memory only
// when the buffer drains.
//
// Re-validation cannot reuse lsq.CheckDependency here: commit is strictly
// in-order, so any store older than this load has already committed (and
// freed its LSQ slot) by the time the load itself reaches the head. The
// authoritative value to compare against is therefore whatever the store
// buffer or memory holds now - lastStoreWriter remembers which PC last wrote
// each address so a genuine violation can still be attributed to its store.
func (p *Pipeline) commitStage() {
	// One store-buffer entry drains to memory per cycle, before any retire
	// this cycle, so a store committed on cycle N stays forwardable from the
	// buffer until cycle N+1.
	if addr, data, _, _, ok := p.storeBuf.DrainOldest(); ok {
		p.memory[addr] = data
	}

	head := p.rob.Head()
	if head == nil {
		return
	}
	op := p.findOp(head.SeqNum)
	if op == nil || !op.completed {
		return
	}
	head.Completed = true

	if op.kind == Load && op.speculative {
		trueData, _, found := p.storeBuf.ForwardToLoad(op.address, 4)
		if !found {
			trueData = p.memory[op.address]
		}
		if trueData != op.data {
			p.violations++
			storePC := p.lastStoreWriter[op.address]
			p.recordEvent(Event{Kind: EventViolation, SeqNum: op.seq, PC: op.pc, OpKind: op.kind, Address: op.address, StorePC: storePC, Expected: trueData, Actual: op.data})
			p.recover(op, storePC)
			return
		}
		p.pred.ReportCorrectSpeculation(op.pc)
	}

	if op.kind == Store {
		p.pred.ClearStore(op.pc)
		if !op.scFailed {
			p.storeBuf.Add(op.address, op.data, 4, op.seq)
			p.lastStoreWriter[op.address] = op.pc
		}
	}

	p.rob.CommitHead()
	if op.hasLSQSlot {
		p.lsq.CommitHead()
	}
	p.removePending(op.seq)
	if op.hasMSHR {
		p.mshr.Free(op.mshrIdx)
	}
	p.committed++
	p.recordEvent(Event{Kind: EventCommit, SeqNum: op.seq, PC: op.pc, OpKind: op.kind})

	p.log.Debug().Uint64("cycle", p.cycle).Uint64("seq", op.seq).Msg("committed")
}

func (p *Pipeline) recover(violator *opState, storePC uint64) {
	p.pred.ReportViolation(violator.pc, storePC)
	p.rob.SquashFrom(violator.seq)
	p.lsq.SquashFrom(violator.seq)

	kept := p.pending[:0]
	for _, op := range p.pending {
		if op.seq < violator.seq {
			kept = append(kept, op)
		} else if op.hasMSHR {
			p.mshr.Free(op.mshrIdx)
		}
	}
	p.pending = kept

	p.pc = violator.pc
	p.fetchPending = nil
	p.recordEvent(Event{Kind: EventRecovery, SeqNum: violator.seq, PC: violator.pc, OpKind: violator.kind, RefetchPC: violator.pc})

	p.log.Warn().Uint64("cycle", p.cycle).Uint64("violator_seq", violator.seq).Uint64("pc", violator.pc).Msg("speculation violation, recovering")
}
