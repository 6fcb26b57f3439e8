package disruptor

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rishav/oomemsim/internal/pipeline"
	"github.com/rishav/oomemsim/internal/trace"
)

func TestRingBuffer_BasicOperations(t *testing.T) {
	rb := NewRingBuffer(DefaultConfig())

	if rb.GetBufferSize() != 4096 {
		t.Errorf("expected buffer size 4096, got %d", rb.GetBufferSize())
	}

	size := rb.bufferSize
	if size&(size-1) != 0 {
		t.Errorf("buffer size %d is not a power of 2", size)
	}

	expectedMask := size - 1
	if rb.indexMask != expectedMask {
		t.Errorf("expected index mask %d, got %d", expectedMask, rb.indexMask)
	}
}

func TestSequencer_SingleProducer(t *testing.T) {
	rb := NewRingBuffer(Config{BufferSize: 1024})
	seq := NewSequencer(rb)

	for i := uint64(1); i <= 100; i++ {
		s, err := seq.Next()
		if err != nil {
			t.Fatalf("failed to claim sequence %d: %v", i, err)
		}
		if s != i {
			t.Errorf("expected sequence %d, got %d", i, s)
		}
	}
}

func TestSequencer_MultiProducer(t *testing.T) {
	rb := NewRingBuffer(Config{BufferSize: 4096})
	seq := NewSequencer(rb)

	numProducers := 10
	sequencesPerProducer := 100

	var wg sync.WaitGroup
	claimed := make(map[uint64]bool)
	claimedMu := sync.Mutex{}

	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < sequencesPerProducer; i++ {
				s, err := seq.Next()
				if err != nil {
					t.Errorf("failed to claim sequence: %v", err)
					return
				}
				claimedMu.Lock()
				if claimed[s] {
					t.Errorf("duplicate sequence claimed: %d", s)
				}
				claimed[s] = true
				claimedMu.Unlock()
			}
		}()
	}
	wg.Wait()

	expectedTotal := numProducers * sequencesPerProducer
	if len(claimed) != expectedTotal {
		t.Errorf("expected %d unique sequences, got %d", expectedTotal, len(claimed))
	}
}

func TestSequencer_Backpressure(t *testing.T) {
	rb := NewRingBuffer(Config{BufferSize: 16})
	seq := NewSequencer(rb)

	for i := uint64(1); i <= 16; i++ {
		if _, err := seq.Next(); err != nil {
			t.Fatalf("failed to claim sequence %d: %v", i, err)
		}
		// Don't publish - keep slots claimed, so the gating sequence never
		// advances and the buffer stays full.
	}

	if _, err := seq.Next(); err != ErrBufferFull {
		t.Errorf("expected ErrBufferFull, got %v", err)
	}
}

func TestDisruptorIntegration(t *testing.T) {
	rb := NewRingBuffer(Config{BufferSize: 1024})
	seq := NewSequencer(rb)

	var consumed uint64
	numRequests := 100
	responseChs := make([]chan *PipelineResponse, numRequests)

	for i := 0; i < numRequests; i++ {
		s, err := seq.Next()
		if err != nil {
			t.Fatalf("failed to claim sequence: %v", err)
		}

		responseChs[i] = make(chan *PipelineResponse, 1)
		request := &PipelineRequest{
			Type:  RequestTypeIssue,
			Instr: &pipeline.Instruction{PC: uint64(0x100 + i*4), Kind: pipeline.ALU},
		}
		seq.Publish(s, request, responseChs[i])
	}

	nextSeq := uint64(1)
	for nextSeq <= uint64(numRequests) {
		index := nextSeq & rb.indexMask
		slot := &rb.slots[index]

		for {
			available := atomic.LoadUint64(&slot.SequenceNum)
			if available == nextSeq {
				break
			}
			time.Sleep(10 * time.Microsecond)
		}

		if slot.Request == nil {
			t.Errorf("slot %d has nil request", nextSeq)
		} else if slot.Request.Type != RequestTypeIssue {
			t.Errorf("expected RequestTypeIssue, got %d", slot.Request.Type)
		}

		atomic.StoreUint64(&rb.gatingSequence, nextSeq)
		nextSeq++
		consumed++
	}

	if consumed != uint64(numRequests) {
		t.Errorf("expected to consume %d requests, consumed %d", numRequests, consumed)
	}
}

func TestProcessTick_JournalsPopulatedEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tick.log")
	traceLog, err := trace.Open(trace.Config{Path: path})
	if err != nil {
		t.Fatalf("trace.Open: %v", err)
	}

	pipe := pipeline.New(pipeline.DefaultConfig())
	pipe.SetRegister(1, 0x1000)
	pipe.SetRegister(2, 0xBEEF)

	rb := NewRingBuffer(DefaultConfig())
	proc := NewEventProcessor(rb, pipe, traceLog)
	proc.traceBatcher.Start()

	respCh := make(chan *PipelineResponse, 1)
	tickOnce := func() {
		proc.processTick(respCh)
		<-respCh
	}

	if pipe.Issue(pipeline.Instruction{PC: 0x200, Kind: pipeline.Store, SrcRegs: []int{1, 2}}) != pipeline.Accepted {
		t.Fatal("store not accepted")
	}
	tickOnce()
	if pipe.Issue(pipeline.Instruction{PC: 0x204, Kind: pipeline.Load, SrcRegs: []int{1}, DstReg: 3, DstRegValid: true}) != pipeline.Accepted {
		t.Fatal("load not accepted")
	}
	for i := 0; i < 6; i++ {
		tickOnce()
	}

	proc.traceBatcher.Shutdown()

	commits := map[uint64]*trace.CommitEvent{} // keyed by PC
	var forwards []*trace.ForwardEvent
	err = traceLog.Replay(func(_ uint64, event interface{}) error {
		switch e := event.(type) {
		case *trace.CommitEvent:
			commits[e.PC] = e
		case *trace.ForwardEvent:
			forwards = append(forwards, e)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	traceLog.Close()

	st, ok := commits[0x200]
	if !ok || st.Kind != "STORE" {
		t.Fatalf("expected a store commit event for PC 0x200 with its kind, got %+v", st)
	}
	ld, ok := commits[0x204]
	if !ok || ld.Kind != "LOAD" || ld.OpSeqNum != 1 {
		t.Fatalf("expected a load commit event for PC 0x204 (seq 1), got %+v", ld)
	}

	if len(forwards) != 1 {
		t.Fatalf("expected exactly one forwarding event, got %d", len(forwards))
	}
	fwd := forwards[0]
	if fwd.LoadSeqNum != 1 || fwd.Address != 0x1000 || fwd.Data != 0xBEEF {
		t.Fatalf("forwarding event missing domain detail: %+v", fwd)
	}
	if fwd.Cycle == 0 {
		t.Fatalf("forwarding event missing cycle stamp: %+v", fwd)
	}
}

func BenchmarkSequencer_SingleProducer(b *testing.B) {
	rb := NewRingBuffer(Config{BufferSize: 8192})
	seq := NewSequencer(rb)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s, err := seq.Next()
		if err != nil {
			b.Fatalf("failed to claim sequence: %v", err)
		}
		index := s & rb.indexMask
		atomic.StoreUint64(&rb.slots[index].SequenceNum, s)
		if i%100 == 0 {
			atomic.StoreUint64(&rb.gatingSequence, s-rb.bufferSize/2)
		}
	}
}

func BenchmarkSequencer_MultiProducer(b *testing.B) {
	rb := NewRingBuffer(Config{BufferSize: 8192})
	seq := NewSequencer(rb)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			s, err := seq.Next()
			if err != nil {
				continue
			}
			index := s & rb.indexMask
			atomic.StoreUint64(&rb.slots[index].SequenceNum, s)
		}
	})
}
