package disruptor

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/rishav/oomemsim/internal/pipeline"
	"github.com/rishav/oomemsim/internal/trace"
	"github.com/rishav/oomemsim/pkg/log"
)

// EventProcessor drains the ring buffer in a single goroutine and drives the
// pipeline. Single-threaded and sequential: it never uses locks on the
// pipeline, relying on being the ring buffer's one consumer for correctness.
type EventProcessor struct {
	rb           *RingBuffer
	pipe         *pipeline.Pipeline
	traceBatcher *TraceBatcher
	running      atomic.Bool
	shutdownCh   chan struct{}
	shutdownDone chan struct{}
}

// NewEventProcessor creates a new event processor bound to pipe.
func NewEventProcessor(rb *RingBuffer, pipe *pipeline.Pipeline, traceLog *trace.Log) *EventProcessor {
	return &EventProcessor{
		rb:           rb,
		pipe:         pipe,
		traceBatcher: NewTraceBatcher(traceLog, 256, 10),
		shutdownCh:   make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
}

// Start begins processing requests from the ring buffer.
func (p *EventProcessor) Start() {
	p.running.Store(true)
	go p.processLoop()
	go p.traceBatcher.Start()
}

// processLoop is the main single-goroutine processing loop. It maintains
// determinism by handling requests strictly in the order producers claimed
// their sequence numbers, never using locks on the pipeline.
func (p *EventProcessor) processLoop() {
	defer close(p.shutdownDone)

	nextSequence := uint64(1)

	for p.running.Load() {
		index := nextSequence & p.rb.indexMask
		slot := &p.rb.slots[index]

		for {
			available := atomic.LoadUint64(&slot.SequenceNum)
			if available == nextSequence {
				break
			}
			select {
			case <-p.shutdownCh:
				return
			default:
				runtime.Gosched()
			}
		}

		p.processRequest(slot)

		atomic.StoreUint64(&p.rb.gatingSequence, nextSequence)
		nextSequence++
	}
}

func (p *EventProcessor) processRequest(slot *RingBufferSlot) {
	req := slot.Request
	responseCh := slot.ResponseCh

	defer func() {
		if r := recover(); r != nil {
			log.Logger.Error().Interface("panic", r).Msg("event processor panic")
			select {
			case responseCh <- &PipelineResponse{Error: fmt.Errorf("internal error: %v", r)}:
			default:
			}
		}
	}()

	switch req.Type {
	case RequestTypeIssue:
		p.processIssue(req, responseCh)
	case RequestTypeTick:
		p.processTick(responseCh)
	case RequestTypeStats:
		p.processStats(responseCh)
	default:
		select {
		case responseCh <- &PipelineResponse{Error: fmt.Errorf("unknown request type: %d", req.Type)}:
		default:
		}
	}
}

func (p *EventProcessor) processIssue(req *PipelineRequest, responseCh chan *PipelineResponse) {
	instr, ok := req.Instr.(*pipeline.Instruction)
	if !ok || instr == nil {
		select {
		case responseCh <- &PipelineResponse{Error: fmt.Errorf("malformed issue request")}:
		default:
		}
		return
	}

	result := p.pipe.Issue(*instr)
	accepted := result == pipeline.Accepted
	if accepted {
		p.traceBatcher.QueueEvent(&trace.IssueEvent{
			Event: trace.Event{Cycle: p.pipe.Cycle(), Type: trace.EventTypeIssue},
			PC:    instr.PC,
			Kind:  instr.Kind.String(),
		})
	}

	select {
	case responseCh <- &PipelineResponse{Accepted: accepted}:
	default:
		log.Logger.Warn().Msg("failed to send issue response, handler gone")
	}
}

func (p *EventProcessor) processTick(responseCh chan *PipelineResponse) {
	p.pipe.Tick()
	for _, ev := range p.pipe.Events() {
		p.traceBatcher.QueueEvent(traceEvent(ev))
	}

	select {
	case responseCh <- &PipelineResponse{Accepted: true, Stats: p.pipe.Stats()}:
	default:
		log.Logger.Warn().Msg("failed to send tick response, handler gone")
	}
}

// traceEvent maps a driver event to its durable trace record, carrying the
// full domain detail so a replay can reconstruct what happened, not just
// that something did.
func traceEvent(ev pipeline.Event) interface{} {
	switch ev.Kind {
	case pipeline.EventForward:
		return &trace.ForwardEvent{
			Event:       trace.Event{Cycle: ev.Cycle, Type: trace.EventTypeForward},
			LoadSeqNum:  ev.SeqNum,
			StoreSeqNum: ev.StoreSeqNum,
			Address:     ev.Address,
			Data:        ev.Data,
		}
	case pipeline.EventViolation:
		return &trace.ViolationEvent{
			Event:      trace.Event{Cycle: ev.Cycle, Type: trace.EventTypeViolation},
			LoadSeqNum: ev.SeqNum,
			LoadPC:     ev.PC,
			StorePC:    ev.StorePC,
			Expected:   ev.Expected,
			Actual:     ev.Actual,
		}
	case pipeline.EventRecovery:
		return &trace.RecoveryEvent{
			Event:          trace.Event{Cycle: ev.Cycle, Type: trace.EventTypeRecovery},
			ViolatorSeqNum: ev.SeqNum,
			RefetchPC:      ev.RefetchPC,
		}
	default:
		return &trace.CommitEvent{
			Event:    trace.Event{Cycle: ev.Cycle, Type: trace.EventTypeCommit},
			OpSeqNum: ev.SeqNum,
			PC:       ev.PC,
			Kind:     ev.OpKind.String(),
		}
	}
}

func (p *EventProcessor) processStats(responseCh chan *PipelineResponse) {
	select {
	case responseCh <- &PipelineResponse{Accepted: true, Stats: p.pipe.Stats()}:
	default:
		log.Logger.Warn().Msg("failed to send stats response, handler gone")
	}
}

// Shutdown stops accepting new requests, drains the processing loop, and
// flushes the trace batcher.
func (p *EventProcessor) Shutdown() {
	p.running.Store(false)
	close(p.shutdownCh)
	<-p.shutdownDone
	p.traceBatcher.Shutdown()
}
