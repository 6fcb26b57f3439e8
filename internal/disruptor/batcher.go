package disruptor

import (
	"time"

	"github.com/rishav/oomemsim/internal/trace"
	"github.com/rishav/oomemsim/pkg/log"
)

// TraceBatcher moves trace writes off the processor's goroutine: an async
// goroutine receives events from the processor and collects them until
// reaching batchSize or flushInterval. A flush appends the collected events
// one by one, so each event is still written (and, in sync mode, fsynced)
// on its own; batching does not merge writes.
type TraceBatcher struct {
	traceLog      *trace.Log
	queue         chan interface{}
	batchSize     int
	flushInterval time.Duration
	shutdownCh    chan struct{}
	shutdownDone  chan struct{}
}

// NewTraceBatcher creates a new trace batcher writing to traceLog.
func NewTraceBatcher(traceLog *trace.Log, batchSize int, flushIntervalMs int) *TraceBatcher {
	if batchSize <= 0 {
		batchSize = 256
	}
	if flushIntervalMs <= 0 {
		flushIntervalMs = 10
	}

	return &TraceBatcher{
		traceLog:      traceLog,
		queue:         make(chan interface{}, batchSize*2),
		batchSize:     batchSize,
		flushInterval: time.Duration(flushIntervalMs) * time.Millisecond,
		shutdownCh:    make(chan struct{}),
		shutdownDone:  make(chan struct{}),
	}
}

// Start begins the batching loop.
func (b *TraceBatcher) Start() {
	go b.batchLoop()
}

func (b *TraceBatcher) batchLoop() {
	defer close(b.shutdownDone)

	batch := make([]interface{}, 0, b.batchSize)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-b.queue:
			batch = append(batch, event)
			if len(batch) >= b.batchSize {
				b.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = batch[:0]
			}

		case <-b.shutdownCh:
			if len(batch) > 0 {
				b.flush(batch)
			}
			for {
				select {
				case event := <-b.queue:
					b.traceLog.Append(event)
				default:
					return
				}
			}
		}
	}
}

func (b *TraceBatcher) flush(batch []interface{}) {
	for _, event := range batch {
		if _, err := b.traceLog.Append(event); err != nil {
			log.Logger.Error().Err(err).Msg("failed to append trace event")
		}
	}
}

// QueueEvent queues an event for batched writing. Non-blocking: if the
// queue is full the event is dropped (observability best-effort, never a
// reason to back-pressure the pipeline).
func (b *TraceBatcher) QueueEvent(event interface{}) {
	select {
	case b.queue <- event:
	default:
		log.Logger.Warn().Str("event_type", eventTypeName(event)).Msg("trace queue full, dropping event")
	}
}

func eventTypeName(event interface{}) string {
	switch event.(type) {
	case *trace.IssueEvent:
		return "issue"
	case *trace.CommitEvent:
		return "commit"
	case *trace.ForwardEvent:
		return "forward"
	case *trace.ViolationEvent:
		return "violation"
	case *trace.RecoveryEvent:
		return "recovery"
	default:
		return "unknown"
	}
}

// Shutdown flushes all remaining events and waits for completion.
func (b *TraceBatcher) Shutdown() {
	close(b.shutdownCh)
	<-b.shutdownDone
}
