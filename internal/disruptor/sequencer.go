package disruptor

import (
	"runtime"
	"sync/atomic"
)

// Sequencer coordinates access to the ring buffer using atomic CAS
// operations: Next() claims a sequence number for a producer, Publish()
// writes the request to the claimed slot. Multi-producer safe through a CAS
// loop; back-pressure via spinning and eventual rejection.
type Sequencer struct {
	rb *RingBuffer
}

// NewSequencer creates a new sequencer for the given ring buffer.
func NewSequencer(rb *RingBuffer) *Sequencer {
	return &Sequencer{rb: rb}
}

// Next claims the next sequence number for writing. Lock-free and
// multi-producer safe via CAS. If the buffer is full it spins briefly and
// then returns ErrBufferFull.
func (s *Sequencer) Next() (uint64, error) {
	const maxSpins = 10000

	for spins := 0; spins < maxSpins; spins++ {
		current := atomic.LoadUint64(&s.rb.cursor)
		next := current + 1

		cachedGatingSequence := atomic.LoadUint64(&s.rb.gatingSequence)
		availableSequence := cachedGatingSequence + s.rb.bufferSize

		if next > availableSequence {
			runtime.Gosched()
			continue
		}

		if atomic.CompareAndSwapUint64(&s.rb.cursor, current, next) {
			return next, nil
		}
	}

	return 0, ErrBufferFull
}

// Publish writes a request to the claimed sequence slot. Must only be
// called after successfully claiming a sequence via Next(); the atomic
// store of SequenceNum is the release barrier that makes the writes above
// it visible to the consumer.
func (s *Sequencer) Publish(seq uint64, request *PipelineRequest, responseCh chan *PipelineResponse) {
	index := seq & s.rb.indexMask
	slot := &s.rb.slots[index]

	slot.Request = request
	slot.ResponseCh = responseCh

	atomic.StoreUint64(&slot.SequenceNum, seq)
}
