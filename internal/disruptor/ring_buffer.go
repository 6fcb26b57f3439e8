// Package disruptor implements the LMAX Disruptor pattern that fans HTTP
// submissions from cmd/server into the single-threaded pipeline driver.
//
// The core pipeline (internal/pipeline) is itself single-threaded and
// cooperative: no component suspends, every call completes synchronously or
// signals back-pressure. The disruptor pattern solves a
// different, adjacent problem: many concurrent HTTP handlers want to submit
// instructions and advance cycles against that one driver without a mutex
// serializing every request. The pattern achieves this through:
//
// 1. Lock-free multi-producer coordination using CAS operations
// 2. A pre-allocated ring buffer to eliminate GC pressure
// 3. Cache-aligned slots to prevent false sharing
// 4. A single-threaded consumer goroutine, which is the only thing that
//    ever touches the pipeline, preserving its single-writer invariant
//
// Reference: https://lmax-exchange.github.io/disruptor/
package disruptor

import (
	"errors"
)

// RequestType identifies the kind of request carried in a ring buffer slot.
type RequestType uint8

const (
	RequestTypeIssue RequestType = iota
	RequestTypeTick
	RequestTypeStats
)

// PipelineRequest encapsulates one submission to the pipeline driver.
type PipelineRequest struct {
	Type RequestType

	// Instr is populated for RequestTypeIssue.
	Instr interface{} // holds a *pipeline.Instruction
}

// PipelineResponse carries the result of processing a PipelineRequest back
// to the HTTP handler that submitted it.
type PipelineResponse struct {
	Accepted bool
	Stats    interface{} // pipeline.Stats, populated for RequestTypeTick and RequestTypeStats
	Error    error
}

// RingBufferSlot is a single slot in the ring buffer, cache-aligned to 64
// bytes to prevent false sharing between CPU cores.
type RingBufferSlot struct {
	// SequenceNum is the sequence number for this slot. The slot is ready
	// when SequenceNum matches the consumer's expected sequence.
	SequenceNum uint64

	Request    *PipelineRequest
	ResponseCh chan *PipelineResponse

	// Padding: 8 (seq) + 8 (request ptr) + 8 (chan ptr) = 24 bytes used,
	// 40 bytes padding to reach a 64-byte cache line.
	_ [40]byte
}

// RingBuffer is a lock-free, multi-producer, single-consumer ring buffer.
//
// Fixed size (power of 2, for fast modulo via bitwise AND), pre-allocated
// slots, atomic cursors for multi-producer coordination, and a gating
// sequence that prevents producers from overwriting unconsumed data.
type RingBuffer struct {
	bufferSize uint64
	indexMask  uint64
	slots      []RingBufferSlot

	cursor         uint64 // highest claimed sequence (multi-producer, CAS)
	consumerCursor uint64 // next sequence to consume (single consumer)
	gatingSequence uint64 // highest consumed sequence

	_ [40]byte
}

// Config holds ring buffer configuration.
type Config struct {
	// BufferSize is the number of slots. Must be a power of 2.
	BufferSize uint64
}

// DefaultConfig returns reasonable defaults for the ring buffer.
func DefaultConfig() Config {
	return Config{BufferSize: 4096}
}

// NewRingBuffer creates a new ring buffer.
func NewRingBuffer(config Config) *RingBuffer {
	if config.BufferSize == 0 || (config.BufferSize&(config.BufferSize-1)) != 0 {
		panic("BufferSize must be a power of 2")
	}

	rb := &RingBuffer{
		bufferSize:     config.BufferSize,
		indexMask:      config.BufferSize - 1,
		slots:          make([]RingBufferSlot, config.BufferSize),
		cursor:         0,
		consumerCursor: 1,
		gatingSequence: 0,
	}
	return rb
}

// GetBufferSize returns the buffer size.
func (rb *RingBuffer) GetBufferSize() uint64 {
	return rb.bufferSize
}

// ErrBufferFull is returned when the ring buffer is full.
var ErrBufferFull = errors.New("disruptor: ring buffer is full")
