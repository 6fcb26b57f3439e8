package trace

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// Log is an append-only, durable log of pipeline events.
//
// Design decisions:
//
// 1. Binary format: gob encoding, for simplicity; a compact wire format
//    would replace it before this left the lab.
// 2. Checksums: each record carries a CRC32 to detect corruption.
// 3. Sync modes: fsync after every append, or no fsync. Either way each
//    append is flushed to the file before it returns.
// 4. Sequence numbers: each record gets a monotonically increasing log
//    sequence number, independent of the pipeline's own op sequence numbers,
//    for gap detection on replay.
type Log struct {
	file        *os.File
	writer      *bufio.Writer
	encoder     *gob.Encoder
	mu          sync.Mutex
	sequenceNum uint64
	syncMode    bool
	path        string
}

// Config configures a Log.
type Config struct {
	Path     string
	SyncMode bool // fsync after every write (slower, durable)
}

// Open creates or appends to a trace log at Config.Path.
func Open(cfg Config) (*Log, error) {
	file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("trace: open log: %w", err)
	}

	writer := bufio.NewWriter(file)
	l := &Log{
		file:     file,
		writer:   writer,
		encoder:  gob.NewEncoder(writer),
		syncMode: cfg.SyncMode,
		path:     cfg.Path,
	}

	if err := l.recover(); err != nil {
		file.Close()
		return nil, fmt.Errorf("trace: recover log: %w", err)
	}
	return l, nil
}

// record is the on-disk envelope for a trace event.
type record struct {
	SequenceNum uint64
	Type        EventType
	Data        interface{}
	Checksum    uint32
}

// Append writes an event to the log and returns its assigned log sequence
// number. The event's own SequenceNum/Cycle/Type fields are left to the
// caller; Append only stamps the log-level envelope.
func (l *Log) Append(event interface{}) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequenceNum++
	seq := l.sequenceNum

	rec := record{
		SequenceNum: seq,
		Data:        event,
		Checksum:    crc32.ChecksumIEEE([]byte(fmt.Sprintf("%v", event))),
	}

	if err := l.encoder.Encode(rec); err != nil {
		return 0, fmt.Errorf("trace: encode event: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return 0, fmt.Errorf("trace: flush: %w", err)
	}
	if l.syncMode {
		if err := l.file.Sync(); err != nil {
			return 0, fmt.Errorf("trace: sync: %w", err)
		}
	}
	return seq, nil
}

// Replay reads every event in the log, in order, calling handler for each.
// Used to rebuild a prior run's statistics without re-executing it.
func (l *Log) Replay(handler func(seqNum uint64, event interface{}) error) error {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("trace: open for replay: %w", err)
	}
	defer file.Close()

	decoder := gob.NewDecoder(file)
	var lastSeq uint64

	for {
		var rec record
		if err := decoder.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("trace: decode event: %w", err)
		}
		if lastSeq > 0 && rec.SequenceNum != lastSeq+1 {
			return fmt.Errorf("trace: sequence gap: expected %d, got %d", lastSeq+1, rec.SequenceNum)
		}
		lastSeq = rec.SequenceNum

		if expected := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%v", rec.Data))); rec.Checksum != expected {
			return fmt.Errorf("trace: checksum mismatch at sequence %d", rec.SequenceNum)
		}
		if err := handler(rec.SequenceNum, rec.Data); err != nil {
			return fmt.Errorf("trace: handler error at sequence %d: %w", rec.SequenceNum, err)
		}
	}
	return nil
}

func (l *Log) recover() error {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	decoder := gob.NewDecoder(file)
	for {
		var rec record
		if err := decoder.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		l.sequenceNum = rec.SequenceNum
	}
	return nil
}

// LastSequence returns the last log sequence number assigned.
func (l *Log) LastSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequenceNum
}

// Sync flushes buffered writes and fsyncs the underlying file.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// Close flushes and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

func init() {
	gob.Register(&IssueEvent{})
	gob.Register(&CommitEvent{})
	gob.Register(&ForwardEvent{})
	gob.Register(&ViolationEvent{})
	gob.Register(&RecoveryEvent{})
}
