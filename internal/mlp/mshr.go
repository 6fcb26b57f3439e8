// Package mlp implements the structures that track and measure
// memory-level parallelism: the MSHR file, the cache bank arbiter, the
// prefetch queue, and the MLP tracker itself.
package mlp

// MSHRState is the lifecycle state of an MSHR entry.
type MSHRState uint8

const (
	Pending MSHRState = iota
	Completed
)

// MSHREntry tracks a single outstanding cache-line miss and the operations
// waiting on it.
type MSHREntry struct {
	Address     uint64
	LineAddress uint64
	State       MSHRState

	WaitingLoads  []uint64
	WaitingStores []uint64

	IsPrefetch    bool
	IssueCycle    uint64
	CompleteCycle uint64
}

// Latency returns the miss's service time in cycles, or -1 if it hasn't
// completed yet.
func (e *MSHREntry) Latency() int64 {
	if e.State != Completed {
		return -1
	}
	return int64(e.CompleteCycle) - int64(e.IssueCycle)
}

func (e *MSHREntry) addWaiter(seq uint64, isStore bool) {
	if isStore {
		e.WaitingStores = append(e.WaitingStores, seq)
	} else {
		e.WaitingLoads = append(e.WaitingLoads, seq)
	}
}

// MSHRConfig configures an MSHRFile.
type MSHRConfig struct {
	NumEntries int
	LineSize   uint64
}

// DefaultMSHRConfig returns the default sizing: 8 entries, 64-byte lines.
func DefaultMSHRConfig() MSHRConfig {
	return MSHRConfig{NumEntries: 8, LineSize: 64}
}

// MSHRFile tracks outstanding cache misses, merging requests to the same
// line and enabling hit-under-miss / miss-under-miss concurrency.
type MSHRFile struct {
	lineSize uint64
	entries  []*MSHREntry

	totalMisses    uint64
	mergedRequests uint64
	peakConcurrent int
}

// NewMSHRFile creates an MSHRFile with the given configuration.
func NewMSHRFile(cfg MSHRConfig) *MSHRFile {
	if cfg.NumEntries <= 0 || cfg.LineSize == 0 {
		cfg = DefaultMSHRConfig()
	}
	return &MSHRFile{
		lineSize: cfg.LineSize,
		entries:  make([]*MSHREntry, cfg.NumEntries),
	}
}

func (f *MSHRFile) lineAddress(addr uint64) uint64 {
	return addr &^ (f.lineSize - 1)
}

// IsFull reports whether every MSHR entry is occupied.
func (f *MSHRFile) IsFull() bool {
	for _, e := range f.entries {
		if e == nil {
			return false
		}
	}
	return true
}

// Lookup returns the index of the MSHR entry tracking addr's line, if any.
func (f *MSHRFile) Lookup(addr uint64) (int, bool) {
	line := f.lineAddress(addr)
	for i, e := range f.entries {
		if e != nil && e.LineAddress == line {
			return i, true
		}
	}
	return 0, false
}

// Allocate tracks a new miss for addr, merging into any entry still held
// for the same line, whether pending or completed but not yet freed.
// Returns -1, false if the file
// is full and no merge was possible; the caller retries next cycle.
func (f *MSHRFile) Allocate(addr, seq uint64, isStore, isPrefetch bool, cycle uint64) (int, bool) {
	if idx, found := f.Lookup(addr); found {
		f.entries[idx].addWaiter(seq, isStore)
		f.mergedRequests++
		return idx, true
	}

	for i, e := range f.entries {
		if e != nil {
			continue
		}
		entry := &MSHREntry{
			Address:     addr,
			LineAddress: f.lineAddress(addr),
			State:       Pending,
			IsPrefetch:  isPrefetch,
			IssueCycle:  cycle,
		}
		entry.addWaiter(seq, isStore)
		f.entries[i] = entry
		f.totalMisses++

		active := f.activeCount()
		if active > f.peakConcurrent {
			f.peakConcurrent = active
		}
		return i, true
	}

	return -1, false
}

// Complete transitions an entry to Completed and stamps its completion
// cycle.
func (f *MSHRFile) Complete(idx int, cycle uint64) *MSHREntry {
	if idx < 0 || idx >= len(f.entries) || f.entries[idx] == nil {
		return nil
	}
	e := f.entries[idx]
	e.State = Completed
	e.CompleteCycle = cycle
	return e
}

// Free releases an MSHR entry, making its slot available again.
func (f *MSHRFile) Free(idx int) {
	if idx >= 0 && idx < len(f.entries) {
		f.entries[idx] = nil
	}
}

// Entry returns the entry at idx, or nil if unoccupied.
func (f *MSHRFile) Entry(idx int) *MSHREntry {
	if idx < 0 || idx >= len(f.entries) {
		return nil
	}
	return f.entries[idx]
}

func (f *MSHRFile) activeCount() int {
	n := 0
	for _, e := range f.entries {
		if e != nil {
			n++
		}
	}
	return n
}

// ActiveCount returns the number of currently occupied MSHR entries.
func (f *MSHRFile) ActiveCount() int { return f.activeCount() }

// MSHRStats summarizes MSHR file activity.
type MSHRStats struct {
	TotalMisses    uint64
	MergedRequests uint64
	PeakConcurrent int
	ActiveEntries  int
}

// Stats returns a snapshot of MSHR counters.
func (f *MSHRFile) Stats() MSHRStats {
	return MSHRStats{
		TotalMisses:    f.totalMisses,
		MergedRequests: f.mergedRequests,
		PeakConcurrent: f.peakConcurrent,
		ActiveEntries:  f.activeCount(),
	}
}
