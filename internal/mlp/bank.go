package mlp

// BankConflictDetector models a cache's parallel banked access: at most one
// access per bank per cycle, enforced by a busy flag and a ready cycle.
type BankConflictDetector struct {
	numBanks int
	lineSize uint64

	busy       []bool
	readyCycle []uint64

	totalAccesses int64
	conflicts     int64
}

// BankConfig configures a BankConflictDetector.
type BankConfig struct {
	NumBanks int
	LineSize uint64
}

// DefaultBankConfig returns the default sizing: 4 banks, 64-byte lines.
func DefaultBankConfig() BankConfig {
	return BankConfig{NumBanks: 4, LineSize: 64}
}

// NewBankConflictDetector creates a BankConflictDetector with cfg.
func NewBankConflictDetector(cfg BankConfig) *BankConflictDetector {
	if cfg.NumBanks <= 0 || cfg.LineSize == 0 {
		cfg = DefaultBankConfig()
	}
	return &BankConflictDetector{
		numBanks:   cfg.NumBanks,
		lineSize:   cfg.LineSize,
		busy:       make([]bool, cfg.NumBanks),
		readyCycle: make([]uint64, cfg.NumBanks),
	}
}

func (d *BankConflictDetector) bankOf(addr uint64) int {
	line := addr / d.lineSize
	return int(line % uint64(d.numBanks))
}

// CanAccess reports whether addr may be accessed this cycle. Every call
// counts an access; a conflict is also counted whenever the bank is busy
// past cycle.
func (d *BankConflictDetector) CanAccess(addr uint64, cycle uint64) bool {
	d.totalAccesses++
	bank := d.bankOf(addr)
	if d.busy[bank] && d.readyCycle[bank] > cycle {
		d.conflicts++
		return false
	}
	return true
}

// ReserveBank marks addr's bank busy until cycle+latency.
func (d *BankConflictDetector) ReserveBank(addr uint64, cycle uint64, latency uint64) {
	bank := d.bankOf(addr)
	d.busy[bank] = true
	d.readyCycle[bank] = cycle + latency
}

// UpdateCycle clears the busy flag for every bank whose ready cycle has
// passed.
func (d *BankConflictDetector) UpdateCycle(cycle uint64) {
	for i := range d.busy {
		if d.readyCycle[i] <= cycle {
			d.busy[i] = false
		}
	}
}

// ConflictRate returns the fraction of accesses that hit a busy bank.
func (d *BankConflictDetector) ConflictRate() float64 {
	if d.totalAccesses == 0 {
		return 0
	}
	return float64(d.conflicts) / float64(d.totalAccesses)
}

// Conflicts returns the running count of bank conflicts.
func (d *BankConflictDetector) Conflicts() int64 { return d.conflicts }
