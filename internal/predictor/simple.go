package predictor

// SimplePredictor is a per-PC 2-bit saturating counter used as a baseline
// policy and for tests: speculate iff the counter is >= 2.
type SimplePredictor struct {
	tableSize int
	counters  map[int]uint8

	predictions uint64
	violations  uint64
}

// SimpleConfig configures a SimplePredictor.
type SimpleConfig struct {
	TableSize int
}

// DefaultSimpleConfig returns the default table size of 256.
func DefaultSimpleConfig() SimpleConfig {
	return SimpleConfig{TableSize: 256}
}

// NewSimplePredictor creates a SimplePredictor, starting every PC's counter
// "optimistic" (3) on first touch.
func NewSimplePredictor(cfg SimpleConfig) *SimplePredictor {
	if cfg.TableSize <= 0 {
		cfg = DefaultSimpleConfig()
	}
	return &SimplePredictor{
		tableSize: cfg.TableSize,
		counters:  make(map[int]uint8),
	}
}

func (p *SimplePredictor) index(pc uint64) int {
	return int((pc >> 2) % uint64(p.tableSize))
}

func (p *SimplePredictor) counterOf(pc uint64) uint8 {
	idx := p.index(pc)
	if c, ok := p.counters[idx]; ok {
		return c
	}
	p.counters[idx] = 3
	return 3
}

// ShouldSpeculate reports whether a load at pc should speculate.
func (p *SimplePredictor) ShouldSpeculate(pc uint64) bool {
	p.predictions++
	return p.counterOf(pc) >= 2
}

// PredictLoad implements Predictor: SimplePredictor never names a
// wait-for sequence number, only a binary speculate/don't.
func (p *SimplePredictor) PredictLoad(pc uint64) (bool, uint64, bool) {
	return p.ShouldSpeculate(pc), 0, false
}

// RegisterStore is a no-op: SimplePredictor tracks no per-store state.
func (p *SimplePredictor) RegisterStore(uint64, uint64) {}

// ClearStore is a no-op: SimplePredictor tracks no per-store state.
func (p *SimplePredictor) ClearStore(uint64) {}

// ReportViolation decrements the load PC's counter, saturating at 0.
func (p *SimplePredictor) ReportViolation(loadPC, _ uint64) {
	p.violations++
	idx := p.index(loadPC)
	c := p.counterOf(loadPC)
	if c > 0 {
		p.counters[idx] = c - 1
	}
}

// ReportCorrectSpeculation increments the PC's counter, saturating at 3.
func (p *SimplePredictor) ReportCorrectSpeculation(pc uint64) {
	idx := p.index(pc)
	c := p.counterOf(pc)
	if c < 3 {
		p.counters[idx] = c + 1
	}
}

// SimpleStats summarizes a SimplePredictor's counters.
type SimpleStats struct {
	Predictions uint64
	Violations  uint64
	Accuracy    float64
}

// Stats returns a snapshot of prediction/violation counts and accuracy.
func (p *SimplePredictor) Stats() SimpleStats {
	accuracy := 0.0
	if p.predictions > 0 {
		accuracy = float64(p.predictions-p.violations) / float64(p.predictions)
	}
	return SimpleStats{Predictions: p.predictions, Violations: p.violations, Accuracy: accuracy}
}
