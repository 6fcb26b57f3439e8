package predictor

// StoreSetConfig configures a StoreSetPredictor.
type StoreSetConfig struct {
	SSITSize int
	MaxSets  int
}

// DefaultStoreSetConfig returns the default sizing: a 256-entry SSIT and
// 64 store sets.
func DefaultStoreSetConfig() StoreSetConfig {
	return StoreSetConfig{SSITSize: 256, MaxSets: 64}
}

// StoreSetStats is a snapshot of every counter and table-occupancy figure
// the predictor tracks.
type StoreSetStats struct {
	Predictions    uint64
	CorrectPredict uint64
	Violations     uint64
	ActiveSets     int
	PendingStores  int
}

// StoreSetPredictor learns which loads depend on which stores via online
// violation feedback, using a Store-Set ID Table (SSIT) and a Last-Fetched
// Store Table (LFST).
//
// Tables are owned and mutated exclusively through this type's methods; the
// pipeline driver never reaches into SSIT/LFST/Confidence directly.
type StoreSetPredictor struct {
	ssitSize int
	maxSets  int

	ssit       map[int]int      // SSIT index -> store set id (absent = no set)
	lfst       map[int]uint64   // store set id -> seq num of youngest in-flight store
	confidence map[uint64]uint8 // load PC -> 2-bit saturating counter

	freeSets []int

	predictions    uint64
	correctPredict uint64
	violations     uint64
}

// NewStoreSetPredictor creates a StoreSetPredictor with the given sizing.
func NewStoreSetPredictor(cfg StoreSetConfig) *StoreSetPredictor {
	if cfg.SSITSize <= 0 || cfg.MaxSets <= 0 {
		cfg = DefaultStoreSetConfig()
	}
	free := make([]int, cfg.MaxSets)
	for i := range free {
		free[i] = cfg.MaxSets - 1 - i
	}
	return &StoreSetPredictor{
		ssitSize:   cfg.SSITSize,
		maxSets:    cfg.MaxSets,
		ssit:       make(map[int]int),
		lfst:       make(map[int]uint64),
		confidence: make(map[uint64]uint8),
		freeSets:   free,
	}
}

func (p *StoreSetPredictor) ssitIndex(pc uint64) int {
	return int((pc >> 2) % uint64(p.ssitSize))
}

// confidenceOf returns the load's confidence counter, lazily initialized to
// "confident" (2) on first touch.
func (p *StoreSetPredictor) confidenceOf(pc uint64) uint8 {
	if c, ok := p.confidence[pc]; ok {
		return c
	}
	p.confidence[pc] = 2
	return 2
}

// PredictLoad implements Predictor. High confidence short-circuits the LFST
// lookup: a load whose counter has recovered speculates even when its own
// set has a pending store. This is looser than the strict Chrysos-Emer
// formulation, which always waits on same-set in-flight stores.
func (p *StoreSetPredictor) PredictLoad(loadPC uint64) (bool, uint64, bool) {
	p.predictions++

	setID, hasSet := p.setOf(loadPC)
	conf := p.confidenceOf(loadPC)

	if !hasSet || conf >= 2 {
		return true, 0, false
	}

	if seq, ok := p.lfst[setID]; ok {
		return false, seq, true
	}

	return true, 0, false
}

func (p *StoreSetPredictor) setOf(pc uint64) (int, bool) {
	id, ok := p.ssit[p.ssitIndex(pc)]
	return id, ok
}

// RegisterStore records a store as the youngest in-flight member of its
// store set. If the store's PC has no assigned set yet, this is a silent
// no-op: a store only becomes trackable via LFST after a violation has
// first created its set.
func (p *StoreSetPredictor) RegisterStore(storePC uint64, seq uint64) {
	if setID, ok := p.setOf(storePC); ok {
		p.lfst[setID] = seq
	}
}

// ClearStore removes a committed store's set from LFST.
func (p *StoreSetPredictor) ClearStore(storePC uint64) {
	if setID, ok := p.setOf(storePC); ok {
		delete(p.lfst, setID)
	}
}

// ReportViolation unions the conflicting load and store PCs into the same
// store set, allocating or merging sets as needed, and decrements the
// load's confidence.
func (p *StoreSetPredictor) ReportViolation(loadPC, storePC uint64) {
	p.violations++

	loadIdx := p.ssitIndex(loadPC)
	storeIdx := p.ssitIndex(storePC)

	loadSet, loadHas := p.ssit[loadIdx]
	storeSet, storeHas := p.ssit[storeIdx]

	switch {
	case !loadHas && !storeHas:
		if newSet, ok := p.allocateSet(); ok {
			p.ssit[loadIdx] = newSet
			p.ssit[storeIdx] = newSet
		}
	case !loadHas:
		p.ssit[loadIdx] = storeSet
	case !storeHas:
		p.ssit[storeIdx] = loadSet
	case loadSet != storeSet:
		for idx, set := range p.ssit {
			if set == storeSet {
				p.ssit[idx] = loadSet
			}
		}
		p.freeSets = append(p.freeSets, storeSet)
	default:
		// Both already in the same set: no-op.
	}

	conf := p.confidenceOf(loadPC)
	if conf > 0 {
		p.confidence[loadPC] = conf - 1
	}
}

// ReportCorrectSpeculation increments the load's confidence (saturating at
// 3) and the predictor's correct-prediction counter.
func (p *StoreSetPredictor) ReportCorrectSpeculation(loadPC uint64) {
	p.correctPredict++
	conf := p.confidenceOf(loadPC)
	if conf < 3 {
		p.confidence[loadPC] = conf + 1
	}
}

// allocateSet pops a free set, or evicts a set with no in-flight stores
// (absent from LFST). If every set has an in-flight store, allocation fails
// and the caller skips forming a set for this pair; the predictor simply
// stays dumb about it.
func (p *StoreSetPredictor) allocateSet() (int, bool) {
	if n := len(p.freeSets); n > 0 {
		set := p.freeSets[n-1]
		p.freeSets = p.freeSets[:n-1]
		return set, true
	}

	for setID := 0; setID < p.maxSets; setID++ {
		if _, inFlight := p.lfst[setID]; inFlight {
			continue
		}
		for idx, set := range p.ssit {
			if set == setID {
				delete(p.ssit, idx)
			}
		}
		return setID, true
	}

	return 0, false
}

// Stats returns a snapshot of predictor counters and table occupancy.
func (p *StoreSetPredictor) Stats() StoreSetStats {
	sets := make(map[int]struct{})
	for _, id := range p.ssit {
		sets[id] = struct{}{}
	}
	return StoreSetStats{
		Predictions:    p.predictions,
		CorrectPredict: p.correctPredict,
		Violations:     p.violations,
		ActiveSets:     len(sets),
		PendingStores:  len(p.lfst),
	}
}

// Accuracy returns the fraction of speculations that proved correct, or 0
// if no predictions have been made.
func (p *StoreSetPredictor) Accuracy() float64 {
	if p.predictions == 0 {
		return 0
	}
	return float64(p.correctPredict) / float64(p.predictions)
}
