package pipeline

import (
	"github.com/rishav/oomemsim/internal/mlp"
	"github.com/rishav/oomemsim/internal/predictor"
)

// PredictorStats is a predictor-agnostic summary, populated by a type switch
// over the concrete predictor backing this Pipeline.
type PredictorStats struct {
	Predictions uint64
	Violations  uint64
	Accuracy    float64
}

// Stats is the full snapshot a caller can observe: the pipeline's own
// counters plus the predictor, MSHR, bank, prefetch, and MLP figures, so one
// call surfaces every number the subsystem tracks.
type Stats struct {
	Cycles     uint64
	Committed  uint64
	Loads      uint64
	Stores     uint64
	Violations uint64
	Forwards   uint64
	IPC        float64

	Predictor        PredictorStats
	MSHR             mlp.MSHRStats
	BankConflictRate float64
	Prefetch         mlp.PrefetchStats
	MLPAverage       float64
	MLPPeak          int
	MLPUtil          float64
}

// Stats returns a snapshot of every counter this Pipeline tracks.
func (p *Pipeline) Stats() Stats {
	ipc := 0.0
	if p.cycle > 0 {
		ipc = float64(p.committed) / float64(p.cycle)
	}

	var ps PredictorStats
	switch pr := p.pred.(type) {
	case *predictor.StoreSetPredictor:
		s := pr.Stats()
		ps = PredictorStats{Predictions: s.Predictions, Violations: s.Violations, Accuracy: pr.Accuracy()}
	case *predictor.SimplePredictor:
		s := pr.Stats()
		ps = PredictorStats{Predictions: s.Predictions, Violations: s.Violations, Accuracy: s.Accuracy}
	}

	return Stats{
		Cycles:           p.cycle,
		Committed:        p.committed,
		Loads:            p.loads,
		Stores:           p.stores,
		Violations:       p.violations,
		Forwards:         p.forwards,
		IPC:              ipc,
		Predictor:        ps,
		MSHR:             p.mshr.Stats(),
		BankConflictRate: p.banks.ConflictRate(),
		Prefetch:         p.prefetch.Stats(),
		MLPAverage:       p.mlpTracker.Average(),
		MLPPeak:          p.mlpTracker.Peak(),
		MLPUtil:          p.mlpTracker.Utilization(),
	}
}
