// Package predictor implements memory dependence speculation predictors:
// the Store Set predictor (Chrysos & Emer) and a simpler per-PC saturating
// counter used as a baseline and in tests.
package predictor

// Predictor is the interface the pipeline driver programs against, letting
// either StoreSetPredictor or SimplePredictor back a Pipeline's speculation
// policy without the driver matching on a concrete type.
type Predictor interface {
	// PredictLoad decides whether a load at loadPC may execute
	// speculatively. When it may not, waitSeq names the store sequence
	// number the load should wait for.
	PredictLoad(loadPC uint64) (maySpeculate bool, waitSeq uint64, waitValid bool)
	RegisterStore(storePC uint64, seq uint64)
	ClearStore(storePC uint64)
	ReportViolation(loadPC, storePC uint64)
	ReportCorrectSpeculation(loadPC uint64)
}
