package trace

import "github.com/google/uuid"

// RunID identifies one server session. cmd/server reports it in its startup
// log line and its /health response; it is not written into trace records.
type RunID string

// NewRunID generates a fresh run identifier.
func NewRunID() RunID {
	return RunID(uuid.NewString())
}
