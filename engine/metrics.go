package engine

// Recorder receives connection/exchange lifecycle events for
// instrumentation. The metrics package implements this against prometheus
// collectors (SPEC_FULL.md EXPANSION 3); a nil Recorder is valid and every
// call below is a no-op guard in ConnectionEngine, not in this interface.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	ExchangeCompleted(durationSeconds float64, failed bool)
}
