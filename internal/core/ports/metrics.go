package ports

// SessionMetrics receives counters from the session store. Implemented by
// the Prometheus collector; a no-op stands in when monitoring is disabled.
type SessionMetrics interface {
	RoomCreated()
	RoomDeleted()
	UserJoined()
	UserLeft()
	DriftObserved(seconds float64)
	CorrectionSent()
	ChatAppended()
	SignalRelayed()
}
