package server

import "time"

// HubMetrics is a snapshot of the hub's counters.
type HubMetrics struct {
	// Sessions
	ActiveSessions int64
	TotalSessions  int64

	// Actions
	ActionsApplied   int64
	ActionsFailed    int64
	DuplicateUpdates int64

	// State frames
	SetStatesSent int64
	PatchesSent   int64
	Resyncs       int64
	BytesSent     int64

	// Persistence
	Persists        int64
	PersistFailures int64

	// Timestamp
	CollectedAt time.Time
}

// Metrics returns the current counters of the hub.
func (h *Hub) Metrics() *HubMetrics {
	return &HubMetrics{
		ActiveSessions:   int64(h.Sessions()),
		TotalSessions:    h.stats.sessionsTotal.Load(),
		ActionsApplied:   h.stats.actionsApplied.Load(),
		ActionsFailed:    h.stats.actionsFailed.Load(),
		DuplicateUpdates: h.stats.duplicates.Load(),
		SetStatesSent:    h.stats.setStatesSent.Load(),
		PatchesSent:      h.stats.patchesSent.Load(),
		Resyncs:          h.stats.resyncs.Load(),
		BytesSent:        h.stats.bytesSent.Load(),
		Persists:         h.stats.persists.Load(),
		PersistFailures:  h.stats.persistFailures.Load(),
		CollectedAt:      time.Now(),
	}
}

// Metrics returns the current counters of the server's hub.
func (s *Server) Metrics() *HubMetrics {
	return s.hub.Metrics()
}
