package engine

import (
	"log/slog"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Progress Events
// =============================================================================

// Event is emitted on every host state transition and on every failed
// attempt, so the coordinator (and anything behind it) can observe
// progress without sharing machine state.
type Event struct {
	Host    domain.HostID
	From    domain.HostState
	To      domain.HostState
	Attempt int
	Err     string // Non-empty on failed attempts
	At      time.Time
}

// EventSink consumes progress events. Sinks must be safe for concurrent
// calls: every machine in a batch emits into the same sink.
type EventSink func(Event)

// NopSink discards all events.
func NopSink(Event) {}

// LogSink returns a sink that logs transitions at debug level and failed
// attempts at warn level.
func LogSink(logger *slog.Logger) EventSink {
	return func(e Event) {
		if e.Err != "" {
			logger.Warn("host transition failed",
				"host", e.Host,
				"state", e.From,
				"attempt", e.Attempt,
				"error", e.Err,
			)
			return
		}
		logger.Debug("host transition",
			"host", e.Host,
			"from", e.From,
			"to", e.To,
		)
	}
}

// fanOut forwards each event to every sink in order.
func fanOut(sinks ...EventSink) EventSink {
	return func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s(e)
			}
		}
	}
}
