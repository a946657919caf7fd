package watchlist

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"skymesh/internal/metrics"
	"skymesh/internal/tracker"
)

// Matcher evaluates tracker updates against the active watchlist and emits
// alert events on a bounded channel. A full channel drops the event; the
// throttler downstream would have suppressed most of a burst anyway.
type Matcher struct {
	set    atomic.Pointer[Set]
	events chan AlertEvent
	log    *logrus.Logger
	met    *metrics.Metrics
}

// NewMatcher builds a matcher with the given event buffer size.
func NewMatcher(set *Set, buffer int, met *metrics.Metrics, log *logrus.Logger) *Matcher {
	if buffer <= 0 {
		buffer = 64
	}
	m := &Matcher{
		events: make(chan AlertEvent, buffer),
		log:    log,
		met:    met,
	}
	m.set.Store(set)
	return m
}

// Events is the alert stream for the dispatcher.
func (m *Matcher) Events() <-chan AlertEvent {
	return m.events
}

// Replace swaps the active set.
func (m *Matcher) Replace(set *Set) {
	m.set.Store(set)
}

// Set returns the active set.
func (m *Matcher) Set() *Set {
	return m.set.Load()
}

// Evaluate inspects one tracker update. Every update that carried identity
// or position is re-evaluated, whether or not the stored value changed;
// suppressing repeat alerts is the throttler's job.
func (m *Matcher) Evaluate(up *tracker.Update) {
	if up == nil || up.Duplicate || up.Aircraft == nil {
		return
	}
	if !up.IsNew && !up.IdentChanged && !up.PositionChanged &&
		!up.IdentCarried && !up.PositionCarried {
		return
	}
	set := m.set.Load()
	if set == nil || set.Len() == 0 {
		return
	}
	a := up.Aircraft
	entry, reason, ok := set.Match(a.ICAO, a.Callsign)
	if !ok {
		return
	}
	m.met.WatchlistMatches.Inc()

	ev := AlertEvent{
		Aircraft:    a,
		MatchKind:   entry.Kind,
		MatchReason: reason,
		Label:       entry.Label,
		EventTime:   a.LastSeen,
	}
	if emerg := a.EmergencyReason(); emerg != "" {
		ev.Critical = true
		ev.MatchReason += ", " + emerg
	}
	select {
	case m.events <- ev:
	default:
		m.log.WithField("icao", a.ICAO).Warn("alert event channel full, dropping match")
	}
}
