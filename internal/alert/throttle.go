package alert

import (
	"sync"
	"time"
)

// ThrottleConfig bounds the alert rate per aircraft.
type ThrottleConfig struct {
	MinInterval time.Duration
	MaxPerHour  int
}

func (c *ThrottleConfig) applyDefaults() {
	if c.MinInterval <= 0 {
		c.MinInterval = 300 * time.Second
	}
	if c.MaxPerHour <= 0 {
		c.MaxPerHour = 10
	}
}

type throttleState struct {
	lastSent   time.Time
	sent       []time.Time // rolling hour window
	suppressed uint64
}

// Throttler enforces the per-aircraft cooldown and hourly cap. Critical
// alerts bypass the cooldown but never the cap. All decisions take an
// explicit clock so tests are deterministic.
type Throttler struct {
	cfg ThrottleConfig

	mu       sync.Mutex
	aircraft map[uint32]*throttleState
}

// NewThrottler builds a throttler.
func NewThrottler(cfg ThrottleConfig) *Throttler {
	cfg.applyDefaults()
	return &Throttler{cfg: cfg, aircraft: make(map[uint32]*throttleState)}
}

// Allow decides whether an alert for icao may go out at now, recording the
// send when allowed.
func (t *Throttler) Allow(icao uint32, critical bool, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.aircraft[icao]
	if st == nil {
		st = &throttleState{}
		t.aircraft[icao] = st
	}

	cutoff := now.Add(-time.Hour)
	kept := st.sent[:0]
	for _, ts := range st.sent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	st.sent = kept

	if len(st.sent) >= t.cfg.MaxPerHour {
		st.suppressed++
		return false
	}
	if !critical && !st.lastSent.IsZero() && now.Sub(st.lastSent) < t.cfg.MinInterval {
		st.suppressed++
		return false
	}

	st.lastSent = now
	st.sent = append(st.sent, now)
	return true
}

// Suppressed returns the running suppressed count for one aircraft.
func (t *Throttler) Suppressed(icao uint32) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.aircraft[icao]; st != nil {
		return st.suppressed
	}
	return 0
}

// Sweep drops state for aircraft idle past the horizon.
func (t *Throttler) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for icao, st := range t.aircraft {
		if now.Sub(st.lastSent) > 2*time.Hour {
			delete(t.aircraft, icao)
		}
	}
}
