package watchlist

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"skymesh/internal/tracker"
)

// Entry kinds.
const (
	KindICAOExact     = "icao_exact"
	KindICAOPrefix    = "icao_prefix"
	KindCallsignExact = "callsign_exact"
	KindCallsignRegex = "callsign_regex"
)

// Entry is one configured target pattern.
type Entry struct {
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
	Label string `yaml:"label"`
}

type compiledEntry struct {
	Entry
	icao   uint32
	prefix string
	re     *regexp.Regexp
}

// Set is an immutable compiled watchlist. Build once, swap atomically.
type Set struct {
	entries []compiledEntry
}

// Compile validates and compiles a list of entries.
func Compile(entries []Entry) (*Set, error) {
	s := &Set{}
	for i, e := range entries {
		ce := compiledEntry{Entry: e}
		switch e.Kind {
		case KindICAOExact:
			v, err := strconv.ParseUint(strings.TrimSpace(e.Value), 16, 32)
			if err != nil || v > 0xFFFFFF {
				return nil, fmt.Errorf("watchlist entry %d: invalid icao %q", i, e.Value)
			}
			ce.icao = uint32(v)
		case KindICAOPrefix:
			p := strings.ToUpper(strings.TrimSpace(e.Value))
			if p == "" || len(p) > 6 {
				return nil, fmt.Errorf("watchlist entry %d: invalid icao prefix %q", i, e.Value)
			}
			if _, err := strconv.ParseUint(p, 16, 32); err != nil {
				return nil, fmt.Errorf("watchlist entry %d: invalid icao prefix %q", i, e.Value)
			}
			ce.prefix = p
		case KindCallsignExact:
			if strings.TrimSpace(e.Value) == "" {
				return nil, fmt.Errorf("watchlist entry %d: empty callsign", i)
			}
		case KindCallsignRegex:
			re, err := regexp.Compile(e.Value)
			if err != nil {
				return nil, fmt.Errorf("watchlist entry %d: bad regex: %w", i, err)
			}
			ce.re = re
		default:
			return nil, fmt.Errorf("watchlist entry %d: unknown kind %q", i, e.Kind)
		}
		s.entries = append(s.entries, ce)
	}
	return s, nil
}

// Len returns the number of entries.
func (s *Set) Len() int {
	return len(s.entries)
}

// Entries returns the configured entries.
func (s *Set) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Entry
	}
	return out
}

// Match evaluates an aircraft identity against the set. Evaluation is
// linear; watchlists are small.
func (s *Set) Match(icao uint32, callsign string) (Entry, string, bool) {
	hexAddr := fmt.Sprintf("%06X", icao)
	cs := strings.ToUpper(strings.TrimSpace(callsign))
	for _, e := range s.entries {
		switch e.Kind {
		case KindICAOExact:
			if e.icao == icao {
				return e.Entry, "icao " + hexAddr, true
			}
		case KindICAOPrefix:
			if strings.HasPrefix(hexAddr, e.prefix) {
				return e.Entry, "icao prefix " + e.prefix, true
			}
		case KindCallsignExact:
			if cs != "" && cs == strings.ToUpper(strings.TrimSpace(e.Value)) {
				return e.Entry, "callsign " + cs, true
			}
		case KindCallsignRegex:
			if cs != "" && e.re.MatchString(cs) {
				return e.Entry, "callsign regex " + e.Value, true
			}
		}
	}
	return Entry{}, "", false
}

// Contains is the predicate form used for the tracker's cached flag.
func (s *Set) Contains(icao uint32, callsign string) bool {
	_, _, ok := s.Match(icao, callsign)
	return ok
}

// AlertEvent is a watchlist hit handed to the dispatcher. The snapshot is
// immutable; the dispatcher never sees live tracker state.
type AlertEvent struct {
	Aircraft    *tracker.Aircraft
	MatchKind   string
	MatchReason string
	Label       string
	EventTime   time.Time

	// Critical marks emergency squawk traffic, which bypasses cooldown.
	Critical bool
}
