package tracker

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skymesh/internal/adsb"
	"skymesh/internal/metrics"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestTracker(cfg Config) *Tracker {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	tr := New(cfg, metrics.New(), log)
	tr.SetClock(func() time.Time { return t0.Add(40 * time.Second) })
	return tr
}

func identMsg(icao uint32, callsign string, ts time.Time) *adsb.DecodedMessage {
	return &adsb.DecodedMessage{
		ICAO:      icao,
		DF:        adsb.DFExtSquitter,
		TC:        4,
		Timestamp: ts,
		SourceID:  "test",
		Callsign:  callsign,
	}
}

func positionMsg(icao uint32, latRaw, lonRaw uint32, odd bool, ts time.Time) *adsb.DecodedMessage {
	alt := 38000
	return &adsb.DecodedMessage{
		ICAO:      icao,
		DF:        adsb.DFExtSquitter,
		TC:        11,
		Timestamp: ts,
		SourceID:  "test",
		AltBaroFt: &alt,
		CPR:       &adsb.CPRSample{LatRaw: latRaw, LonRaw: lonRaw, Odd: odd},
	}
}

// Recorded even/odd pair resolving to 52.25720N 3.91937E.
const (
	evenLatRaw = 93000
	evenLonRaw = 51372
	oddLatRaw  = 74158
	oddLonRaw  = 50194
)

// TestIngestNewAircraft tests creation and identity capture.
func TestIngestNewAircraft(t *testing.T) {
	tr := newTestTracker(Config{})

	up := tr.Ingest(identMsg(0x4840D6, "KLM1023", t0))
	require.NotNil(t, up)
	assert.True(t, up.IsNew)
	assert.True(t, up.IdentChanged)
	assert.Equal(t, "KLM1023", up.Aircraft.Callsign)
	assert.Equal(t, "A0", up.Aircraft.Category)
	assert.Equal(t, 1, tr.Count())
	assert.True(t, tr.KnownICAO(0x4840D6))

	a, ok := tr.Get(0x4840D6)
	require.True(t, ok)
	assert.Equal(t, t0, a.FirstSeen)
	assert.Equal(t, t0, a.LastSeen)
	assert.Equal(t, uint64(1), a.MessagesTotal)
	assert.Equal(t, uint64(1), a.MessagesByDF["17"])
	assert.True(t, a.DataSources["test"])
}

// TestIngestUnknownSurveillance tests that a surveillance reply cannot
// create an aircraft record.
func TestIngestUnknownSurveillance(t *testing.T) {
	tr := newTestTracker(Config{})

	alt := 12000
	up := tr.Ingest(&adsb.DecodedMessage{
		ICAO:      0x123456,
		DF:        adsb.DFSurvAltitude,
		Timestamp: t0,
		AltBaroFt: &alt,
	})
	assert.Nil(t, up)
	assert.Equal(t, 0, tr.Count())

	// Once the address is tracked the same reply applies.
	tr.Ingest(identMsg(0x123456, "TEST1", t0))
	up = tr.Ingest(&adsb.DecodedMessage{
		ICAO:      0x123456,
		DF:        adsb.DFSurvAltitude,
		Timestamp: t0.Add(2 * time.Second),
		AltBaroFt: &alt,
	})
	require.NotNil(t, up)
	require.NotNil(t, up.Aircraft.AltBaroFt)
	assert.Equal(t, 12000, *up.Aircraft.AltBaroFt)
}

// TestLastSeenMonotonic tests that an out-of-order message cannot move
// last_seen backwards.
func TestLastSeenMonotonic(t *testing.T) {
	tr := newTestTracker(Config{})

	tr.Ingest(identMsg(0xABC001, "AAA", t0.Add(10*time.Second)))
	tr.Ingest(positionMsg(0xABC001, evenLatRaw, evenLonRaw, false, t0))

	a, _ := tr.Get(0xABC001)
	assert.Equal(t, t0.Add(10*time.Second), a.LastSeen)
	assert.Equal(t, uint64(2), a.MessagesTotal)
}

// TestPerFieldLastWriter tests that a field keeps the value with the newest
// message timestamp regardless of arrival order.
func TestPerFieldLastWriter(t *testing.T) {
	tr := newTestTracker(Config{})

	newer := 38000
	older := 30000
	tr.Ingest(&adsb.DecodedMessage{
		ICAO: 0xABC002, DF: adsb.DFExtSquitter, TC: 11,
		Timestamp: t0.Add(10 * time.Second), AltBaroFt: &newer,
	})
	tr.Ingest(&adsb.DecodedMessage{
		ICAO: 0xABC002, DF: adsb.DFExtSquitter, TC: 12,
		Timestamp: t0, AltBaroFt: &older,
	})

	a, _ := tr.Get(0xABC002)
	require.NotNil(t, a.AltBaroFt)
	assert.Equal(t, 38000, *a.AltBaroFt)
}

// TestDedup tests suppression of the same message relayed by two feeders.
func TestDedup(t *testing.T) {
	tr := newTestTracker(Config{DedupWindow: time.Second})

	first := tr.Ingest(identMsg(0xABC003, "AAA", t0))
	require.NotNil(t, first)
	assert.False(t, first.Duplicate)

	dup := identMsg(0xABC003, "AAA", t0.Add(200*time.Millisecond))
	dup.SourceID = "other"
	up := tr.Ingest(dup)
	require.NotNil(t, up)
	assert.True(t, up.Duplicate)

	a, _ := tr.Get(0xABC003)
	assert.Equal(t, uint64(1), a.MessagesTotal)
	assert.True(t, a.DataSources["other"])
	assert.Equal(t, t0.Add(200*time.Millisecond), a.LastSeen)

	// Outside the window the same key is a fresh message.
	up = tr.Ingest(identMsg(0xABC003, "AAA", t0.Add(5*time.Second)))
	require.NotNil(t, up)
	assert.False(t, up.Duplicate)
}

// TestExpire tests aircraft timeout and position staleness.
func TestExpire(t *testing.T) {
	tr := newTestTracker(Config{})

	tr.Ingest(positionMsg(0xABC004, evenLatRaw, evenLonRaw, false, t0))
	tr.Ingest(positionMsg(0xABC004, oddLatRaw, oddLonRaw, true, t0.Add(2*time.Second)))

	a, _ := tr.Get(0xABC004)
	require.True(t, a.HasPosition())

	// Position ages out first, the record stays.
	removed := tr.Expire(t0.Add(80 * time.Second))
	assert.Equal(t, 0, removed)
	a, ok := tr.Get(0xABC004)
	require.True(t, ok)
	assert.False(t, a.HasPosition())

	removed = tr.Expire(t0.Add(310 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, tr.Count())
}

// TestEvictOldest tests the capacity bound.
func TestEvictOldest(t *testing.T) {
	tr := newTestTracker(Config{MaxAircraft: 2})

	tr.Ingest(identMsg(0x000001, "AAA", t0))
	tr.Ingest(identMsg(0x000002, "BBB", t0.Add(time.Second)))
	tr.Ingest(identMsg(0x000003, "CCC", t0.Add(2*time.Second)))

	assert.Equal(t, 2, tr.Count())
	assert.False(t, tr.KnownICAO(0x000001))
	assert.True(t, tr.KnownICAO(0x000002))
	assert.True(t, tr.KnownICAO(0x000003))
}

// TestGlobalCPRIngest tests even/odd pairing through Ingest, both arrival
// orders resolving to the same fix.
func TestGlobalCPRIngest(t *testing.T) {
	orders := []struct {
		name      string
		oddSecond bool
	}{
		{"even then odd", true},
		{"odd then even", false},
	}
	for _, order := range orders {
		t.Run(order.name, func(t *testing.T) {
			tr := newTestTracker(Config{})

			var first, second *adsb.DecodedMessage
			if order.oddSecond {
				first = positionMsg(0xABC005, evenLatRaw, evenLonRaw, false, t0)
				second = positionMsg(0xABC005, oddLatRaw, oddLonRaw, true, t0.Add(2*time.Second))
			} else {
				first = positionMsg(0xABC005, oddLatRaw, oddLonRaw, true, t0)
				second = positionMsg(0xABC005, evenLatRaw, evenLonRaw, false, t0.Add(2*time.Second))
			}

			up := tr.Ingest(first)
			require.NotNil(t, up)
			assert.False(t, up.PositionChanged)

			up = tr.Ingest(second)
			require.NotNil(t, up)
			assert.True(t, up.PositionChanged)
			assert.True(t, up.PositionResolved)
			require.True(t, up.Aircraft.HasPosition())
			assert.InDelta(t, 52.25720, *up.Aircraft.Lat, 0.0001)
			assert.InDelta(t, 3.91937, *up.Aircraft.Lon, 0.0001)
			assert.Equal(t, PositionGlobalCPR, up.Aircraft.PositionSource)
		})
	}
}

// TestGlobalCPRSubSecondPair tests pairing at the real ~2 Hz squitter
// cadence: an odd frame half a second after the even one is a distinct
// message, not a cross-source duplicate, and resolves the position.
func TestGlobalCPRSubSecondPair(t *testing.T) {
	tr := newTestTracker(Config{DedupWindow: time.Second})

	up := tr.Ingest(positionMsg(0xABC014, evenLatRaw, evenLonRaw, false, t0))
	require.NotNil(t, up)
	assert.False(t, up.Duplicate)

	up = tr.Ingest(positionMsg(0xABC014, oddLatRaw, oddLonRaw, true, t0.Add(500*time.Millisecond)))
	require.NotNil(t, up)
	assert.False(t, up.Duplicate)
	assert.True(t, up.PositionResolved)
	require.True(t, up.Aircraft.HasPosition())
	assert.InDelta(t, 52.25720, *up.Aircraft.Lat, 0.0001)
	assert.InDelta(t, 3.91937, *up.Aircraft.Lon, 0.0001)
}

// TestDedupDistinctContent tests that two different messages of the same
// type inside the window are both applied.
func TestDedupDistinctContent(t *testing.T) {
	tr := newTestTracker(Config{DedupWindow: time.Second})
	tr.Ingest(identMsg(0xABC015, "AAA", t0))

	gs1, gs2 := 440.0, 452.0
	velocity := func(gs *float64, ts time.Time) *adsb.DecodedMessage {
		return &adsb.DecodedMessage{
			ICAO: 0xABC015, DF: adsb.DFExtSquitter, TC: 19,
			Timestamp: ts, SourceID: "test", GroundSpeedKt: gs,
		}
	}

	tr.Ingest(velocity(&gs1, t0.Add(2*time.Second)))
	up := tr.Ingest(velocity(&gs2, t0.Add(2*time.Second+300*time.Millisecond)))
	require.NotNil(t, up)
	assert.False(t, up.Duplicate)
	require.NotNil(t, up.Aircraft.GroundSpeedKt)
	assert.Equal(t, 452.0, *up.Aircraft.GroundSpeedKt)
}

// TestUpdateCarriedFlags tests that updates flag identity- and
// position-bearing messages even when nothing stored changed.
func TestUpdateCarriedFlags(t *testing.T) {
	tr := newTestTracker(Config{DedupWindow: time.Second})

	tr.Ingest(identMsg(0xABC016, "KLM1023", t0))
	up := tr.Ingest(identMsg(0xABC016, "KLM1023", t0.Add(10*time.Second)))
	require.NotNil(t, up)
	assert.False(t, up.IdentChanged)
	assert.True(t, up.IdentCarried)
	assert.False(t, up.PositionCarried)

	up = tr.Ingest(positionMsg(0xABC016, evenLatRaw, evenLonRaw, false, t0.Add(12*time.Second)))
	require.NotNil(t, up)
	assert.True(t, up.PositionCarried)
	assert.False(t, up.IdentCarried)
}

// TestIngestAllCall tests that only an address-verified all-call reply can
// create a record, while unverified replies update existing ones.
func TestIngestAllCall(t *testing.T) {
	tr := newTestTracker(Config{})

	unverified := &adsb.DecodedMessage{
		ICAO: 0xABC017, DF: adsb.DFAllCall, Timestamp: t0, SourceID: "test",
	}
	assert.Nil(t, tr.Ingest(unverified))
	assert.Equal(t, 0, tr.Count())

	verified := &adsb.DecodedMessage{
		ICAO: 0xABC017, DF: adsb.DFAllCall, Timestamp: t0, SourceID: "test",
		AddressVerified: true,
	}
	up := tr.Ingest(verified)
	require.NotNil(t, up)
	assert.True(t, up.IsNew)
	assert.Equal(t, 1, tr.Count())

	up = tr.Ingest(&adsb.DecodedMessage{
		ICAO: 0xABC017, DF: adsb.DFAllCall, Timestamp: t0.Add(2 * time.Second), SourceID: "other",
	})
	require.NotNil(t, up)
	assert.False(t, up.IsNew)
	a, _ := tr.Get(0xABC017)
	assert.Equal(t, t0.Add(2*time.Second), a.LastSeen)
}

// TestCPRWindowExpired tests that a stale opposite-parity frame does not
// produce a global fix.
func TestCPRWindowExpired(t *testing.T) {
	tr := newTestTracker(Config{GlobalCPRWindow: 10 * time.Second})

	tr.Ingest(positionMsg(0xABC006, evenLatRaw, evenLonRaw, false, t0))
	up := tr.Ingest(positionMsg(0xABC006, oddLatRaw, oddLonRaw, true, t0.Add(20*time.Second)))
	require.NotNil(t, up)
	assert.False(t, up.PositionChanged)
	assert.False(t, up.Aircraft.HasPosition())
}

// TestLocalCPRReceiverReference tests single-frame decoding against the
// configured receiver location.
func TestLocalCPRReceiverReference(t *testing.T) {
	refLat, refLon := 52.3, 4.0
	tr := newTestTracker(Config{ReferenceLat: &refLat, ReferenceLon: &refLon})

	up := tr.Ingest(positionMsg(0xABC007, evenLatRaw, evenLonRaw, false, t0))
	require.NotNil(t, up)
	assert.True(t, up.PositionChanged)
	require.True(t, up.Aircraft.HasPosition())
	assert.InDelta(t, 52.25720, *up.Aircraft.Lat, 0.001)
	assert.Equal(t, PositionLocalCPR, up.Aircraft.PositionSource)
}

// TestLocalCPRAnchor tests that after a global fix, a lone frame decodes
// locally against the aircraft's own position.
func TestLocalCPRAnchor(t *testing.T) {
	tr := newTestTracker(Config{})

	tr.Ingest(positionMsg(0xABC008, evenLatRaw, evenLonRaw, false, t0))
	tr.Ingest(positionMsg(0xABC008, oddLatRaw, oddLonRaw, true, t0.Add(2*time.Second)))

	// A lone even frame 30 seconds on, slightly moved.
	up := tr.Ingest(positionMsg(0xABC008, evenLatRaw+40, evenLonRaw, false, t0.Add(32*time.Second)))
	require.NotNil(t, up)
	assert.True(t, up.PositionChanged)
	assert.Equal(t, PositionLocalCPR, up.Aircraft.PositionSource)
	assert.InDelta(t, 52.2590, *up.Aircraft.Lat, 0.001)
}

// TestSyntheticPositionQuality tests that a JSON fix never displaces a live
// raw-decoded fix, but fills in once the raw fix goes stale.
func TestSyntheticPositionQuality(t *testing.T) {
	tr := newTestTracker(Config{})

	tr.Ingest(positionMsg(0xABC009, evenLatRaw, evenLonRaw, false, t0))
	tr.Ingest(positionMsg(0xABC009, oddLatRaw, oddLonRaw, true, t0.Add(2*time.Second)))

	jsonLat, jsonLon := 50.0, 3.0
	synth := &adsb.DecodedMessage{
		ICAO: 0xABC009, DF: adsb.DFExtSquitter, Synthetic: true,
		Timestamp: t0.Add(10 * time.Second), SourceID: "json1",
		Lat: &jsonLat, Lon: &jsonLon,
	}
	up := tr.Ingest(synth)
	require.NotNil(t, up)
	assert.False(t, up.PositionChanged)

	a, _ := tr.Get(0xABC009)
	assert.InDelta(t, 52.25720, *a.Lat, 0.001)

	late := &adsb.DecodedMessage{
		ICAO: 0xABC009, DF: adsb.DFExtSquitter, Synthetic: true,
		Timestamp: t0.Add(70 * time.Second), SourceID: "json1",
		Lat: &jsonLat, Lon: &jsonLon,
	}
	up = tr.Ingest(late)
	require.NotNil(t, up)
	assert.True(t, up.PositionChanged)
	assert.Equal(t, PositionJSON, up.Aircraft.PositionSource)
	assert.Equal(t, 50.0, *up.Aircraft.Lat)
}

// TestOnGroundSuppressesAltitude tests that ground records never report a
// pseudo-altitude.
func TestOnGroundSuppressesAltitude(t *testing.T) {
	tr := newTestTracker(Config{})

	onGround := true
	alt := 125
	tr.Ingest(&adsb.DecodedMessage{
		ICAO: 0xABC00A, DF: adsb.DFExtSquitter, TC: 7,
		Timestamp: t0, OnGround: &onGround, AltBaroFt: &alt,
	})

	a, _ := tr.Get(0xABC00A)
	assert.Nil(t, a.AltBaroFt)
	require.NotNil(t, a.OnGround)
	assert.True(t, *a.OnGround)
}

// TestAltitudeRangeCheck tests rejection of implausible altitudes.
func TestAltitudeRangeCheck(t *testing.T) {
	tr := newTestTracker(Config{})

	bad := 75000
	tr.Ingest(&adsb.DecodedMessage{
		ICAO: 0xABC00B, DF: adsb.DFExtSquitter, TC: 11,
		Timestamp: t0, AltBaroFt: &bad,
	})

	a, _ := tr.Get(0xABC00B)
	assert.Nil(t, a.AltBaroFt)
}

// TestStickyCallsign tests that an identification-message callsign is never
// displaced by a Comm-B one.
func TestStickyCallsign(t *testing.T) {
	tr := newTestTracker(Config{})

	tr.Ingest(identMsg(0xABC00C, "KLM1023", t0))

	// Two consistent BDS 2.0 readings carrying a different callsign.
	for i := 0; i < 2; i++ {
		tr.Ingest(&adsb.DecodedMessage{
			ICAO: 0xABC00C, DF: adsb.DFCommBIdentity,
			Timestamp: t0.Add(time.Duration(i+1) * 2 * time.Second),
			BDS:       &adsb.BDSFields{Register: "20", Callsign: "OTHER"},
		})
	}

	a, _ := tr.Get(0xABC00C)
	assert.Equal(t, "KLM1023", a.Callsign)

	// The other way around the identification message wins.
	tr2 := newTestTracker(Config{})
	tr2.Ingest(identMsg(0xABC00D, "", t0)) // create record
	for i := 0; i < 2; i++ {
		tr2.Ingest(&adsb.DecodedMessage{
			ICAO: 0xABC00D, DF: adsb.DFCommBIdentity,
			Timestamp: t0.Add(time.Duration(i+1) * 2 * time.Second),
			BDS:       &adsb.BDSFields{Register: "20", Callsign: "BDSNAME"},
		})
	}
	a, _ = tr2.Get(0xABC00D)
	assert.Equal(t, "BDSNAME", a.Callsign)

	up := tr2.Ingest(identMsg(0xABC00D, "REALNAME", t0.Add(10*time.Second)))
	require.NotNil(t, up)
	assert.True(t, up.IdentChanged)
	a, _ = tr2.Get(0xABC00D)
	assert.Equal(t, "REALNAME", a.Callsign)
}

// TestBDSDoubleConfirm tests that inferred Comm-B fields need two
// consecutive consistent readings.
func TestBDSDoubleConfirm(t *testing.T) {
	tr := newTestTracker(Config{})
	tr.Ingest(identMsg(0xABC00E, "AAA", t0))

	sel := 32000
	bds := func(alt int, ts time.Time) *adsb.DecodedMessage {
		return &adsb.DecodedMessage{
			ICAO: 0xABC00E, DF: adsb.DFCommBAltitude, Timestamp: ts,
			BDS: &adsb.BDSFields{Register: "40", SelectedAltMCPFt: &alt},
		}
	}

	tr.Ingest(bds(sel, t0.Add(2*time.Second)))
	a, _ := tr.Get(0xABC00E)
	assert.Nil(t, a.SelectedAltFt)

	tr.Ingest(bds(sel, t0.Add(4*time.Second)))
	a, _ = tr.Get(0xABC00E)
	require.NotNil(t, a.SelectedAltFt)
	assert.Equal(t, 32000, *a.SelectedAltFt)
}

// TestBDSInconsistentDiscarded tests that disagreeing readings reset the
// confirmation instead of applying either value.
func TestBDSInconsistentDiscarded(t *testing.T) {
	tr := newTestTracker(Config{})
	tr.Ingest(identMsg(0xABC00F, "AAA", t0))

	a1, a2 := 32000, 8000
	tr.Ingest(&adsb.DecodedMessage{
		ICAO: 0xABC00F, DF: adsb.DFCommBAltitude, Timestamp: t0.Add(2 * time.Second),
		BDS: &adsb.BDSFields{Register: "40", SelectedAltMCPFt: &a1},
	})
	tr.Ingest(&adsb.DecodedMessage{
		ICAO: 0xABC00F, DF: adsb.DFCommBAltitude, Timestamp: t0.Add(4 * time.Second),
		BDS: &adsb.BDSFields{Register: "40", SelectedAltMCPFt: &a2},
	})

	a, _ := tr.Get(0xABC00F)
	assert.Nil(t, a.SelectedAltFt)
}

// TestSetWatchlist tests reflagging of live aircraft when the list changes.
func TestSetWatchlist(t *testing.T) {
	tr := newTestTracker(Config{})
	tr.Ingest(identMsg(0x4840D6, "KLM1023", t0))

	a, _ := tr.Get(0x4840D6)
	assert.False(t, a.IsWatchlist)

	tr.SetWatchlist(func(icao uint32, _ string) bool { return icao == 0x4840D6 })
	a, _ = tr.Get(0x4840D6)
	assert.True(t, a.IsWatchlist)

	tr.SetWatchlist(func(uint32, string) bool { return false })
	a, _ = tr.Get(0x4840D6)
	assert.False(t, a.IsWatchlist)
}

// TestSnapshotOrdering tests that snapshots are ordered and independent of
// tracker state.
func TestSnapshotOrdering(t *testing.T) {
	tr := newTestTracker(Config{})
	for i, icao := range []uint32{0x300000, 0x100000, 0x200000} {
		tr.Ingest(identMsg(icao, fmt.Sprintf("CS%d", i), t0.Add(time.Duration(i)*2*time.Second)))
	}

	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, uint32(0x100000), snap[0].ICAO)
	assert.Equal(t, uint32(0x200000), snap[1].ICAO)
	assert.Equal(t, uint32(0x300000), snap[2].ICAO)

	// Mutating the copy must not leak back.
	snap[0].Callsign = "HACKED"
	a, _ := tr.Get(0x100000)
	assert.NotEqual(t, "HACKED", a.Callsign)
}

// TestEmergencySquawk tests the emergency code predicate.
func TestEmergencySquawk(t *testing.T) {
	for _, sq := range []uint16{7500, 7600, 7700} {
		a := &Aircraft{Squawk: &sq}
		assert.True(t, a.EmergencySquawk(), "squawk %04d", sq)
	}
	normal := uint16(2000)
	a := &Aircraft{Squawk: &normal}
	assert.False(t, a.EmergencySquawk())
	assert.False(t, (&Aircraft{}).EmergencySquawk())
}
