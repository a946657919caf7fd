package tracker

import (
	"time"

	"skymesh/internal/adsb"
)

// PositionSource records how a fix was obtained.
type PositionSource string

const (
	PositionGlobalCPR PositionSource = "global_cpr"
	PositionLocalCPR  PositionSource = "local_cpr"
	PositionSurface   PositionSource = "surface"
	PositionJSON      PositionSource = "json"
)

// Field keys for per-field last-writer-wins timestamps.
const (
	fieldCallsign    = "callsign"
	fieldPosition    = "position"
	fieldAltBaro     = "alt_baro"
	fieldAltGNSS     = "alt_gnss"
	fieldOnGround    = "on_ground"
	fieldVelocity    = "velocity"
	fieldAirspeed    = "airspeed"
	fieldHeading     = "heading"
	fieldVRate       = "vertical_rate"
	fieldSquawk      = "squawk"
	fieldEmergency   = "emergency"
	fieldTargetState = "target_state"
	fieldQuality     = "quality"
	fieldBDS         = "bds"
)

// cprFrame is one buffered half of an even/odd pair.
type cprFrame struct {
	lat, lon uint32
	t        time.Time
}

type cprState struct {
	evenAir  *cprFrame
	oddAir   *cprFrame
	evenSurf *cprFrame
	oddSurf  *cprFrame
}

// Aircraft is the durable per-ICAO record. All mutation happens inside the
// tracker; callers only ever see copies.
type Aircraft struct {
	ICAO     uint32
	Callsign string
	Category string

	Lat            *float64
	Lon            *float64
	AltBaroFt      *int
	AltGNSSFt      *int
	OnGround       *bool
	PositionSource PositionSource
	PositionTime   time.Time

	GroundSpeedKt       *float64
	TrackDeg            *float64
	TrueAirspeedKt      *int
	IndicatedAirspeedKt *int
	Mach                *float64
	MagHeadingDeg       *float64
	VerticalRateFpm     *int
	VRSource            adsb.VerticalRateSource

	Squawk             *uint16
	EmergencyState     *uint8
	SelectedAltFt      *int
	SelectedHdgDeg     *float64
	BaroSettingMb      *float64
	RollAngleDeg       *float64
	TrackRateDegS      *float64
	NACp               *uint8
	ADSBVersion        *uint8
	SurveillanceStatus uint8

	FirstSeen     time.Time
	LastSeen      time.Time
	MessagesTotal uint64
	MessagesByDF  map[string]uint64
	DataSources   map[string]bool
	IsWatchlist   bool

	// Unexported state never leaves the tracker.
	fieldTimes        map[string]time.Time
	cpr               cprState
	callsignFromIdent bool
	positionSynthetic bool
	pendingBDS        map[string]*adsb.BDSFields
}

func newAircraft(icao uint32, t time.Time) *Aircraft {
	return &Aircraft{
		ICAO:         icao,
		FirstSeen:    t,
		LastSeen:     t,
		MessagesByDF: make(map[string]uint64),
		DataSources:  make(map[string]bool),
		fieldTimes:   make(map[string]time.Time),
		pendingBDS:   make(map[string]*adsb.BDSFields),
	}
}

// fresher reports whether a message stamped t may write the field, and
// records the new timestamp when it may.
func (a *Aircraft) fresher(field string, t time.Time) bool {
	if prev, ok := a.fieldTimes[field]; ok && t.Before(prev) {
		return false
	}
	a.fieldTimes[field] = t
	return true
}

// clearPosition drops the resolved fix but keeps the CPR pairing state.
func (a *Aircraft) clearPosition() {
	a.Lat = nil
	a.Lon = nil
	a.PositionSource = ""
	a.PositionTime = time.Time{}
	a.positionSynthetic = false
	delete(a.fieldTimes, fieldPosition)
}

// Clone returns a deep copy safe to hand outside the tracker. Internal CPR
// and bookkeeping state is not copied.
func (a *Aircraft) Clone() *Aircraft {
	c := *a
	c.fieldTimes = nil
	c.cpr = cprState{}
	c.pendingBDS = nil

	c.MessagesByDF = make(map[string]uint64, len(a.MessagesByDF))
	for k, v := range a.MessagesByDF {
		c.MessagesByDF[k] = v
	}
	c.DataSources = make(map[string]bool, len(a.DataSources))
	for k := range a.DataSources {
		c.DataSources[k] = true
	}

	c.Lat = copyFloat(a.Lat)
	c.Lon = copyFloat(a.Lon)
	c.AltBaroFt = copyInt(a.AltBaroFt)
	c.AltGNSSFt = copyInt(a.AltGNSSFt)
	c.OnGround = copyBool(a.OnGround)
	c.GroundSpeedKt = copyFloat(a.GroundSpeedKt)
	c.TrackDeg = copyFloat(a.TrackDeg)
	c.TrueAirspeedKt = copyInt(a.TrueAirspeedKt)
	c.IndicatedAirspeedKt = copyInt(a.IndicatedAirspeedKt)
	c.Mach = copyFloat(a.Mach)
	c.MagHeadingDeg = copyFloat(a.MagHeadingDeg)
	c.VerticalRateFpm = copyInt(a.VerticalRateFpm)
	c.Squawk = copyUint16(a.Squawk)
	c.EmergencyState = copyUint8(a.EmergencyState)
	c.SelectedAltFt = copyInt(a.SelectedAltFt)
	c.SelectedHdgDeg = copyFloat(a.SelectedHdgDeg)
	c.BaroSettingMb = copyFloat(a.BaroSettingMb)
	c.RollAngleDeg = copyFloat(a.RollAngleDeg)
	c.TrackRateDegS = copyFloat(a.TrackRateDegS)
	c.NACp = copyUint8(a.NACp)
	c.ADSBVersion = copyUint8(a.ADSBVersion)
	return &c
}

// HasPosition reports whether a resolved fix is present.
func (a *Aircraft) HasPosition() bool {
	return a.Lat != nil && a.Lon != nil
}

// EmergencySquawk reports whether the transponder code is one of the three
// emergency codes.
func (a *Aircraft) EmergencySquawk() bool {
	return a.EmergencyReason() != ""
}

// EmergencyReason names the declared emergency, empty for normal traffic.
func (a *Aircraft) EmergencyReason() string {
	if a.Squawk == nil {
		return ""
	}
	switch *a.Squawk {
	case adsb.SquawkHijack:
		return "hijack"
	case adsb.SquawkRadioFailure:
		return "radio failure"
	case adsb.SquawkEmergency:
		return "emergency"
	}
	return ""
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyUint8(p *uint8) *uint8 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyUint16(p *uint16) *uint16 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
