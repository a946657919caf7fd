package tracker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"skymesh/internal/adsb"
	"skymesh/internal/metrics"
)

// Config carries the tracker tunables.
type Config struct {
	AircraftTimeout  time.Duration
	MaxAircraft      int
	PositionTimeout  time.Duration
	GlobalCPRWindow  time.Duration
	SurfaceCPRWindow time.Duration
	LocalCPRRangeNM  float64
	ReferenceLat     *float64
	ReferenceLon     *float64
	DedupWindow      time.Duration
}

func (c *Config) applyDefaults() {
	if c.AircraftTimeout <= 0 {
		c.AircraftTimeout = 300 * time.Second
	}
	if c.MaxAircraft <= 0 {
		c.MaxAircraft = 10000
	}
	if c.PositionTimeout <= 0 {
		c.PositionTimeout = 60 * time.Second
	}
	if c.GlobalCPRWindow <= 0 {
		c.GlobalCPRWindow = 10 * time.Second
	}
	if c.SurfaceCPRWindow <= 0 {
		c.SurfaceCPRWindow = 25 * time.Second
	}
	if c.LocalCPRRangeNM <= 0 {
		c.LocalCPRRangeNM = 180
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = time.Second
	}
}

// Update describes the outcome of one ingest.
type Update struct {
	ICAO             uint32
	IsNew            bool
	Duplicate        bool
	Changed          []string
	IdentChanged     bool
	PositionChanged  bool
	PositionResolved bool

	// IdentCarried and PositionCarried mark messages that bore identity or
	// position fields even when the stored value did not change.
	IdentCarried    bool
	PositionCarried bool

	// Aircraft is a snapshot taken after the update was applied.
	Aircraft *Aircraft
}

// Tracker is the single owner of the aircraft store. Ingest serializes all
// writes; readers get deep-copied snapshots.
type Tracker struct {
	cfg Config
	log *logrus.Logger
	met *metrics.Metrics

	mu       sync.RWMutex
	aircraft map[uint32]*Aircraft
	match    func(icao uint32, callsign string) bool

	dedup *cache.Cache
	now   func() time.Time
}

// New builds a tracker.
func New(cfg Config, met *metrics.Metrics, log *logrus.Logger) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		cfg:      cfg,
		log:      log,
		met:      met,
		aircraft: make(map[uint32]*Aircraft),
		dedup:    cache.New(cfg.DedupWindow, 10*cfg.DedupWindow),
		now:      time.Now,
	}
}

// SetClock replaces the wall clock, for deterministic tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// KnownICAO reports whether an address is currently tracked. The validator
// uses it to accept surveillance replies whose parity folds in the address.
func (t *Tracker) KnownICAO(icao uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.aircraft[icao]
	return ok
}

// Count returns the number of tracked aircraft.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.aircraft)
}

// Snapshot returns deep copies of every aircraft, ordered by address.
func (t *Tracker) Snapshot() []*Aircraft {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Aircraft, 0, len(t.aircraft))
	for _, a := range t.aircraft {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ICAO < out[j].ICAO })
	return out
}

// Get returns a copy of one aircraft.
func (t *Tracker) Get(icao uint32) (*Aircraft, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.aircraft[icao]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// SetWatchlist atomically replaces the match predicate and reflags every
// tracked aircraft.
func (t *Tracker) SetWatchlist(match func(icao uint32, callsign string) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.match = match
	for _, a := range t.aircraft {
		a.IsWatchlist = match != nil && match(a.ICAO, a.Callsign)
	}
}

// Expire removes aircraft unseen for longer than the timeout and clears
// fixes older than the position timeout.
func (t *Tracker) Expire(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for icao, a := range t.aircraft {
		if now.Sub(a.LastSeen) > t.cfg.AircraftTimeout {
			delete(t.aircraft, icao)
			removed++
			t.met.AircraftExpired.Inc()
			continue
		}
		if a.HasPosition() && now.Sub(a.PositionTime) > t.cfg.PositionTimeout {
			a.clearPosition()
		}
	}
	t.met.AircraftTracked.Set(float64(len(t.aircraft)))
	return removed
}

// Ingest applies one decoded message. Returns nil when the message could
// not be attributed to an aircraft (unverified address that is no longer
// tracked).
func (t *Tracker) Ingest(msg *adsb.DecodedMessage) *Update {
	t.mu.Lock()
	defer t.mu.Unlock()

	dfLabel := strconv.Itoa(int(msg.DF))
	if msg.Synthetic {
		dfLabel = "json"
	}

	key := dedupKey(msg, dfLabel)
	if prev, ok := t.dedup.Get(key); ok {
		if within(msg.Timestamp, prev.(time.Time), t.cfg.DedupWindow) {
			t.met.Duplicates.Inc()
			if a, ok := t.aircraft[msg.ICAO]; ok {
				if msg.Timestamp.After(a.LastSeen) {
					a.LastSeen = msg.Timestamp
				}
				a.DataSources[msg.SourceID] = true
				return &Update{ICAO: msg.ICAO, Duplicate: true, Aircraft: a.Clone()}
			}
			return &Update{ICAO: msg.ICAO, Duplicate: true}
		}
	}
	t.dedup.Set(key, msg.Timestamp, cache.DefaultExpiration)

	a, exists := t.aircraft[msg.ICAO]
	if !exists {
		if !canCreate(msg) {
			// Unverified address whose record expired between validation
			// and ingest.
			return nil
		}
		if len(t.aircraft) >= t.cfg.MaxAircraft {
			t.evictOldest()
		}
		a = newAircraft(msg.ICAO, msg.Timestamp)
		if t.match != nil {
			a.IsWatchlist = t.match(a.ICAO, "")
		}
		t.aircraft[msg.ICAO] = a
		t.met.AircraftTracked.Set(float64(len(t.aircraft)))
	}

	if msg.Timestamp.After(a.LastSeen) {
		a.LastSeen = msg.Timestamp
	}
	a.MessagesTotal++
	a.MessagesByDF[dfLabel]++
	a.DataSources[msg.SourceID] = true
	t.met.MessagesIngested.WithLabelValues(dfLabel).Inc()

	up := &Update{
		ICAO:            msg.ICAO,
		IsNew:           !exists,
		IdentCarried:    msg.HasIdentification(),
		PositionCarried: msg.HasPosition(),
	}
	t.applyFields(a, msg, up)
	t.applyPosition(a, msg, up)

	if t.match != nil && (up.IdentChanged || up.IsNew) {
		was := a.IsWatchlist
		a.IsWatchlist = t.match(a.ICAO, a.Callsign)
		if a.IsWatchlist != was {
			up.Changed = append(up.Changed, "watchlist")
		}
	}

	up.Aircraft = a.Clone()
	return up
}

func canCreate(msg *adsb.DecodedMessage) bool {
	if msg.Synthetic {
		return true
	}
	switch msg.DF {
	case adsb.DFExtSquitter, adsb.DFExtSquitterNT:
		return true
	case adsb.DFAllCall:
		// Only a reply whose parity proved the announced address (a clean
		// reply to interrogator 0) may seed a record.
		return msg.AddressVerified
	}
	return false
}

// dedupKey fingerprints one transmission's content. Cross-source duplicates
// are the same squitter relayed by several feeders, so the carried values go
// into the key; distinct frames of one type inside the window, such as an
// even/odd position pair or successive velocity samples, never collide.
func dedupKey(msg *adsb.DecodedMessage, dfLabel string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%06X/%s/%d/%t/%s", msg.ICAO, dfLabel, msg.TC, msg.AddressVerified, msg.Callsign)
	if c := msg.CPR; c != nil {
		fmt.Fprintf(&sb, "/c%d:%d:%t:%t", c.LatRaw, c.LonRaw, c.Odd, c.Surface)
	}
	if b := msg.BDS; b != nil {
		fmt.Fprintf(&sb, "/b%s:%s", b.Register, b.Callsign)
		keyInt(&sb, b.SelectedAltMCPFt)
		keyInt(&sb, b.SelectedAltFMSFt)
		keyInt(&sb, b.TrueAirspeedKt)
		keyInt(&sb, b.IndicatedAirspeedKt)
		keyInt(&sb, b.BaroVRateFpm)
		keyFloat(&sb, b.BaroSettingMb)
		keyFloat(&sb, b.GroundSpeedKt)
		keyFloat(&sb, b.MagHeadingDeg)
	}
	keyInt(&sb, msg.AltBaroFt)
	keyInt(&sb, msg.AltGNSSFt)
	keyInt(&sb, msg.VerticalRateFpm)
	keyInt(&sb, msg.TrueAirspeedKt)
	keyInt(&sb, msg.IndicatedAirspeedKt)
	keyInt(&sb, msg.SelectedAltFt)
	keyFloat(&sb, msg.Lat)
	keyFloat(&sb, msg.Lon)
	keyFloat(&sb, msg.GroundSpeedKt)
	keyFloat(&sb, msg.TrackDeg)
	keyFloat(&sb, msg.MagHeadingDeg)
	keyFloat(&sb, msg.SelectedHdgDeg)
	if msg.Squawk != nil {
		fmt.Fprintf(&sb, "/%04d", *msg.Squawk)
	} else {
		sb.WriteString("/-")
	}
	if msg.EmergencyState != nil {
		fmt.Fprintf(&sb, "/e%d", *msg.EmergencyState)
	}
	return sb.String()
}

func keyInt(sb *strings.Builder, p *int) {
	if p == nil {
		sb.WriteString("/-")
		return
	}
	fmt.Fprintf(sb, "/%d", *p)
}

func keyFloat(sb *strings.Builder, p *float64) {
	if p == nil {
		sb.WriteString("/-")
		return
	}
	fmt.Fprintf(sb, "/%.5f", *p)
}

func (t *Tracker) evictOldest() {
	var victim uint32
	var oldest time.Time
	first := true
	for icao, a := range t.aircraft {
		if first || a.LastSeen.Before(oldest) {
			victim, oldest, first = icao, a.LastSeen, false
		}
	}
	if !first {
		delete(t.aircraft, victim)
		t.met.AircraftEvicted.Inc()
		t.log.WithField("icao", fmt.Sprintf("%06X", victim)).Debug("evicted oldest aircraft")
	}
}

func (t *Tracker) applyFields(a *Aircraft, msg *adsb.DecodedMessage, up *Update) {
	ts := msg.Timestamp
	mark := func(name string) {
		up.Changed = append(up.Changed, name)
	}

	if msg.Callsign != "" {
		fromIdent := !msg.Synthetic && msg.TC >= 1 && msg.TC <= 4
		if (fromIdent || !a.callsignFromIdent) && a.fresher(fieldCallsign, ts) {
			if a.Callsign != msg.Callsign {
				mark("callsign")
				up.IdentChanged = true
			}
			a.Callsign = msg.Callsign
			if fromIdent {
				a.callsignFromIdent = true
				a.Category = categoryString(msg.TC, msg.Category)
			}
		}
	}

	onGround := msg.OnGround != nil && *msg.OnGround
	if msg.OnGround != nil && a.fresher(fieldOnGround, ts) {
		a.OnGround = copyBool(msg.OnGround)
	}

	// Ground records carry vehicle pseudo-altitudes on some feeders; the
	// on_ground flag wins and altitude is ignored.
	if msg.AltBaroFt != nil && !onGround {
		if *msg.AltBaroFt < adsb.MinAltitudeFt || *msg.AltBaroFt > adsb.MaxAltitudeFt {
			t.met.RangeErrors.WithLabelValues("alt_baro").Inc()
		} else if a.fresher(fieldAltBaro, ts) {
			a.AltBaroFt = copyInt(msg.AltBaroFt)
			mark("alt_baro")
		}
	}
	if msg.AltGNSSFt != nil && !onGround {
		if *msg.AltGNSSFt < adsb.MinAltitudeFt || *msg.AltGNSSFt > adsb.MaxAltitudeFt {
			t.met.RangeErrors.WithLabelValues("alt_gnss").Inc()
		} else if a.fresher(fieldAltGNSS, ts) {
			a.AltGNSSFt = copyInt(msg.AltGNSSFt)
			mark("alt_gnss")
		}
	}

	if msg.GroundSpeedKt != nil || msg.TrackDeg != nil {
		gsOK := msg.GroundSpeedKt == nil || (*msg.GroundSpeedKt >= 0 && *msg.GroundSpeedKt <= adsb.MaxGroundSpeedKt)
		if !gsOK {
			t.met.RangeErrors.WithLabelValues("ground_speed").Inc()
		} else if a.fresher(fieldVelocity, ts) {
			if msg.GroundSpeedKt != nil {
				a.GroundSpeedKt = copyFloat(msg.GroundSpeedKt)
			}
			if msg.TrackDeg != nil {
				trk := normalizeTrack(*msg.TrackDeg)
				a.TrackDeg = &trk
			}
			mark("velocity")
		}
	}

	if (msg.TrueAirspeedKt != nil || msg.IndicatedAirspeedKt != nil) && a.fresher(fieldAirspeed, ts) {
		if msg.TrueAirspeedKt != nil {
			a.TrueAirspeedKt = copyInt(msg.TrueAirspeedKt)
		}
		if msg.IndicatedAirspeedKt != nil {
			a.IndicatedAirspeedKt = copyInt(msg.IndicatedAirspeedKt)
		}
	}
	if msg.MagHeadingDeg != nil && a.fresher(fieldHeading, ts) {
		a.MagHeadingDeg = copyFloat(msg.MagHeadingDeg)
	}
	if msg.VerticalRateFpm != nil && a.fresher(fieldVRate, ts) {
		a.VerticalRateFpm = copyInt(msg.VerticalRateFpm)
		a.VRSource = msg.VRSource
		mark("vertical_rate")
	}

	if msg.Squawk != nil && a.fresher(fieldSquawk, ts) {
		if a.Squawk == nil || *a.Squawk != *msg.Squawk {
			mark("squawk")
		}
		a.Squawk = copyUint16(msg.Squawk)
	}
	if msg.EmergencyState != nil && a.fresher(fieldEmergency, ts) {
		a.EmergencyState = copyUint8(msg.EmergencyState)
	}
	if (msg.SelectedAltFt != nil || msg.SelectedHdgDeg != nil) && a.fresher(fieldTargetState, ts) {
		if msg.SelectedAltFt != nil {
			a.SelectedAltFt = copyInt(msg.SelectedAltFt)
		}
		if msg.SelectedHdgDeg != nil {
			a.SelectedHdgDeg = copyFloat(msg.SelectedHdgDeg)
		}
	}

	// Quality fields take the latest value, no stickiness.
	if (msg.NACp != nil || msg.ADSBVersion != nil || msg.SurveillanceStatus != 0) && a.fresher(fieldQuality, ts) {
		if msg.NACp != nil {
			a.NACp = copyUint8(msg.NACp)
		}
		if msg.ADSBVersion != nil {
			a.ADSBVersion = copyUint8(msg.ADSBVersion)
		}
		if msg.SurveillanceStatus != 0 {
			a.SurveillanceStatus = msg.SurveillanceStatus
		}
	}

	if msg.BDS != nil {
		t.applyBDS(a, msg, up)
	}
}

// applyBDS commits Comm-B derived fields only on the second consecutive
// consistent reading of the same register, since register inference can
// falsely accept noise.
func (t *Tracker) applyBDS(a *Aircraft, msg *adsb.DecodedMessage, up *Update) {
	b := msg.BDS
	prev := a.pendingBDS[b.Register]
	a.pendingBDS[b.Register] = b
	if prev == nil || !bdsConsistent(prev, b) {
		return
	}
	ts := msg.Timestamp
	if !a.fresher(fieldBDS, ts) {
		return
	}
	switch b.Register {
	case "20":
		if b.Callsign != "" && !a.callsignFromIdent {
			if a.Callsign != b.Callsign {
				up.IdentChanged = true
				up.Changed = append(up.Changed, "callsign")
			}
			a.Callsign = b.Callsign
		}
	case "40":
		if b.SelectedAltMCPFt != nil {
			a.SelectedAltFt = copyInt(b.SelectedAltMCPFt)
		} else if b.SelectedAltFMSFt != nil {
			a.SelectedAltFt = copyInt(b.SelectedAltFMSFt)
		}
		if b.BaroSettingMb != nil {
			a.BaroSettingMb = copyFloat(b.BaroSettingMb)
		}
	case "50":
		if b.RollAngleDeg != nil {
			a.RollAngleDeg = copyFloat(b.RollAngleDeg)
		}
		if b.TrackRateDegS != nil {
			a.TrackRateDegS = copyFloat(b.TrackRateDegS)
		}
		if b.TrueAirspeedKt != nil {
			a.TrueAirspeedKt = copyInt(b.TrueAirspeedKt)
		}
		if b.GroundSpeedKt != nil && a.fresher(fieldVelocity, ts) {
			a.GroundSpeedKt = copyFloat(b.GroundSpeedKt)
			if b.TrueTrackDeg != nil {
				a.TrackDeg = copyFloat(b.TrueTrackDeg)
			}
		}
	case "60":
		if b.MagHeadingDeg != nil {
			a.MagHeadingDeg = copyFloat(b.MagHeadingDeg)
		}
		if b.IndicatedAirspeedKt != nil {
			a.IndicatedAirspeedKt = copyInt(b.IndicatedAirspeedKt)
		}
		if b.Mach != nil {
			a.Mach = copyFloat(b.Mach)
		}
		if b.BaroVRateFpm != nil && a.fresher(fieldVRate, ts) {
			a.VerticalRateFpm = copyInt(b.BaroVRateFpm)
			a.VRSource = adsb.VRSourceBaro
		}
	}
}

func (t *Tracker) applyPosition(a *Aircraft, msg *adsb.DecodedMessage, up *Update) {
	switch {
	case msg.Lat != nil && msg.Lon != nil:
		t.applySyntheticPosition(a, msg, up)
	case msg.CPR != nil:
		t.resolveCPR(a, msg, up)
	}
}

// applySyntheticPosition lets a JSON feed fill position only where no raw
// derived fix is live; feeds that aggregate remotely are lower quality than
// frames we decoded ourselves.
func (t *Tracker) applySyntheticPosition(a *Aircraft, msg *adsb.DecodedMessage, up *Update) {
	rawFix := a.HasPosition() && !a.positionSynthetic &&
		msg.Timestamp.Sub(a.PositionTime) < t.cfg.PositionTimeout
	if rawFix {
		return
	}
	t.setPosition(a, *msg.Lat, *msg.Lon, PositionJSON, msg.Timestamp, up)
}

func (t *Tracker) resolveCPR(a *Aircraft, msg *adsb.DecodedMessage, up *Update) {
	s := msg.CPR
	frame := &cprFrame{lat: s.LatRaw, lon: s.LonRaw, t: msg.Timestamp}

	var even, odd **cprFrame
	window := t.cfg.GlobalCPRWindow
	if s.Surface {
		even, odd = &a.cpr.evenSurf, &a.cpr.oddSurf
		window = t.cfg.SurfaceCPRWindow
	} else {
		even, odd = &a.cpr.evenAir, &a.cpr.oddAir
	}
	if s.Odd {
		*odd = frame
	} else {
		*even = frame
	}

	// Global first: both parities fresh.
	if *even != nil && *odd != nil && within((*even).t, (*odd).t, window) {
		var lat, lon float64
		var err error
		src := PositionGlobalCPR
		if s.Surface {
			src = PositionSurface
			refLat, refLon, ok := t.reference(a)
			if !ok {
				err = adsb.ErrCPRNoCandidate
			} else {
				lat, lon, err = adsb.DecodeGlobalSurface((*even).lat, (*even).lon, (*odd).lat, (*odd).lon, false, refLat, refLon)
			}
		} else {
			lat, lon, err = adsb.DecodeGlobal((*even).lat, (*even).lon, (*odd).lat, (*odd).lon, false)
		}
		if err == nil {
			if t.setPosition(a, lat, lon, src, msg.Timestamp, up) {
				up.PositionResolved = true
				if s.Surface {
					t.met.CPRSurface.Inc()
				} else {
					t.met.CPRGlobal.Inc()
				}
				return
			}
		} else if err != adsb.ErrCPRNoCandidate || !s.Surface {
			t.met.CPRFailed.Inc()
		}
	}

	// Local against the last fix or the receiver location.
	refLat, refLon, ok := t.reference(a)
	if !ok {
		return // half-frame stays buffered
	}
	rng := t.cfg.LocalCPRRangeNM
	if s.Surface {
		rng /= 4
	}
	lat, lon, err := adsb.DecodeLocal(*s, refLat, refLon, rng)
	if err != nil {
		t.met.CPRFailed.Inc()
		return
	}
	src := PositionLocalCPR
	if s.Surface {
		src = PositionSurface
	}
	if t.setPosition(a, lat, lon, src, msg.Timestamp, up) {
		up.PositionResolved = true
		if s.Surface {
			t.met.CPRSurface.Inc()
		} else {
			t.met.CPRLocal.Inc()
		}
	}
}

// reference picks the local-decode anchor: the aircraft's own recent fix,
// falling back to the configured receiver location.
func (t *Tracker) reference(a *Aircraft) (float64, float64, bool) {
	if a.HasPosition() && !a.positionSynthetic && t.now().Sub(a.PositionTime) < t.cfg.PositionTimeout {
		return *a.Lat, *a.Lon, true
	}
	if t.cfg.ReferenceLat != nil && t.cfg.ReferenceLon != nil {
		return *t.cfg.ReferenceLat, *t.cfg.ReferenceLon, true
	}
	return 0, 0, false
}

func (t *Tracker) setPosition(a *Aircraft, lat, lon float64, src PositionSource, ts time.Time, up *Update) bool {
	if lat < -90 || lat > 90 || lon < -180 || lon >= 180 {
		t.met.RangeErrors.WithLabelValues("position").Inc()
		return false
	}
	// A global fix displaces a local one even when its message timestamp
	// trails the stored fix inside the pairing window.
	globalOverLocal := src == PositionGlobalCPR && a.PositionSource == PositionLocalCPR &&
		a.PositionTime.Sub(ts) < t.cfg.GlobalCPRWindow
	if !a.fresher(fieldPosition, ts) && !globalOverLocal {
		return false
	}
	if globalOverLocal {
		a.fieldTimes[fieldPosition] = ts
	}
	a.Lat = &lat
	a.Lon = &lon
	a.PositionSource = src
	a.PositionTime = ts
	a.positionSynthetic = src == PositionJSON
	up.PositionChanged = true
	up.Changed = append(up.Changed, "position")
	return true
}

func categoryString(tc, ca uint8) string {
	var class byte
	switch tc {
	case 4:
		class = 'A'
	case 3:
		class = 'B'
	case 2:
		class = 'C'
	case 1:
		class = 'D'
	default:
		return ""
	}
	return fmt.Sprintf("%c%d", class, ca)
}

func normalizeTrack(deg float64) float64 {
	for deg < 0 {
		deg += 360
	}
	for deg >= 360 {
		deg -= 360
	}
	return deg
}

// bdsConsistent reports whether two consecutive readings of the same
// register agree within 5% (or a small absolute floor for near-zero values).
func bdsConsistent(a, b *adsb.BDSFields) bool {
	if a.Callsign != b.Callsign {
		return false
	}
	checks := []struct{ x, y *float64 }{
		{a.BaroSettingMb, b.BaroSettingMb},
		{a.RollAngleDeg, b.RollAngleDeg},
		{a.TrueTrackDeg, b.TrueTrackDeg},
		{a.GroundSpeedKt, b.GroundSpeedKt},
		{a.TrackRateDegS, b.TrackRateDegS},
		{a.MagHeadingDeg, b.MagHeadingDeg},
		{a.Mach, b.Mach},
	}
	for _, c := range checks {
		if !closeEnough(c.x, c.y) {
			return false
		}
	}
	ints := []struct{ x, y *int }{
		{a.SelectedAltMCPFt, b.SelectedAltMCPFt},
		{a.SelectedAltFMSFt, b.SelectedAltFMSFt},
		{a.TrueAirspeedKt, b.TrueAirspeedKt},
		{a.IndicatedAirspeedKt, b.IndicatedAirspeedKt},
		{a.BaroVRateFpm, b.BaroVRateFpm},
		{a.InertialVRateFpm, b.InertialVRateFpm},
	}
	for _, c := range ints {
		var x, y *float64
		if c.x != nil {
			v := float64(*c.x)
			x = &v
		}
		if c.y != nil {
			v := float64(*c.y)
			y = &v
		}
		if !closeEnough(x, y) {
			return false
		}
	}
	return true
}

func closeEnough(a, b *float64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	diff := *a - *b
	if diff < 0 {
		diff = -diff
	}
	limit := 0.05 * maxAbs(*a, *b)
	if limit < 1 {
		limit = 1
	}
	return diff <= limit
}

func maxAbs(a, b float64) float64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}

func within(a, b time.Time, d time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= d
}
