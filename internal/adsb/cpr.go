package adsb

import (
	"errors"
	"math"

	"github.com/golang/geo/s2"
)

// Compact Position Reporting. The decoder only extracts raw 17-bit values;
// the pairing state, reference position and freshness policy live with the
// tracker, which calls into these pure functions.

var (
	// ErrCPRZone is returned when the even and odd frames fall in different
	// latitude zones, or the computed latitude is out of range.
	ErrCPRZone = errors.New("cpr: frames straddle a latitude zone")
	// ErrCPRRange is returned by local decoding when the solution is too far
	// from the reference to be trusted.
	ErrCPRRange = errors.New("cpr: position outside local decoding range")
	// ErrCPRNoCandidate is returned by surface decoding when no longitude
	// candidate falls near the reference.
	ErrCPRNoCandidate = errors.New("cpr: no surface candidate near reference")
)

const earthRadiusNM = 3440.065

// nlTransitions holds the latitude at which NL drops from 59-i to 58-i.
// Values from the NL(lat) closed form, pre-computed per the standard.
var nlTransitions = [...]float64{
	10.47047130, 14.82817437, 18.18626357, 21.02939493, 23.54504487,
	25.82924707, 27.93898710, 29.91135686, 31.77209708, 33.53993436,
	35.22899598, 36.85025108, 38.41241892, 39.92256684, 41.38651832,
	42.80914012, 44.19454951, 45.54626723, 46.86733252, 48.16039128,
	49.42776439, 50.67150166, 51.89342469, 53.09516153, 54.27817472,
	55.44378444, 56.59318756, 57.72747354, 58.84763776, 59.95459277,
	61.04917774, 62.13216659, 63.20427479, 64.26616523, 65.31845310,
	66.36171008, 67.39646774, 68.42322022, 69.44242631, 70.45451075,
	71.45986473, 72.45884545, 73.45177442, 74.43893416, 75.42056257,
	76.39684391, 77.36789461, 78.33374083, 79.29428225, 80.24923213,
	81.19801349, 82.13956981, 83.07199445, 83.99173563, 84.89166191,
	85.75541621, 86.53536998, 87.00000000,
}

// NL returns the number of longitude zones at a latitude.
func NL(lat float64) int {
	abs := math.Abs(lat)
	for i, t := range nlTransitions {
		if abs < t {
			return 59 - i
		}
	}
	return 1
}

func cprMod(a, b float64) float64 {
	r := math.Mod(a, b)
	if r < 0 {
		r += b
	}
	return r
}

func nFunc(lat float64, odd bool) int {
	nl := NL(lat)
	if odd {
		nl--
	}
	if nl < 1 {
		nl = 1
	}
	return nl
}

// DecodeGlobal resolves an even/odd pair of airborne frames. useOdd selects
// which frame supplies the final fix (the fresher one).
func DecodeGlobal(evenLat, evenLon, oddLat, oddLon uint32, useOdd bool) (float64, float64, error) {
	dlatEven := 360.0 / 60.0
	dlatOdd := 360.0 / 59.0

	latE := float64(evenLat) / CPRMax
	latO := float64(oddLat) / CPRMax

	j := math.Floor(59*latE - 60*latO + 0.5)

	rlatE := dlatEven * (cprMod(j, 60) + latE)
	rlatO := dlatOdd * (cprMod(j, 59) + latO)
	if rlatE >= 270 {
		rlatE -= 360
	}
	if rlatO >= 270 {
		rlatO -= 360
	}
	if rlatE < -90 || rlatE > 90 || rlatO < -90 || rlatO > 90 {
		return 0, 0, ErrCPRZone
	}
	if NL(rlatE) != NL(rlatO) {
		return 0, 0, ErrCPRZone
	}

	lonE := float64(evenLon) / CPRMax
	lonO := float64(oddLon) / CPRMax

	var lat, lon float64
	if useOdd {
		lat = rlatO
		ni := nFunc(rlatO, true)
		m := math.Floor(lonE*float64(NL(rlatO)-1) - lonO*float64(NL(rlatO)) + 0.5)
		lon = 360.0 / float64(ni) * (cprMod(m, float64(ni)) + lonO)
	} else {
		lat = rlatE
		ni := nFunc(rlatE, false)
		m := math.Floor(lonE*float64(NL(rlatE)-1) - lonO*float64(NL(rlatE)) + 0.5)
		lon = 360.0 / float64(ni) * (cprMod(m, float64(ni)) + lonE)
	}
	lon = normalizeLon(lon)
	return lat, lon, nil
}

// DecodeGlobalSurface resolves an even/odd pair of surface frames. Surface
// latitude repeats every 90 degrees and longitude four times around the
// globe, so a reference position selects among candidates; the chosen
// longitude must lie within 45 degrees of the reference.
func DecodeGlobalSurface(evenLat, evenLon, oddLat, oddLon uint32, useOdd bool, refLat, refLon float64) (float64, float64, error) {
	dlatEven := 90.0 / 60.0
	dlatOdd := 90.0 / 59.0

	latE := float64(evenLat) / CPRMax
	latO := float64(oddLat) / CPRMax

	j := math.Floor(59*latE - 60*latO + 0.5)

	rlatE := dlatEven * (cprMod(j, 60) + latE)
	rlatO := dlatOdd * (cprMod(j, 59) + latO)

	// The computed latitude sits in [0, 90); pick the northern or southern
	// solution closer to the reference.
	if refLat < rlatE-45 {
		rlatE -= 90
	}
	if refLat < rlatO-45 {
		rlatO -= 90
	}
	if NL(rlatE) != NL(rlatO) {
		return 0, 0, ErrCPRZone
	}

	lonE := float64(evenLon) / CPRMax
	lonO := float64(oddLon) / CPRMax

	var lat, lon0 float64
	if useOdd {
		lat = rlatO
		ni := nFunc(rlatO, true)
		m := math.Floor(lonE*float64(NL(rlatO)-1) - lonO*float64(NL(rlatO)) + 0.5)
		lon0 = 90.0 / float64(ni) * (cprMod(m, float64(ni)) + lonO)
	} else {
		lat = rlatE
		ni := nFunc(rlatE, false)
		m := math.Floor(lonE*float64(NL(rlatE)-1) - lonO*float64(NL(rlatE)) + 0.5)
		lon0 = 90.0 / float64(ni) * (cprMod(m, float64(ni)) + lonE)
	}

	// Four longitude candidates, 90 degrees apart.
	for k := 0; k < 4; k++ {
		cand := normalizeLon(lon0 + float64(k)*90)
		if math.Abs(lonDelta(cand, refLon)) < 45 {
			return lat, cand, nil
		}
	}
	return 0, 0, ErrCPRNoCandidate
}

// DecodeLocal resolves a single frame against a reference position. The
// solution must fall within maxRangeNM of the reference (surface frames use
// a quarter of the airborne zone sizes).
func DecodeLocal(sample CPRSample, refLat, refLon, maxRangeNM float64) (float64, float64, error) {
	latSpan := 360.0
	if sample.Surface {
		latSpan = 90.0
	}
	dlat := latSpan / 60.0
	if sample.Odd {
		dlat = latSpan / 59.0
	}

	latFrac := float64(sample.LatRaw) / CPRMax
	j := math.Floor(refLat/dlat) + math.Floor(0.5+cprMod(refLat, dlat)/dlat-latFrac)
	lat := dlat * (j + latFrac)
	if lat < -90 || lat > 90 {
		return 0, 0, ErrCPRZone
	}

	ni := nFunc(lat, sample.Odd)
	lonSpan := 360.0
	if sample.Surface {
		lonSpan = 90.0
	}
	dlon := lonSpan / float64(ni)

	lonFrac := float64(sample.LonRaw) / CPRMax
	m := math.Floor(refLon/dlon) + math.Floor(0.5+cprMod(refLon, dlon)/dlon-lonFrac)
	lon := normalizeLon(dlon * (m + lonFrac))

	if DistanceNM(lat, lon, refLat, refLon) > maxRangeNM {
		return 0, 0, ErrCPRRange
	}
	return lat, lon, nil
}

// DistanceNM is the great-circle distance between two points in nautical
// miles.
func DistanceNM(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * earthRadiusNM
}

func normalizeLon(lon float64) float64 {
	lon -= math.Floor((lon+180)/360) * 360
	return lon
}

// lonDelta is the signed shortest angular difference a-b in degrees.
func lonDelta(a, b float64) float64 {
	d := math.Mod(a-b, 360)
	if d < -180 {
		d += 360
	}
	if d >= 180 {
		d -= 360
	}
	return d
}
