package alert

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/tzneal/coordconv"

	"skymesh/internal/watchlist"
)

// Position output formats.
const (
	PosDecimal      = "decimal"
	PosCompact      = "compact"
	PosUltraCompact = "ultra_compact"
	PosDMS          = "dms"
	PosMaidenhead   = "maidenhead"
	PosUTM          = "utm"
	PosMGRS         = "mgrs"
)

// DefaultTemplate is used when a channel does not configure its own.
const DefaultTemplate = "ALERT {label}: {callsign} ({icao}) {position} {altitude}ft {speed}kt trk {track} [{reason}]"

var tokenRe = regexp.MustCompile(`\{(\w+)\}`)

// Formatter renders alert events into outbound text. Formatting is pure;
// a nil field renders as "?".
type Formatter struct {
	template  string
	posFormat string
}

// NewFormatter builds a formatter for one channel.
func NewFormatter(template, posFormat string) *Formatter {
	if template == "" {
		template = DefaultTemplate
	}
	if posFormat == "" {
		posFormat = PosDecimal
	}
	return &Formatter{template: template, posFormat: posFormat}
}

// Format renders one event.
func (f *Formatter) Format(ev watchlist.AlertEvent) string {
	a := ev.Aircraft
	return tokenRe.ReplaceAllStringFunc(f.template, func(tok string) string {
		switch tok[1 : len(tok)-1] {
		case "icao":
			return fmt.Sprintf("%06X", a.ICAO)
		case "callsign":
			if a.Callsign == "" {
				return "?"
			}
			return strings.TrimSpace(a.Callsign)
		case "label":
			if ev.Label == "" {
				return "watchlist"
			}
			return ev.Label
		case "reason":
			return ev.MatchReason
		case "position":
			if !a.HasPosition() {
				return "no fix"
			}
			return FormatPosition(*a.Lat, *a.Lon, f.posFormat)
		case "lat":
			if a.Lat == nil {
				return "?"
			}
			return fmt.Sprintf("%.5f", *a.Lat)
		case "lon":
			if a.Lon == nil {
				return "?"
			}
			return fmt.Sprintf("%.5f", *a.Lon)
		case "altitude":
			if a.AltBaroFt == nil {
				return "?"
			}
			return fmt.Sprintf("%d", *a.AltBaroFt)
		case "altitude_gnss":
			if a.AltGNSSFt == nil {
				return "?"
			}
			return fmt.Sprintf("%d", *a.AltGNSSFt)
		case "speed":
			if a.GroundSpeedKt == nil {
				return "?"
			}
			return fmt.Sprintf("%.0f", *a.GroundSpeedKt)
		case "track":
			if a.TrackDeg == nil {
				return "?"
			}
			return fmt.Sprintf("%.0f", *a.TrackDeg)
		case "vertical_rate":
			if a.VerticalRateFpm == nil {
				return "?"
			}
			return fmt.Sprintf("%+d", *a.VerticalRateFpm)
		case "squawk":
			if a.Squawk == nil {
				return "?"
			}
			return fmt.Sprintf("%04d", *a.Squawk)
		case "category":
			if a.Category == "" {
				return "?"
			}
			return a.Category
		case "time":
			return ev.EventTime.UTC().Format("15:04:05Z")
		default:
			return tok
		}
	})
}

// FormatPosition renders a fix in the requested format. Unknown formats
// fall back to decimal.
func FormatPosition(lat, lon float64, format string) string {
	switch format {
	case PosCompact:
		return fmt.Sprintf("%.4f%c %.4f%c",
			math.Abs(lat), hemi(lat, 'N', 'S'),
			math.Abs(lon), hemi(lon, 'E', 'W'))
	case PosUltraCompact:
		latDeg, latMin := degMin(math.Abs(lat))
		lonDeg, lonMin := degMin(math.Abs(lon))
		return fmt.Sprintf("%02d%02d%c%03d%02d%c",
			latDeg, latMin, hemi(lat, 'N', 'S'),
			lonDeg, lonMin, hemi(lon, 'E', 'W'))
	case PosDMS:
		return fmt.Sprintf("%s%c %s%c",
			dms(math.Abs(lat)), hemi(lat, 'N', 'S'),
			dms(math.Abs(lon)), hemi(lon, 'E', 'W'))
	case PosMaidenhead:
		return maidenhead(lat, lon)
	case PosUTM:
		c, err := coordconv.DefaultUTMConverter.ConvertFromGeodetic(latLng(lat, lon), 0)
		if err != nil {
			return FormatPosition(lat, lon, PosDecimal)
		}
		return fmt.Sprintf("%d%c %.0f %.0f", c.Zone, hemi(lat, 'N', 'S'), c.Easting, c.Northing)
	case PosMGRS:
		c, err := coordconv.DefaultMGRSConverter.ConvertFromGeodetic(latLng(lat, lon), 5)
		if err != nil {
			return FormatPosition(lat, lon, PosDecimal)
		}
		return fmt.Sprintf("%s", c)
	default:
		return fmt.Sprintf("%.5f,%.5f", lat, lon)
	}
}

func latLng(lat, lon float64) s2.LatLng {
	return s2.LatLng{
		Lat: s1.Angle(lat * math.Pi / 180),
		Lng: s1.Angle(lon * math.Pi / 180),
	}
}

func hemi(v float64, pos, neg byte) byte {
	if v < 0 {
		return neg
	}
	return pos
}

func degMin(v float64) (int, int) {
	d := int(v)
	m := int(math.Round((v - float64(d)) * 60))
	if m == 60 {
		d, m = d+1, 0
	}
	return d, m
}

func dms(v float64) string {
	d := int(v)
	rem := (v - float64(d)) * 60
	m := int(rem)
	s := (rem - float64(m)) * 60
	return fmt.Sprintf("%d°%02d'%04.1f\"", d, m, s)
}

// maidenhead renders a 6-character grid locator.
func maidenhead(lat, lon float64) string {
	lon += 180
	lat += 90
	lon = math.Min(math.Max(lon, 0), 359.999999)
	lat = math.Min(math.Max(lat, 0), 179.999999)

	out := make([]byte, 6)
	out[0] = 'A' + byte(int(lon/20))
	out[1] = 'A' + byte(int(lat/10))
	out[2] = '0' + byte(int(math.Mod(lon, 20)/2))
	out[3] = '0' + byte(int(math.Mod(lat, 10)))
	out[4] = 'a' + byte(int(math.Mod(lon, 2)*12))
	out[5] = 'a' + byte(int(math.Mod(lat, 1)*24))
	return string(out)
}
