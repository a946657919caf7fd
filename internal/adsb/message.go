package adsb

import (
	"time"
)

// RawFrame is a Mode S frame as delivered by a feeder, before validation.
type RawFrame struct {
	Bytes      []byte
	ReceivedAt time.Time
	SourceID   string

	// MLATCounter carries the Beast 48-bit 12 MHz counter when the framing
	// provides one; zero otherwise. Kept for future multilateration use,
	// the pipeline timestamp is always ReceivedAt.
	MLATCounter uint64
	SignalLevel byte
}

// ValidatedFrame is a RawFrame that passed length and CRC checks.
type ValidatedFrame struct {
	RawFrame
	DF uint8

	// ICAOCandidate is the address announced by the frame. For DF 17/18 and
	// DF 11 the CRC proves it (ICAOVerified); for surveillance replies it is
	// recovered from the syndrome and must match a tracked aircraft.
	ICAOCandidate uint32
	ICAOVerified  bool
}

// CPRSample is the raw encoded position carried by a position message.
// Resolution to latitude/longitude happens in the tracker, which owns the
// even/odd pairing state and the reference position.
type CPRSample struct {
	LatRaw  uint32 // 17 bits
	LonRaw  uint32 // 17 bits
	Odd     bool
	Surface bool
}

// VerticalRateSource identifies which sensor produced a vertical rate.
type VerticalRateSource string

const (
	VRSourceBaro VerticalRateSource = "baro"
	VRSourceGNSS VerticalRateSource = "gnss"
)

// BDSFields holds fields inferred from a Comm-B register (DF 20/21).
// Register identification is heuristic, so the tracker double-confirms
// these before applying them.
type BDSFields struct {
	Register string // "17", "20", "40", "50", "60"

	Callsign string // BDS 2.0

	// BDS 4.0
	SelectedAltMCPFt *int
	SelectedAltFMSFt *int
	BaroSettingMb    *float64

	// BDS 5.0
	RollAngleDeg   *float64
	TrueTrackDeg   *float64
	GroundSpeedKt  *float64
	TrackRateDegS  *float64
	TrueAirspeedKt *int

	// BDS 6.0
	MagHeadingDeg       *float64
	IndicatedAirspeedKt *int
	Mach                *float64
	BaroVRateFpm        *int
	InertialVRateFpm    *int
}

// DecodedMessage is the decoder output: one frame's worth of fields, with
// nil meaning "not carried by this message". The decoder is pure; nothing
// here references live tracker state.
type DecodedMessage struct {
	ICAO      uint32
	DF        uint8
	TC        uint8
	Timestamp time.Time
	SourceID  string

	// Synthetic marks messages translated from a JSON snapshot feed rather
	// than decoded from a raw frame.
	Synthetic bool

	// AddressVerified is true when the CRC proved the announced address:
	// DF 17/18 always, DF 11 only for a clean reply to interrogator 0.
	// The tracker refuses to create records from unverified addresses.
	AddressVerified bool

	Callsign string // empty when absent; may carry trailing-trimmed spaces
	Category uint8

	AltBaroFt *int
	AltGNSSFt *int
	Squawk    *uint16

	OnGround *bool
	CPR      *CPRSample

	GroundSpeedKt       *float64
	TrackDeg            *float64
	TrueAirspeedKt      *int
	IndicatedAirspeedKt *int
	MagHeadingDeg       *float64
	VerticalRateFpm     *int
	VRSource            VerticalRateSource
	GNSSAltDiffFt       *int

	// Position resolved upstream (JSON feeds deliver these directly).
	Lat *float64
	Lon *float64

	EmergencyState *uint8 // TC 28 subtype 1
	SelectedAltFt  *int   // TC 29
	SelectedHdgDeg *float64
	NACp           *uint8 // TC 31
	ADSBVersion    *uint8

	SurveillanceStatus uint8

	BDS *BDSFields
}

// HasIdentification reports whether the message carries identity fields.
func (m *DecodedMessage) HasIdentification() bool {
	return m.Callsign != ""
}

// HasPosition reports whether the message carries position information,
// either raw CPR or an already-resolved fix.
func (m *DecodedMessage) HasPosition() bool {
	return m.CPR != nil || (m.Lat != nil && m.Lon != nil)
}

// DF returns the downlink format of a raw Mode S payload.
func FrameDF(data []byte) uint8 {
	if len(data) == 0 {
		return 0xFF
	}
	return data[0] >> 3
}

// ICAOFromBytes reads the 24-bit address field of DF 11/17/18 frames.
func ICAOFromBytes(data []byte) uint32 {
	if len(data) < 4 {
		return 0
	}
	return uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
}
