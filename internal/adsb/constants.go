package adsb

// Mode S 6-bit character set used by identification messages and BDS 2.0.
// A-Z at 1-26, space at 32, digits at 48-57; everything else is invalid.
const Charset = "#ABCDEFGHIJKLMNOPQRSTUVWXYZ##### ###############0123456789######"

// Mode S CRC-24 generator polynomial.
const GeneratorPoly = 0xfff409

// CPR field sizing: 17 bits of latitude and longitude per frame.
const (
	CPRBits = 17
	CPRMax  = 131072 // 2^17
)

// Downlink formats handled by the pipeline.
const (
	DFShortAirAir   = 0
	DFSurvAltitude  = 4
	DFSurvIdentity  = 5
	DFAllCall       = 11
	DFLongAirAir    = 16
	DFExtSquitter   = 17
	DFExtSquitterNT = 18
	DFCommBAltitude = 20
	DFCommBIdentity = 21
)

// Emergency squawk codes.
const (
	SquawkHijack       = 7500
	SquawkRadioFailure = 7600
	SquawkEmergency    = 7700
)

// Altitude sanity bounds in feet. Decoded values outside are range errors.
const (
	MinAltitudeFt = -1000
	MaxAltitudeFt = 60000
)

// MaxGroundSpeedKt bounds decoded ground speed in knots.
const MaxGroundSpeedKt = 5000
