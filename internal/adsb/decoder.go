package adsb

import (
	"fmt"
	"math"
	"strings"
)

// DecodeError reports a field that failed to decode. The message is still
// emitted with whatever fields did parse.
type DecodeError struct {
	DF     uint8
	TC     uint8
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode df=%d tc=%d: %s", e.DF, e.TC, e.Reason)
}

// Decode turns a validated frame into a DecodedMessage. It is deterministic
// and performs no I/O. Partial decodes return both a message and an error;
// callers count the error and keep the message.
func Decode(vf ValidatedFrame) (*DecodedMessage, *DecodeError) {
	msg := &DecodedMessage{
		ICAO:            vf.ICAOCandidate,
		DF:              vf.DF,
		Timestamp:       vf.ReceivedAt,
		SourceID:        vf.SourceID,
		AddressVerified: vf.ICAOVerified,
	}

	data := vf.Bytes

	switch vf.DF {
	case DFShortAirAir, DFLongAirAir:
		decodeAC13(msg, data)
		return msg, nil

	case DFSurvAltitude:
		decodeSurvStatus(msg, data)
		decodeAC13(msg, data)
		return msg, nil

	case DFSurvIdentity:
		decodeSurvStatus(msg, data)
		decodeID13(msg, data)
		return msg, nil

	case DFAllCall:
		return msg, nil

	case DFExtSquitter, DFExtSquitterNT:
		return msg, decodeExtendedSquitter(msg, data)

	case DFCommBAltitude:
		decodeSurvStatus(msg, data)
		decodeAC13(msg, data)
		msg.BDS = inferBDS(data[4:11])
		return msg, nil

	case DFCommBIdentity:
		decodeSurvStatus(msg, data)
		decodeID13(msg, data)
		msg.BDS = inferBDS(data[4:11])
		return msg, nil
	}

	return msg, &DecodeError{DF: vf.DF, Reason: "unhandled downlink format"}
}

func decodeExtendedSquitter(msg *DecodedMessage, data []byte) *DecodeError {
	me := data[4:11]
	tc := me[0] >> 3
	msg.TC = tc

	switch {
	case tc >= 1 && tc <= 4:
		msg.Category = (tc-1)<<3 | me[0]&0x07
		cs, ok := decodeCallsign(me)
		if !ok {
			return &DecodeError{DF: msg.DF, TC: tc, Reason: "callsign charset"}
		}
		msg.Callsign = cs

	case tc >= 5 && tc <= 8:
		decodeSurfacePosition(msg, me)

	case (tc >= 9 && tc <= 18) || (tc >= 20 && tc <= 22):
		decodeAirbornePosition(msg, me, tc)

	case tc == 19:
		return decodeVelocity(msg, me)

	case tc == 28:
		decodeEmergencyStatus(msg, me)

	case tc == 29:
		decodeTargetState(msg, me)

	case tc == 31:
		decodeOpsStatus(msg, me)

	default:
		return &DecodeError{DF: msg.DF, TC: tc, Reason: "unhandled type code"}
	}
	return nil
}

// meBits extracts an unsigned field from a bit-addressed payload using
// 1-based inclusive bit numbers, MSB first.
func meBits(data []byte, first, last int) uint32 {
	var v uint32
	for i := first; i <= last; i++ {
		byteIdx := (i - 1) / 8
		bitIdx := 7 - (i-1)%8
		if byteIdx >= len(data) {
			return 0
		}
		v = v<<1 | uint32(data[byteIdx]>>bitIdx)&1
	}
	return v
}

func decodeCallsign(me []byte) (string, bool) {
	var sb strings.Builder
	for i := 0; i < 8; i++ {
		c := Charset[meBits(me, 9+6*i, 14+6*i)]
		if c == '#' {
			return "", false
		}
		sb.WriteByte(c)
	}
	return strings.TrimRight(sb.String(), " "), true
}

// EncodeCallsign packs an up-to-8-character callsign back into the 48-bit
// identification field. It is the inverse of decodeCallsign for valid input.
func EncodeCallsign(callsign string) ([6]byte, error) {
	var out [6]byte
	if len(callsign) > 8 {
		return out, fmt.Errorf("callsign %q longer than 8 characters", callsign)
	}
	padded := callsign + strings.Repeat(" ", 8-len(callsign))
	for i := 0; i < 8; i++ {
		idx := strings.IndexByte(Charset, padded[i])
		if idx < 0 || padded[i] == '#' {
			return out, fmt.Errorf("character %q not in Mode S charset", padded[i])
		}
		first := 6 * i // bit offset within the 48-bit field
		for b := 0; b < 6; b++ {
			if idx>>(5-b)&1 == 1 {
				pos := first + b
				out[pos/8] |= 1 << (7 - pos%8)
			}
		}
	}
	return out, nil
}

func decodeSurvStatus(msg *DecodedMessage, data []byte) {
	fs := data[0] & 0x07
	msg.SurveillanceStatus = fs
	// FS 1 and 3 report on-ground.
	if fs == 1 || fs == 3 {
		msg.OnGround = boolPtr(true)
	} else if fs == 0 || fs == 2 {
		msg.OnGround = boolPtr(false)
	}
}

// decodeAC13 decodes the 13-bit altitude code of DF 0/4/16/20.
func decodeAC13(msg *DecodedMessage, data []byte) {
	if len(data) < 4 {
		return
	}
	ac := uint16(data[2]&0x1F)<<8 | uint16(data[3])
	if ac == 0 {
		return
	}
	if ac&0x40 != 0 {
		// M bit: metric altitude, not reported.
		return
	}
	if ac&0x10 != 0 {
		// Q bit: 25 ft binary. Drop M and Q bits.
		n := int(ac&0x1F80)>>2 | int(ac&0x20)>>1 | int(ac&0x0F)
		alt := n*25 - 1000
		msg.AltBaroFt = intPtr(alt)
		return
	}
	if alt, ok := gillhamAltitude(ac); ok {
		msg.AltBaroFt = intPtr(alt)
	}
}

// gillhamAltitude decodes a 13-bit Gillham (Gray) coded altitude field laid
// out as C1 A1 C2 A2 C4 A4 M B1 D1 B2 D2 B4 D4.
func gillhamAltitude(ac uint16) (int, bool) {
	bit := func(n uint) int { return int(ac>>n) & 1 }
	// MSB-first positions: C1=12 A1=11 C2=10 A2=9 C4=8 A4=7 M=6 B1=5 D1=4
	// B2=3 D2=2 B4=1 D4=0.
	c1, c2, c4 := bit(12), bit(10), bit(8)
	a1, a2, a4 := bit(11), bit(9), bit(7)
	b1, b2, b4 := bit(5), bit(3), bit(1)
	d1, d2, d4 := bit(4), bit(2), bit(0)
	if d1 != 0 {
		return 0, false
	}

	n500 := grayToBinary(d2<<7 | d4<<6 | a1<<5 | a2<<4 | a4<<3 | b1<<2 | b2<<1 | b4)
	n100 := grayToBinary(c1<<2 | c2<<1 | c4)

	if n100 == 0 || n100 == 5 || n100 == 6 {
		return 0, false
	}
	if n100 == 7 {
		n100 = 5
	}
	if n500%2 == 1 {
		n100 = 6 - n100
	}
	return n500*500 + n100*100 - 1300, true
}

func grayToBinary(g int) int {
	b := g
	for g >>= 1; g > 0; g >>= 1 {
		b ^= g
	}
	return b
}

// decodeID13 decodes the 13-bit identity (squawk) field laid out as
// C1 A1 C2 A2 C4 A4 X B1 D1 B2 D2 B4 D4.
func decodeID13(msg *DecodedMessage, data []byte) {
	if len(data) < 4 {
		return
	}
	id := uint16(data[2]&0x1F)<<8 | uint16(data[3])
	bit := func(n uint) uint16 { return id >> n & 1 }
	a := bit(7)<<2 | bit(9)<<1 | bit(11)
	b := bit(1)<<2 | bit(3)<<1 | bit(5)
	c := bit(8)<<2 | bit(10)<<1 | bit(12)
	d := bit(0)<<2 | bit(2)<<1 | bit(4)
	squawk := a*1000 + b*100 + c*10 + d
	msg.Squawk = squawkPtr(squawk)
}

func decodeAirbornePosition(msg *DecodedMessage, me []byte, tc uint8) {
	msg.SurveillanceStatus = uint8(meBits(me, 6, 7))
	msg.OnGround = boolPtr(false)

	alt12 := uint16(meBits(me, 9, 20))
	if alt12 != 0 {
		if alt, ok := decodeAC12(alt12); ok {
			if tc >= 20 {
				msg.AltGNSSFt = intPtr(alt)
			} else {
				msg.AltBaroFt = intPtr(alt)
			}
		}
	}

	msg.CPR = &CPRSample{
		Odd:    meBits(me, 22, 22) == 1,
		LatRaw: meBits(me, 23, 39),
		LonRaw: meBits(me, 40, 56),
	}
}

// decodeAC12 decodes the 12-bit altitude field of airborne position
// messages (the AC13 field with the M bit removed).
func decodeAC12(ac uint16) (int, bool) {
	if ac&0x10 != 0 {
		n := int(ac&0x0FE0)>>1 | int(ac&0x0F)
		return n*25 - 1000, true
	}
	// Reinsert M=0 to reuse the 13-bit Gillham path.
	ac13 := ac&0x0FC0<<1 | ac&0x003F
	return gillhamAltitude(ac13)
}

func decodeSurfacePosition(msg *DecodedMessage, me []byte) {
	msg.OnGround = boolPtr(true)

	if mov := meBits(me, 6, 12); mov != 0 {
		if kt, ok := surfaceMovementKt(mov); ok {
			msg.GroundSpeedKt = floatPtr(kt)
		}
	}
	if meBits(me, 13, 13) == 1 {
		trk := float64(meBits(me, 14, 20)) * 360.0 / 128.0
		msg.TrackDeg = floatPtr(trk)
	}

	msg.CPR = &CPRSample{
		Surface: true,
		Odd:     meBits(me, 22, 22) == 1,
		LatRaw:  meBits(me, 23, 39),
		LonRaw:  meBits(me, 40, 56),
	}
}

// surfaceMovementKt maps the 7-bit movement field to ground speed using the
// non-linear encoding table.
func surfaceMovementKt(mov uint32) (float64, bool) {
	switch {
	case mov == 1:
		return 0, true // stopped
	case mov >= 2 && mov <= 8:
		return 0.125 + float64(mov-2)*0.125, true
	case mov >= 9 && mov <= 12:
		return 1 + float64(mov-9)*0.25, true
	case mov >= 13 && mov <= 38:
		return 2 + float64(mov-13)*0.5, true
	case mov >= 39 && mov <= 93:
		return 15 + float64(mov-39)*1, true
	case mov >= 94 && mov <= 108:
		return 70 + float64(mov-94)*2, true
	case mov >= 109 && mov <= 123:
		return 100 + float64(mov-109)*5, true
	case mov == 124:
		return 175, true
	default:
		return 0, false // reserved
	}
}

func decodeVelocity(msg *DecodedMessage, me []byte) *DecodeError {
	subtype := me[0] & 0x07
	if subtype < 1 || subtype > 4 {
		return &DecodeError{DF: msg.DF, TC: 19, Reason: fmt.Sprintf("velocity subtype %d", subtype)}
	}

	switch subtype {
	case 1, 2:
		// Ground-referenced: signed EW/NS components.
		ewSign := meBits(me, 14, 14) == 1
		ewRaw := meBits(me, 15, 24)
		nsSign := meBits(me, 25, 25) == 1
		nsRaw := meBits(me, 26, 35)

		if ewRaw != 0 && nsRaw != 0 {
			scale := 1
			if subtype == 2 {
				scale = 4
			}
			ew := float64(int(ewRaw-1) * scale)
			if ewSign {
				ew = -ew
			}
			ns := float64(int(nsRaw-1) * scale)
			if nsSign {
				ns = -ns
			}
			gs := math.Hypot(ew, ns)
			trk := math.Atan2(ew, ns) * 180 / math.Pi
			if trk < 0 {
				trk += 360
			}
			msg.GroundSpeedKt = floatPtr(math.Round(gs))
			msg.TrackDeg = floatPtr(trk)
		}

	case 3, 4:
		// Air-referenced: magnetic heading plus airspeed.
		if meBits(me, 14, 14) == 1 {
			hdg := float64(meBits(me, 15, 24)) * 360.0 / 1024.0
			msg.MagHeadingDeg = floatPtr(hdg)
		}
		asRaw := meBits(me, 26, 35)
		if asRaw != 0 {
			scale := 1
			if subtype == 4 {
				scale = 4
			}
			speed := int(asRaw-1) * scale
			if meBits(me, 25, 25) == 1 {
				msg.TrueAirspeedKt = intPtr(speed)
			} else {
				msg.IndicatedAirspeedKt = intPtr(speed)
			}
		}
	}

	// Vertical rate is common to all subtypes.
	if vrRaw := meBits(me, 38, 46); vrRaw != 0 {
		vr := int(vrRaw-1) * 64
		if meBits(me, 37, 37) == 1 {
			vr = -vr
		}
		msg.VerticalRateFpm = intPtr(vr)
		if meBits(me, 36, 36) == 0 {
			msg.VRSource = VRSourceBaro
		} else {
			msg.VRSource = VRSourceGNSS
		}
	}

	if dRaw := meBits(me, 50, 56); dRaw != 0 && dRaw != 127 {
		diff := int(dRaw-1) * 25
		if meBits(me, 49, 49) == 1 {
			diff = -diff
		}
		msg.GNSSAltDiffFt = intPtr(diff)
	}

	return nil
}

func decodeEmergencyStatus(msg *DecodedMessage, me []byte) {
	if me[0]&0x07 != 1 {
		return
	}
	state := uint8(meBits(me, 9, 11))
	msg.EmergencyState = &state
	if sq := uint16(meBits(me, 12, 24)); sq != 0 {
		// The 13-bit field here uses the identity layout.
		tmp := DecodedMessage{}
		decodeID13(&tmp, []byte{0, 0, byte(sq >> 8 & 0x1F), byte(sq)})
		msg.Squawk = tmp.Squawk
	}
}

func decodeTargetState(msg *DecodedMessage, me []byte) {
	if meBits(me, 6, 7) != 1 {
		return // only DO-260B subtype 1 handled
	}
	if altRaw := meBits(me, 10, 20); altRaw != 0 {
		msg.SelectedAltFt = intPtr(int(altRaw-1) * 32)
	}
	if meBits(me, 30, 30) == 1 {
		hdg := float64(meBits(me, 31, 39)) * 180.0 / 256.0
		msg.SelectedHdgDeg = floatPtr(hdg)
	}
}

func decodeOpsStatus(msg *DecodedMessage, me []byte) {
	version := uint8(meBits(me, 41, 43))
	msg.ADSBVersion = &version
	nacp := uint8(meBits(me, 45, 48))
	msg.NACp = &nacp
}

func boolPtr(v bool) *bool        { return &v }
func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func squawkPtr(v uint16) *uint16  { return &v }
