package adsb

import "fmt"

// Pre-computed CRC table, one entry per byte value.
var crcTable [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		c := uint32(i) << 16
		for j := 0; j < 8; j++ {
			if c&0x800000 != 0 {
				c = (c << 1) ^ GeneratorPoly
			} else {
				c <<= 1
			}
		}
		crcTable[i] = c & 0x00ffffff
	}
}

// Checksum computes the Mode S CRC-24 remainder over data, with the usual
// 24 zero bits appended. Over the data bytes of a frame (parity excluded)
// it yields the parity a clean transmitter would send.
func Checksum(data []byte) uint32 {
	var rem uint32
	for _, b := range data {
		rem = ((rem << 8) ^ crcTable[uint32(b)^((rem&0xff0000)>>16)]) & 0xffffff
	}
	return rem
}

// Syndrome XORs the computed parity with the received parity field. A clean
// DF 17/18 yields 0, a DF 11 the interrogator code, and a surveillance reply
// the transponder address overlaid on the parity.
func Syndrome(frame []byte) uint32 {
	n := len(frame)
	if n < 4 {
		return 0xffffff
	}
	recv := uint32(frame[n-3])<<16 | uint32(frame[n-2])<<8 | uint32(frame[n-1])
	return Checksum(frame[:n-3]) ^ recv
}

// RejectKind classifies why a frame was refused before decode.
type RejectKind string

const (
	RejectLength      RejectKind = "length"
	RejectCharset     RejectKind = "charset"
	RejectCRC         RejectKind = "crc"
	RejectUnknownICAO RejectKind = "unknown_icao"
	RejectDF          RejectKind = "df"
)

// FrameReject is the non-fatal outcome of failed validation. It is counted
// and the frame dropped; it never propagates past the validator.
type FrameReject struct {
	Kind   RejectKind
	Detail string
}

func (r *FrameReject) Error() string {
	return fmt.Sprintf("frame rejected (%s): %s", r.Kind, r.Detail)
}

// ValidateFrame runs length, DF and CRC checks over a raw frame. known
// reports whether an ICAO address is already tracked; surveillance replies
// whose recovered candidate is unknown are rejected, since their parity is
// folded with the address and cannot be checked standalone.
func ValidateFrame(raw RawFrame, known func(uint32) bool) (ValidatedFrame, *FrameReject) {
	vf := ValidatedFrame{RawFrame: raw}

	n := len(raw.Bytes)
	if n != 7 && n != 14 {
		return vf, &FrameReject{Kind: RejectLength, Detail: fmt.Sprintf("%d bytes", n)}
	}

	df := FrameDF(raw.Bytes)
	vf.DF = df

	wantLong := df >= 16
	if wantLong != (n == 14) {
		return vf, &FrameReject{Kind: RejectLength, Detail: fmt.Sprintf("df %d in %d-byte frame", df, n)}
	}

	syndrome := Syndrome(raw.Bytes)

	switch df {
	case DFExtSquitter, DFExtSquitterNT:
		if syndrome != 0 {
			return vf, &FrameReject{Kind: RejectCRC, Detail: fmt.Sprintf("syndrome %06x", syndrome)}
		}
		vf.ICAOCandidate = ICAOFromBytes(raw.Bytes)
		vf.ICAOVerified = true
		return vf, nil

	case DFAllCall:
		// PI = parity XOR interrogator id. Only a clean reply to
		// interrogator 0 proves the announced address; a nonzero 7-bit
		// code could equally be low-bit corruption, so those replies only
		// apply to aircraft already tracked.
		if syndrome == 0 {
			vf.ICAOCandidate = ICAOFromBytes(raw.Bytes)
			vf.ICAOVerified = true
			return vf, nil
		}
		if syndrome&^0x7F != 0 {
			return vf, &FrameReject{Kind: RejectCRC, Detail: fmt.Sprintf("syndrome %06x", syndrome)}
		}
		vf.ICAOCandidate = ICAOFromBytes(raw.Bytes)
		if known == nil || !known(vf.ICAOCandidate) {
			return vf, &FrameReject{Kind: RejectUnknownICAO, Detail: fmt.Sprintf("candidate %06x iid %02x", vf.ICAOCandidate, syndrome)}
		}
		return vf, nil

	case DFShortAirAir, DFSurvAltitude, DFSurvIdentity, DFLongAirAir, DFCommBAltitude, DFCommBIdentity:
		// AP = parity XOR address, so the syndrome is the candidate address.
		vf.ICAOCandidate = syndrome
		if known == nil || !known(syndrome) {
			return vf, &FrameReject{Kind: RejectUnknownICAO, Detail: fmt.Sprintf("candidate %06x", syndrome)}
		}
		return vf, nil

	default:
		return vf, &FrameReject{Kind: RejectDF, Detail: fmt.Sprintf("df %d", df)}
	}
}
