package adsb

// Comm-B register inference for DF 20/21. There is no register number on
// the wire; a candidate register is accepted only when every sub-field is
// status-consistent and inside its legal range. Ambiguous payloads (more
// than one candidate matches) are discarded. The tracker additionally
// requires two consecutive consistent readings before applying anything
// derived here.

// inferBDS attempts to identify the 56-bit MB field. Returns nil when no
// register, or more than one, matches.
func inferBDS(mb []byte) *BDSFields {
	var matches []*BDSFields
	if f := tryBDS17(mb); f != nil {
		matches = append(matches, f)
	}
	if f := tryBDS20(mb); f != nil {
		matches = append(matches, f)
	}
	if f := tryBDS40(mb); f != nil {
		matches = append(matches, f)
	}
	if f := tryBDS50(mb); f != nil {
		matches = append(matches, f)
	}
	if f := tryBDS60(mb); f != nil {
		matches = append(matches, f)
	}
	if len(matches) != 1 {
		return nil
	}
	return matches[0]
}

// statusField reads a status-flagged value: status bit, then value bits.
// ok is false when the field is internally inconsistent (status clear but
// value bits set).
func statusField(mb []byte, statusBit, first, last int) (v uint32, present, ok bool) {
	v = meBits(mb, first, last)
	if meBits(mb, statusBit, statusBit) == 0 {
		return 0, false, v == 0
	}
	return v, true, true
}

// tryBDS17 checks the common-usage GICB capability report: a handful of
// capability flags followed by all-zero reserved bits.
func tryBDS17(mb []byte) *BDSFields {
	if meBits(mb, 25, 56) != 0 {
		return nil
	}
	if meBits(mb, 1, 24) == 0 {
		return nil
	}
	// BDS 0.5 and 0.6 capability bits are set on any ES-capable transponder.
	if meBits(mb, 1, 1) == 0 {
		return nil
	}
	return &BDSFields{Register: "17"}
}

// tryBDS20 checks the aircraft identification register.
func tryBDS20(mb []byte) *BDSFields {
	if mb[0] != 0x20 {
		return nil
	}
	cs, ok := decodeBDSCallsign(mb)
	if !ok || cs == "" {
		return nil
	}
	return &BDSFields{Register: "20", Callsign: cs}
}

func decodeBDSCallsign(mb []byte) (string, bool) {
	var out []byte
	for i := 0; i < 8; i++ {
		c := Charset[meBits(mb, 9+6*i, 14+6*i)]
		if c == '#' {
			return "", false
		}
		out = append(out, c)
	}
	s := string(out)
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s, true
}

// tryBDS40 checks the selected vertical intention register.
func tryBDS40(mb []byte) *BDSFields {
	mcp, mcpOK, ok1 := statusField(mb, 1, 2, 13)
	fms, fmsOK, ok2 := statusField(mb, 14, 15, 26)
	baro, baroOK, ok3 := statusField(mb, 27, 28, 39)
	if !ok1 || !ok2 || !ok3 {
		return nil
	}
	if meBits(mb, 40, 47) != 0 || meBits(mb, 52, 53) != 0 {
		return nil
	}
	if !mcpOK && !fmsOK && !baroOK {
		return nil
	}
	f := &BDSFields{Register: "40"}
	if mcpOK {
		alt := int(mcp) * 16
		if alt > 65000 {
			return nil
		}
		f.SelectedAltMCPFt = intPtr(alt)
	}
	if fmsOK {
		alt := int(fms) * 16
		if alt > 65000 {
			return nil
		}
		f.SelectedAltFMSFt = intPtr(alt)
	}
	if baroOK {
		pressure := float64(baro)*0.1 + 800
		if pressure < 800 || pressure > 1210 {
			return nil
		}
		f.BaroSettingMb = floatPtr(pressure)
	}
	return f
}

// tryBDS50 checks track and turn report.
func tryBDS50(mb []byte) *BDSFields {
	rollRaw, rollOK, ok1 := statusFieldSigned(mb, 1, 2, 3, 11)
	trkRaw, trkOK, ok2 := statusFieldSigned(mb, 12, 13, 14, 23)
	gsRaw, gsOK, ok3 := statusField(mb, 24, 25, 34)
	trRaw, trOK, ok4 := statusFieldSigned(mb, 35, 36, 37, 45)
	tasRaw, tasOK, ok5 := statusField(mb, 46, 47, 56)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil
	}
	if !rollOK && !trkOK && !gsOK && !trOK && !tasOK {
		return nil
	}
	f := &BDSFields{Register: "50"}
	if rollOK {
		roll := float64(rollRaw) * 45.0 / 256.0
		if roll < -50 || roll > 50 {
			return nil
		}
		f.RollAngleDeg = floatPtr(roll)
	}
	if trkOK {
		trk := float64(trkRaw) * 90.0 / 512.0
		if trk < 0 {
			trk += 360
		}
		f.TrueTrackDeg = floatPtr(trk)
	}
	if gsOK {
		gs := float64(gsRaw) * 2
		if gs > 600 {
			return nil
		}
		f.GroundSpeedKt = floatPtr(gs)
	}
	if trOK {
		f.TrackRateDegS = floatPtr(float64(trRaw) * 8.0 / 256.0)
	}
	if tasOK {
		tas := int(tasRaw) * 2
		if tas > 500 {
			return nil
		}
		f.TrueAirspeedKt = intPtr(tas)
	}
	if gsOK && tasOK {
		diff := float64(*f.TrueAirspeedKt) - *f.GroundSpeedKt
		if diff < -200 || diff > 200 {
			return nil
		}
	}
	return f
}

// tryBDS60 checks heading and speed report.
func tryBDS60(mb []byte) *BDSFields {
	hdgRaw, hdgOK, ok1 := statusFieldSigned(mb, 1, 2, 3, 12)
	iasRaw, iasOK, ok2 := statusField(mb, 13, 14, 23)
	machRaw, machOK, ok3 := statusField(mb, 24, 25, 34)
	bvrRaw, bvrOK, ok4 := statusFieldSigned(mb, 35, 36, 37, 45)
	ivrRaw, ivrOK, ok5 := statusFieldSigned(mb, 46, 47, 48, 56)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil
	}
	if !hdgOK && !iasOK && !machOK && !bvrOK && !ivrOK {
		return nil
	}
	f := &BDSFields{Register: "60"}
	if hdgOK {
		hdg := float64(hdgRaw) * 90.0 / 512.0
		if hdg < 0 {
			hdg += 360
		}
		f.MagHeadingDeg = floatPtr(hdg)
	}
	if iasOK {
		ias := int(iasRaw)
		if ias > 500 {
			return nil
		}
		f.IndicatedAirspeedKt = intPtr(ias)
	}
	if machOK {
		mach := float64(machRaw) * 2.048 / 512.0
		if mach > 1 {
			return nil
		}
		f.Mach = floatPtr(mach)
	}
	if bvrOK {
		vr := int(bvrRaw) * 32
		if vr < -6000 || vr > 6000 {
			return nil
		}
		f.BaroVRateFpm = intPtr(vr)
	}
	if ivrOK {
		vr := int(ivrRaw) * 32
		if vr < -6000 || vr > 6000 {
			return nil
		}
		f.InertialVRateFpm = intPtr(vr)
	}
	return f
}

// statusFieldSigned reads a status-flagged two's-complement-style field
// with an explicit sign bit.
func statusFieldSigned(mb []byte, statusBit, signBit, first, last int) (v int32, present, ok bool) {
	raw := meBits(mb, first, last)
	sign := meBits(mb, signBit, signBit)
	if meBits(mb, statusBit, statusBit) == 0 {
		return 0, false, raw == 0 && sign == 0
	}
	width := uint(last - first + 1)
	v = int32(raw)
	if sign == 1 {
		v = int32(raw) - int32(1)<<width
	}
	return v, true, true
}
