package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"skymesh/internal/adsb"
)

// jsonPollSource periodically fetches an aircraft snapshot (dump1090-style
// aircraft.json) and translates each record into a synthetic DecodedMessage
// that bypasses the raw decoder.
type jsonPollSource struct {
	cfg    Config
	mgr    *Manager
	log    *logrus.Entry
	client *http.Client
}

func newJSONPollSource(cfg Config, mgr *Manager, log *logrus.Entry) *jsonPollSource {
	return &jsonPollSource{
		cfg: cfg,
		mgr: mgr,
		log: log,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type jsonSnapshot struct {
	Now      float64        `json:"now"`
	Aircraft []jsonAircraft `json:"aircraft"`
}

// jsonAltitude accepts either a number of feet or the literal "ground".
type jsonAltitude struct {
	Ft     *int
	Ground bool
}

func (a *jsonAltitude) UnmarshalJSON(b []byte) error {
	if string(b) == `"ground"` {
		a.Ground = true
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	ft := int(v)
	a.Ft = &ft
	return nil
}

type jsonAircraft struct {
	Hex      string        `json:"hex"`
	Flight   string        `json:"flight"`
	AltBaro  *jsonAltitude `json:"alt_baro"`
	AltGeom  *int          `json:"alt_geom"`
	GS       *float64      `json:"gs"`
	Track    *float64      `json:"track"`
	BaroRate *int          `json:"baro_rate"`
	GeomRate *int          `json:"geom_rate"`
	Squawk   string        `json:"squawk"`
	Category string        `json:"category"`
	NACp     *int          `json:"nac_p"`
	Lat      *float64      `json:"lat"`
	Lon      *float64      `json:"lon"`
	Seen     float64       `json:"seen"`
	SeenPos  float64       `json:"seen_pos"`
}

func (s *jsonPollSource) run(ctx context.Context) error {
	// The first poll doubles as the connection check; a failed fetch tears
	// the worker down into the normal backoff path.
	if err := s.poll(ctx); err != nil {
		return err
	}
	s.mgr.setUp(s.cfg.Name, true)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.poll(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *jsonPollSource) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("build poll request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("poll %s: %w", s.cfg.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poll %s: status %s", s.cfg.URL, resp.Status)
	}

	var snap jsonSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	now := time.Now()
	for i := range snap.Aircraft {
		if msg := s.translate(&snap.Aircraft[i], now); msg != nil {
			s.mgr.met.FramesReceived.WithLabelValues(s.cfg.Name).Inc()
			s.mgr.pushSynthetic(msg)
		}
	}
	return nil
}

func (s *jsonPollSource) translate(a *jsonAircraft, now time.Time) *adsb.DecodedMessage {
	hexAddr := strings.TrimSpace(a.Hex)
	if hexAddr == "" || strings.HasPrefix(hexAddr, "~") {
		// Non-ICAO (TIS-B track file) entries carry no stable address.
		return nil
	}
	icao, err := strconv.ParseUint(hexAddr, 16, 32)
	if err != nil || icao > 0xFFFFFF {
		return nil
	}

	msg := &adsb.DecodedMessage{
		ICAO:      uint32(icao),
		DF:        adsb.DFExtSquitter,
		Timestamp: now.Add(-time.Duration(a.Seen * float64(time.Second))),
		SourceID:  s.cfg.Name,
		Synthetic: true,
	}

	if cs := strings.TrimSpace(a.Flight); cs != "" {
		msg.Callsign = cs
	}
	if a.AltBaro != nil {
		if a.AltBaro.Ground {
			onGround := true
			msg.OnGround = &onGround
		} else if a.AltBaro.Ft != nil {
			msg.AltBaroFt = a.AltBaro.Ft
		}
	}
	msg.AltGNSSFt = a.AltGeom
	msg.GroundSpeedKt = a.GS
	msg.TrackDeg = a.Track
	switch {
	case a.BaroRate != nil:
		msg.VerticalRateFpm = a.BaroRate
		msg.VRSource = adsb.VRSourceBaro
	case a.GeomRate != nil:
		msg.VerticalRateFpm = a.GeomRate
		msg.VRSource = adsb.VRSourceGNSS
	}
	if sq, err := strconv.ParseUint(strings.TrimSpace(a.Squawk), 10, 16); err == nil && sq <= 7777 {
		v := uint16(sq)
		msg.Squawk = &v
	}
	if a.NACp != nil && *a.NACp >= 0 && *a.NACp <= 11 {
		v := uint8(*a.NACp)
		msg.NACp = &v
	}
	if a.Lat != nil && a.Lon != nil {
		msg.Lat = a.Lat
		msg.Lon = a.Lon
	}
	return msg
}
