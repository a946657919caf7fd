package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"skymesh/internal/alert"
	"skymesh/internal/tracker"
)

// aircraftJSON is the dump1090-compatible wire shape of one aircraft.
type aircraftJSON struct {
	Hex      string   `json:"hex"`
	Flight   string   `json:"flight,omitempty"`
	Category string   `json:"category,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
	AltBaro  *int     `json:"alt_baro,omitempty"`
	AltGeom  *int     `json:"alt_geom,omitempty"`
	GS       *float64 `json:"gs,omitempty"`
	Track    *float64 `json:"track,omitempty"`
	BaroRate *int     `json:"baro_rate,omitempty"`
	Squawk   string   `json:"squawk,omitempty"`
	Emerg    bool     `json:"emergency,omitempty"`
	Ground   *bool    `json:"on_ground,omitempty"`
	PosSrc   string   `json:"position_source,omitempty"`
	Seen     float64  `json:"seen"`
	Messages uint64   `json:"messages"`
	Watch    bool     `json:"watchlist,omitempty"`
}

func toAircraftJSON(a *tracker.Aircraft, now time.Time) aircraftJSON {
	out := aircraftJSON{
		Hex:      fmt.Sprintf("%06x", a.ICAO),
		Flight:   a.Callsign,
		Category: a.Category,
		Lat:      a.Lat,
		Lon:      a.Lon,
		AltBaro:  a.AltBaroFt,
		AltGeom:  a.AltGNSSFt,
		GS:       a.GroundSpeedKt,
		Track:    a.TrackDeg,
		BaroRate: a.VerticalRateFpm,
		Ground:   a.OnGround,
		PosSrc:   string(a.PositionSource),
		Seen:     now.Sub(a.LastSeen).Seconds(),
		Messages: a.MessagesTotal,
		Watch:    a.IsWatchlist,
	}
	if a.Squawk != nil {
		out.Squawk = fmt.Sprintf("%04d", *a.Squawk)
	}
	out.Emerg = a.EmergencySquawk()
	return out
}

func (a *Application) serveHTTP(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/aircraft.json", a.handleAircraft)
	mux.HandleFunc("/stats.json", a.handleStats)
	mux.HandleFunc("/health", a.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(a.met.Registry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         a.cfg.HTTPListen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	a.log.WithField("listen", a.cfg.HTTPListen).Info("http server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.log.WithError(err).Error("http server failed")
	}
}

func (a *Application) handleAircraft(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	snap := a.track.Snapshot()
	list := make([]aircraftJSON, 0, len(snap))
	for _, ac := range snap {
		list = append(list, toAircraftJSON(ac, now))
	}
	writeJSON(w, map[string]interface{}{
		"now":              float64(now.UnixMilli()) / 1000,
		"sources_all_down": a.sources.AllDown(),
		"aircraft":         list,
	})
}

func (a *Application) handleStats(w http.ResponseWriter, r *http.Request) {
	counters, err := a.met.Snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"counters":         counters,
		"aircraft_tracked": a.track.Count(),
		"sources":          a.sources.SourceStates(),
		"sources_all_down": a.sources.AllDown(),
		"interfaces":       a.dispatcher.Router().States(),
		"outbound_queued":  a.dispatcher.QueueLen(),
	})
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"any_source_up": !a.sources.AllDown(),
	}
	anyIface := false
	for name, st := range a.dispatcher.Router().States() {
		up := st == alert.StateConnected
		checks["interface_"+name] = up
		anyIface = anyIface || up
	}
	checks["any_interface_up"] = anyIface

	healthy := checks["any_source_up"] && anyIface
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, map[string]interface{}{
		"healthy": healthy,
		"checks":  checks,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
