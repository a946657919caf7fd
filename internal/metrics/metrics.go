package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics carries every counter the pipeline exposes. Components receive a
// *Metrics and bump counters directly; nothing else crosses component
// boundaries on the error path.
type Metrics struct {
	registry *prometheus.Registry

	FramesReceived *prometheus.CounterVec // source
	FramesDropped  *prometheus.CounterVec // source
	SourceUp       *prometheus.GaugeVec   // source
	Reconnects     *prometheus.CounterVec // source

	CRCPass      prometheus.Counter
	CRCFail      prometheus.Counter
	FrameRejects *prometheus.CounterVec // kind
	DecodeErrors *prometheus.CounterVec // source, df
	RangeErrors  *prometheus.CounterVec // field
	Duplicates   prometheus.Counter

	MessagesIngested *prometheus.CounterVec // df
	AircraftTracked  prometheus.Gauge
	AircraftExpired  prometheus.Counter
	AircraftEvicted  prometheus.Counter

	CPRGlobal  prometheus.Counter
	CPRLocal   prometheus.Counter
	CPRSurface prometheus.Counter
	CPRFailed  prometheus.Counter

	WatchlistMatches prometheus.Counter
	AlertsSent       *prometheus.CounterVec // interface
	AlertsSuppressed prometheus.Counter
	AlertsExpired    prometheus.Counter
	AlertsDropped    prometheus.Counter
	Deliveries       *prometheus.CounterVec // interface, result
}

// New builds a Metrics set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		v := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "skymesh", Name: name, Help: help}, labels)
		reg.MustRegister(v)
		return v
	}
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "skymesh", Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}

	m.FramesReceived = counterVec("frames_received_total", "Raw frames received per source.", "source")
	m.FramesDropped = counterVec("frames_dropped_total", "Frames dropped on back-pressure per source.", "source")
	m.SourceUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "skymesh", Name: "source_up", Help: "1 when the source is connected."}, []string{"source"})
	reg.MustRegister(m.SourceUp)
	m.Reconnects = counterVec("source_reconnects_total", "Reconnect attempts per source.", "source")

	m.CRCPass = counter("crc_pass_total", "Frames with a clean CRC syndrome.")
	m.CRCFail = counter("crc_fail_total", "Frames failing CRC validation.")
	m.FrameRejects = counterVec("frame_rejects_total", "Frames rejected before decode by kind.", "kind")
	m.DecodeErrors = counterVec("decode_errors_total", "Field decode errors.", "source", "df")
	m.RangeErrors = counterVec("range_errors_total", "Decoded values outside legal bounds.", "field")
	m.Duplicates = counter("duplicate_messages_total", "Cross-source duplicate messages suppressed.")

	m.MessagesIngested = counterVec("messages_ingested_total", "Messages applied to the tracker by downlink format.", "df")
	m.AircraftTracked = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "skymesh", Name: "aircraft_tracked", Help: "Aircraft currently in the store."})
	reg.MustRegister(m.AircraftTracked)
	m.AircraftExpired = counter("aircraft_expired_total", "Aircraft removed by timeout.")
	m.AircraftEvicted = counter("aircraft_evicted_total", "Aircraft evicted by the capacity policy.")

	m.CPRGlobal = counter("cpr_global_total", "Positions resolved by global CPR.")
	m.CPRLocal = counter("cpr_local_total", "Positions resolved by local CPR.")
	m.CPRSurface = counter("cpr_surface_total", "Surface positions resolved.")
	m.CPRFailed = counter("cpr_failed_total", "CPR resolutions rejected.")

	m.WatchlistMatches = counter("watchlist_matches_total", "Tracker updates matching the watchlist.")
	m.AlertsSent = counterVec("alerts_sent_total", "Alerts delivered per interface.", "interface")
	m.AlertsSuppressed = counter("alerts_suppressed_total", "Alerts suppressed by throttling.")
	m.AlertsExpired = counter("alerts_expired_total", "Outbound messages dropped past their TTL.")
	m.AlertsDropped = counter("alerts_dropped_total", "Outbound messages dropped after exhausting retries.")
	m.Deliveries = counterVec("delivery_attempts_total", "Delivery attempts per interface and result.", "interface", "result")

	return m
}

// Registry exposes the underlying registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Snapshot flattens every registered metric into a name{labels} -> value
// map, for the stats view and the shutdown dump.
func (m *Metrics) Snapshot() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	out := make(map[string]float64)
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			key := fam.GetName()
			if labels := metric.GetLabel(); len(labels) > 0 {
				parts := make([]string, 0, len(labels))
				for _, l := range labels {
					parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
				}
				sort.Strings(parts)
				key += "{" + strings.Join(parts, ",") + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[key] = metric.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}
