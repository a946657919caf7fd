package alert

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"skymesh/internal/metrics"
	"skymesh/internal/watchlist"
)

// ChannelConfig is one LoRa mesh channel alerts can be sent on.
type ChannelConfig struct {
	Name            string
	Number          int
	PSK             string
	UplinkEnabled   bool
	DownlinkEnabled bool
	Template        string
	PositionFormat  string
}

// Config is the dispatcher configuration.
type Config struct {
	Channels         []ChannelConfig
	DefaultChannel   string
	Encrypt          bool
	MaxMessageLength int

	Throttle ThrottleConfig
	Queue    QueueConfig
	Routing  RouterConfig
	Serial   SerialConfig
	MQTT     MQTTConfig
}

func (c *Config) applyDefaults() {
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 200
	}
	if c.MaxMessageLength > HardMaxPayload {
		c.MaxMessageLength = HardMaxPayload
	}
}

// Sink receives a copy of every delivered alert, for the append-only log.
type Sink interface {
	Record(line string)
}

type channelRuntime struct {
	cfg       ChannelConfig
	formatter *Formatter
	cipher    *Cipher
}

// Dispatcher turns alert events into delivered radio messages: format,
// throttle, encrypt, queue, route.
type Dispatcher struct {
	cfg      Config
	channels map[string]*channelRuntime
	def      *channelRuntime

	throttle *Throttler
	queue    *Queue
	router   *Router

	log  *logrus.Logger
	met  *metrics.Metrics
	sink Sink
	now  func() time.Time
}

// New wires the dispatcher. Interfaces are built from the serial and MQTT
// sections; at least one must be enabled.
func New(cfg Config, met *metrics.Metrics, log *logrus.Logger, sink Sink) (*Dispatcher, error) {
	cfg.applyDefaults()

	var ifaces []Interface
	if cfg.MQTT.Enabled {
		ifaces = append(ifaces, NewMQTTInterface(cfg.MQTT, log))
	}
	if cfg.Serial.Enabled {
		ifaces = append(ifaces, NewSerialInterface(cfg.Serial, log))
	}
	router, err := NewRouter(cfg.Routing, ifaces, met, log)
	if err != nil {
		return nil, err
	}
	return newWithRouter(cfg, router, met, log, sink)
}

// NewWithInterfaces wires the dispatcher over explicit interfaces, used by
// tests with fake transports.
func NewWithInterfaces(cfg Config, ifaces []Interface, met *metrics.Metrics, log *logrus.Logger, sink Sink) (*Dispatcher, error) {
	cfg.applyDefaults()
	router, err := NewRouter(cfg.Routing, ifaces, met, log)
	if err != nil {
		return nil, err
	}
	return newWithRouter(cfg, router, met, log, sink)
}

func newWithRouter(cfg Config, router *Router, met *metrics.Metrics, log *logrus.Logger, sink Sink) (*Dispatcher, error) {
	d := &Dispatcher{
		cfg:      cfg,
		channels: make(map[string]*channelRuntime),
		throttle: NewThrottler(cfg.Throttle),
		queue:    NewQueue(cfg.Queue),
		router:   router,
		log:      log,
		met:      met,
		sink:     sink,
		now:      time.Now,
	}
	for _, ch := range cfg.Channels {
		if ch.Name == "" {
			return nil, fmt.Errorf("channel with empty name")
		}
		rt := &channelRuntime{
			cfg:       ch,
			formatter: NewFormatter(ch.Template, ch.PositionFormat),
		}
		if cfg.Encrypt && ch.PSK != "" {
			cipher, err := NewCipher(ch.PSK)
			if err != nil {
				return nil, fmt.Errorf("channel %s: %w", ch.Name, err)
			}
			rt.cipher = cipher
		}
		d.channels[ch.Name] = rt
	}
	if len(d.channels) == 0 {
		d.channels["alerts"] = &channelRuntime{
			cfg:       ChannelConfig{Name: "alerts", UplinkEnabled: true},
			formatter: NewFormatter("", ""),
		}
	}
	def := cfg.DefaultChannel
	if def == "" {
		if len(cfg.Channels) > 0 {
			def = cfg.Channels[0].Name
		} else {
			def = "alerts"
		}
	}
	rt, ok := d.channels[def]
	if !ok {
		return nil, fmt.Errorf("default channel %q not configured", def)
	}
	d.def = rt
	return d, nil
}

// SetClock replaces the wall clock, for deterministic tests.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
	d.router.SetClock(now)
}

// Router exposes interface states for the health view.
func (d *Dispatcher) Router() *Router {
	return d.router
}

// QueueLen reports the number of pending outbound messages.
func (d *Dispatcher) QueueLen() int {
	return d.queue.Len()
}

// HandleEvent runs one alert event through throttle, format and enqueue.
// Returns the queued outbound, or nil when suppressed.
func (d *Dispatcher) HandleEvent(ev watchlist.AlertEvent) *Outbound {
	now := d.now()
	if !d.throttle.Allow(ev.Aircraft.ICAO, ev.Critical, now) {
		d.met.AlertsSuppressed.Inc()
		return nil
	}

	rt := d.def
	text := truncate(rt.formatter.Format(ev), d.cfg.MaxMessageLength)

	payload := []byte(text)
	if rt.cipher != nil {
		enc, err := rt.cipher.Encrypt(payload)
		if err != nil {
			d.log.WithError(err).Error("alert encryption failed, dropping")
			d.met.AlertsDropped.Inc()
			return nil
		}
		payload = enc
	}

	prio := PriorityNormal
	if ev.Critical {
		prio = PriorityCritical
	}
	msg, dropped := d.queue.Enqueue(payload, rt.cfg.Name, prio, now)
	if dropped != nil {
		d.met.AlertsDropped.Inc()
		d.log.WithField("id", dropped.ID).Warn("outbound queue full, dropped oldest")
	}
	if d.sink != nil {
		d.sink.Record(fmt.Sprintf("%s %s", now.UTC().Format(time.RFC3339), text))
	}
	d.log.WithFields(logrus.Fields{
		"icao":     fmt.Sprintf("%06X", ev.Aircraft.ICAO),
		"reason":   ev.MatchReason,
		"id":       msg.ID,
		"priority": prio,
	}).Info("alert queued")
	return msg
}

// Inject enqueues an operator-supplied test message on the default channel.
func (d *Dispatcher) Inject(text string) *Outbound {
	now := d.now()
	payload := []byte(truncate(text, d.cfg.MaxMessageLength))
	if d.def.cipher != nil {
		if enc, err := d.def.cipher.Encrypt(payload); err == nil {
			payload = enc
		}
	}
	msg, _ := d.queue.Enqueue(payload, d.def.cfg.Name, PriorityLow, now)
	return msg
}

// truncate clips s to at most max bytes without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// Run consumes alert events and drains the outbound queue until the
// context ends. The router's health loop runs alongside.
func (d *Dispatcher) Run(ctx context.Context, events <-chan watchlist.AlertEvent) {
	go d.router.Run(ctx)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.HandleEvent(ev)
			d.Flush(ctx)
		case <-ticker.C:
			d.Flush(ctx)
		}
	}
}

// Flush attempts delivery of every due message.
func (d *Dispatcher) Flush(ctx context.Context) {
	for {
		now := d.now()
		msg, expired := d.queue.Due(now)
		for _, e := range expired {
			d.met.AlertsExpired.Inc()
			d.log.WithField("id", e.ID).Warn("outbound expired before delivery")
		}
		if msg == nil {
			return
		}
		if err := d.router.Deliver(ctx, msg); err != nil {
			if d.queue.Requeue(msg, now) {
				d.log.WithError(err).WithFields(logrus.Fields{
					"id": msg.ID, "attempt": msg.Attempts,
				}).Warn("delivery failed, scheduled retry")
			} else {
				d.met.AlertsDropped.Inc()
				d.log.WithError(err).WithField("id", msg.ID).Error("delivery failed, retries exhausted")
			}
			return
		}
	}
}
