package source

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"skymesh/internal/adsb"
	"skymesh/internal/metrics"
)

// Source types.
const (
	TypeBeastTCP = "beast_tcp"
	TypeAVRTCP   = "avr_tcp"
	TypeJSONPoll = "json_poll"
	TypeRawFile  = "raw_file"
)

// Config describes one inbound feeder.
type Config struct {
	Name string
	Type string

	Host string
	Port int
	URL  string // json_poll
	Path string // raw_file

	PollInterval     time.Duration
	ReadIdleTimeout  time.Duration
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	ReplayRealtime   bool
	ReplayLoop       bool
	ReplayFrameDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = 60 * time.Second
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
}

// SourceFatal marks a configuration error; the worker for that source does
// not start. Runtime failures never produce it, they reconnect instead.
type SourceFatal struct {
	Source string
	Reason string
}

func (e *SourceFatal) Error() string {
	return fmt.Sprintf("source %s: %s", e.Source, e.Reason)
}

// worker is one feeder loop. run blocks until the context is cancelled or a
// connection-level error occurs; the manager handles backoff between runs.
type worker interface {
	run(ctx context.Context) error
}

// Manager owns every inbound feeder. Each source writes into its own
// bounded queue; when that queue is full the source sheds its own oldest
// frame, so a slow consumer never stalls a reader and one source backing up
// never costs another its frames. Run merges the queues into a single
// stream for the validator, preserving per-source ordering.
type Manager struct {
	sources []Config
	log     *logrus.Logger
	met     *metrics.Metrics

	queueSize int
	frames    chan adsb.RawFrame
	synthetic chan *adsb.DecodedMessage

	mu     sync.Mutex
	up     map[string]bool
	queues map[string]chan adsb.RawFrame
}

// NewManager validates the source list and builds the manager. Invalid
// configuration is the only fatal condition.
func NewManager(sources []Config, bufferSize int, met *metrics.Metrics, log *logrus.Logger) (*Manager, error) {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	seen := make(map[string]bool)
	for i := range sources {
		c := &sources[i]
		if c.Name == "" {
			return nil, &SourceFatal{Source: fmt.Sprintf("#%d", i), Reason: "missing name"}
		}
		if seen[c.Name] {
			return nil, &SourceFatal{Source: c.Name, Reason: "duplicate name"}
		}
		seen[c.Name] = true
		switch c.Type {
		case TypeBeastTCP, TypeAVRTCP:
			if c.Host == "" || c.Port <= 0 || c.Port > 65535 {
				return nil, &SourceFatal{Source: c.Name, Reason: fmt.Sprintf("invalid address %s:%d", c.Host, c.Port)}
			}
		case TypeJSONPoll:
			if c.URL == "" {
				return nil, &SourceFatal{Source: c.Name, Reason: "missing url"}
			}
		case TypeRawFile:
			if c.Path == "" {
				return nil, &SourceFatal{Source: c.Name, Reason: "missing path"}
			}
		default:
			return nil, &SourceFatal{Source: c.Name, Reason: fmt.Sprintf("unknown type %q", c.Type)}
		}
		c.applyDefaults()
	}
	return &Manager{
		sources:   sources,
		log:       log,
		met:       met,
		queueSize: bufferSize,
		frames:    make(chan adsb.RawFrame, bufferSize),
		synthetic: make(chan *adsb.DecodedMessage, 256),
		up:        make(map[string]bool),
		queues:    make(map[string]chan adsb.RawFrame),
	}, nil
}

// Frames is the raw frame stream for the validator.
func (m *Manager) Frames() <-chan adsb.RawFrame {
	return m.frames
}

// Synthetic is the stream of json_poll messages, which bypass the decoder.
func (m *Manager) Synthetic() <-chan *adsb.DecodedMessage {
	return m.synthetic
}

// Run starts one worker and one queue forwarder per source and blocks
// until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range m.sources {
		cfg := m.sources[i]
		q := m.queue(cfg.Name)
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.forward(ctx, q)
		}()
		go func() {
			defer wg.Done()
			m.runSource(ctx, cfg)
		}()
	}
	wg.Wait()
}

// queue returns the bounded per-source frame queue, creating it on first
// use.
func (m *Manager) queue(source string) chan adsb.RawFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[source]
	if !ok {
		q = make(chan adsb.RawFrame, m.queueSize)
		m.queues[source] = q
	}
	return q
}

// forward drains one source queue into the merged frame stream.
func (m *Manager) forward(ctx context.Context, q <-chan adsb.RawFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-q:
			select {
			case m.frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}

// AllDown reports whether no source is currently connected.
func (m *Manager) AllDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, up := range m.up {
		if up {
			return false
		}
	}
	return true
}

// SourceStates returns the current per-source connection state.
func (m *Manager) SourceStates() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.up))
	for k, v := range m.up {
		out[k] = v
	}
	return out
}

func (m *Manager) setUp(name string, up bool) {
	m.mu.Lock()
	m.up[name] = up
	m.mu.Unlock()
	v := 0.0
	if up {
		v = 1
	}
	m.met.SourceUp.WithLabelValues(name).Set(v)
}

func (m *Manager) runSource(ctx context.Context, cfg Config) {
	log := m.log.WithFields(logrus.Fields{"source": cfg.Name, "type": cfg.Type})

	var w worker
	switch cfg.Type {
	case TypeBeastTCP:
		w = &beastSource{cfg: cfg, mgr: m, log: log}
	case TypeAVRTCP:
		w = &avrSource{cfg: cfg, mgr: m, log: log}
	case TypeJSONPoll:
		w = newJSONPollSource(cfg, m, log)
	case TypeRawFile:
		w = &fileSource{cfg: cfg, mgr: m, log: log}
	}

	m.setUp(cfg.Name, false)
	backoff := cfg.BackoffInitial
	for {
		if ctx.Err() != nil {
			return
		}
		err := w.run(ctx)
		m.setUp(cfg.Name, false)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.WithError(err).Warn("source disconnected, reconnecting")
		} else {
			log.Info("source stream ended, reconnecting")
		}
		m.met.Reconnects.WithLabelValues(cfg.Name).Inc()

		// Full jitter: sleep a uniform fraction of the current backoff.
		sleep := time.Duration(rand.Int63n(int64(backoff) + 1))
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
		backoff *= 2
		if backoff > cfg.BackoffMax {
			backoff = cfg.BackoffMax
		}
	}
}

// pushFrame hands a frame to its source's queue, dropping that source's
// oldest frame when the queue is full.
func (m *Manager) pushFrame(f adsb.RawFrame) {
	m.met.FramesReceived.WithLabelValues(f.SourceID).Inc()
	q := m.queue(f.SourceID)
	select {
	case q <- f:
		return
	default:
	}
	select {
	case <-q:
		m.met.FramesDropped.WithLabelValues(f.SourceID).Inc()
	default:
	}
	select {
	case q <- f:
	default:
		m.met.FramesDropped.WithLabelValues(f.SourceID).Inc()
	}
}

func (m *Manager) pushSynthetic(msg *adsb.DecodedMessage) {
	select {
	case m.synthetic <- msg:
		return
	default:
	}
	select {
	case old := <-m.synthetic:
		m.met.FramesDropped.WithLabelValues(old.SourceID).Inc()
	default:
	}
	select {
	case m.synthetic <- msg:
	default:
		m.met.FramesDropped.WithLabelValues(msg.SourceID).Inc()
	}
}
