package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"skymesh/internal/metrics"
)

// Routing policies.
const (
	RoutePrimary  = "primary"
	RouteAll      = "all"
	RouteFallback = "fallback"
)

// RouterConfig selects the delivery policy across interfaces.
type RouterConfig struct {
	Policy              string
	FailoverTimeout     time.Duration
	HealthCheckInterval time.Duration
}

func (c *RouterConfig) applyDefaults() {
	if c.Policy == "" {
		c.Policy = RoutePrimary
	}
	if c.FailoverTimeout <= 0 {
		c.FailoverTimeout = 30 * time.Second
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 60 * time.Second
	}
}

type ifaceState struct {
	iface Interface
	state State

	// stateSince is when the current state was entered.
	stateSince time.Time
}

// Router delivers outbound messages across the configured interfaces and
// runs their health probes. Interface order is priority order.
type Router struct {
	cfg RouterConfig
	log *logrus.Logger
	met *metrics.Metrics

	mu     sync.Mutex
	ifaces []*ifaceState
	now    func() time.Time
}

// NewRouter builds a router over the given interfaces, in priority order.
func NewRouter(cfg RouterConfig, ifaces []Interface, met *metrics.Metrics, log *logrus.Logger) (*Router, error) {
	cfg.applyDefaults()
	switch cfg.Policy {
	case RoutePrimary, RouteAll, RouteFallback:
	default:
		return nil, fmt.Errorf("unknown routing policy %q", cfg.Policy)
	}
	if len(ifaces) == 0 {
		return nil, fmt.Errorf("no outbound interfaces configured")
	}
	r := &Router{cfg: cfg, log: log, met: met, now: time.Now}
	for _, i := range ifaces {
		r.ifaces = append(r.ifaces, &ifaceState{iface: i, state: StateDisconnected})
	}
	return r, nil
}

// SetClock replaces the wall clock, for deterministic tests.
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// Run probes interface health until the context ends, then closes every
// interface.
func (r *Router) Run(ctx context.Context) {
	r.probeAll(ctx)
	ticker := time.NewTicker(r.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for _, is := range r.ifaces {
				_ = is.iface.Close()
			}
			return
		case <-ticker.C:
			r.probeAll(ctx)
		}
	}
}

func (r *Router) probeAll(ctx context.Context) {
	for _, is := range r.ifaces {
		err := is.iface.Probe(ctx)
		r.mu.Lock()
		if err != nil {
			r.transition(is, StateDegraded)
			r.log.WithError(err).WithField("interface", is.iface.Name()).Debug("health probe failed")
		} else {
			r.transition(is, StateConnected)
		}
		r.mu.Unlock()
	}
}

// States returns the current per-interface state.
func (r *Router) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.ifaces))
	for _, is := range r.ifaces {
		out[is.iface.Name()] = is.state
	}
	return out
}

// transition moves an interface between states; stateSince only advances on
// an actual change.
func (r *Router) transition(is *ifaceState, to State) {
	if is.state == to {
		return
	}
	is.state = to
	is.stateSince = r.now()
}

// Deliver sends one outbound according to the routing policy. An error
// means no interface accepted the message.
func (r *Router) Deliver(ctx context.Context, msg *Outbound) error {
	switch r.cfg.Policy {
	case RouteAll:
		return r.deliverAll(ctx, msg)
	case RouteFallback:
		return r.deliverFallback(ctx, msg)
	default:
		return r.deliverPrimary(ctx, msg)
	}
}

func (r *Router) deliverPrimary(ctx context.Context, msg *Outbound) error {
	var lastErr error
	for _, is := range r.ifaces {
		if err := r.attempt(ctx, is, msg); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("all interfaces failed: %w", lastErr)
}

func (r *Router) deliverAll(ctx context.Context, msg *Outbound) error {
	delivered := 0
	var lastErr error
	for _, is := range r.ifaces {
		if err := r.attempt(ctx, is, msg); err != nil {
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("all interfaces failed: %w", lastErr)
	}
	return nil
}

// deliverFallback prefers the first interface. Once it has been degraded
// past the failover timeout it is skipped outright until it has been back
// healthy for the same span.
func (r *Router) deliverFallback(ctx context.Context, msg *Outbound) error {
	r.mu.Lock()
	primary := r.ifaces[0]
	usePrimary := true
	if primary.state == StateDegraded && r.now().Sub(primary.stateSince) > r.cfg.FailoverTimeout {
		usePrimary = false
	}
	if primary.state == StateConnected && r.now().Sub(primary.stateSince) < r.cfg.FailoverTimeout && len(r.ifaces) > 1 {
		// Recently recovered; hold on the fallback a little longer.
		if secondary := r.ifaces[1]; secondary.state == StateConnected {
			usePrimary = false
		}
	}
	r.mu.Unlock()

	order := make([]*ifaceState, 0, len(r.ifaces))
	if usePrimary {
		order = append(order, r.ifaces...)
	} else {
		order = append(order, r.ifaces[1:]...)
		order = append(order, r.ifaces[0])
	}

	var lastErr error
	for _, is := range order {
		if err := r.attempt(ctx, is, msg); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("all interfaces failed: %w", lastErr)
}

// attempt performs one send on one interface, driving its state machine.
// A degraded interface fails fast until a probe restores it.
func (r *Router) attempt(ctx context.Context, is *ifaceState, msg *Outbound) error {
	name := is.iface.Name()

	r.mu.Lock()
	state := is.state
	r.mu.Unlock()

	if state == StateDisconnected {
		if err := is.iface.Connect(ctx); err != nil {
			r.mu.Lock()
			r.transition(is, StateDegraded)
			r.mu.Unlock()
			r.met.Deliveries.WithLabelValues(name, "fail").Inc()
			return fmt.Errorf("%s: %w", name, err)
		}
		r.mu.Lock()
		r.transition(is, StateConnected)
		r.mu.Unlock()
	} else if state == StateDegraded {
		r.met.Deliveries.WithLabelValues(name, "fail").Inc()
		return fmt.Errorf("%s: degraded", name)
	}

	if err := is.iface.Send(ctx, msg); err != nil {
		r.mu.Lock()
		r.transition(is, StateDegraded)
		r.mu.Unlock()
		r.met.Deliveries.WithLabelValues(name, "fail").Inc()
		return fmt.Errorf("%s: %w", name, err)
	}

	r.mu.Lock()
	r.transition(is, StateConnected)
	r.mu.Unlock()
	r.met.Deliveries.WithLabelValues(name, "ok").Inc()
	r.met.AlertsSent.WithLabelValues(name).Inc()
	return nil
}
