package app

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"skymesh/internal/adsb"
	"skymesh/internal/alert"
	"skymesh/internal/logging"
	"skymesh/internal/metrics"
	"skymesh/internal/source"
	"skymesh/internal/tracker"
	"skymesh/internal/watchlist"
)

// Application wires the pipeline: sources, validator/decoder, tracker,
// matcher, dispatcher, plus the HTTP and control surfaces.
type Application struct {
	cfg *Config
	log *logrus.Logger
	met *metrics.Metrics

	sources    *source.Manager
	track      *tracker.Tracker
	matcher    *watchlist.Matcher
	dispatcher *alert.Dispatcher
	alertLog   *logging.AlertLog

	// watchMu guards the mutable entry list behind control-channel edits.
	watchMu      sync.Mutex
	watchEntries []watchlist.Entry
}

// New builds the application from a resolved config.
func New(cfg *Config, log *logrus.Logger) (*Application, error) {
	met := metrics.New()

	sources, err := source.NewManager(cfg.Sources, cfg.SourceBuffer, met, log)
	if err != nil {
		return nil, err
	}

	track := tracker.New(cfg.Tracker, met, log)

	set, err := watchlist.Compile(cfg.Watchlist)
	if err != nil {
		return nil, err
	}
	matcher := watchlist.NewMatcher(set, 128, met, log)
	track.SetWatchlist(set.Contains)

	alertLog, err := logging.NewAlertLog(cfg.LogDir, cfg.UseUTC, log)
	if err != nil {
		return nil, err
	}

	dispatcher, err := alert.New(cfg.Dispatcher, met, log, alertLog)
	if err != nil {
		return nil, err
	}

	return &Application{
		cfg:          cfg,
		log:          log,
		met:          met,
		sources:      sources,
		track:        track,
		matcher:      matcher,
		dispatcher:   dispatcher,
		alertLog:     alertLog,
		watchEntries: append([]watchlist.Entry(nil), cfg.Watchlist...),
	}, nil
}

// Run starts every component and blocks until the context is cancelled,
// then shuts down within the configured grace period.
func (a *Application) Run(ctx context.Context) error {
	a.log.WithFields(logrus.Fields{
		"sources":   len(a.cfg.Sources),
		"watchlist": len(a.watchEntries),
	}).Info("starting pipeline")

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			a.log.WithField("component", name).Debug("component stopped")
		}()
	}

	start("sources", a.sources.Run)
	for i := 0; i < a.cfg.DecodeWorkers; i++ {
		start("decode", a.decodeLoop)
	}
	start("synthetic", a.syntheticLoop)
	start("expire", a.expireLoop)
	start("dispatcher", func(ctx context.Context) {
		a.dispatcher.Run(ctx, a.matcher.Events())
	})
	start("alert-log", a.alertLog.Run)
	if a.cfg.HTTPEnabled {
		start("http", a.serveHTTP)
	}
	if a.cfg.ControlEnabled {
		start("control", a.serveControl)
	}

	<-ctx.Done()
	a.log.Info("shutdown requested")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(a.cfg.ShutdownGrace):
		a.log.Warn("shutdown grace expired, exiting anyway")
	}

	a.dumpStats()
	return nil
}

// decodeLoop validates and decodes raw frames, then feeds the tracker and
// the matcher. Any number of these can run; the tracker serializes writes.
func (a *Application) decodeLoop(ctx context.Context) {
	frames := a.sources.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			a.processFrame(frame)
		}
	}
}

func (a *Application) processFrame(frame adsb.RawFrame) {
	vf, rej := adsb.ValidateFrame(frame, a.track.KnownICAO)
	if rej != nil {
		a.met.FrameRejects.WithLabelValues(string(rej.Kind)).Inc()
		if rej.Kind == adsb.RejectCRC {
			a.met.CRCFail.Inc()
		}
		return
	}
	a.met.CRCPass.Inc()

	msg, derr := adsb.Decode(vf)
	if derr != nil {
		a.met.DecodeErrors.WithLabelValues(frame.SourceID, strconv.Itoa(int(vf.DF))).Inc()
		a.log.WithFields(logrus.Fields{
			"source": frame.SourceID,
			"df":     vf.DF,
			"tc":     derr.TC,
			"reason": derr.Reason,
		}).Debug("partial decode")
	}
	if msg == nil {
		return
	}
	if up := a.track.Ingest(msg); up != nil {
		a.matcher.Evaluate(up)
	}
}

func (a *Application) syntheticLoop(ctx context.Context) {
	synthetic := a.sources.Synthetic()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-synthetic:
			if up := a.track.Ingest(msg); up != nil {
				a.matcher.Evaluate(up)
			}
		}
	}
}

func (a *Application) expireLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.ExpireInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := a.track.Expire(now); removed > 0 {
				a.log.WithField("removed", removed).Debug("expired stale aircraft")
			}
		}
	}
}

// ReplaceWatchlist swaps the active watchlist everywhere it is cached.
func (a *Application) ReplaceWatchlist(entries []watchlist.Entry) error {
	set, err := watchlist.Compile(entries)
	if err != nil {
		return err
	}
	a.watchMu.Lock()
	a.watchEntries = append([]watchlist.Entry(nil), entries...)
	a.watchMu.Unlock()
	a.matcher.Replace(set)
	a.track.SetWatchlist(set.Contains)
	a.log.WithField("entries", set.Len()).Info("watchlist replaced")
	return nil
}

// WatchlistEntries returns a copy of the active entries.
func (a *Application) WatchlistEntries() []watchlist.Entry {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	return append([]watchlist.Entry(nil), a.watchEntries...)
}

func (a *Application) dumpStats() {
	snap, err := a.met.Snapshot()
	if err != nil {
		a.log.WithError(err).Error("failed to gather final counters")
		return
	}
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if snap[k] == 0 {
			continue
		}
		a.log.WithField("value", snap[k]).Info(fmt.Sprintf("final %s", k))
	}
	a.log.WithField("aircraft", a.track.Count()).Info("final aircraft count")
}
