package app

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"skymesh/internal/watchlist"
)

// serveControl runs the line-oriented operator channel. One command per
// line, plain text responses terminated by "OK" or "ERR <reason>".
func (a *Application) serveControl(ctx context.Context) {
	ln, err := net.Listen("tcp", a.cfg.ControlListen)
	if err != nil {
		a.log.WithError(err).Error("control listener failed")
		return
	}
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	a.log.WithField("listen", a.cfg.ControlListen).Info("control channel listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.WithError(err).Warn("control accept failed")
			continue
		}
		go a.controlSession(ctx, conn)
	}
}

func (a *Application) controlSession(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 4096)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := strings.ToUpper(fields[0])
		switch cmd {
		case "QUIT":
			fmt.Fprintln(conn, "OK bye")
			return
		case "AIRCRAFT":
			a.controlAircraft(conn)
		case "STATS":
			a.controlStats(conn)
		case "HEALTH":
			a.controlHealth(conn)
		case "WATCHLIST":
			a.controlWatchlist(conn, fields[1:])
		case "TESTALERT":
			text := "skymesh test alert"
			if len(fields) > 1 {
				text = strings.Join(fields[1:], " ")
			}
			msg := a.dispatcher.Inject(text)
			fmt.Fprintf(conn, "OK queued id=%d\n", msg.ID)
		default:
			fmt.Fprintf(conn, "ERR unknown command %s\n", cmd)
		}
	}
}

func (a *Application) controlAircraft(conn net.Conn) {
	now := time.Now()
	for _, ac := range a.track.Snapshot() {
		pos := "-"
		if ac.HasPosition() {
			pos = fmt.Sprintf("%.5f,%.5f", *ac.Lat, *ac.Lon)
		}
		alt := "-"
		if ac.AltBaroFt != nil {
			alt = strconv.Itoa(*ac.AltBaroFt)
		}
		cs := ac.Callsign
		if cs == "" {
			cs = "-"
		}
		fmt.Fprintf(conn, "%06X %-8s %-20s %6s ft seen %.0fs msgs %d\n",
			ac.ICAO, cs, pos, alt, now.Sub(ac.LastSeen).Seconds(), ac.MessagesTotal)
	}
	fmt.Fprintf(conn, "OK %d aircraft\n", a.track.Count())
}

func (a *Application) controlStats(conn net.Conn) {
	counters, err := a.met.Snapshot()
	if err != nil {
		fmt.Fprintf(conn, "ERR %v\n", err)
		return
	}
	for name, up := range a.sources.SourceStates() {
		fmt.Fprintf(conn, "source %s up=%v\n", name, up)
	}
	for name, st := range a.dispatcher.Router().States() {
		fmt.Fprintf(conn, "interface %s state=%s\n", name, st)
	}
	for k, v := range counters {
		if v != 0 {
			fmt.Fprintf(conn, "%s %g\n", k, v)
		}
	}
	fmt.Fprintln(conn, "OK")
}

func (a *Application) controlHealth(conn net.Conn) {
	sourcesUp := !a.sources.AllDown()
	fmt.Fprintf(conn, "sources_up %v\n", sourcesUp)
	for name, st := range a.dispatcher.Router().States() {
		fmt.Fprintf(conn, "interface %s %s\n", name, st)
	}
	fmt.Fprintln(conn, "OK")
}

func (a *Application) controlWatchlist(conn net.Conn, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(conn, "ERR usage: WATCHLIST LIST|ADD kind value [label]|DEL value")
		return
	}
	switch strings.ToUpper(args[0]) {
	case "LIST":
		for _, e := range a.WatchlistEntries() {
			fmt.Fprintf(conn, "%s %s %s\n", e.Kind, e.Value, e.Label)
		}
		fmt.Fprintln(conn, "OK")
	case "ADD":
		if len(args) < 3 {
			fmt.Fprintln(conn, "ERR usage: WATCHLIST ADD kind value [label]")
			return
		}
		entry := watchlist.Entry{Kind: strings.ToLower(args[1]), Value: args[2]}
		if len(args) > 3 {
			entry.Label = strings.Join(args[3:], " ")
		}
		entries := append(a.WatchlistEntries(), entry)
		if err := a.ReplaceWatchlist(entries); err != nil {
			fmt.Fprintf(conn, "ERR %v\n", err)
			return
		}
		fmt.Fprintln(conn, "OK added")
	case "DEL":
		if len(args) < 2 {
			fmt.Fprintln(conn, "ERR usage: WATCHLIST DEL value")
			return
		}
		var kept []watchlist.Entry
		removed := 0
		for _, e := range a.WatchlistEntries() {
			if strings.EqualFold(e.Value, args[1]) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if removed == 0 {
			fmt.Fprintf(conn, "ERR no entry with value %s\n", args[1])
			return
		}
		if err := a.ReplaceWatchlist(kept); err != nil {
			fmt.Fprintf(conn, "ERR %v\n", err)
			return
		}
		fmt.Fprintf(conn, "OK removed %d\n", removed)
	default:
		fmt.Fprintf(conn, "ERR unknown subcommand %s\n", args[0])
	}
}
