package alert

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skymesh/internal/adsb"
	"skymesh/internal/metrics"
	"skymesh/internal/tracker"
	"skymesh/internal/watchlist"
)

func ingestFrame(t *testing.T, tr *tracker.Tracker, raw string, ts time.Time, source string) *tracker.Update {
	t.Helper()
	b, err := hex.DecodeString(raw)
	require.NoError(t, err)
	vf, rej := adsb.ValidateFrame(adsb.RawFrame{Bytes: b, ReceivedAt: ts, SourceID: source}, tr.KnownICAO)
	require.Nil(t, rej)
	msg, derr := adsb.Decode(vf)
	require.Nil(t, derr)
	return tr.Ingest(msg)
}

func pipelineMatcher(t *testing.T, met *metrics.Metrics, tr *tracker.Tracker, icao string) *watchlist.Matcher {
	t.Helper()
	set, err := watchlist.Compile([]watchlist.Entry{
		{Kind: watchlist.KindICAOExact, Value: icao, Label: "target"},
	})
	require.NoError(t, err)
	tr.SetWatchlist(set.Contains)
	return watchlist.NewMatcher(set, 8, met, alertTestLogger())
}

// TestRepeatAlertAfterCooldown replays the same identification squitter at
// t, t+10s and t+70s against a 60 s cooldown: the first sighting alerts,
// the second is suppressed, the third alerts again.
func TestRepeatAlertAfterCooldown(t *testing.T) {
	met := metrics.New()
	tr := tracker.New(tracker.Config{}, met, alertTestLogger())
	tr.SetClock(func() time.Time { return dispT0 })
	matcher := pipelineMatcher(t, met, tr, "4840d6")

	d, now := newTestDispatcher(t, Config{
		Throttle: ThrottleConfig{MinInterval: 60 * time.Second},
	})

	const frame = "8D4840D6202CC371C32CE0576098"
	deliveries := 0
	for _, offset := range []time.Duration{0, 10 * time.Second, 70 * time.Second} {
		*now = dispT0.Add(offset)
		up := ingestFrame(t, tr, frame, dispT0.Add(offset), "beast1")
		require.NotNil(t, up)
		assert.False(t, up.Duplicate)
		matcher.Evaluate(up)

		select {
		case ev := <-matcher.Events():
			assert.Equal(t, "KLM1023", ev.Aircraft.Callsign)
			if d.HandleEvent(ev) != nil {
				deliveries++
			}
		default:
			t.Fatalf("no event for sighting at +%s", offset)
		}
	}

	assert.Equal(t, 2, deliveries)
	assert.Equal(t, 2, d.QueueLen())
}

// TestSubSecondPositionAlert pairs an even and an odd position frame half a
// second apart, the real squitter cadence, and expects the second event to
// carry the resolved fix.
func TestSubSecondPositionAlert(t *testing.T) {
	met := metrics.New()
	tr := tracker.New(tracker.Config{}, met, alertTestLogger())
	tr.SetClock(func() time.Time { return dispT0 })
	matcher := pipelineMatcher(t, met, tr, "40621d")

	up := ingestFrame(t, tr, "8D40621D58C382D690C8AC2863A7", dispT0, "beast1")
	require.NotNil(t, up)
	matcher.Evaluate(up)

	up = ingestFrame(t, tr, "8D40621D58C386435CC412692AD6", dispT0.Add(500*time.Millisecond), "beast1")
	require.NotNil(t, up)
	assert.False(t, up.Duplicate)
	assert.True(t, up.PositionResolved)
	matcher.Evaluate(up)

	var events []watchlist.AlertEvent
	for len(matcher.Events()) > 0 {
		events = append(events, <-matcher.Events())
	}
	require.Len(t, events, 2)
	fix := events[1].Aircraft
	require.True(t, fix.HasPosition())
	assert.InDelta(t, 52.25720, *fix.Lat, 0.0001)
	assert.InDelta(t, 3.91937, *fix.Lon, 0.0001)
}
