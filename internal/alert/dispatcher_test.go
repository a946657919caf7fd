package alert

import (
	"context"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skymesh/internal/metrics"
	"skymesh/internal/tracker"
	"skymesh/internal/watchlist"
)

var dispT0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// recordSink captures alert log lines.
type recordSink struct {
	lines []string
}

func (s *recordSink) Record(line string) { s.lines = append(s.lines, line) }

func testEvent(icao uint32, critical bool) watchlist.AlertEvent {
	return watchlist.AlertEvent{
		Aircraft:    &tracker.Aircraft{ICAO: icao, Callsign: "TEST1"},
		MatchKind:   "icao_exact",
		MatchReason: "icao match",
		Label:       "gov",
		EventTime:   dispT0,
		Critical:    critical,
	}
}

func newTestDispatcher(t *testing.T, cfg Config, ifaces ...Interface) (*Dispatcher, *time.Time) {
	t.Helper()
	if len(ifaces) == 0 {
		ifaces = []Interface{&fakeIface{name: "mqtt"}}
	}
	d, err := NewWithInterfaces(cfg, ifaces, metrics.New(), alertTestLogger(), nil)
	require.NoError(t, err)
	now := dispT0
	d.SetClock(func() time.Time { return now })
	return d, &now
}

// TestDispatcherThrottleWindow tests suppression inside the cooldown.
func TestDispatcherThrottleWindow(t *testing.T) {
	d, now := newTestDispatcher(t, Config{
		Throttle: ThrottleConfig{MinInterval: 60 * time.Second},
	})

	assert.NotNil(t, d.HandleEvent(testEvent(0x4840D6, false)))
	*now = dispT0.Add(10 * time.Second)
	assert.Nil(t, d.HandleEvent(testEvent(0x4840D6, false)))
	*now = dispT0.Add(70 * time.Second)
	assert.NotNil(t, d.HandleEvent(testEvent(0x4840D6, false)))
	assert.Equal(t, 2, d.QueueLen())
}

// TestDispatcherQueuesFormatted tests formatting, channel selection,
// priority mapping and the audit sink line.
func TestDispatcherQueuesFormatted(t *testing.T) {
	sink := &recordSink{}
	d, err := NewWithInterfaces(Config{
		Channels: []ChannelConfig{{Name: "ops", Template: "{icao} {label}"}},
	}, []Interface{&fakeIface{name: "mqtt"}}, metrics.New(), alertTestLogger(), sink)
	require.NoError(t, err)
	now := dispT0
	d.SetClock(func() time.Time { return now })

	msg := d.HandleEvent(testEvent(0x4840D6, false))
	require.NotNil(t, msg)
	assert.Equal(t, []byte("4840D6 gov"), msg.Content)
	assert.Equal(t, "ops", msg.Channel)
	assert.Equal(t, PriorityNormal, msg.Priority)

	require.Len(t, sink.lines, 1)
	assert.Equal(t, "2026-03-14T12:00:00Z 4840D6 gov", sink.lines[0])

	now = dispT0.Add(10 * time.Minute)
	crit := d.HandleEvent(testEvent(0xABC123, true))
	require.NotNil(t, crit)
	assert.Equal(t, PriorityCritical, crit.Priority)
}

// TestDispatcherTruncates tests the radio payload cap.
func TestDispatcherTruncates(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{
		Channels:         []ChannelConfig{{Name: "ops", Template: "{icao} {reason} {label}"}},
		MaxMessageLength: 10,
	})

	msg := d.HandleEvent(testEvent(0x4840D6, false))
	require.NotNil(t, msg)
	assert.Equal(t, []byte("4840D6 ica"), msg.Content)
}

// TestDispatcherTruncatesOnRuneBoundary tests that the payload cap never
// splits a multi-byte character.
func TestDispatcherTruncatesOnRuneBoundary(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{
		Channels:         []ChannelConfig{{Name: "ops", Template: "{icao} naïve"}},
		MaxMessageLength: 10,
	})

	msg := d.HandleEvent(testEvent(0x4840D6, false))
	require.NotNil(t, msg)
	assert.Equal(t, "4840D6 na", string(msg.Content))
	assert.True(t, utf8.Valid(msg.Content))

	inj := d.Inject("checks °°°")
	require.NotNil(t, inj)
	assert.Equal(t, "checks °", string(inj.Content))
	assert.True(t, utf8.Valid(inj.Content))
}

// TestDispatcherPayloadCeiling tests that the configured cap cannot exceed
// what the radio accepts.
func TestDispatcherPayloadCeiling(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{MaxMessageLength: 1000})
	assert.Equal(t, HardMaxPayload, d.cfg.MaxMessageLength)
}

// TestDispatcherEncrypts tests channel encryption end to end.
func TestDispatcherEncrypts(t *testing.T) {
	psk := testPSK(16)
	d, _ := newTestDispatcher(t, Config{
		Channels: []ChannelConfig{{Name: "ops", PSK: psk, Template: "{icao}"}},
		Encrypt:  true,
	})

	msg := d.HandleEvent(testEvent(0x4840D6, false))
	require.NotNil(t, msg)
	assert.Len(t, msg.Content, nonceSize+6)
	assert.NotEqual(t, []byte("4840D6"), msg.Content)

	c, err := NewCipher(psk)
	require.NoError(t, err)
	plain, err := c.Decrypt(msg.Content)
	require.NoError(t, err)
	assert.Equal(t, []byte("4840D6"), plain)
}

// TestDispatcherConfigErrors tests channel validation.
func TestDispatcherConfigErrors(t *testing.T) {
	met := metrics.New()
	ifaces := []Interface{&fakeIface{name: "mqtt"}}

	_, err := NewWithInterfaces(Config{
		Channels: []ChannelConfig{{Name: ""}},
	}, ifaces, met, alertTestLogger(), nil)
	assert.Error(t, err)

	_, err = NewWithInterfaces(Config{
		Channels:       []ChannelConfig{{Name: "ops"}},
		DefaultChannel: "missing",
	}, ifaces, met, alertTestLogger(), nil)
	assert.Error(t, err)

	_, err = NewWithInterfaces(Config{
		Channels: []ChannelConfig{{Name: "ops", PSK: "short"}},
		Encrypt:  true,
	}, ifaces, met, alertTestLogger(), nil)
	assert.Error(t, err)
}

// TestDispatcherDefaultChannel tests the implicit channel when none are
// configured.
func TestDispatcherDefaultChannel(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{})
	msg := d.HandleEvent(testEvent(0x4840D6, false))
	require.NotNil(t, msg)
	assert.Equal(t, "alerts", msg.Channel)
}

// TestDispatcherInject tests operator test messages.
func TestDispatcherInject(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{})
	msg := d.Inject("radio check")
	require.NotNil(t, msg)
	assert.Equal(t, []byte("radio check"), msg.Content)
	assert.Equal(t, PriorityLow, msg.Priority)
	assert.Equal(t, 1, d.QueueLen())
}

// TestDispatcherFlushDelivers tests the happy path through the router.
func TestDispatcherFlushDelivers(t *testing.T) {
	iface := &fakeIface{name: "mqtt"}
	d, _ := newTestDispatcher(t, Config{}, iface)

	require.NotNil(t, d.HandleEvent(testEvent(0x4840D6, false)))
	d.Flush(context.Background())

	require.Len(t, iface.sent, 1)
	assert.Equal(t, 0, d.QueueLen())
}

// TestDispatcherFlushRetriesThenDrops tests the retry budget: each failed
// flush schedules another attempt until retries are exhausted.
func TestDispatcherFlushRetriesThenDrops(t *testing.T) {
	iface := &fakeIface{name: "mqtt", sendErr: context.DeadlineExceeded}
	d, now := newTestDispatcher(t, Config{
		Queue: QueueConfig{MaxAttempts: 3, BackoffBase: time.Second, MessageTTL: 600 * time.Second},
	}, iface)

	require.NotNil(t, d.HandleEvent(testEvent(0x4840D6, false)))

	for i := 1; i <= 3; i++ {
		*now = dispT0.Add(time.Duration(i) * 2 * time.Minute)
		d.Flush(context.Background())
	}
	assert.Equal(t, 0, d.QueueLen())
	// Only the first flush reaches Send; after that the interface is
	// degraded and fails fast.
	assert.Equal(t, 1, iface.sendCalls)
}

// TestDispatcherFlushExpires tests that undeliverable messages age out.
func TestDispatcherFlushExpires(t *testing.T) {
	iface := &fakeIface{name: "mqtt", sendErr: context.DeadlineExceeded}
	d, now := newTestDispatcher(t, Config{
		Queue: QueueConfig{MaxAttempts: 5, BackoffBase: time.Second, MessageTTL: 30 * time.Second},
	}, iface)

	require.NotNil(t, d.HandleEvent(testEvent(0x4840D6, false)))
	d.Flush(context.Background())
	assert.Equal(t, 1, d.QueueLen())

	*now = dispT0.Add(40 * time.Second)
	d.Flush(context.Background())
	assert.Equal(t, 0, d.QueueLen())
	assert.Equal(t, 1, iface.sendCalls)
}

// TestMQTTTopic tests the per-channel topic layout.
func TestMQTTTopic(t *testing.T) {
	m := NewMQTTInterface(MQTTConfig{BrokerURL: "mqtt.example.org"}, alertTestLogger())
	assert.Equal(t, "msh/EU_868/c/alerts/skymesh", m.Topic("alerts"))
	assert.Equal(t, 1883, m.cfg.Port)

	tls := NewMQTTInterface(MQTTConfig{BrokerURL: "b", TLS: true}, alertTestLogger())
	assert.Equal(t, 8883, tls.cfg.Port)
}
