package source

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skymesh/internal/adsb"
	"skymesh/internal/metrics"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// TestNewManagerValidation tests that configuration errors are fatal and
// reported per source.
func TestNewManagerValidation(t *testing.T) {
	met := metrics.New()
	tests := []struct {
		name    string
		sources []Config
	}{
		{"missing name", []Config{{Type: TypeBeastTCP, Host: "h", Port: 1}}},
		{"duplicate name", []Config{
			{Name: "a", Type: TypeBeastTCP, Host: "h", Port: 1},
			{Name: "a", Type: TypeAVRTCP, Host: "h", Port: 2},
		}},
		{"missing host", []Config{{Name: "a", Type: TypeBeastTCP, Port: 1}}},
		{"bad port", []Config{{Name: "a", Type: TypeAVRTCP, Host: "h", Port: 70000}}},
		{"missing url", []Config{{Name: "a", Type: TypeJSONPoll}}},
		{"missing path", []Config{{Name: "a", Type: TypeRawFile}}},
		{"unknown type", []Config{{Name: "a", Type: "sbs_tcp"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.sources, 16, met, testLogger())
			require.Error(t, err)
			var fatal *SourceFatal
			assert.ErrorAs(t, err, &fatal)
		})
	}
}

// TestManagerDropOldest tests that a full source queue sheds that source's
// own oldest frame instead of blocking, and leaves other sources untouched.
func TestManagerDropOldest(t *testing.T) {
	met := metrics.New()
	m, err := NewManager(nil, 2, met, testLogger())
	require.NoError(t, err)

	for i := byte(1); i <= 3; i++ {
		m.pushFrame(adsb.RawFrame{Bytes: []byte{i}, SourceID: "a"})
	}
	m.pushFrame(adsb.RawFrame{Bytes: []byte{9}, SourceID: "b"})

	first := <-m.queue("a")
	second := <-m.queue("a")
	assert.Equal(t, []byte{2}, first.Bytes)
	assert.Equal(t, []byte{3}, second.Bytes)
	assert.Empty(t, m.queue("a"))

	other := <-m.queue("b")
	assert.Equal(t, []byte{9}, other.Bytes)

	snap, err := met.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap[`skymesh_frames_dropped_total{source="a"}`])
	assert.Zero(t, snap[`skymesh_frames_dropped_total{source="b"}`])
}

// TestManagerSourceStates tests the up/down bookkeeping.
func TestManagerSourceStates(t *testing.T) {
	m, err := NewManager(nil, 4, metrics.New(), testLogger())
	require.NoError(t, err)

	assert.True(t, m.AllDown())
	m.setUp("a", true)
	m.setUp("b", false)
	assert.False(t, m.AllDown())
	assert.Equal(t, map[string]bool{"a": true, "b": false}, m.SourceStates())
	m.setUp("a", false)
	assert.True(t, m.AllDown())
}

// TestManagerBeastEndToEnd tests a full connect/read cycle against a local
// listener speaking the Beast framing.
func TestManagerBeastEndToEnd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	payload := mustFrame(t, "8D4840D6202CC371C32CE0576098")
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write(beastWire(beastTypeLong, []byte{0, 0, 0, 0, 0, 1}, 0x42, payload))
		time.Sleep(100 * time.Millisecond)
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	m, err := NewManager([]Config{{
		Name: "beast1",
		Type: TypeBeastTCP,
		Host: "127.0.0.1",
		Port: port,
	}}, 16, metrics.New(), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case frame := <-m.Frames():
		assert.Equal(t, payload, frame.Bytes)
		assert.Equal(t, "beast1", frame.SourceID)
		assert.Equal(t, uint64(1), frame.MLATCounter)
		assert.Equal(t, byte(0x42), frame.SignalLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("no frame received")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}
}

// TestFileSourceReplay tests one-shot replay of an AVR capture file.
func TestFileSourceReplay(t *testing.T) {
	path := t.TempDir() + "/capture.avr"
	content := "*8D4840D6202CC371C32CE0576098;\n" +
		"not a frame\n" +
		"@0000000000018D40621D58C382D690C8AC2863A7;\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := NewManager([]Config{{
		Name: "file1",
		Type: TypeRawFile,
		Path: path,
	}}, 16, metrics.New(), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	first := <-m.Frames()
	assert.Equal(t, mustFrame(t, "8D4840D6202CC371C32CE0576098"), first.Bytes)
	assert.Equal(t, "file1", first.SourceID)
	second := <-m.Frames()
	assert.Equal(t, uint64(1), second.MLATCounter)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("file source did not stop")
	}
}
