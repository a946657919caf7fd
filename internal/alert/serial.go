package alert

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// Gateway framing: magic marker then a big-endian length, then payload.
const (
	serialMagic1 byte = 0x94
	serialMagic2 byte = 0xC3

	// HardMaxPayload is the radio's absolute packet ceiling.
	HardMaxPayload = 237
)

// SerialConfig describes the LoRa gateway serial link.
type SerialConfig struct {
	Enabled bool
	Device  string
	Baud    int
	Timeout time.Duration
}

func (c *SerialConfig) applyDefaults() {
	if c.Baud <= 0 {
		c.Baud = 115200
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// SerialInterface frames alert payloads over a serial byte channel to a
// local LoRa gateway.
type SerialInterface struct {
	cfg SerialConfig
	log *logrus.Entry

	mu   sync.Mutex
	port *serial.Port
}

// NewSerialInterface builds the interface; the port opens on Connect.
func NewSerialInterface(cfg SerialConfig, log *logrus.Logger) *SerialInterface {
	cfg.applyDefaults()
	return &SerialInterface{
		cfg: cfg,
		log: log.WithField("interface", "serial"),
	}
}

func (s *SerialInterface) Name() string { return "serial" }

func (s *SerialInterface) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        s.cfg.Device,
		Baud:        s.cfg.Baud,
		ReadTimeout: s.cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", s.cfg.Device, err)
	}
	s.port = port
	s.log.WithField("device", s.cfg.Device).Info("serial gateway connected")
	return nil
}

func (s *SerialInterface) Send(ctx context.Context, msg *Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return fmt.Errorf("serial port not open")
	}
	if len(msg.Content) > HardMaxPayload {
		return fmt.Errorf("payload %d exceeds radio maximum %d", len(msg.Content), HardMaxPayload)
	}

	frame := make([]byte, 4+len(msg.Content))
	frame[0] = serialMagic1
	frame[1] = serialMagic2
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(msg.Content)))
	copy(frame[4:], msg.Content)

	if _, err := s.port.Write(frame); err != nil {
		s.closeLocked()
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Probe re-opens the port when needed and flushes it as a liveness check.
func (s *SerialInterface) Probe(ctx context.Context) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return s.Connect(ctx)
	}
	if err := port.Flush(); err != nil {
		s.mu.Lock()
		s.closeLocked()
		s.mu.Unlock()
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (s *SerialInterface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *SerialInterface) closeLocked() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
