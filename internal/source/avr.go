package source

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"skymesh/internal/adsb"
)

// ParseAVRLine decodes one AVR-format line. Plain frames look like
// "*8D4840D6...;" and MLAT-stamped frames "@0123456789AB8D4840D6...;" with a
// 12-hex-digit counter prefix. The payload must be 14 or 28 hex characters.
func ParseAVRLine(line string) ([]byte, uint64, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, 0, fmt.Errorf("empty line")
	}
	if !strings.HasSuffix(line, ";") {
		return nil, 0, fmt.Errorf("missing terminator")
	}
	body := line[1 : len(line)-1]

	var mlat uint64
	switch line[0] {
	case '*':
	case '@':
		if len(body) < 12 {
			return nil, 0, fmt.Errorf("short mlat prefix")
		}
		raw, err := hex.DecodeString(body[:12])
		if err != nil {
			return nil, 0, fmt.Errorf("bad mlat prefix: %w", err)
		}
		for _, b := range raw {
			mlat = mlat<<8 | uint64(b)
		}
		body = body[12:]
	default:
		return nil, 0, fmt.Errorf("unknown prefix %q", line[0])
	}

	if len(body) != 14 && len(body) != 28 {
		return nil, 0, fmt.Errorf("payload length %d", len(body))
	}
	payload, err := hex.DecodeString(body)
	if err != nil {
		return nil, 0, fmt.Errorf("bad hex: %w", err)
	}
	return payload, mlat, nil
}

type avrSource struct {
	cfg Config
	mgr *Manager
	log *logrus.Entry
}

func (s *avrSource) run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.log.WithField("addr", addr).Info("avr source connected")
	s.mgr.setUp(s.cfg.Name, true)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 4096)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadIdleTimeout)); err != nil {
			return err
		}
		if !scanner.Scan() {
			if ctx.Err() != nil {
				return nil
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read avr line: %w", err)
			}
			return fmt.Errorf("avr stream closed")
		}
		emitAVRLine(scanner.Text(), s.cfg.Name, s.mgr, s.log)
	}
}

func emitAVRLine(line string, sourceID string, mgr *Manager, log *logrus.Entry) {
	if strings.TrimSpace(line) == "" {
		return
	}
	payload, mlat, err := ParseAVRLine(line)
	if err != nil {
		mgr.met.FrameRejects.WithLabelValues(string(adsb.RejectCharset)).Inc()
		log.WithError(err).Debug("discarding malformed avr line")
		return
	}
	mgr.pushFrame(adsb.RawFrame{
		Bytes:       payload,
		ReceivedAt:  time.Now(),
		SourceID:    sourceID,
		MLATCounter: mlat,
	})
}
