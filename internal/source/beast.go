package source

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"skymesh/internal/adsb"
)

// Beast binary framing: frames start with 0x1A followed by a type byte.
// 0x1A inside a frame body is doubled on the wire.
const (
	beastEscape byte = 0x1A

	beastTypeModeAC byte = '1' // 2-byte Mode A/C, discarded
	beastTypeShort  byte = '2' // 7-byte Mode S
	beastTypeLong   byte = '3' // 14-byte Mode S
)

type beastSource struct {
	cfg Config
	mgr *Manager
	log *logrus.Entry
}

func (s *beastSource) run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.log.WithField("addr", addr).Info("beast source connected")
	s.mgr.setUp(s.cfg.Name, true)

	r := newBeastReader(conn)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadIdleTimeout)); err != nil {
			return err
		}
		msgType, body, err := r.next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read beast frame: %w", err)
		}
		if msgType == beastTypeModeAC {
			continue
		}
		// body = 6-byte MLAT counter, 1-byte signal level, payload.
		mlat := binary.BigEndian.Uint64(append([]byte{0, 0}, body[:6]...))
		s.mgr.pushFrame(adsb.RawFrame{
			Bytes:       body[7:],
			ReceivedAt:  time.Now(),
			SourceID:    s.cfg.Name,
			MLATCounter: mlat,
			SignalLevel: body[6],
		})
	}
}

// beastReader deframes a Beast byte stream, resynchronizing on the escape
// byte after malformed input.
type beastReader struct {
	br *bufio.Reader
}

func newBeastReader(r io.Reader) *beastReader {
	return &beastReader{br: bufio.NewReaderSize(r, 16384)}
}

// next returns the next well-formed frame. The returned body is freshly
// allocated and safe to retain.
func (r *beastReader) next() (byte, []byte, error) {
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		if b != beastEscape {
			continue
		}
		msgType, err := r.br.ReadByte()
		if err != nil {
			return 0, nil, err
		}
	frame:
		var n int
		switch msgType {
		case beastTypeModeAC:
			n = 6 + 1 + 2
		case beastTypeShort:
			n = 6 + 1 + 7
		case beastTypeLong:
			n = 6 + 1 + 14
		default:
			// Unknown type, including doubled escapes mid-stream. Rescan.
			continue
		}

		body := make([]byte, 0, n)
		for len(body) < n {
			b, err := r.br.ReadByte()
			if err != nil {
				return 0, nil, err
			}
			if b == beastEscape {
				nb, err := r.br.ReadByte()
				if err != nil {
					return 0, nil, err
				}
				if nb != beastEscape {
					// Truncated frame; nb is the type of the next one.
					msgType = nb
					goto frame
				}
			}
			body = append(body, b)
		}
		return msgType, body, nil
	}
}
