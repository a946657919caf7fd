package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// fileSource replays AVR-format lines from a capture file. Mostly used for
// regression captures and offline decoding.
type fileSource struct {
	cfg Config
	mgr *Manager
	log *logrus.Entry
}

func (s *fileSource) run(ctx context.Context) error {
	for {
		if err := s.replayOnce(ctx); err != nil {
			return err
		}
		if !s.cfg.ReplayLoop {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	s.log.Info("replay finished")
	s.mgr.setUp(s.cfg.Name, false)
	<-ctx.Done()
	return nil
}

func (s *fileSource) replayOnce(ctx context.Context) error {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	s.log.WithField("path", s.cfg.Path).Info("replaying capture")
	s.mgr.setUp(s.cfg.Name, true)

	delay := s.cfg.ReplayFrameDelay
	if s.cfg.ReplayRealtime && delay <= 0 {
		delay = time.Millisecond
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 4096), 4096)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		emitAVRLine(scanner.Text(), s.cfg.Name, s.mgr, s.log)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read replay file: %w", err)
	}
	return nil
}
