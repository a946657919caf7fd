package logging

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AlertLog is the append-only record of every alert handed to the radios,
// one dated file per day, compressed after rotation. It is the only durable
// artifact the pipeline produces.
type AlertLog struct {
	dir    string
	useUTC bool
	logger *logrus.Logger

	mu          sync.Mutex
	currentFile *os.File
	currentDate string
}

// NewAlertLog opens today's alert log, creating the directory when needed.
func NewAlertLog(dir string, useUTC bool, logger *logrus.Logger) (*AlertLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create alert log directory: %w", err)
	}
	l := &AlertLog{dir: dir, useUTC: useUTC, logger: logger}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.rotate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Record appends one line, rotating first when the date rolled over.
func (l *AlertLog) Record(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if date := l.dateNow(); date != l.currentDate {
		if err := l.rotate(); err != nil {
			l.logger.WithError(err).Error("alert log rotation failed")
			return
		}
	}
	if l.currentFile == nil {
		return
	}
	if _, err := fmt.Fprintln(l.currentFile, line); err != nil {
		l.logger.WithError(err).Error("alert log write failed")
	}
}

// Run rotates on date change until the context ends, then closes the file.
func (l *AlertLog) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-ticker.C:
			l.mu.Lock()
			if date := l.dateNow(); date != l.currentDate {
				if err := l.rotate(); err != nil {
					l.logger.WithError(err).Error("alert log rotation failed")
				}
			}
			l.mu.Unlock()
		}
	}
}

// Close flushes and closes the current file.
func (l *AlertLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentFile != nil {
		if err := l.currentFile.Close(); err != nil {
			l.logger.WithError(err).Error("alert log close failed")
		}
		l.currentFile = nil
	}
}

func (l *AlertLog) dateNow() string {
	now := time.Now()
	if l.useUTC {
		now = now.UTC()
	}
	return now.Format("2006-01-02")
}

// rotate must be called with the mutex held.
func (l *AlertLog) rotate() error {
	newDate := l.dateNow()

	if l.currentFile != nil {
		oldDate := l.currentDate
		if err := l.currentFile.Close(); err != nil {
			l.logger.WithError(err).Error("failed to close old alert log")
		}
		go l.compress(oldDate)
	}

	path := filepath.Join(l.dir, fmt.Sprintf("alerts_%s.log", newDate))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open alert log %s: %w", path, err)
	}
	l.currentFile = file
	l.currentDate = newDate
	l.logger.WithField("file", path).Info("alert log opened")
	return nil
}

func (l *AlertLog) compress(date string) {
	src := filepath.Join(l.dir, fmt.Sprintf("alerts_%s.log", date))
	dst := filepath.Join(l.dir, fmt.Sprintf("alerts_%s.log.gz", date))

	in, err := os.Open(src)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.WithError(err).WithField("file", src).Error("failed to open alert log for compression")
		}
		return
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		l.logger.WithError(err).WithField("file", dst).Error("failed to create compressed alert log")
		return
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	gz.Name = filepath.Base(src)
	gz.ModTime = time.Now()
	if _, err := io.Copy(gz, in); err != nil {
		l.logger.WithError(err).Error("failed to compress alert log")
		return
	}
	if err := gz.Close(); err != nil {
		l.logger.WithError(err).Error("failed to finish compressed alert log")
		return
	}
	if err := os.Remove(src); err != nil {
		l.logger.WithError(err).WithField("file", src).Error("failed to remove rotated alert log")
		return
	}
	l.logger.WithField("file", dst).Info("alert log compressed")
}
