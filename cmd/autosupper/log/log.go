// Package log builds the process logger: text to stdout and to a per-run
// file under the configured log directory.
package log

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	mu      sync.Mutex
	logFile *os.File
	buffer  *bufio.Writer
)

// lockedWriter serializes writes to the shared buffer with flushes.
type lockedWriter struct{}

func (lockedWriter) Write(p []byte) (int, error) {
	mu.Lock()
	defer mu.Unlock()
	if buffer == nil {
		return len(p), nil
	}
	return buffer.Write(p)
}

func NewLogger(debug bool, logDir, name string) (*slog.Logger, error) {
	if logDir == "" {
		logDir = "logs"
	}
	if name == "" {
		name = "autosupper"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating log directory: %w", err)
	}

	fileName := fmt.Sprintf("%s-%s.txt", name, time.Now().Format("2006-01-02-15-04-05"))
	f, err := os.OpenFile(filepath.Join(logDir, fileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}

	mu.Lock()
	if buffer != nil {
		_ = buffer.Flush()
		_ = logFile.Close()
	}
	logFile = f
	buffer = bufio.NewWriterSize(f, 16<<10)
	mu.Unlock()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Value = slog.StringValue(a.Value.Time().Format("15:04:05.000"))
			}
			return a
		},
	}

	w := io.MultiWriter(os.Stdout, lockedWriter{})
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// FlushLog writes buffered lines to disk without closing the file.
func FlushLog() {
	mu.Lock()
	defer mu.Unlock()
	if buffer != nil {
		_ = buffer.Flush()
	}
}

func FlushAndClose() {
	mu.Lock()
	defer mu.Unlock()
	if buffer == nil {
		return
	}
	_ = buffer.Flush()
	_ = logFile.Close()
	buffer = nil
	logFile = nil
}
