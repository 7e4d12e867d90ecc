package server

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogRingSize is how many recent log lines the control panel can retrieve.
const LogRingSize = 200

// LogRing is a bounded in-memory buffer of recent log lines. The server tees
// its log output into one so the admin panel can show activity without
// touching files. Appends may interleave freely across requests; order
// across lines carries no meaning.
type LogRing struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// NewLogRing creates a ring that retains at most max lines.
func NewLogRing(max int) *LogRing {
	return &LogRing{max: max}
}

// Write implements zapcore.WriteSyncer. Each newline-terminated chunk is
// retained as one line, oldest dropped first.
func (r *LogRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		r.lines = append(r.lines, line)
	}
	if over := len(r.lines) - r.max; over > 0 {
		r.lines = r.lines[over:]
	}

	return len(p), nil
}

// Sync implements zapcore.WriteSyncer.
func (r *LogRing) Sync() error { return nil }

// Lines returns a copy of the retained lines, oldest first.
func (r *LogRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// NewLogger builds the server logger at the given level, writing to stderr
// and, when ring is non-nil, into the ring as well.
func NewLogger(level string, ring *LogRing) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), lvl)
	if ring != nil {
		core = zapcore.NewTee(core, zapcore.NewCore(encoder, zapcore.AddSync(ring), lvl))
	}

	return zap.New(core), nil
}
