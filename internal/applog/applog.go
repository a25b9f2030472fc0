// Package applog is the supervisor's own rotating operational log,
// distinct from the per-task worker logs under state/logs/*.log. It
// records one line per pulse cycle (counts, phase errors) so a human
// operator can tail supervisor history without grepping sqlite.
package applog

import (
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps a lumberjack-backed writer. The teacher's own daemon
// logging never rotates its log file; this package generalizes that
// gap per the domain-stack goal of giving the teacher's go.mod every
// plausible library a home.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
}

// New opens (or creates) a rotating log file at path. Rotation
// defaults mirror a typical long-running daemon: 10MB per file, 5
// backups kept, 28 days retention, backups compressed.
func New(path string) *Logger {
	return &Logger{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		},
	}
}

// Printf writes one timestamped line.
func (l *Logger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

// Close releases the underlying rotating file, if closeable.
func (l *Logger) Close() error {
	if c, ok := l.out.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
