package xlog

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// WriterLogger is a minimal [Logger] implementation writing plain text
// lines to an [io.Writer], suitable for tests and the package Example
// playgrounds. It is not intended for production use.
type WriterLogger struct {
	mu  sync.Mutex
	out io.Writer
	min Level
}

// NewWriterLogger returns a [WriterLogger] writing to out, discarding any
// entry below min.
func NewWriterLogger(out io.Writer, min Level) *WriterLogger {
	return &WriterLogger{out: out, min: min}
}

func (l *WriterLogger) Log(level Level, category string, msg string, err error, fields ...Field) {
	if level < l.min {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.out, "%s [%-5s] [%s] %s", time.Now().Format("15:04:05.000"), level, category, msg)
	for _, f := range fields {
		fmt.Fprintf(l.out, " %s=%v", f.Key, f.Value)
	}
	if err != nil {
		fmt.Fprintf(l.out, " err=%v", err)
	}
	fmt.Fprintln(l.out)
}
