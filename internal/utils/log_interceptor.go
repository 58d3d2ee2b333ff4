package utils

import (
	"bytes"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// LogInterceptor is an io.Writer that prefixes every complete line with a
// sequence number and timestamp before passing it to the target. The
// sequence number makes gaps visible when log files are truncated or
// rotated externally.
type LogInterceptor struct {
	target io.Writer
	seq    atomic.Uint64
	buf    bytes.Buffer
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{target: target}
}

func (i *LogInterceptor) writeLine(line []byte) (int, error) {
	prefix := slog.Uint64("line", i.seq.Add(1)).String() + " " +
		slog.String("time", time.Now().Format(time.RFC3339)).String() + " "

	total, err := io.WriteString(i.target, prefix)
	if err != nil {
		return total, err
	}

	n, err := i.target.Write(append(line, '\n'))
	return total + n, err
}

// Write buffers input and emits complete lines, each prefixed. Partial
// lines stay buffered until their terminator arrives or Close flushes
// them.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	if _, err := i.buf.Write(p); err != nil {
		return 0, err
	}

	total := 0
	for {
		line, err := i.buf.ReadBytes('\n')
		if err != nil {
			// no full line yet, keep the partial for the next Write
			i.buf.Write(line)
			break
		}
		n, err := i.writeLine(bytes.TrimRight(line, "\r\n"))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close flushes any buffered partial line.
func (i *LogInterceptor) Close() error {
	remaining := i.buf.Bytes()
	if len(remaining) == 0 {
		return nil
	}
	_, err := i.writeLine(bytes.TrimRight(remaining, "\r\n"))
	i.buf.Reset()
	return err
}

var _ io.WriteCloser = (*LogInterceptor)(nil)
