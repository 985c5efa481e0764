package logging

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"
)

// StampWriter prefixes every complete line written to it with a sequence
// number and a timestamp. Partial lines are held until their newline arrives
// or the writer is closed.
type StampWriter struct {
	mu      sync.Mutex
	target  io.Writer
	pending bytes.Buffer
	seq     uint64
	now     func() time.Time
}

func NewStampWriter(target io.Writer) *StampWriter {
	return &StampWriter{target: target, now: time.Now}
}

// Write reports len(p) on success; the prefixes are not counted.
func (w *StampWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending.Write(p)
	for {
		idx := bytes.IndexByte(w.pending.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := w.pending.Next(idx + 1)
		if err := w.writeLine(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close flushes a trailing partial line.
func (w *StampWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending.Len() == 0 {
		return nil
	}
	line := append(w.pending.Bytes(), '\n')
	w.pending.Reset()
	return w.writeLine(line)
}

func (w *StampWriter) writeLine(line []byte) error {
	w.seq++
	prefix := slog.Uint64("line", w.seq).String() + " " +
		slog.String("time", w.now().Format(time.RFC3339)).String() + " "
	if _, err := io.WriteString(w.target, prefix); err != nil {
		return err
	}
	_, err := w.target.Write(line)
	return err
}
