package logging

import (
	"fmt"
	"io"
)

// Writer renders Records through a compiled Format and appends each line to
// Out. It satisfies internal/httpproxy's AccessSink interface structurally
// (Log(Record)), the same cross-package wiring internal/mgmt.Metrics uses
// for MetricsSink, so neither package needs to import the other.
type Writer struct {
	Out    io.Writer
	Format *Format
}

// NewWriter compiles tokens once and returns a ready-to-use Writer.
func NewWriter(out io.Writer, tokens string) (*Writer, error) {
	f, err := Compile(tokens)
	if err != nil {
		return nil, err
	}
	return &Writer{Out: out, Format: f}, nil
}

// Log writes one rendered line. A "null" format (empty Format.segments)
// writes nothing, matching LogLevel 0's "no access log" semantics.
func (w *Writer) Log(rec Record) {
	if w == nil || w.Out == nil {
		return
	}
	line := w.Format.Render(rec)
	if line == "" {
		return
	}
	_, _ = fmt.Fprintln(w.Out, line)
}
