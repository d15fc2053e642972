package observe

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/felixgeelhaar/bolt/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("engram")

// Observer handles logging and tracing.
// Hook processes own stdout/stderr as response channels, so diagnostics
// go to a log file by default (see NewFile); nothing here may write to
// the adapter's primary output.
type Observer struct {
	log    *bolt.Logger
	closer io.Closer
}

// New creates a new Observer with console output.
// If verbose is false, only warnings and errors are shown.
func New(out io.Writer, verbose bool) *Observer {
	handler := bolt.NewConsoleHandler(out)
	l := bolt.New(handler)

	if !verbose {
		l.SetLevel(bolt.WARN)
	}

	return &Observer{
		log: l,
	}
}

// NewJSON creates a new Observer with JSON output.
// If verbose is false, only warnings and errors are shown.
func NewJSON(out io.Writer, verbose bool) *Observer {
	handler := bolt.NewJSONHandler(out)
	l := bolt.New(handler)

	if !verbose {
		l.SetLevel(bolt.WARN)
	}

	return &Observer{
		log: l,
	}
}

// NewFile creates an Observer appending JSON lines to the given path.
// Used by hook invocations where the terminal belongs to the host tool.
func NewFile(path string, verbose bool) (*Observer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	o := NewJSON(f, verbose)
	o.closer = f
	return o, nil
}

// Log returns the underlying logger
func (o *Observer) Log() *bolt.Logger {
	return o.log
}

// StartSpan starts a new OTel span
func (o *Observer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// Close flushes and releases the log sink.
func (o *Observer) Close() error {
	if o.closer != nil {
		return o.closer.Close()
	}
	return nil
}
