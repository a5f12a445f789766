package densefeed

import (
	"context"
	"fmt"
	"io"

	"github.com/hazyhaar/densefeed/densefeed/internal/sink"
	"github.com/hazyhaar/densefeed/diagnostics"
)

// Sink is the output interface for status messages and reports.
type Sink = sink.Sink

// Status is the message a Session sends once started.
type Status = sink.Status

// NewStdoutSink creates a JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewCallbackSink creates an in-process sink. Either handler may be nil.
func NewCallbackSink(
	onStatus func(ctx context.Context, st Status) error,
	onReport func(ctx context.Context, rep diagnostics.Report) error,
) Sink {
	return sink.NewCallback(onStatus, onReport)
}

// SinksFromConfig builds the configured stdout sinks. Callback sinks
// cannot be described in a file and are passed to New directly.
func SinksFromConfig(cfgs []SinkConfig, stdout io.Writer) ([]Sink, error) {
	var out []Sink
	for _, c := range cfgs {
		switch c.Type {
		case "stdout":
			out = append(out, NewStdoutSink(stdout))
		case "callback":
		default:
			return nil, fmt.Errorf("densefeed: unknown sink type %q", c.Type)
		}
	}
	return out, nil
}
