package sink

import (
	"context"

	"github.com/hazyhaar/densefeed/diagnostics"
)

// StatusFunc is called for each status message.
type StatusFunc func(ctx context.Context, st Status) error

// ReportFunc is called for each diagnostics report.
type ReportFunc func(ctx context.Context, rep diagnostics.Report) error

// Callback delivers messages via Go function calls with zero
// serialisation, for embedding densefeed in another process.
type Callback struct {
	onStatus StatusFunc
	onReport ReportFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onStatus StatusFunc, onReport ReportFunc) *Callback {
	return &Callback{onStatus: onStatus, onReport: onReport}
}

func (c *Callback) SendStatus(ctx context.Context, st Status) error {
	if c.onStatus != nil {
		return c.onStatus(ctx, st)
	}
	return nil
}

func (c *Callback) SendReport(ctx context.Context, rep diagnostics.Report) error {
	if c.onReport != nil {
		return c.onReport(ctx, rep)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
